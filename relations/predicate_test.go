package relations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xompass/vsaas-relations/database"
	"github.com/xompass/vsaas-relations/lbq"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestBuildSingleParentPredicate(t *testing.T) {
	f := newFixture(t)
	oid := bson.NewObjectID()

	tests := []struct {
		name     string
		def      *Definition
		key      any
		expected lbq.Where
		err      error
	}{
		{
			name:     "has many from hex string",
			def:      f.relation(t, f.users, "posts"),
			key:      oid.Hex(),
			expected: lbq.Where{"user_id": lbq.Where{"eq": oid, "neq": nil}},
		},
		{
			name:     "belongs to",
			def:      f.relation(t, f.posts, "author"),
			key:      oid,
			expected: lbq.Where{"_id": lbq.Where{"eq": oid, "neq": nil}},
		},
		{
			name: "morph many adds the discriminator",
			def:  f.relation(t, f.videos, "comments"),
			key:  oid,
			expected: lbq.Where{
				"commentable_id":   lbq.Where{"eq": oid, "neq": nil},
				"commentable_type": lbq.Where{"eq": "video"},
			},
		},
		{
			name:     "pivot tests mirror membership",
			def:      f.relation(t, f.users, "roles"),
			key:      oid,
			expected: lbq.Where{"user_ids": lbq.Where{"eq": oid}},
		},
		{
			name:     "morph to many uses the scoped mirror",
			def:      f.relation(t, f.posts, "tags"),
			key:      oid,
			expected: lbq.Where{"taggable_post_ids": lbq.Where{"eq": oid}},
		},
		{
			name:     "custom comparison keys stay opaque",
			def:      f.relation(t, f.users, "skills"),
			key:      oid.Hex(),
			expected: lbq.Where{"user_handles": lbq.Where{"eq": oid.Hex()}},
		},
		{name: "malformed object id", def: f.relation(t, f.users, "posts"), key: "nope", err: ErrMalformedIdentifier},
		{name: "missing key", def: f.relation(t, f.users, "posts"), key: nil, err: ErrMissingKey},
		{name: "pivot without mirror", def: f.relation(t, f.users, "favorites"), key: oid, err: ErrUnsupportedOperation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, err := BuildSingleParentPredicate(tt.def, tt.key)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, where)
		})
	}
}

func TestBuildBatchPredicate(t *testing.T) {
	f := newFixture(t)
	a, b := bson.NewObjectID(), bson.NewObjectID()

	keys := DistinctKeys([]any{a, a.Hex(), nil, "bad", b}, database.KeyObjectID)
	assert.Equal(t, []any{a, b}, keys)

	where, err := BuildBatchPredicate(f.relation(t, f.users, "posts"), keys)
	require.NoError(t, err)
	assert.Equal(t, lbq.Where{"user_id": lbq.Where{"inq": []any{a, b}, "neq": nil}}, where)

	where, err = BuildBatchPredicate(f.relation(t, f.posts, "comments"), keys)
	require.NoError(t, err)
	assert.Equal(t, lbq.Where{"eq": "post"}, where["commentable_type"])
}

func TestOwnerPredicate(t *testing.T) {
	f := newFixture(t)
	postIDs := oids(2)
	user := Hydrate(f.users, bson.M{
		"_id":          bson.NewObjectID(),
		"favorite_ids": bson.A{postIDs[0], postIDs[1].Hex(), postIDs[0]},
	})

	where, err := OwnerPredicate(f.relation(t, f.users, "favorites"), user, true)
	require.NoError(t, err)
	assert.Equal(t, lbq.Where{"_id": lbq.Where{"inq": []any{postIDs[0], postIDs[1]}}}, where)

	where, err = OwnerPredicate(f.relation(t, f.posts, "comments"), Hydrate(f.posts, bson.M{}), false)
	require.NoError(t, err)
	assert.Equal(t, lbq.Where{"commentable_type": lbq.Where{"eq": "post"}}, where, "unconstrained keeps only the discriminator")

	where, err = OwnerPredicate(f.relation(t, f.users, "roles"), user, false)
	require.NoError(t, err)
	assert.Empty(t, where)
}

func TestUnconstrainedDefinition(t *testing.T) {
	f := newFixture(t)
	def, err := f.registry.MorphMany(f.videos, "allComments", f.comments, "commentable", Unconstrained())
	require.NoError(t, err)

	where, err := BuildSingleParentPredicate(def, bson.NewObjectID())
	require.NoError(t, err)
	assert.Equal(t, lbq.Where{"commentable_type": lbq.Where{"eq": "video"}}, where)
}
