package relations

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xompass/vsaas-relations/database"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type fixture struct {
	registry *Registry
	store    *database.MemoryStore
	manager  *Manager

	users    *database.Model
	roles    *database.Model
	labels   *database.Model
	skills   *database.Model
	posts    *database.Model
	profiles *database.Model
	comments *database.Model
	videos   *database.Model
	tags     *database.Model
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		registry: NewRegistry(),
		users:    &database.Model{Name: "User", Collection: "users"},
		roles:    &database.Model{Name: "Role", Collection: "roles"},
		labels:   &database.Model{Name: "Label", Collection: "labels", KeyType: database.KeyString},
		skills:   &database.Model{Name: "Skill", Collection: "skills"},
		posts:    &database.Model{Name: "Post", Collection: "posts"},
		profiles: &database.Model{Name: "Profile", Collection: "profiles"},
		comments: &database.Model{Name: "Comment", Collection: "comments"},
		videos:   &database.Model{Name: "Video", Collection: "videos"},
		tags:     &database.Model{Name: "Tag", Collection: "tags"},
	}

	connector := database.NewMemoryConnector("memory")
	datasource, err := database.NewDatasource(connector)
	require.NoError(t, err)
	for _, model := range []*database.Model{f.users, f.roles, f.labels, f.skills, f.posts, f.profiles, f.comments, f.videos, f.tags} {
		require.NoError(t, datasource.RegisterModel(model))
	}
	f.store = connector.MemoryStore()

	r := f.registry
	require.NoError(t, r.RegisterMorphType("post", f.posts))
	require.NoError(t, r.RegisterMorphType("video", f.videos))

	mustDefine(t)(r.BelongsToMany(f.users, "roles", f.roles))
	mustDefine(t)(r.BelongsToMany(f.roles, "users", f.users))
	mustDefine(t)(r.BelongsToMany(f.users, "labels", f.labels))
	mustDefine(t)(r.BelongsToMany(f.users, "skills", f.skills,
		WithPivotKeys("skill_codes", "user_handles"),
		WithKeys("handle", "code"),
	))
	mustDefine(t)(r.BelongsToMany(f.users, "favorites", f.posts, WithPivotKeys("favorite_ids", "fan_ids"), WithoutMirror()))
	mustDefine(t)(r.HasMany(f.users, "posts", f.posts))
	mustDefine(t)(r.HasOne(f.users, "profile", f.profiles))
	mustDefine(t)(r.BelongsTo(f.posts, "author", f.users, WithForeignKey("user_id")))
	mustDefine(t)(r.MorphMany(f.posts, "comments", f.comments, "commentable"))
	mustDefine(t)(r.MorphMany(f.videos, "comments", f.comments, "commentable"))
	mustDefine(t)(r.MorphOne(f.posts, "cover", f.comments, "coverable"))
	mustDefine(t)(r.MorphToMany(f.posts, "tags", f.tags, "taggable"))
	mustDefine(t)(r.MorphToMany(f.videos, "tags", f.tags, "taggable"))
	mustDefine(t)(r.MorphedByMany(f.tags, "posts", f.posts, "taggable"))
	mustDefine(t)(r.MorphedByMany(f.tags, "videos", f.videos, "taggable"))

	f.manager, err = NewManager(r, datasource, DefaultConfig())
	require.NoError(t, err)
	return f
}

func mustDefine(t *testing.T) func(*Definition, error) {
	return func(_ *Definition, err error) {
		t.Helper()
		require.NoError(t, err)
	}
}

func (f *fixture) relation(t *testing.T, model *database.Model, name string) *Definition {
	t.Helper()
	def, err := f.registry.Relation(model.Name, name)
	require.NoError(t, err)
	return def
}

// seed stores documents and returns them hydrated.
func (f *fixture) seed(model *database.Model, documents ...bson.M) []*Entity {
	f.store.Seed(model.Collection, documents...)
	entities := make([]*Entity, 0, len(documents))
	for _, document := range documents {
		entities = append(entities, Hydrate(model, database.CloneDocument(document)))
	}
	return entities
}

// stored reads one document back from the store by primary key.
func (f *fixture) stored(t *testing.T, model *database.Model, id any) bson.M {
	t.Helper()
	for _, document := range f.store.Documents(model.Collection) {
		if document[model.Key()] == id {
			return document
		}
	}
	t.Fatalf("%s %v not found", model.Name, id)
	return nil
}

func (f *fixture) patches(collection string) int {
	count := 0
	for _, write := range f.store.Writes() {
		if write.Op == "patch" && write.Collection == collection {
			count++
		}
	}
	return count
}

func arrayOf(t *testing.T, document bson.M, attr string) []any {
	t.Helper()
	value, found := document[attr]
	if !found || value == nil {
		return []any{}
	}
	elements, ok := database.ToSlice(value)
	require.True(t, ok, "%s is not an array", attr)
	return elements
}

func oids(n int) []bson.ObjectID {
	result := make([]bson.ObjectID, n)
	for i := range result {
		result[i] = bson.NewObjectID()
	}
	return result
}
