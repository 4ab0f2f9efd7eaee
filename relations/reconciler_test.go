package relations

import (
	"context"
	"testing"

	"github.com/go-errors/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xompass/vsaas-relations/database"
	"github.com/xompass/vsaas-relations/lbq"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestReconciler_Scenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	def := f.relation(t, f.users, "labels")

	uid := bson.NewObjectID()
	u := f.seed(f.users, bson.M{"_id": uid, "name": "U", "label_ids": bson.A{}})[0]
	f.seed(f.labels, bson.M{"_id": "k1"}, bson.M{"_id": "k2"}, bson.M{"_id": "k3"})

	changes, err := f.manager.Attach(ctx, u, "labels", []string{"k1", "k2"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"k1", "k2"}, changes.Attached)
	assert.Empty(t, changes.Detached)
	assert.ElementsMatch(t, []any{"k1", "k2"}, arrayOf(t, f.stored(t, f.users, uid), def.OwnerArray))

	changes, err = f.manager.Detach(ctx, u, "labels", "k1")
	require.NoError(t, err)
	assert.Equal(t, []any{"k1"}, changes.Detached)
	assert.ElementsMatch(t, []any{"k2"}, arrayOf(t, f.stored(t, f.users, uid), def.OwnerArray))
	assert.Empty(t, arrayOf(t, f.stored(t, f.labels, "k1"), def.MirrorArray))

	changes, err = f.manager.Sync(ctx, u, "labels", []string{"k3"}, true)
	require.NoError(t, err)
	assert.Equal(t, []any{"k3"}, changes.Attached)
	assert.Equal(t, []any{"k2"}, changes.Detached)

	assert.ElementsMatch(t, []any{"k3"}, arrayOf(t, f.stored(t, f.users, uid), def.OwnerArray))
	assert.NotContains(t, arrayOf(t, f.stored(t, f.labels, "k2"), def.MirrorArray), uid)
	assert.Contains(t, arrayOf(t, f.stored(t, f.labels, "k3"), def.MirrorArray), uid)
	assert.ElementsMatch(t, []any{"k3"}, arrayOf(t, u.Attributes(), def.OwnerArray))
}

func TestReconciler_AttachIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	def := f.relation(t, f.users, "roles")

	uid := bson.NewObjectID()
	roleIDs := oids(2)
	user := f.seed(f.users, bson.M{"_id": uid})[0]
	f.seed(f.roles, bson.M{"_id": roleIDs[0]}, bson.M{"_id": roleIDs[1]})

	_, err := f.manager.Attach(ctx, user, "roles", []any{roleIDs[0], roleIDs[0].Hex(), roleIDs[1]})
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{roleIDs[0], roleIDs[1]}, arrayOf(t, f.stored(t, f.users, uid), def.OwnerArray))

	f.store.ResetWrites()
	changes, err := f.manager.Attach(ctx, user, "roles", roleIDs[0])
	require.NoError(t, err)
	assert.True(t, changes.Empty())
	assert.Empty(t, f.store.Writes())
	assert.ElementsMatch(t, []any{roleIDs[0], roleIDs[1]}, arrayOf(t, f.stored(t, f.users, uid), def.OwnerArray))
}

func TestReconciler_SyncTwiceWritesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	uid := bson.NewObjectID()
	roleIDs := oids(3)
	user := f.seed(f.users, bson.M{"_id": uid, "role_ids": bson.A{roleIDs[0], roleIDs[1]}})[0]
	f.seed(f.roles,
		bson.M{"_id": roleIDs[0], "user_ids": bson.A{uid}},
		bson.M{"_id": roleIDs[1], "user_ids": bson.A{uid}},
		bson.M{"_id": roleIDs[2]},
	)

	changes, err := f.manager.Sync(ctx, user, "roles", []bson.ObjectID{roleIDs[1], roleIDs[2]}, true)
	require.NoError(t, err)
	assert.Equal(t, []any{roleIDs[2]}, changes.Attached)
	assert.Equal(t, []any{roleIDs[0]}, changes.Detached)

	for _, write := range f.store.Writes() {
		if write.Collection == "roles" {
			assert.NotEqual(t, roleIDs[1], write.Where["_id"].(lbq.Where)["eq"], "untouched role must not be written")
		}
	}
	assert.ElementsMatch(t, []any{roleIDs[1], roleIDs[2]}, arrayOf(t, f.stored(t, f.users, uid), "role_ids"))
	assert.Empty(t, arrayOf(t, f.stored(t, f.roles, roleIDs[0]), "user_ids"))
	assert.Equal(t, []any{uid}, arrayOf(t, f.stored(t, f.roles, roleIDs[2]), "user_ids"))

	f.store.ResetWrites()
	changes, err = f.manager.Sync(ctx, user, "roles", []bson.ObjectID{roleIDs[1], roleIDs[2]}, true)
	require.NoError(t, err)
	assert.True(t, changes.Empty())
	assert.Empty(t, f.store.Writes())
}

func TestReconciler_SyncWithUnknownTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	uid := bson.NewObjectID()
	roleIDs := oids(2)
	user := f.seed(f.users, bson.M{"_id": uid})[0]
	f.seed(f.roles, bson.M{"_id": roleIDs[0]})

	changes, err := f.manager.Sync(ctx, user, "roles", []bson.ObjectID{roleIDs[0], roleIDs[1]}, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{roleIDs[0], roleIDs[1]}, changes.Attached)
	assert.Equal(t, 1, f.patches("roles"))
	assert.Equal(t, []any{uid}, arrayOf(t, f.stored(t, f.roles, roleIDs[0]), "user_ids"))

	f.store.ResetWrites()
	changes, err = f.manager.Sync(ctx, user, "roles", []bson.ObjectID{roleIDs[0], roleIDs[1]}, true)
	require.NoError(t, err)
	assert.True(t, changes.Empty())
	assert.Empty(t, f.store.Writes())
}

func TestReconciler_SyncWithoutDetaching(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	uid := bson.NewObjectID()
	roleIDs := oids(2)
	user := f.seed(f.users, bson.M{"_id": uid, "role_ids": bson.A{roleIDs[0]}})[0]
	f.seed(f.roles, bson.M{"_id": roleIDs[0], "user_ids": bson.A{uid}}, bson.M{"_id": roleIDs[1]})

	changes, err := f.manager.Sync(ctx, user, "roles", roleIDs[1], false)
	require.NoError(t, err)
	assert.Equal(t, []any{roleIDs[1]}, changes.Attached)
	assert.Empty(t, changes.Detached)
	assert.ElementsMatch(t, []any{roleIDs[0], roleIDs[1]}, arrayOf(t, f.stored(t, f.users, uid), "role_ids"))
}

func TestReconciler_DetachAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	uid := bson.NewObjectID()
	roleIDs := oids(2)
	user := f.seed(f.users, bson.M{"_id": uid, "role_ids": bson.A{roleIDs[0], roleIDs[1]}})[0]
	f.seed(f.roles,
		bson.M{"_id": roleIDs[0], "user_ids": bson.A{uid}},
		bson.M{"_id": roleIDs[1], "user_ids": bson.A{uid, "someone else"}},
	)

	changes, err := f.manager.Detach(ctx, user, "roles", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{roleIDs[0], roleIDs[1]}, changes.Detached)
	assert.Empty(t, arrayOf(t, f.stored(t, f.users, uid), "role_ids"))
	assert.Empty(t, arrayOf(t, f.stored(t, f.roles, roleIDs[0]), "user_ids"))
	assert.Equal(t, []any{"someone else"}, arrayOf(t, f.stored(t, f.roles, roleIDs[1]), "user_ids"))

	f.store.ResetWrites()
	changes, err = f.manager.Detach(ctx, user, "roles", []any{})
	require.NoError(t, err)
	assert.True(t, changes.Empty())
	assert.Empty(t, f.store.Writes())
}

func TestReconciler_DetachAllFromStaleOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	uid := bson.NewObjectID()
	roleIDs := oids(2)
	f.seed(f.users, bson.M{"_id": uid, "role_ids": bson.A{roleIDs[0], roleIDs[1]}})
	f.seed(f.roles,
		bson.M{"_id": roleIDs[0], "user_ids": bson.A{uid}},
		bson.M{"_id": roleIDs[1], "user_ids": bson.A{uid}},
	)

	tests := []struct {
		name     string
		attached bson.A
	}{
		{name: "partial copy", attached: bson.A{roleIDs[0]}},
		{name: "empty copy", attached: bson.A{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.store.Patch(ctx, "users", lbq.Where{"_id": lbq.Where{"eq": uid}},
				database.Delta{Set: map[string]any{"role_ids": bson.A{roleIDs[0], roleIDs[1]}}})
			require.NoError(t, err)
			for _, id := range roleIDs {
				_, err := f.store.Patch(ctx, "roles", lbq.Where{"_id": lbq.Where{"eq": id}},
					database.Delta{Set: map[string]any{"user_ids": bson.A{uid}}})
				require.NoError(t, err)
			}

			stale := Hydrate(f.users, bson.M{"_id": uid, "role_ids": tt.attached})
			changes, err := f.manager.Detach(ctx, stale, "roles", nil)
			require.NoError(t, err)
			assert.ElementsMatch(t, []any{roleIDs[0], roleIDs[1]}, changes.Detached)
			assert.Empty(t, arrayOf(t, f.stored(t, f.users, uid), "role_ids"))
			for _, id := range roleIDs {
				assert.Empty(t, arrayOf(t, f.stored(t, f.roles, id), "user_ids"))
			}
		})
	}
}

func TestReconciler_Symmetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	userIDs := oids(2)
	roleIDs := oids(3)
	users := f.seed(f.users, bson.M{"_id": userIDs[0]}, bson.M{"_id": userIDs[1]})
	roles := f.seed(f.roles, bson.M{"_id": roleIDs[0]}, bson.M{"_id": roleIDs[1]}, bson.M{"_id": roleIDs[2]})

	steps := []func() error{
		func() error { _, err := f.manager.Attach(ctx, users[0], "roles", roleIDs[:2]); return err },
		func() error { _, err := f.manager.Attach(ctx, users[1], "roles", roles); return err },
		func() error { _, err := f.manager.Detach(ctx, users[0], "roles", roleIDs[1]); return err },
		func() error { _, err := f.manager.Sync(ctx, roles[2], "users", userIDs[0], true); return err },
		func() error { _, err := f.manager.Sync(ctx, users[1], "roles", []any{roleIDs[0]}, true); return err },
	}

	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)
		for _, uid := range userIDs {
			for _, rid := range roleIDs {
				onUser := containsKey(arrayOf(t, f.stored(t, f.users, uid), "role_ids"), rid)
				onRole := containsKey(arrayOf(t, f.stored(t, f.roles, rid), "user_ids"), uid)
				assert.Equal(t, onUser, onRole, "step %d user %s role %s", i, uid.Hex(), rid.Hex())
			}
		}
	}

	assert.ElementsMatch(t, []any{roleIDs[0], roleIDs[2]}, arrayOf(t, f.stored(t, f.users, userIDs[0]), "role_ids"))
	assert.ElementsMatch(t, []any{roleIDs[0]}, arrayOf(t, f.stored(t, f.users, userIDs[1]), "role_ids"))
	assert.ElementsMatch(t, []any{userIDs[0]}, arrayOf(t, roles[2].Attributes(), "user_ids"))
}

func TestReconciler_EntityTargetsGetMirror(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	uid := bson.NewObjectID()
	user := f.seed(f.users, bson.M{"_id": uid})[0]
	role := f.seed(f.roles, bson.M{"_id": bson.NewObjectID()})[0]

	_, err := f.manager.Attach(ctx, user, "roles", role)
	require.NoError(t, err)
	assert.Equal(t, []any{uid}, arrayOf(t, role.Attributes(), "user_ids"))
	assert.False(t, role.IsDirty("user_ids"))

	_, err = f.manager.Detach(ctx, user, "roles", []*Entity{role})
	require.NoError(t, err)
	assert.Empty(t, arrayOf(t, role.Attributes(), "user_ids"))
}

func TestReconciler_CustomKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	def := f.relation(t, f.users, "skills")

	uid := bson.NewObjectID()
	skillIDs := oids(2)
	user := f.seed(f.users, bson.M{"_id": uid, "handle": "ada"})[0]
	f.seed(f.skills,
		bson.M{"_id": skillIDs[0], "code": "go"},
		bson.M{"_id": skillIDs[1], "code": skillIDs[0].Hex()},
	)

	_, err := f.manager.Attach(ctx, user, "skills", []any{"go", skillIDs[0].Hex()})
	require.NoError(t, err)

	assert.ElementsMatch(t, []any{"go", skillIDs[0].Hex()}, arrayOf(t, f.stored(t, f.users, uid), def.OwnerArray))
	assert.Equal(t, []any{"ada"}, arrayOf(t, f.stored(t, f.skills, skillIDs[0]), def.MirrorArray))
	assert.Equal(t, []any{"ada"}, arrayOf(t, f.stored(t, f.skills, skillIDs[1]), def.MirrorArray))

	f.store.ResetWrites()
	changes, err := f.manager.Sync(ctx, user, "skills", []any{skillIDs[0]}, true)
	require.NoError(t, err)
	assert.Equal(t, []any{skillIDs[0]}, changes.Attached, "object ids are opaque for custom keys")
	assert.ElementsMatch(t, []any{"go", skillIDs[0].Hex()}, changes.Detached)

	_, err = f.manager.Attach(ctx, user, "skills", f.seed(f.skills, bson.M{"_id": bson.NewObjectID()})[0])
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestReconciler_MorphSymmetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	postTags := f.relation(t, f.posts, "tags")
	videoTags := f.relation(t, f.videos, "tags")
	tagPosts := f.relation(t, f.tags, "posts")

	assert.Equal(t, "taggable_post_ids", postTags.MirrorArray)
	assert.Equal(t, "taggable_video_ids", videoTags.MirrorArray)
	assert.Equal(t, postTags.MirrorArray, tagPosts.OwnerArray)
	assert.Equal(t, postTags.OwnerArray, tagPosts.MirrorArray)

	postID, videoID := bson.NewObjectID(), bson.NewObjectID()
	tagIDs := oids(2)
	post := f.seed(f.posts, bson.M{"_id": postID})[0]
	video := f.seed(f.videos, bson.M{"_id": videoID})[0]
	tags := f.seed(f.tags, bson.M{"_id": tagIDs[0]}, bson.M{"_id": tagIDs[1]})

	_, err := f.manager.Attach(ctx, post, "tags", tagIDs)
	require.NoError(t, err)
	_, err = f.manager.Attach(ctx, video, "tags", tagIDs[0])
	require.NoError(t, err)

	first := f.stored(t, f.tags, tagIDs[0])
	assert.Equal(t, []any{postID}, arrayOf(t, first, "taggable_post_ids"))
	assert.Equal(t, []any{videoID}, arrayOf(t, first, "taggable_video_ids"))

	tags[1] = Hydrate(f.tags, f.stored(t, f.tags, tagIDs[1]))
	_, err = f.manager.Detach(ctx, tags[1], "posts", postID)
	require.NoError(t, err)
	assert.Equal(t, []any{tagIDs[0]}, arrayOf(t, f.stored(t, f.posts, postID), "tag_ids"))
	assert.Empty(t, arrayOf(t, f.stored(t, f.tags, tagIDs[1]), "taggable_post_ids"))
}

func TestReconciler_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.seed(f.users, bson.M{"_id": bson.NewObjectID()})[0]

	_, err := f.manager.Attach(ctx, user, "posts", bson.NewObjectID())
	assert.ErrorIs(t, err, ErrUnsupportedOperation)

	_, err = f.manager.Attach(ctx, user, "roles", "not-an-object-id")
	assert.ErrorIs(t, err, ErrMalformedIdentifier)

	unsaved, err := NewEntity(f.users, bson.M{"name": "new"})
	require.NoError(t, err)
	_, err = f.manager.Attach(ctx, unsaved, "roles", bson.NewObjectID())
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = f.manager.Attach(ctx, user, "nothing", bson.NewObjectID())
	assert.ErrorIs(t, err, ErrUnknownRelation)
	assert.Empty(t, f.store.Writes())
}

func TestReconciler_MirrorFailurePropagates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	uid := bson.NewObjectID()
	roleID := bson.NewObjectID()
	user := f.seed(f.users, bson.M{"_id": uid})[0]
	f.seed(f.roles, bson.M{"_id": roleID})

	failure := errors.New("connection reset")
	f.store.FailPatches("roles", failure)

	_, err := f.manager.Attach(ctx, user, "roles", roleID)
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, []any{roleID}, arrayOf(t, f.stored(t, f.users, uid), "role_ids"))
	assert.Empty(t, arrayOf(t, f.stored(t, f.roles, roleID), "user_ids"))

	f.store.FailPatches("roles", nil)
	user = Hydrate(f.users, f.stored(t, f.users, uid))
	f.store.ResetWrites()
	changes, err := f.manager.Sync(ctx, user, "roles", roleID, true)
	require.NoError(t, err)
	assert.Equal(t, []any{roleID}, changes.Attached)
	assert.Equal(t, 0, f.patches("users"))
	assert.Equal(t, []any{uid}, arrayOf(t, f.stored(t, f.roles, roleID), "user_ids"))

	f.store.ResetWrites()
	changes, err = f.manager.Sync(ctx, user, "roles", roleID, true)
	require.NoError(t, err)
	assert.True(t, changes.Empty())
	assert.Empty(t, f.store.Writes())
}

func TestReconciler_WithoutMirror(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	uid := bson.NewObjectID()
	postID := bson.NewObjectID()
	user := f.seed(f.users, bson.M{"_id": uid})[0]
	f.seed(f.posts, bson.M{"_id": postID})

	_, err := f.manager.Attach(ctx, user, "favorites", postID)
	require.NoError(t, err)
	assert.Equal(t, []any{postID}, arrayOf(t, f.stored(t, f.users, uid), "favorite_ids"))
	assert.NotContains(t, f.stored(t, f.posts, postID), "fan_ids")
	assert.Equal(t, 0, f.patches("posts"))
}

func containsKey(elements []any, key any) bool {
	for _, element := range elements {
		if element == key {
			return true
		}
	}
	return false
}
