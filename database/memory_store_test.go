package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xompass/vsaas-relations/lbq"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func seededStore() *MemoryStore {
	store := NewMemoryStore()
	store.Seed("users",
		bson.M{"_id": "u1", "name": "John", "age": int32(30), "client_ids": bson.A{"k1", "k2"}, "data": bson.M{"client_id": "k1"}},
		bson.M{"_id": "u2", "name": "Jane", "age": int64(25), "client_ids": bson.A{}},
		bson.M{"_id": "u3", "name": "jack", "client_id": nil},
	)
	return store
}

func ids(docs []bson.M) []any {
	result := make([]any, 0, len(docs))
	for _, doc := range docs {
		result = append(result, doc["_id"])
	}
	return result
}

func TestMemoryStore_Find(t *testing.T) {
	tests := []struct {
		name     string
		where    lbq.Where
		expected []any
	}{
		{name: "no filter", where: nil, expected: []any{"u1", "u2", "u3"}},
		{name: "bare equality", where: lbq.Where{"name": "Jane"}, expected: []any{"u2"}},
		{name: "array element equality", where: lbq.Where{"client_ids": lbq.Where{"eq": "k2"}}, expected: []any{"u1"}},
		{name: "array membership", where: lbq.Where{"client_ids": lbq.Where{"inq": []any{"k2", "k9"}}}, expected: []any{"u1"}},
		{name: "null matches missing", where: lbq.Where{"client_id": lbq.Where{"eq": nil}}, expected: []any{"u1", "u2", "u3"}},
		{name: "not null excludes missing", where: lbq.Where{"age": lbq.Where{"neq": nil}}, expected: []any{"u1", "u2"}},
		{name: "nin matches missing", where: lbq.Where{"age": lbq.Where{"nin": []any{30}}}, expected: []any{"u2", "u3"}},
		{name: "numeric widths compare", where: lbq.Where{"age": lbq.Where{"gte": 25, "lt": int64(30)}}, expected: []any{"u2"}},
		{name: "exists", where: lbq.Where{"client_id": lbq.Where{"exists": true}}, expected: []any{"u3"}},
		{name: "dotted path", where: lbq.Where{"data.client_id": "k1"}, expected: []any{"u1"}},
		{name: "like", where: lbq.Where{"name": lbq.Where{"like": "^ja", "options": "i"}}, expected: []any{"u2", "u3"}},
		{name: "size zero includes missing array", where: lbq.Where{"client_ids": lbq.Where{"size": int64(0)}}, expected: []any{"u2", "u3"}},
		{name: "size comparison", where: lbq.Where{"client_ids": lbq.Where{"size": lbq.Where{"gt": int64(1)}}}, expected: []any{"u1"}},
		{
			name: "or",
			where: lbq.Where{"or": lbq.AndOrCondition{
				{"name": "John"},
				{"name": "jack"},
			}},
			expected: []any{"u1", "u3"},
		},
	}

	store := seededStore()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := store.Find(context.Background(), "users", &lbq.Filter{Where: tt.where})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ids(docs))
		})
	}
}

func TestMemoryStore_FindOptions(t *testing.T) {
	store := seededStore()

	docs, err := store.Find(context.Background(), "users", &lbq.Filter{
		Order:  []lbq.Order{{Field: "name", Direction: "DESC"}},
		Skip:   1,
		Limit:  1,
		Fields: lbq.Fields{"name": true},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, bson.M{"_id": "u1", "name": "John"}, docs[0])

	_, err = store.Find(context.Background(), "users", &lbq.Filter{Where: lbq.Where{"$where": "1"}})
	assert.Equal(t, STORE_INVALID_FILTER, ErrorCode(err))
}

func TestMemoryStore_FindReturnsCopies(t *testing.T) {
	store := seededStore()

	docs, err := store.Find(context.Background(), "users", &lbq.Filter{Where: lbq.Where{"_id": "u1"}})
	require.NoError(t, err)
	docs[0]["client_ids"].(bson.A)[0] = "changed"

	assert.Equal(t, bson.A{"k1", "k2"}, store.Documents("users")[0]["client_ids"])
}

func TestMemoryStore_Patch(t *testing.T) {
	ctx := context.Background()
	store := seededStore()

	res, err := store.Patch(ctx, "users", lbq.Where{"_id": "u1"}, Delta{
		AddToSet: map[string][]any{"client_ids": {"k2", "k3", "k3"}},
	})
	require.NoError(t, err)
	assert.Equal(t, WriteResult{MatchedCount: 1, ModifiedCount: 1}, res)
	assert.Equal(t, bson.A{"k1", "k2", "k3"}, store.Documents("users")[0]["client_ids"])

	res, err = store.Patch(ctx, "users", lbq.Where{"_id": "u1"}, Delta{
		AddToSet: map[string][]any{"client_ids": {"k1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.ModifiedCount)

	_, err = store.Patch(ctx, "users", lbq.Where{"_id": "u1"}, Delta{
		Pull:  map[string][]any{"client_ids": {"k1", "k3"}},
		Set:   map[string]any{"data.client_id": "k2"},
		Unset: []string{"age"},
	})
	require.NoError(t, err)

	doc := store.Documents("users")[0]
	assert.Equal(t, bson.A{"k2"}, doc["client_ids"])
	assert.Equal(t, bson.M{"client_id": "k2"}, doc["data"])
	assert.NotContains(t, doc, "age")

	_, err = store.Patch(ctx, "users", lbq.Where{"_id": "u3"}, Delta{AddToSet: map[string][]any{"skill_ids": {"s1"}}})
	require.NoError(t, err)
	assert.Equal(t, bson.A{"s1"}, store.Documents("users")[2]["skill_ids"])

	_, err = store.Patch(ctx, "users", lbq.Where{"_id": "u3"}, Delta{AddToSet: map[string][]any{"name": {"s1"}}})
	assert.Error(t, err)

	_, err = store.Patch(ctx, "users", lbq.Where{"_id": "u3"}, Delta{})
	assert.Equal(t, STORE_EMPTY_DELTA, ErrorCode(err))

	assert.Len(t, store.Writes(), 4)
}

func TestMemoryStore_CountBy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Seed("skills",
		bson.M{"_id": "s1", "user_id": "u1", "user_ids": bson.A{"u1", "u2"}},
		bson.M{"_id": "s2", "user_id": "u1", "user_ids": bson.A{"u2"}},
		bson.M{"_id": "s3", "user_id": "u2"},
	)

	counts, err := store.CountBy(ctx, "skills", nil, "user_id", false)
	require.NoError(t, err)
	assert.Equal(t, map[any]int64{"u1": 2, "u2": 1}, counts)

	counts, err = store.CountBy(ctx, "skills", nil, "user_ids", true)
	require.NoError(t, err)
	assert.Equal(t, map[any]int64{"u1": 1, "u2": 2}, counts)

	counts, err = store.CountBy(ctx, "skills", lbq.Where{"_id": lbq.Where{"neq": "s1"}}, "user_id", false)
	require.NoError(t, err)
	assert.Equal(t, map[any]int64{"u1": 1, "u2": 1}, counts)

	total, err := store.Count(ctx, "skills", lbq.Where{"user_ids": lbq.Where{"exists": true}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestMemoryStore_InsertDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.Insert(ctx, "users", bson.M{"name": "John"})
	require.NoError(t, err)
	assert.IsType(t, bson.ObjectID{}, id)

	_, err = store.Insert(ctx, "users", bson.M{"_id": id})
	assert.Equal(t, STORE_DUPLICATE_KEY, ErrorCode(err))

	deleted, err := store.Delete(ctx, "users", lbq.Where{"_id": id})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Empty(t, store.Documents("users"))
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryStore().Find(ctx, "users", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
