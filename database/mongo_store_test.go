package database

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xompass/vsaas-relations/lbq"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// TestMongoDocumentStore runs against a live server and is skipped unless
// MONGO_URI is set.
func TestMongoDocumentStore(t *testing.T) {
	if os.Getenv("MONGO_URI") == "" {
		t.Skip("MONGO_URI not set")
	}

	ctx := context.Background()
	connector, err := NewDefaultMongoConnector(ctx, nil)
	require.NoError(t, err)
	defer connector.Disconnect()

	store, err := connector.Store()
	require.NoError(t, err)

	collection := "relations_test_" + bson.NewObjectID().Hex()
	defer store.Delete(ctx, collection, lbq.Where{})

	owner := bson.NewObjectID()
	_, err = store.Insert(ctx, collection, bson.M{"_id": "k1", "owner_ids": bson.A{owner}})
	require.NoError(t, err)
	_, err = store.Insert(ctx, collection, bson.M{"_id": "k2"})
	require.NoError(t, err)

	result, err := store.Patch(ctx, collection, lbq.Where{"_id": lbq.Where{"eq": "k2"}}, Delta{
		AddToSet: map[string][]any{"owner_ids": {owner, owner}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.ModifiedCount)

	counts, err := store.CountBy(ctx, collection, lbq.Where{"owner_ids": lbq.Where{"neq": nil}}, "owner_ids", true)
	require.NoError(t, err)
	assert.Equal(t, map[any]int64{owner: 2}, counts)

	found, err := store.Find(ctx, collection, &lbq.Filter{Where: lbq.Where{"owner_ids": lbq.Where{"size": int64(1)}}})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	_, err = store.Patch(ctx, collection, lbq.Where{}, Delta{Pull: map[string][]any{"owner_ids": {owner}}})
	require.NoError(t, err)

	count, err := store.Count(ctx, collection, lbq.Where{"owner_ids": lbq.Where{"size": lbq.Where{"gt": int64(0)}}})
	require.NoError(t, err)
	assert.Zero(t, count)
}
