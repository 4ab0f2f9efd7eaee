package database

import (
	"context"

	"github.com/xompass/vsaas-relations/lbq"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Delta is a set of attribute operations applied to every matched document.
type Delta struct {
	// AddToSet appends each value not already present in the array attribute.
	AddToSet map[string][]any
	// Pull removes every occurrence of each value from the array attribute.
	Pull  map[string][]any
	Set   map[string]any
	Unset []string
}

func (d Delta) IsEmpty() bool {
	return len(d.AddToSet) == 0 && len(d.Pull) == 0 && len(d.Set) == 0 && len(d.Unset) == 0
}

type WriteResult struct {
	MatchedCount  int64
	ModifiedCount int64
}

// DocumentStore is the document-store contract used by the relation layer.
// Filters are lbq trees; the store translates them into its native query.
type DocumentStore interface {
	Find(ctx context.Context, collection string, filter *lbq.Filter) ([]bson.M, error)
	Count(ctx context.Context, collection string, where lbq.Where) (int64, error)
	// CountBy groups the documents matching where by attr and counts each group.
	// When unwind is set, array attributes contribute one group entry per element.
	CountBy(ctx context.Context, collection string, where lbq.Where, attr string, unwind bool) (map[any]int64, error)
	Patch(ctx context.Context, collection string, where lbq.Where, delta Delta) (WriteResult, error)
	Insert(ctx context.Context, collection string, document bson.M) (any, error)
	Delete(ctx context.Context, collection string, where lbq.Where) (int64, error)
	GenerateID() bson.ObjectID
}
