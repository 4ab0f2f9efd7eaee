package database

import (
	"context"
	"maps"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-errors/errors"
	"github.com/xompass/vsaas-relations/http_errors"
	"github.com/xompass/vsaas-relations/lbq"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// WriteRecord is one write call received by a MemoryStore.
type WriteRecord struct {
	Op         string
	Collection string
	Where      lbq.Where
	Delta      Delta
	Result     WriteResult
}

// MemoryStore is a DocumentStore kept in process memory. Documents are
// returned in insertion order unless the filter sets an order.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]bson.M
	writes      []WriteRecord
	// failPatch makes Patch fail for a collection, used to simulate partial writes.
	failPatch map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: map[string][]bson.M{},
		failPatch:   map[string]error{},
	}
}

func (s *MemoryStore) Find(ctx context.Context, collection string, filter *lbq.Filter) ([]bson.M, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var where lbq.Where
	if filter != nil {
		where = filter.Where
	}

	s.mu.RLock()
	matched, err := s.match(collection, where)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	result := make([]bson.M, 0, len(matched))
	for _, idx := range matched {
		result = append(result, CloneDocument(s.collections[collection][idx]))
	}
	s.mu.RUnlock()

	if filter == nil {
		return result, nil
	}

	if len(filter.Order) > 0 {
		sortDocuments(result, filter.Order)
	}
	if filter.Skip > 0 {
		if int(filter.Skip) >= len(result) {
			result = nil
		} else {
			result = result[filter.Skip:]
		}
	}
	if filter.Limit > 0 && int(filter.Limit) < len(result) {
		result = result[:filter.Limit]
	}

	if len(filter.Fields) > 0 {
		for i, doc := range result {
			result[i] = project(doc, filter.Fields)
		}
	}
	return result, nil
}

func (s *MemoryStore) Count(ctx context.Context, collection string, where lbq.Where) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched, err := s.match(collection, where)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

func (s *MemoryStore) CountBy(ctx context.Context, collection string, where lbq.Where, attr string, unwind bool) (map[any]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched, err := s.match(collection, where)
	if err != nil {
		return nil, err
	}

	counts := map[any]int64{}
	add := func(key any) {
		if key != nil && !reflect.TypeOf(key).Comparable() {
			return
		}
		counts[key]++
	}

	for _, idx := range matched {
		value, found := LookupPath(s.collections[collection][idx], attr)
		if !unwind {
			add(value)
			continue
		}
		if !found || value == nil {
			continue
		}
		if elements, ok := ToSlice(value); ok {
			for _, element := range elements {
				add(element)
			}
			continue
		}
		add(value)
	}
	return counts, nil
}

func (s *MemoryStore) Patch(ctx context.Context, collection string, where lbq.Where, delta Delta) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	if delta.IsEmpty() {
		return WriteResult{}, http_errors.BadRequestErrorWithCode(STORE_EMPTY_DELTA, "update delta is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failPatch[collection]; err != nil {
		return WriteResult{}, err
	}

	matched, err := s.match(collection, where)
	if err != nil {
		return WriteResult{}, err
	}

	result := WriteResult{MatchedCount: int64(len(matched))}
	for _, idx := range matched {
		doc := s.collections[collection][idx]
		updated := CloneDocument(doc)
		if err := applyDelta(updated, delta); err != nil {
			return result, err
		}
		if !reflect.DeepEqual(doc, updated) {
			s.collections[collection][idx] = updated
			result.ModifiedCount++
		}
	}

	s.writes = append(s.writes, WriteRecord{Op: "patch", Collection: collection, Where: where, Delta: delta, Result: result})
	return result, nil
}

func (s *MemoryStore) Insert(ctx context.Context, collection string, document bson.M) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := CloneDocument(document)
	if doc[DefaultPrimaryKey] == nil {
		doc[DefaultPrimaryKey] = s.GenerateID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.collections[collection] {
		if valuesEqual(existing[DefaultPrimaryKey], doc[DefaultPrimaryKey]) {
			return nil, http_errors.ConflictErrorWithCode(STORE_DUPLICATE_KEY, "duplicate key error: _id")
		}
	}

	s.collections[collection] = append(s.collections[collection], doc)
	s.writes = append(s.writes, WriteRecord{Op: "insert", Collection: collection, Result: WriteResult{MatchedCount: 1, ModifiedCount: 1}})
	return doc[DefaultPrimaryKey], nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection string, where lbq.Where) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matched, err := s.match(collection, where)
	if err != nil {
		return 0, err
	}

	removed := map[int]bool{}
	for _, idx := range matched {
		removed[idx] = true
	}
	kept := make([]bson.M, 0, len(s.collections[collection])-len(matched))
	for idx, doc := range s.collections[collection] {
		if !removed[idx] {
			kept = append(kept, doc)
		}
	}
	s.collections[collection] = kept
	s.writes = append(s.writes, WriteRecord{Op: "delete", Collection: collection, Where: where, Result: WriteResult{MatchedCount: int64(len(matched))}})
	return int64(len(matched)), nil
}

func (s *MemoryStore) GenerateID() bson.ObjectID {
	return bson.NewObjectID()
}

// Seed stores documents without recording writes.
func (s *MemoryStore) Seed(collection string, documents ...bson.M) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range documents {
		s.collections[collection] = append(s.collections[collection], CloneDocument(doc))
	}
}

// Documents returns a copy of every document in collection.
func (s *MemoryStore) Documents(collection string) []bson.M {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneDocuments(s.collections[collection])
}

// Writes returns the write log.
func (s *MemoryStore) Writes() []WriteRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]WriteRecord(nil), s.writes...)
}

func (s *MemoryStore) ResetWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = nil
}

// FailPatches makes every later Patch on collection return err. A nil err clears it.
func (s *MemoryStore) FailPatches(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failPatch, collection)
		return
	}
	s.failPatch[collection] = err
}

func (s *MemoryStore) match(collection string, where lbq.Where) ([]int, error) {
	var matched []int
	for idx, doc := range s.collections[collection] {
		ok, err := matchWhere(doc, where)
		if err != nil {
			return nil, http_errors.BadRequestErrorWithCode(STORE_INVALID_FILTER, err.Error())
		}
		if ok {
			matched = append(matched, idx)
		}
	}
	return matched, nil
}

func applyDelta(doc bson.M, delta Delta) error {
	for path, value := range delta.Set {
		SetPath(doc, path, cloneValue(value))
	}
	for _, path := range delta.Unset {
		UnsetPath(doc, path)
	}
	for path, values := range delta.AddToSet {
		current, found := LookupPath(doc, path)
		elements := bson.A{}
		if found && current != nil {
			existing, ok := ToSlice(current)
			if !ok {
				return errors.Errorf("cannot apply $addToSet to non-array attribute %s", path)
			}
			elements = append(elements, existing...)
		}
		for _, value := range values {
			if !containsValue(elements, value) {
				elements = append(elements, cloneValue(value))
			}
		}
		SetPath(doc, path, elements)
	}
	for path, values := range delta.Pull {
		current, found := LookupPath(doc, path)
		if !found || current == nil {
			continue
		}
		existing, ok := ToSlice(current)
		if !ok {
			return errors.Errorf("cannot apply $pullAll to non-array attribute %s", path)
		}
		kept := bson.A{}
		for _, element := range existing {
			if !containsValue(values, element) {
				kept = append(kept, element)
			}
		}
		SetPath(doc, path, kept)
	}
	return nil
}

func containsValue(elements []any, value any) bool {
	for _, element := range elements {
		if valuesEqual(element, value) {
			return true
		}
	}
	return false
}

// SetPath writes a dotted attribute path, creating intermediate documents.
func SetPath(doc bson.M, path string, value any) {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(bson.M)
		if !ok {
			if m, isMap := current[part].(map[string]any); isMap {
				next = m
			} else {
				next = bson.M{}
			}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// UnsetPath removes a dotted attribute path.
func UnsetPath(doc bson.M, path string) {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(current[part])
		if !ok {
			return
		}
		current = next
	}
	delete(current, parts[len(parts)-1])
}

func project(doc bson.M, fields lbq.Fields) bson.M {
	inclusion := false
	for key, include := range fields {
		if include && key != DefaultPrimaryKey {
			inclusion = true
		}
	}

	if !inclusion {
		result := maps.Clone(doc)
		for key, include := range fields {
			if !include {
				delete(result, key)
			}
		}
		return result
	}

	result := bson.M{}
	if include, ok := fields[DefaultPrimaryKey]; !ok || include {
		if id, ok := doc[DefaultPrimaryKey]; ok {
			result[DefaultPrimaryKey] = id
		}
	}
	for key, include := range fields {
		if value, found := LookupPath(doc, key); include && found {
			SetPath(result, key, value)
		}
	}
	return result
}

func sortDocuments(docs []bson.M, order []lbq.Order) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range order {
			left, _ := LookupPath(docs[i], o.Field)
			right, _ := LookupPath(docs[j], o.Field)
			result, ok := compareValues(left, right)
			if !ok || result == 0 {
				continue
			}
			if o.Direction == "DESC" {
				return result > 0
			}
			return result < 0
		}
		return false
	})
}

func cloneDocuments(docs []bson.M) []bson.M {
	result := make([]bson.M, len(docs))
	for i, doc := range docs {
		result[i] = CloneDocument(doc)
	}
	return result
}

// CloneDocument deep copies doc.
func CloneDocument(doc bson.M) bson.M {
	result := make(bson.M, len(doc))
	for key, value := range doc {
		result[key] = cloneValue(value)
	}
	return result
}

// cloneValue deep copies a value the way a round trip through the store would:
// maps become bson.M and slices become bson.A.
func cloneValue(value any) any {
	if m, ok := asMap(value); ok {
		return CloneDocument(m)
	}
	if elements, ok := ToSlice(value); ok {
		result := make(bson.A, len(elements))
		for i, element := range elements {
			result[i] = cloneValue(element)
		}
		return result
	}
	return value
}
