// Package docstore is the Mongo-backed document store: the natural-key upsert
// contract used by the import engine plus generic collection administration.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"edu-data-console/internal/logger"
)

var (
	ErrNotFound         = errors.New("document not found")
	ErrCollectionExists = errors.New("collection already exists")
	ErrInvalid          = errors.New("invalid document request")
	ErrConflict         = errors.New("conflict")
)

// UnavailableError marks failures caused by the store being unreachable.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("document store unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error     { return e.Err }
func (e *UnavailableError) Unavailable() bool { return true }

// classify wraps connectivity failures in UnavailableError and everything
// else with op context.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConnectivity(err) {
		return &UnavailableError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConnectivity(err error) bool {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) ||
		errors.Is(err, mongo.ErrClientDisconnected) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "server selection") || strings.Contains(msg, "connection refused")
}

// Store is the document store over one Mongo database.
type Store struct {
	db *mongo.Database
}

func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

func (s *Store) Database() *mongo.Database { return s.db }

// Ping checks the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return classify("ping", s.db.Client().Ping(ctx, nil))
}

// UpsertResult is the outcome of a natural-key upsert.
type UpsertResult struct {
	ID       string
	Inserted bool
}

func keyFilter(key map[string]string) bson.M {
	f := bson.M{}
	for k, v := range key {
		f[k] = v
	}
	return f
}

// Upsert writes set on the document matching key, inserting it (with key and
// setOnInsert) when absent. set and setOnInsert must not share fields.
func (s *Store) Upsert(ctx context.Context, collection string, key map[string]string, set, setOnInsert map[string]any) (UpsertResult, error) {
	filter := keyFilter(key)
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = bson.M(set)
	}
	if len(setOnInsert) > 0 {
		update["$setOnInsert"] = bson.M(setOnInsert)
	}
	if len(update) == 0 {
		update["$setOnInsert"] = filter
	}

	res, err := s.db.Collection(collection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return UpsertResult{}, classify("upsert "+collection, err)
	}
	if res.UpsertedID != nil {
		return UpsertResult{ID: idString(res.UpsertedID), Inserted: true}, nil
	}

	var doc struct {
		ID any `bson:"_id"`
	}
	err = s.db.Collection(collection).FindOne(ctx, filter, options.FindOne().SetProjection(bson.M{"_id": 1})).Decode(&doc)
	if err != nil {
		return UpsertResult{}, classify("reload "+collection, err)
	}
	return UpsertResult{ID: idString(doc.ID)}, nil
}

// Get returns the document matching key, or nil when there is none.
func (s *Store) Get(ctx context.Context, collection string, key map[string]string) (map[string]any, error) {
	var doc bson.M
	err := s.db.Collection(collection).FindOne(ctx, keyFilter(key)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get "+collection, err)
	}
	return Normalize(doc), nil
}

// SetStatus updates the status field of the document matching key.
func (s *Store) SetStatus(ctx context.Context, collection string, key map[string]string, status string) error {
	_, err := s.db.Collection(collection).UpdateOne(ctx, keyFilter(key), bson.M{
		"$set": bson.M{"status": status, "updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return classify("set status "+collection, err)
	}
	logger.Debug("document status changed", "collection", collection, "key", key, "status", status)
	return nil
}

func idString(id any) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Normalize converts driver-specific values into plain Go values: ObjectIDs
// become hex strings, arrays []any and documents map[string]any.
func Normalize(doc bson.M) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case bson.M:
		return Normalize(t)
	case bson.D:
		return Normalize(t.Map())
	case primitive.A:
		arr := make([]any, len(t))
		for i, x := range t {
			arr[i] = normalizeValue(x)
		}
		return arr
	default:
		return v
	}
}
