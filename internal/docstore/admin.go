package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"edu-data-console/internal/logger"
)

// UserCollection holds console users and gets extra validation.
const UserCollection = "user"

var collectionNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateCollectionName trims and checks a collection name.
func ValidateCollectionName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: collection_name is required", ErrInvalid)
	}
	if !collectionNameRe.MatchString(name) {
		return "", fmt.Errorf("%w: collection_name may only contain letters, digits, _ and - (1-64 chars)", ErrInvalid)
	}
	return name, nil
}

// ListCollections returns collection names, hiding system collections.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, classify("list collections", err)
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !strings.HasPrefix(n, "system.") {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) collectionExists(ctx context.Context, name string) (bool, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		return false, classify("list collections", err)
	}
	return len(names) > 0, nil
}

func (s *Store) requireCollection(ctx context.Context, name string) (string, error) {
	name, err := ValidateCollectionName(name)
	if err != nil {
		return "", err
	}
	ok, err := s.collectionExists(ctx, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("collection %q: %w", name, ErrNotFound)
	}
	return name, nil
}

func (s *Store) CreateCollection(ctx context.Context, name string) (string, error) {
	name, err := ValidateCollectionName(name)
	if err != nil {
		return "", err
	}
	ok, err := s.collectionExists(ctx, name)
	if err != nil {
		return "", err
	}
	if ok {
		return "", fmt.Errorf("collection %q: %w", name, ErrCollectionExists)
	}
	if err := s.db.CreateCollection(ctx, name); err != nil {
		return "", classify("create collection", err)
	}
	logger.Info("collection created", "collection", name)
	return name, nil
}

func (s *Store) DropCollection(ctx context.Context, name string) (string, error) {
	name, err := s.requireCollection(ctx, name)
	if err != nil {
		return "", err
	}
	if err := s.db.Collection(name).Drop(ctx); err != nil {
		return "", classify("drop collection", err)
	}
	logger.Info("collection dropped", "collection", name)
	return name, nil
}

// RenameCollection renames within the same database without dropping an
// existing target.
func (s *Store) RenameCollection(ctx context.Context, from, to string) error {
	from, err := s.requireCollection(ctx, from)
	if err != nil {
		return err
	}
	to, err = ValidateCollectionName(to)
	if err != nil {
		return err
	}
	exists, err := s.collectionExists(ctx, to)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("target collection %q: %w", to, ErrCollectionExists)
	}

	dbName := s.db.Name()
	cmd := bson.D{
		{Key: "renameCollection", Value: dbName + "." + from},
		{Key: "to", Value: dbName + "." + to},
		{Key: "dropTarget", Value: false},
	}
	if err := s.db.Client().Database("admin").RunCommand(ctx, cmd).Err(); err != nil {
		return classify("rename collection", err)
	}
	logger.Info("collection renamed", "from", from, "to", to)
	return nil
}

// DocumentPage is one page of a collection listing.
type DocumentPage struct {
	Collection    string           `json:"collection"`
	Total         int64            `json:"total"`
	Limit         int64            `json:"limit"`
	Offset        int64            `json:"offset"`
	ReturnedCount int              `json:"returned_count"`
	Documents     []map[string]any `json:"documents"`
}

func (s *Store) ListDocuments(ctx context.Context, collection string, limit, offset int64) (*DocumentPage, error) {
	collection, err := s.requireCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		return nil, fmt.Errorf("%w: limit must be between 1 and 500", ErrInvalid)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must be >= 0", ErrInvalid)
	}

	col := s.db.Collection(collection)
	total, err := col.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, classify("count documents", err)
	}
	cursor, err := col.Find(ctx, bson.M{}, options.Find().SetSkip(offset).SetLimit(limit))
	if err != nil {
		return nil, classify("find documents", err)
	}
	defer cursor.Close(ctx)

	docs := []map[string]any{}
	for cursor.Next(ctx) {
		var d bson.M
		if err := cursor.Decode(&d); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		docs = append(docs, Normalize(d))
	}
	if err := cursor.Err(); err != nil {
		return nil, classify("iterate documents", err)
	}

	return &DocumentPage{
		Collection:    collection,
		Total:         total,
		Limit:         limit,
		Offset:        offset,
		ReturnedCount: len(docs),
		Documents:     docs,
	}, nil
}

// CreateDocument inserts body with audit fields stamped for actor.
func (s *Store) CreateDocument(ctx context.Context, collection string, body map[string]any, actor string) (string, error) {
	collection, err := s.requireCollection(ctx, collection)
	if err != nil {
		return "", err
	}
	delete(body, "_id")

	if collection == UserCollection {
		if err := ApplyUserRules(body, true); err != nil {
			return "", err
		}
		if err := s.ensureUniqueUsername(ctx, body["username"], nil); err != nil {
			return "", err
		}
	}

	now := time.Now().UTC()
	if _, ok := body["is_deleted"]; !ok {
		body["is_deleted"] = false
	}
	if _, ok := body["deleted_at"]; !ok {
		body["deleted_at"] = nil
	}
	body["created_at"] = now
	body["updated_at"] = now
	body["created_by"] = actor
	body["updated_by"] = actor
	if deleted, _ := body["is_deleted"].(bool); deleted {
		body["deleted_at"] = now
	}

	res, err := s.db.Collection(collection).InsertOne(ctx, body)
	if err != nil {
		return "", classify("insert document", err)
	}
	return idString(res.InsertedID), nil
}

// UpdateResult reports matched/modified counts of an update.
type UpdateResult struct {
	Matched  int64 `json:"matched"`
	Modified int64 `json:"modified"`
}

// UpdateDocument $sets body on the document identified by id. Toggling
// is_deleted sets or clears deleted_at.
func (s *Store) UpdateDocument(ctx context.Context, collection, id string, body map[string]any, actor string) (UpdateResult, error) {
	collection, err := s.requireCollection(ctx, collection)
	if err != nil {
		return UpdateResult{}, err
	}
	delete(body, "_id")
	delete(body, "created_at")
	delete(body, "created_by")
	if len(body) == 0 {
		return UpdateResult{}, fmt.Errorf("%w: no fields to update", ErrInvalid)
	}

	filter, existingID, err := s.findByAnyKey(ctx, collection, id)
	if err != nil {
		return UpdateResult{}, err
	}

	if collection == UserCollection {
		if err := ApplyUserRules(body, false); err != nil {
			return UpdateResult{}, err
		}
		if u, ok := body["username"]; ok {
			if err := s.ensureUniqueUsername(ctx, u, existingID); err != nil {
				return UpdateResult{}, err
			}
		}
	}

	now := time.Now().UTC()
	if v, ok := body["is_deleted"]; ok {
		deleted, err := CoerceBool(v, "is_deleted")
		if err != nil {
			return UpdateResult{}, err
		}
		body["is_deleted"] = deleted
		if deleted {
			body["deleted_at"] = now
		} else {
			body["deleted_at"] = nil
		}
	}
	body["updated_at"] = now
	body["updated_by"] = actor

	res, err := s.db.Collection(collection).UpdateOne(ctx, filter, bson.M{"$set": body})
	if err != nil {
		return UpdateResult{}, classify("update document", err)
	}
	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (s *Store) DeleteDocument(ctx context.Context, collection, id string) (int64, error) {
	collection, err := s.requireCollection(ctx, collection)
	if err != nil {
		return 0, err
	}
	filter, _, err := s.findByAnyKey(ctx, collection, id)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Collection(collection).DeleteOne(ctx, filter)
	if err != nil {
		return 0, classify("delete document", err)
	}
	return res.DeletedCount, nil
}

// findByAnyKey resolves id as an ObjectId, then a string _id, then (for the
// user collection) a username. Returns the _id filter and the raw _id.
func (s *Store) findByAnyKey(ctx context.Context, collection, id string) (bson.M, any, error) {
	col := s.db.Collection(collection)
	proj := options.FindOne().SetProjection(bson.M{"_id": 1})

	try := func(filter bson.M) (any, error) {
		var doc struct {
			ID any `bson:"_id"`
		}
		err := col.FindOne(ctx, filter, proj).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		if err != nil {
			return nil, classify("find document", err)
		}
		return doc.ID, nil
	}

	candidates := []bson.M{}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		candidates = append(candidates, bson.M{"_id": oid})
	}
	candidates = append(candidates, bson.M{"_id": id})
	if collection == UserCollection {
		candidates = append(candidates, bson.M{"username": id})
	}

	for _, f := range candidates {
		found, err := try(f)
		if err != nil {
			return nil, nil, err
		}
		if found != nil {
			return bson.M{"_id": found}, found, nil
		}
	}
	return nil, nil, fmt.Errorf("_id %q: %w", id, ErrNotFound)
}

func (s *Store) ensureUniqueUsername(ctx context.Context, username any, selfID any) error {
	u := strings.TrimSpace(fmt.Sprint(username))
	var doc struct {
		ID any `bson:"_id"`
	}
	err := s.db.Collection(UserCollection).FindOne(ctx, bson.M{"username": u},
		options.FindOne().SetProjection(bson.M{"_id": 1})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return classify("check username", err)
	}
	if selfID != nil && idString(doc.ID) == idString(selfID) {
		return nil
	}
	return fmt.Errorf("%w: username already exists", ErrConflict)
}

// ApplyUserRules normalises a user document in place: role/active aliases,
// required fields and defaults on create, role whitelist and boolean
// coercion of is_active.
func ApplyUserRules(body map[string]any, isCreate bool) error {
	if v, ok := body["role"]; ok {
		if _, has := body["user_role"]; !has {
			body["user_role"] = v
		}
		delete(body, "role")
	}
	if v, ok := body["active"]; ok {
		if _, has := body["is_active"]; !has {
			body["is_active"] = v
		}
		delete(body, "active")
	}

	if isCreate {
		if strings.TrimSpace(str(body["username"])) == "" {
			return fmt.Errorf("%w: username is required", ErrInvalid)
		}
		if strings.TrimSpace(str(body["password"])) == "" {
			return fmt.Errorf("%w: password is required", ErrInvalid)
		}
		if _, ok := body["user_role"]; !ok {
			body["user_role"] = "user"
		}
		if _, ok := body["is_active"]; !ok {
			body["is_active"] = true
		}
	} else if v, ok := body["username"]; ok && strings.TrimSpace(str(v)) == "" {
		return fmt.Errorf("%w: username cannot be empty", ErrInvalid)
	}

	if v, ok := body["username"]; ok {
		body["username"] = strings.TrimSpace(str(v))
	}
	if v, ok := body["user_role"]; ok {
		role := strings.ToLower(strings.TrimSpace(str(v)))
		if role != "admin" && role != "user" {
			return fmt.Errorf("%w: user_role must be 'admin' or 'user'", ErrInvalid)
		}
		body["user_role"] = role
	}
	if v, ok := body["is_active"]; ok {
		b, err := CoerceBool(v, "is_active")
		if err != nil {
			return err
		}
		body["is_active"] = b
	}
	return nil
}

// CoerceBool accepts booleans and the usual textual spellings.
func CoerceBool(v any, field string) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		case "false", "0", "no", "n", "off":
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: %s must be boolean (true/false)", ErrInvalid, field)
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
