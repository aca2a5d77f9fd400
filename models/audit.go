package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"edu-data-console/internal/logger"
)

const AuditCollection = "audit_logs"

// AuditEvent is one insert-only admin audit entry. Entries of one actor form
// a hash chain.
type AuditEvent struct {
	ID           string         `bson:"_id,omitempty" json:"id"`
	Timestamp    time.Time      `bson:"timestamp" json:"timestamp"`
	Actor        string         `bson:"actor" json:"actor"`
	Action       string         `bson:"action" json:"action"`     // CREATE, UPDATE, DELETE
	Resource     string         `bson:"resource" json:"resource"` // minio, mongo, import, postgre, neo
	ResourceID   string         `bson:"resource_id" json:"resource_id"`
	Method       string         `bson:"method" json:"method"`
	Path         string         `bson:"path" json:"path"`
	Status       int            `bson:"status" json:"status"`
	IPAddress    string         `bson:"ip_address" json:"ip_address"`
	UserAgent    string         `bson:"user_agent" json:"user_agent"`
	RequestID    string         `bson:"request_id" json:"request_id"`
	Success      bool           `bson:"success" json:"success"`
	ErrorMessage string         `bson:"error_message,omitempty" json:"error_message,omitempty"`
	Changes      map[string]any `bson:"changes,omitempty" json:"changes,omitempty"`
	PreviousHash string         `bson:"previous_hash" json:"previous_hash"`
	CurrentHash  string         `bson:"current_hash" json:"current_hash"`
}

// ComputeHash hashes the identifying fields plus the previous hash.
func (e *AuditEvent) ComputeHash() string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d|%t|%s",
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Actor,
		e.Action,
		e.Resource,
		e.ResourceID,
		e.Path,
		e.Status,
		e.Success,
		e.PreviousHash,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// VerifyEvents checks a chronologically ordered chain. It returns the ID of
// the first broken entry, or "" when the chain is intact.
func VerifyEvents(events []AuditEvent) (bool, string) {
	previous := ""
	for i := range events {
		e := &events[i]
		if i > 0 && e.PreviousHash != previous {
			return false, e.ID
		}
		if e.CurrentHash != e.ComputeHash() {
			return false, e.ID
		}
		previous = e.CurrentHash
	}
	return true, ""
}

// AuditRecorder receives a count per stored event.
type AuditRecorder interface {
	RecordAuditEvent(action, resource string)
}

// AuditLogger appends audit events to Mongo, chaining them per actor.
type AuditLogger struct {
	col        *mongo.Collection
	recorder   AuditRecorder
	lastHashMu sync.Mutex
	lastHashes map[string]string
	now        func() time.Time
}

func NewAuditLogger(db *mongo.Database, recorder AuditRecorder) *AuditLogger {
	return &AuditLogger{
		col:        db.Collection(AuditCollection),
		recorder:   recorder,
		lastHashes: make(map[string]string),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// lastHash returns the chain head for actor, loading it from the collection
// the first time an actor is seen by this process.
func (al *AuditLogger) lastHash(ctx context.Context, actor string) (string, error) {
	if h, ok := al.lastHashes[actor]; ok {
		return h, nil
	}
	var last AuditEvent
	err := al.col.FindOne(ctx, bson.M{"actor": actor},
		options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})).Decode(&last)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return last.CurrentHash, nil
}

func (al *AuditLogger) Log(ctx context.Context, event *AuditEvent) error {
	al.lastHashMu.Lock()
	defer al.lastHashMu.Unlock()

	prev, err := al.lastHash(ctx, event.Actor)
	if err != nil {
		return fmt.Errorf("load audit chain head: %w", err)
	}
	event.PreviousHash = prev
	event.Timestamp = al.now()
	event.ID = uuid.NewString()
	event.CurrentHash = event.ComputeHash()

	if _, err := al.col.InsertOne(ctx, event); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	al.lastHashes[event.Actor] = event.CurrentHash

	if al.recorder != nil {
		al.recorder.RecordAuditEvent(event.Action, event.Resource)
	}
	logger.Debug("audit event logged", "actor", event.Actor, "action", event.Action, "resource", event.Resource, "resource_id", event.ResourceID)
	return nil
}

// LogAsync logs on a background goroutine so requests are not delayed.
func (al *AuditLogger) LogAsync(event *AuditEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := al.Log(ctx, event); err != nil {
			logger.Error("async audit logging failed", "actor", event.Actor, "path", event.Path, "error", err)
		}
	}()
}

// ChainReport is the result of verifying one actor's chain.
type ChainReport struct {
	Actor    string `json:"actor"`
	Valid    bool   `json:"valid"`
	Events   int    `json:"events"`
	BrokenAt string `json:"broken_at,omitempty"`
}

func (al *AuditLogger) VerifyChain(ctx context.Context, actor string) (*ChainReport, error) {
	cursor, err := al.col.Find(ctx,
		bson.M{"actor": actor},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []AuditEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}

	ok, broken := VerifyEvents(events)
	if !ok {
		logger.Warn("audit chain broken", "actor", actor, "event_id", broken)
	}
	return &ChainReport{Actor: actor, Valid: ok, Events: len(events), BrokenAt: broken}, nil
}

// AuditFilter narrows QueryAuditLogs. Zero fields are ignored.
type AuditFilter struct {
	Actor    string
	Action   string
	Resource string
	From, To time.Time
}

func (f AuditFilter) bson() bson.M {
	filter := bson.M{}
	if f.Actor != "" {
		filter["actor"] = f.Actor
	}
	if f.Action != "" {
		filter["action"] = f.Action
	}
	if f.Resource != "" {
		filter["resource"] = f.Resource
	}
	ts := bson.M{}
	if !f.From.IsZero() {
		ts["$gte"] = f.From
	}
	if !f.To.IsZero() {
		ts["$lte"] = f.To
	}
	if len(ts) > 0 {
		filter["timestamp"] = ts
	}
	return filter
}

// QueryAuditLogs returns one page of events, newest first, and the total.
func (al *AuditLogger) QueryAuditLogs(ctx context.Context, f AuditFilter, page, pageSize int) ([]AuditEvent, int64, error) {
	filter := f.bson()
	total, err := al.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	skip := (page - 1) * pageSize
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(pageSize))

	cursor, err := al.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	events := []AuditEvent{}
	if err := cursor.All(ctx, &events); err != nil {
		return nil, 0, err
	}
	return events, total, nil
}
