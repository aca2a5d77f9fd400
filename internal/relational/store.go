// Package relational is the Postgres mirror of the catalog hierarchy. It
// receives derived rows from the import engine and serves the read-only table
// browser, login and search lookups.
package relational

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"edu-data-console/internal/logger"
	"edu-data-console/models"
)

var (
	ErrTableNotAllowed    = errors.New("table not allowed")
	ErrRowNotFound        = errors.New("row not found")
	ErrInvalidKey         = errors.New("invalid primary key")
	ErrUnknownColumn      = errors.New("unknown column")
	ErrMissingCredentials = errors.New("username/password is required")
	ErrBadCredentials     = errors.New("invalid username or password")
	ErrInactive           = errors.New("account is disabled")
)

// UnavailableError marks failures caused by the database being unreachable.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("relational store unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error     { return e.Err }
func (e *UnavailableError) Unavailable() bool { return true }

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(strings.ToLower(err.Error()), "connection refused") {
		return &UnavailableError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

type tableSpec struct {
	name    string
	model   any
	columns []string
	pk      []string
}

// Store wraps the gorm handle for the mirror tables.
type Store struct {
	db     *gorm.DB
	tables map[string]tableSpec
}

// New parses the table models against db. It fails only when a model cannot
// be parsed, which is a programming error.
func New(db *gorm.DB) (*Store, error) {
	s := &Store{db: db, tables: make(map[string]tableSpec, len(tableModels))}
	for name, model := range tableModels {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			return nil, fmt.Errorf("parse model %s: %w", name, err)
		}
		s.tables[name] = tableSpec{
			name:    name,
			model:   model,
			columns: append([]string(nil), stmt.Schema.DBNames...),
			pk:      append([]string(nil), stmt.Schema.PrimaryFieldDBNames...),
		}
	}
	return s, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return classify("ping", err)
	}
	return classify("ping", sqlDB.PingContext(ctx))
}

// Migrate creates or updates the mirror tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return classify("migrate", err)
	}
	logger.Info("relational schema migrated", "tables", len(s.tables))
	return nil
}

func (s *Store) spec(table string) (tableSpec, error) {
	t, ok := s.tables[strings.TrimSpace(table)]
	if !ok {
		return tableSpec{}, fmt.Errorf("%w: %q", ErrTableNotAllowed, table)
	}
	return t, nil
}

func (t tableSpec) hasColumn(col string) bool {
	for _, c := range t.columns {
		if c == col {
			return true
		}
	}
	return false
}

// UpsertRow inserts the row identified by primaryKey or updates the given
// fields on conflict. Only single-column keys are supported.
func (s *Store) UpsertRow(ctx context.Context, table, primaryKey string, fields map[string]any) error {
	t, err := s.spec(table)
	if err != nil {
		return err
	}
	if len(t.pk) != 1 || strings.TrimSpace(primaryKey) == "" {
		return fmt.Errorf("%w: %s", ErrInvalidKey, table)
	}
	pkCol := t.pk[0]

	values := make(map[string]any, len(fields)+1)
	updates := make([]string, 0, len(fields))
	for col, v := range fields {
		if col == pkCol {
			continue
		}
		if !t.hasColumn(col) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, col)
		}
		values[col] = v
		updates = append(updates, col)
	}
	values[pkCol] = primaryKey
	sort.Strings(updates)

	onConflict := clause.OnConflict{Columns: []clause.Column{{Name: pkCol}}}
	if len(updates) == 0 {
		onConflict.DoNothing = true
	} else {
		onConflict.DoUpdates = clause.AssignmentColumns(updates)
	}

	err = s.db.WithContext(ctx).Table(t.name).Clauses(onConflict).Create(values).Error
	if err != nil {
		return classify("upsert "+table, err)
	}
	return nil
}

// ReplaceKeywords swaps the chunk's keyword rows for the given set in one
// transaction.
func (s *Store) ReplaceKeywords(ctx context.Context, chunkID string, keywords []models.KeywordRow) error {
	if strings.TrimSpace(chunkID) == "" {
		return fmt.Errorf("%w: keyword chunk", ErrInvalidKey)
	}
	rows := make([]Keyword, 0, len(keywords))
	for _, kw := range keywords {
		row := Keyword{
			KeywordID:   kw.ID,
			KeywordName: kw.Name,
			ChunkID:     chunkID,
			MongoID:     optional(kw.MongoID),
		}
		if len(kw.Embedding) > 0 {
			raw, err := json.Marshal(kw.Embedding)
			if err != nil {
				return fmt.Errorf("encode embedding %s: %w", kw.ID, err)
			}
			row.KeywordEmbedding = datatypes.JSON(raw)
		}
		rows = append(rows, row)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chunk_id = ?", chunkID).Delete(&Keyword{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "keyword_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"keyword_name", "keyword_embedding", "mongo_id", "chunk_id"}),
		}).Create(&rows).Error
	})
	if err != nil {
		return classify("replace keywords "+chunkID, err)
	}
	return nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
