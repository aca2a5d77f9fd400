package relational

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm/clause"
)

const (
	MaxPageSize = 500
	pkSeparator = "::"
)

var ErrInvalidPage = errors.New("limit must be 1..500 and offset >= 0")

type RowPage struct {
	TableName string           `json:"table_name"`
	Total     int64            `json:"total"`
	Limit     int              `json:"limit"`
	Offset    int              `json:"offset"`
	Count     int              `json:"count"`
	Rows      []map[string]any `json:"rows"`
}

// Tables lists the browsable tables that exist in the database.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	m := s.db.WithContext(ctx).Migrator()
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		if m.HasTable(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Columns returns the table's column names in model order.
func (s *Store) Columns(table string) ([]string, error) {
	t, err := s.spec(table)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), t.columns...), nil
}

// Rows returns one page of the table ordered by primary key.
func (s *Store) Rows(ctx context.Context, table string, limit, offset int) (*RowPage, error) {
	t, err := s.spec(table)
	if err != nil {
		return nil, err
	}
	if limit < 1 || limit > MaxPageSize || offset < 0 {
		return nil, ErrInvalidPage
	}

	var total int64
	if err := s.db.WithContext(ctx).Table(t.name).Count(&total).Error; err != nil {
		return nil, classify("count "+table, err)
	}

	q := s.db.WithContext(ctx).Table(t.name)
	for _, col := range t.pk {
		q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: col}})
	}
	var raw []map[string]any
	if err := q.Offset(offset).Limit(limit).Find(&raw).Error; err != nil {
		return nil, classify("query "+table, err)
	}

	rows := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		rows = append(rows, t.present(r))
	}
	return &RowPage{
		TableName: t.name,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
		Count:     len(rows),
		Rows:      rows,
	}, nil
}

// Row fetches one row by its primary key string. Composite keys are the key
// parts joined with "::".
func (s *Store) Row(ctx context.Context, table, pk string) (map[string]any, error) {
	t, err := s.spec(table)
	if err != nil {
		return nil, err
	}
	parts := []string{pk}
	if len(t.pk) > 1 {
		parts = strings.Split(pk, pkSeparator)
	}
	if len(parts) != len(t.pk) {
		return nil, fmt.Errorf("%w: use %s joined by %q", ErrInvalidKey, strings.Join(t.pk, pkSeparator), pkSeparator)
	}

	where := make(map[string]any, len(parts))
	for i, col := range t.pk {
		where[col] = parts[i]
	}
	var raw []map[string]any
	if err := s.db.WithContext(ctx).Table(t.name).Where(where).Limit(1).Find(&raw).Error; err != nil {
		return nil, classify("get "+table, err)
	}
	if len(raw) == 0 {
		return nil, ErrRowNotFound
	}
	return t.present(raw[0]), nil
}

// present converts driver values to JSON-friendly ones and adds "_pk".
func (t tableSpec) present(r map[string]any) map[string]any {
	out := make(map[string]any, len(r)+1)
	for k, v := range r {
		out[k] = presentValue(k, v)
	}
	keys := make([]string, 0, len(t.pk))
	for _, col := range t.pk {
		keys = append(keys, fmt.Sprint(out[col]))
	}
	out["_pk"] = strings.Join(keys, pkSeparator)
	return out
}

func presentValue(col string, v any) any {
	var raw []byte
	switch x := v.(type) {
	case []byte:
		raw = x
	case string:
		if !jsonColumns[col] {
			return x
		}
		raw = []byte(x)
	default:
		return v
	}
	if jsonColumns[col] {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			return decoded
		}
	}
	return string(raw)
}
