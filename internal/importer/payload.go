package importer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidPayload = errors.New("invalid import payload")

// payloadGroups are the grouped keys accepted in a JSON payload, root first.
var payloadGroups = []string{"classes", "subjects", "topics", "lessons", "chunks"}

// ParseJSON accepts a JSON array of row objects, {"rows": [...]}, or an
// object grouped by level ({"classes": [...], "subjects": [...], ...}).
// A "_row" field sets the reported row number; otherwise rows count from 1.
func ParseJSON(data []byte) ([]Row, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}

	var items []map[string]any
	if data[0] == '[' {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	} else {
		var grouped map[string]json.RawMessage
		if err := json.Unmarshal(data, &grouped); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		for _, g := range append([]string{"rows"}, payloadGroups...) {
			raw, ok := grouped[g]
			if !ok {
				continue
			}
			var group []map[string]any
			if err := json.Unmarshal(raw, &group); err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPayload, g, err)
			}
			items = append(items, group...)
		}
	}

	rows := make([]Row, 0, len(items))
	for i, item := range items {
		row := Row{Index: i + 1, Values: make(map[string]string, len(item))}
		for k, v := range item {
			s := stringify(v)
			switch k {
			case "_row":
				if n, err := strconv.Atoi(s); err == nil {
					row.Index = n
				}
			case "_sheet":
				row.Sheet = s
			default:
				row.Values[k] = s
			}
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrInvalidPayload)
	}
	return rows, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, x := range t {
			if s := strings.TrimSpace(stringify(x)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ";")
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
