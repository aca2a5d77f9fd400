package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"edu-data-console/internal/mapid"
)

type LabelCount struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

type NodeSummary struct {
	ID        string `json:"id"`
	EntityID  string `json:"entityId"`
	Name      string `json:"name"`
	UpdatedAt string `json:"updatedAt"`
}

type NodePage struct {
	Label string        `json:"label"`
	Total int64         `json:"total"`
	Nodes []NodeSummary `json:"nodes"`
}

type NodeDetail struct {
	ID            string `json:"id"`
	Label         string `json:"label"`
	EntityIDKey   string `json:"entity_id_key"`
	EntityID      string `json:"entity_id"`
	EntityNameKey string `json:"entity_name_key"`
	EntityName    string `json:"entity_name"`
	Relation      string `json:"relation"`
}

// Labels counts nodes for every browsable label.
func (c *Client) Labels(ctx context.Context) ([]LabelCount, error) {
	out, err := c.read(ctx, "labels", func(tx neo4j.ManagedTransaction) (any, error) {
		counts := make([]LabelCount, 0, len(AllowedLabels))
		for _, label := range AllowedLabels {
			n, err := count(ctx, tx, label)
			if err != nil {
				return nil, err
			}
			counts = append(counts, LabelCount{ID: label, Name: label, Count: n})
		}
		return counts, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]LabelCount), nil
}

func count(ctx context.Context, tx neo4j.ManagedTransaction, label string) (int64, error) {
	res, err := tx.Run(ctx, fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS c", label), nil)
	if err != nil {
		return 0, err
	}
	rec, err := res.Single(ctx)
	if err != nil {
		return 0, err
	}
	v, _ := rec.Get("c")
	n, _ := v.(int64)
	return n, nil
}

// Nodes lists one page of nodes with the label, most recently synced first.
func (c *Client) Nodes(ctx context.Context, label string, limit, skip int) (*NodePage, error) {
	if err := checkLabel(label); err != nil {
		return nil, err
	}
	if limit < 1 || limit > MaxNodesPage || skip < 0 {
		return nil, ErrInvalidPage
	}

	out, err := c.read(ctx, "nodes "+label, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, fmt.Sprintf(`
MATCH (n:%s)
RETURN elementId(n) AS id, properties(n) AS p
ORDER BY coalesce(toString(n.updated_at), "") DESC
SKIP $skip LIMIT $limit
`, label), map[string]any{"skip": skip, "limit": limit})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}

		page := &NodePage{Label: label, Nodes: make([]NodeSummary, 0, len(records))}
		for _, rec := range records {
			id, _ := rec.Get("id")
			raw, _ := rec.Get("p")
			props, _ := raw.(map[string]any)
			page.Nodes = append(page.Nodes, NodeSummary{
				ID:        fmt.Sprint(id),
				EntityID:  propString(props, "id"),
				Name:      propString(props, "name"),
				UpdatedAt: propString(props, "updated_at"),
			})
		}
		page.Total, err = count(ctx, tx, label)
		return page, err
	})
	if err != nil {
		return nil, err
	}
	return out.(*NodePage), nil
}

type pathStep struct {
	Label string
	Name  string
}

// Node returns one node by element id with its ancestry rendered as a
// relation string.
func (c *Client) Node(ctx context.Context, elementID string) (*NodeDetail, error) {
	out, err := c.read(ctx, "node", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (n) WHERE elementId(n) = $id
OPTIONAL MATCH path = (:Class)-[:HAS_SUBJECT|HAS_TOPIC|HAS_LESSON|HAS_CHUNK|HAS_KEYWORD*0..5]->(n)
WITH n, path ORDER BY length(path) DESC LIMIT 1
RETURN labels(n) AS lbs, properties(n) AS p, elementId(n) AS id,
       CASE WHEN path IS NULL THEN [] ELSE [x IN nodes(path) | [head(labels(x)), coalesce(x.name, x.id, "")]] END AS chain
`, map[string]any{"id": elementID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, ErrNodeNotFound
		}
		rec := records[0]

		rawLabels, _ := rec.Get("lbs")
		label := pickLabel(toStrings(rawLabels))
		rawProps, _ := rec.Get("p")
		props, _ := rawProps.(map[string]any)
		id, _ := rec.Get("id")
		rawChain, _ := rec.Get("chain")

		var chain []pathStep
		if items, ok := rawChain.([]any); ok {
			for _, it := range items {
				pair := toStrings(it)
				if len(pair) == 2 {
					chain = append(chain, pathStep{Label: pair[0], Name: pair[1]})
				}
			}
		}

		children := int64(0)
		if lvl, ok := levelForLabel(label); ok && lvl < mapid.LevelKeyword {
			child := lvl + 1
			cr, err := tx.Run(ctx, fmt.Sprintf(
				"MATCH (n)-[:%s]->(ch:%s) WHERE elementId(n) = $id RETURN count(ch) AS c",
				child.Relation(), child.Label()), map[string]any{"id": elementID})
			if err != nil {
				return nil, err
			}
			crec, err := cr.Single(ctx)
			if err != nil {
				return nil, err
			}
			v, _ := crec.Get("c")
			children, _ = v.(int64)
		}

		return &NodeDetail{
			ID:            fmt.Sprint(id),
			Label:         label,
			EntityIDKey:   "id",
			EntityID:      propString(props, "id"),
			EntityNameKey: "name",
			EntityName:    propString(props, "name"),
			Relation:      formatRelation(label, chain, children),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*NodeDetail), nil
}

var labelPriority = []string{"Keyword", "Chunk", "Lesson", "Topic", "Subject", "Class"}

func pickLabel(labels []string) string {
	for _, p := range labelPriority {
		for _, l := range labels {
			if l == p {
				return p
			}
		}
	}
	if len(labels) > 0 {
		return labels[0]
	}
	return ""
}

// formatRelation renders "PATH: Class: A > Subject: B | children Topics: n".
func formatRelation(label string, chain []pathStep, children int64) string {
	lvl, ok := levelForLabel(label)
	if !ok {
		return ""
	}
	if len(chain) == 0 || chain[len(chain)-1].Label != label {
		if parent, ok := lvl.Parent(); ok {
			return fmt.Sprintf("PATH: (missing %s -> %s link)", parent.Label(), label)
		}
		return "PATH: " + label
	}

	parts := make([]string, 0, len(chain))
	for _, step := range chain {
		parts = append(parts, step.Label+": "+step.Name)
	}
	out := "PATH: " + strings.Join(parts, " > ")
	if lvl < mapid.LevelKeyword {
		out += fmt.Sprintf(" | children %ss: %d", (lvl + 1).Label(), children)
	}
	return out
}

func propString(props map[string]any, key string) string {
	if props == nil {
		return ""
	}
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func toStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, fmt.Sprint(it))
	}
	return out
}
