package importer

import (
	"context"
	"fmt"
	"sync"

	"edu-data-console/internal/docstore"
	"edu-data-console/models"
)

type memDocs struct {
	mu      sync.Mutex
	colls   map[string][]map[string]any
	nextID  int
	pingErr error
	// failOn returns an error for a given upsert, or nil.
	failOn func(collection string, key map[string]string) error
}

func newMemDocs() *memDocs {
	return &memDocs{colls: map[string][]map[string]any{}}
}

func (m *memDocs) Ping(context.Context) error { return m.pingErr }

func matches(doc map[string]any, key map[string]string) bool {
	for k, v := range key {
		if doc[k] != v {
			return false
		}
	}
	return true
}

func (m *memDocs) find(collection string, key map[string]string) map[string]any {
	for _, d := range m.colls[collection] {
		if matches(d, key) {
			return d
		}
	}
	return nil
}

func (m *memDocs) Get(_ context.Context, collection string, key map[string]string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.find(collection, key)
	if d == nil {
		return nil, nil
	}
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out, nil
}

func (m *memDocs) Upsert(_ context.Context, collection string, key map[string]string, set, setOnInsert map[string]any) (docstore.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != nil {
		if err := m.failOn(collection, key); err != nil {
			return docstore.UpsertResult{}, err
		}
	}
	for k := range set {
		if _, dup := setOnInsert[k]; dup {
			return docstore.UpsertResult{}, fmt.Errorf("conflicting update of %q", k)
		}
	}

	d := m.find(collection, key)
	inserted := d == nil
	if inserted {
		m.nextID++
		d = map[string]any{"_id": fmt.Sprintf("oid-%03d", m.nextID)}
		for k, v := range key {
			d[k] = v
		}
		for k, v := range setOnInsert {
			d[k] = v
		}
		m.colls[collection] = append(m.colls[collection], d)
	}
	for k, v := range set {
		d[k] = v
	}
	return docstore.UpsertResult{ID: d["_id"].(string), Inserted: inserted}, nil
}

func (m *memDocs) SetStatus(_ context.Context, collection string, key map[string]string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.find(collection, key)
	if d == nil {
		return docstore.ErrNotFound
	}
	d["status"] = status
	return nil
}

func (m *memDocs) doc(collection string, key map[string]string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(collection, key)
}

func (m *memDocs) count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.colls[collection])
}

type memRel struct {
	rows     map[string]map[string]map[string]any
	keywords map[string][]models.KeywordRow
	calls    int
	failOn   func(table string) error
}

func newMemRel() *memRel {
	return &memRel{rows: map[string]map[string]map[string]any{}, keywords: map[string][]models.KeywordRow{}}
}

func (r *memRel) UpsertRow(_ context.Context, table, pk string, fields map[string]any) error {
	r.calls++
	if r.failOn != nil {
		if err := r.failOn(table); err != nil {
			return err
		}
	}
	if r.rows[table] == nil {
		r.rows[table] = map[string]map[string]any{}
	}
	row := r.rows[table][pk]
	if row == nil {
		row = map[string]any{}
		r.rows[table][pk] = row
	}
	for k, v := range fields {
		row[k] = v
	}
	return nil
}

func (r *memRel) ReplaceKeywords(_ context.Context, chunkID string, kws []models.KeywordRow) error {
	r.calls++
	if r.failOn != nil {
		if err := r.failOn("keyword"); err != nil {
			return err
		}
	}
	r.keywords[chunkID] = kws
	return nil
}

type edge struct {
	from, to models.NodeRef
	rel      string
}

type memGraph struct {
	nodes  map[models.NodeRef]map[string]any
	edges  []edge
	pruned map[string][]string
	calls  int
}

func newMemGraph() *memGraph {
	return &memGraph{nodes: map[models.NodeRef]map[string]any{}, pruned: map[string][]string{}}
}

func (g *memGraph) MergeNode(_ context.Context, label, id string, props map[string]any) error {
	g.calls++
	g.nodes[models.NodeRef{Label: label, ID: id}] = props
	return nil
}

func (g *memGraph) MergeEdge(_ context.Context, from, to models.NodeRef, rel string) error {
	g.calls++
	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.to == to && e.rel == rel {
			continue
		}
		kept = append(kept, e)
	}
	g.edges = append(kept, edge{from: from, to: to, rel: rel})
	return nil
}

func (g *memGraph) PruneKeywords(_ context.Context, chunkID string, keep []string) error {
	g.calls++
	g.pruned[chunkID] = keep
	return nil
}

func (g *memGraph) hasEdge(from, to models.NodeRef, rel string) bool {
	for _, e := range g.edges {
		if e.from == from && e.to == to && e.rel == rel {
			return true
		}
	}
	return false
}

type countingRecorder struct {
	rows     map[string]int
	entities map[string]int
	mirrors  map[string]int
	states   []string
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{rows: map[string]int{}, entities: map[string]int{}, mirrors: map[string]int{}}
}

func (c *countingRecorder) RecordImportRow(outcome string) { c.rows[outcome]++ }
func (c *countingRecorder) RecordEntityUpsert(level, outcome string) {
	c.entities[level+":"+outcome]++
}
func (c *countingRecorder) RecordMirrorWrite(stage, outcome string) {
	c.mirrors[stage+":"+outcome]++
}
func (c *countingRecorder) RecordBreakerState(name, state string) {
	c.states = append(c.states, name+":"+state)
}
