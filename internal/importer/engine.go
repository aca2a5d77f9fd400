// Package importer upserts catalog rows into the document store and mirrors
// each written entity into the relational and graph stores.
package importer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"edu-data-console/internal/docstore"
	"edu-data-console/internal/embedding"
	"edu-data-console/internal/logger"
	"edu-data-console/internal/mapid"
	"edu-data-console/models"
)

// ErrDocumentStoreUnavailable aborts a run: nothing can be written without
// the document store.
var ErrDocumentStoreUnavailable = errors.New("document store unavailable")

var errMirrorNotConfigured = errors.New("mirror not configured")

// KeywordCollection holds one document per (keywordID, chunkID).
const KeywordCollection = "keywords"

type DocumentStore interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, collection string, key map[string]string) (map[string]any, error)
	Upsert(ctx context.Context, collection string, key map[string]string, set, setOnInsert map[string]any) (docstore.UpsertResult, error)
	SetStatus(ctx context.Context, collection string, key map[string]string, status string) error
}

type RelationalMirror interface {
	UpsertRow(ctx context.Context, table, primaryKey string, fields map[string]any) error
	ReplaceKeywords(ctx context.Context, chunkID string, keywords []models.KeywordRow) error
}

type GraphMirror interface {
	MergeNode(ctx context.Context, label, id string, props map[string]any) error
	MergeEdge(ctx context.Context, from, to models.NodeRef, relation string) error
}

// KeywordPruner is implemented by graph mirrors that can drop keywords a
// chunk no longer carries.
type KeywordPruner interface {
	PruneKeywords(ctx context.Context, chunkID string, keep []string) error
}

// Recorder receives per-row and per-write outcomes, e.g. for metrics.
type Recorder interface {
	RecordImportRow(outcome string)
	RecordEntityUpsert(level, outcome string)
	RecordMirrorWrite(stage, outcome string)
}

// Row is one input record. Index is the source row number used in errors.
type Row struct {
	Sheet    string
	Index    int
	Category string
	Values   map[string]string
}

// Options select propagation, the fallback category and the acting user.
type Options struct {
	Sync     bool
	Category string
	Actor    string
}

type Engine struct {
	docs     DocumentStore
	rel      RelationalMirror
	graph    GraphMirror
	embedder embedding.Embedder
	recorder Recorder
	now      func() time.Time
}

type Option func(*Engine)

func WithEmbedder(e embedding.Embedder) Option { return func(en *Engine) { en.embedder = e } }
func WithRecorder(r Recorder) Option           { return func(en *Engine) { en.recorder = r } }
func WithClock(now func() time.Time) Option    { return func(en *Engine) { en.now = now } }

// New builds an engine. rel and graph may be nil; with sync enabled their
// writes are then reported as failed.
func New(docs DocumentStore, rel RelationalMirror, graph GraphMirror, opts ...Option) *Engine {
	e := &Engine{docs: docs, rel: rel, graph: graph, now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(e)
	}
	return e
}

// written is an entity committed to the document store during a row.
type written struct {
	level    mapid.Level
	id       string
	parentID string
	mongoID  string
	name     string
	kind     string
	category models.Category
	keywords []keywordDoc
}

type keywordDoc struct {
	id, name, mongoID string
}

type rowCtx struct {
	row      Row
	level    mapid.Level
	mapID    string
	category models.Category
	actor    string
}

func (rc rowCtx) fail(stage string, l mapid.Level, mapID string, err error) RowError {
	return RowError{
		Row:       rc.row.Index,
		Sheet:     rc.row.Sheet,
		Level:     l.String(),
		MapID:     mapID,
		Stage:     stage,
		Message:   err.Error(),
		Retryable: retryable(err),
	}
}

// Run processes rows in order. Row failures are recorded in the report and
// never stop the batch; only loss of the document store or ctx cancellation
// ends the run early, returning the partial report with the error.
func (e *Engine) Run(ctx context.Context, rows []Row, opts Options) (*Report, error) {
	ctx, span := otel.Tracer("edu-data-console/importer").Start(ctx, "import.run")
	defer span.End()
	span.SetAttributes(attribute.Int("import.rows", len(rows)), attribute.Bool("import.sync", opts.Sync))

	report := NewReport()
	actor := strings.TrimSpace(opts.Actor)
	if actor == "" {
		actor = "system"
	}
	fallback := models.NormalizeCategory(opts.Category)
	log := logger.With("component", "importer", "actor", actor)

	if err := e.docs.Ping(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "document store unavailable")
		return report, fmt.Errorf("%w: %v", ErrDocumentStoreUnavailable, err)
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Processed++

		abort := e.processRow(ctx, report, row, fallback, actor, opts.Sync)
		if abort != nil {
			log.Error("import aborted", "row", row.Index, "error", abort)
			span.RecordError(abort)
			span.SetStatus(codes.Error, "document store unavailable")
			return report, fmt.Errorf("%w: %v", ErrDocumentStoreUnavailable, abort)
		}
	}

	span.SetAttributes(attribute.Int("import.errors", len(report.Errors)))
	log.Info("import finished",
		"processed", report.Processed,
		"errors", len(report.Errors),
		"sync_ok", report.Sync.OK,
		"sync_failed", report.Sync.Failed)
	return report, nil
}

// processRow returns a non-nil error only when the document store became
// unreachable.
func (e *Engine) processRow(ctx context.Context, report *Report, row Row, fallback models.Category, actor string, sync bool) error {
	errsBefore := len(report.Errors)
	defer func() {
		outcome := "ok"
		if len(report.Errors) > errsBefore {
			outcome = "error"
		}
		e.recordRow(outcome)
	}()

	level, mapID, ok := deepest(row.Values)
	rc := rowCtx{row: row, level: level, mapID: mapID, actor: actor}
	if !ok {
		report.add(RowError{
			Row:     row.Index,
			Sheet:   row.Sheet,
			Stage:   StageValidate,
			Message: "row has no class_map, subject_map, topic_map, lesson_map or chunk_map",
		})
		return nil
	}
	rc.category = rowCategory(row, level, fallback)

	chain, err := e.resolveChain(row.Values, level, mapID)
	if err != nil {
		report.add(rc.fail(StageValidate, level, mapID, err))
		return nil
	}

	var entities []written
	for l := mapid.LevelClass; l <= level; l++ {
		w, err := e.writeEntity(ctx, report, rc, chain, l)
		if err != nil {
			report.add(rc.fail(StageDocument, l, chain.ID(l), err))
			e.recordEntity(l, "error")
			if isUnavailable(err) {
				e.mirrorAll(ctx, report, rc, entities, sync)
				return err
			}
			break
		}
		entities = append(entities, w)
	}

	e.mirrorAll(ctx, report, rc, entities, sync)
	return nil
}

// resolveChain derives the ancestry from the deepest map and checks any
// explicit ancestor columns against it. class_map may override the derived
// class.
func (e *Engine) resolveChain(values map[string]string, level mapid.Level, mapID string) (mapid.Chain, error) {
	classOverride := ""
	if level > mapid.LevelClass {
		classOverride = value(values, mapAliases[mapid.LevelClass]...)
	}

	chain, err := mapid.Derive(level, mapID)
	if err != nil {
		if !(errors.Is(err, mapid.ErrNoClass) && classOverride != "") {
			return mapid.Chain{}, err
		}
	}
	if classOverride != "" {
		chain.Class = classOverride
	}

	for l := mapid.LevelSubject; l < level; l++ {
		given := value(values, mapAliases[l]...)
		if given != "" && !strings.EqualFold(given, chain.ID(l)) {
			return mapid.Chain{}, fmt.Errorf("%w: %s %q does not match %q derived from %q",
				mapid.ErrInvalidMap, mapAliases[l][0], given, chain.ID(l), mapID)
		}
	}
	return chain, nil
}

func (e *Engine) writeEntity(ctx context.Context, report *Report, rc rowCtx, chain mapid.Chain, l mapid.Level) (written, error) {
	id := chain.ID(l)
	parentID := ""
	if p, ok := l.Parent(); ok {
		parentID = chain.ID(p)
	}
	a := levelAttrs(rc.row.Values, l, rc.level)
	key := entityKey(l, id, rc.category)

	existing, err := e.docs.Get(ctx, l.Collection(), key)
	if err != nil {
		return written{}, err
	}

	now := e.now()
	set := map[string]any{"updatedAt": now}
	onInsert := map[string]any{"createdAt": now, "createdBy": rc.actor}
	if p, ok := l.Parent(); ok {
		set[p.IDField()] = parentID
	}
	if _, keyed := key[l.CategoryField()]; !keyed {
		onInsert[l.CategoryField()] = string(rc.category)
	}

	name := mergeField(set, onInsert, existing, l.NameField(), a.name, id)
	kind := ""
	switch l {
	case mapid.LevelSubject:
		mergeField(set, onInsert, existing, "subjectTitle", a.title, "")
	case mapid.LevelLesson:
		kind = mergeField(set, onInsert, existing, "lessonType", a.kind, "")
	case mapid.LevelChunk:
		kind = mergeField(set, onInsert, existing, "chunkType", a.kind, "")
		mergeField(set, onInsert, existing, "chunkDescription", a.description, "")
	}
	if _, ok := urlAliases[l]; ok {
		mergeField(set, onInsert, existing, l.String()+"Url", a.url, "")
	}
	if a.status != "" {
		set["status"] = a.status
	} else {
		onInsert["status"] = models.StatusActive
	}

	var keywords []string
	if l == mapid.LevelChunk {
		keywords = a.keywords
		switch {
		case len(keywords) > 0:
			set["keywords"] = keywords
		case existing != nil:
			keywords = toStrings(existing["keywords"])
		default:
			onInsert["keywords"] = []string{}
		}
	}

	res, err := e.docs.Upsert(ctx, l.Collection(), key, set, onInsert)
	if err != nil {
		return written{}, err
	}
	c := report.Counts(l)
	if res.Inserted {
		c.Inserted++
		e.recordEntity(l, "inserted")
	} else {
		c.Updated++
		e.recordEntity(l, "updated")
	}

	w := written{
		level:    l,
		id:       id,
		parentID: parentID,
		mongoID:  res.ID,
		name:     name,
		kind:     kind,
		category: rc.category,
	}
	if l == mapid.LevelChunk {
		w.keywords, err = e.writeKeywords(ctx, report, rc, id, keywords, len(a.keywords) > 0)
		if err != nil {
			return w, err
		}
	}
	return w, nil
}

// entityKey is the natural key of one level. A class is shared by every
// category, so it is keyed on its ID alone.
func entityKey(l mapid.Level, id string, category models.Category) map[string]string {
	if l == mapid.LevelClass {
		return map[string]string{l.IDField(): id}
	}
	return map[string]string{l.IDField(): id, l.CategoryField(): string(category)}
}

// writeKeywords upserts keyword documents when the row supplied keywords and
// returns the full keyword set for mirroring. Stored keywords are reloaded so
// the mirrors keep their document pointer; one without a record is left out.
func (e *Engine) writeKeywords(ctx context.Context, report *Report, rc rowCtx, chunkID string, keywords []string, incoming bool) ([]keywordDoc, error) {
	out := make([]keywordDoc, 0, len(keywords))
	for _, kw := range keywords {
		doc := keywordDoc{id: mapid.KeywordID(chunkID, kw), name: kw}
		key := map[string]string{"keywordID": doc.id, "chunkID": chunkID}
		if !incoming {
			stored, err := e.docs.Get(ctx, KeywordCollection, key)
			if err != nil {
				return out, err
			}
			oid, _ := stored["_id"].(string)
			if oid == "" {
				logger.Warn("stored keyword has no document, not mirrored", "chunk_id", chunkID, "keyword", kw)
				continue
			}
			doc.mongoID = oid
		} else {
			now := e.now()
			res, err := e.docs.Upsert(ctx, KeywordCollection, key,
				map[string]any{"keywordName": kw, "keywordCategory": string(rc.category), "updatedAt": now},
				map[string]any{"createdAt": now, "createdBy": rc.actor},
			)
			if err != nil {
				e.recordEntity(mapid.LevelKeyword, "error")
				return out, err
			}
			doc.mongoID = res.ID
			if res.Inserted {
				report.Keywords.Inserted++
				e.recordEntity(mapid.LevelKeyword, "inserted")
			} else {
				report.Keywords.Updated++
				e.recordEntity(mapid.LevelKeyword, "updated")
			}
		}
		out = append(out, doc)
	}
	return out, nil
}

// mergeField applies the rule that an empty incoming value never overwrites a
// stored one. It returns the value the document ends up with.
func mergeField(set, onInsert, existing map[string]any, field, incoming, def string) string {
	if incoming != "" {
		set[field] = incoming
		return incoming
	}
	if existing == nil {
		onInsert[field] = def
		return def
	}
	if cur, ok := existing[field].(string); ok && strings.TrimSpace(cur) != "" {
		return cur
	}
	if def != "" {
		set[field] = def
	}
	return def
}

func (e *Engine) mirrorAll(ctx context.Context, report *Report, rc rowCtx, entities []written, sync bool) {
	for _, w := range entities {
		if !sync {
			report.Sync.Skipped += 2
			if w.level == mapid.LevelChunk {
				report.Sync.Skipped += 2
			}
			continue
		}
		e.mirrorRelational(ctx, report, rc, w)
		e.mirrorGraph(ctx, report, rc, w)
	}
}

func (e *Engine) syncResult(report *Report, rc rowCtx, stage string, l mapid.Level, id string, err error) bool {
	if err == nil {
		report.Sync.OK++
		e.recordMirror(stage, "ok")
		return true
	}
	report.Sync.Failed++
	e.recordMirror(stage, "error")
	report.add(rc.fail(stage, l, id, err))
	logger.Warn("mirror write failed", "stage", stage, "level", l.String(), "map_id", id, "row", rc.row.Index, "error", err)
	return false
}

func relationalFields(w written) map[string]any {
	f := map[string]any{w.level.Table() + "_name": w.name}
	if w.mongoID != "" {
		f["mongo_id"] = w.mongoID
	}
	if p, ok := w.level.Parent(); ok {
		f[p.Table()+"_id"] = w.parentID
	}
	if w.level == mapid.LevelLesson || w.level == mapid.LevelChunk {
		if w.kind != "" {
			f[w.level.Table()+"_type"] = w.kind
		}
	}
	return f
}

func (e *Engine) mirrorRelational(ctx context.Context, report *Report, rc rowCtx, w written) {
	err := errMirrorNotConfigured
	if e.rel != nil {
		err = e.rel.UpsertRow(ctx, w.level.Table(), w.id, relationalFields(w))
	}
	ok := e.syncResult(report, rc, StageRelational, w.level, w.id, err)
	if w.level != mapid.LevelChunk {
		return
	}
	if !ok {
		if !errors.Is(err, errMirrorNotConfigured) {
			e.hideChunk(ctx, rc, w)
		}
		report.Sync.Failed++
		e.recordMirror(StageRelational, "error")
		return
	}

	rows := make([]models.KeywordRow, 0, len(w.keywords))
	for _, kw := range w.keywords {
		kr := models.KeywordRow{ID: kw.id, Name: kw.name, MongoID: kw.mongoID}
		if e.embedder != nil {
			if vec, err := e.embedder.Embed(ctx, kw.name); err == nil {
				kr.Embedding = vec
			}
		}
		rows = append(rows, kr)
	}
	e.syncResult(report, rc, StageRelational, mapid.LevelKeyword, w.id, e.rel.ReplaceKeywords(ctx, w.id, rows))
}

// hideChunk soft-hides a chunk the relational mirror could not accept so
// search never returns a chunk it cannot resolve.
func (e *Engine) hideChunk(ctx context.Context, rc rowCtx, w written) {
	if err := e.docs.SetStatus(ctx, w.level.Collection(), entityKey(w.level, w.id, w.category), models.StatusHidden); err != nil {
		logger.Error("failed to hide chunk after relational sync failure", "map_id", w.id, "row", rc.row.Index, "error", err)
	}
}

func (e *Engine) mirrorGraph(ctx context.Context, report *Report, rc rowCtx, w written) {
	if e.graph == nil {
		e.syncResult(report, rc, StageGraph, w.level, w.id, errMirrorNotConfigured)
		if w.level == mapid.LevelChunk {
			e.syncResult(report, rc, StageGraph, mapid.LevelKeyword, w.id, errMirrorNotConfigured)
		}
		return
	}

	ref := models.NodeRef{Label: w.level.Label(), ID: w.id}
	props := map[string]any{"name": w.name, "mongo_id": w.mongoID, "category": string(w.category)}
	if w.kind != "" {
		props["type"] = w.kind
	}
	err := e.graph.MergeNode(ctx, ref.Label, ref.ID, props)
	if err == nil {
		if p, ok := w.level.Parent(); ok {
			err = e.graph.MergeEdge(ctx, models.NodeRef{Label: p.Label(), ID: w.parentID}, ref, w.level.Relation())
		}
	}
	e.syncResult(report, rc, StageGraph, w.level, w.id, err)

	if w.level == mapid.LevelChunk {
		e.syncResult(report, rc, StageGraph, mapid.LevelKeyword, w.id, e.mirrorKeywordsGraph(ctx, ref, w.keywords))
	}
}

func (e *Engine) mirrorKeywordsGraph(ctx context.Context, chunk models.NodeRef, keywords []keywordDoc) error {
	keep := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		props := map[string]any{"name": kw.name, "chunk_id": chunk.ID, "mongo_id": kw.mongoID}
		if err := e.graph.MergeNode(ctx, mapid.LevelKeyword.Label(), kw.id, props); err != nil {
			return err
		}
		kwRef := models.NodeRef{Label: mapid.LevelKeyword.Label(), ID: kw.id}
		if err := e.graph.MergeEdge(ctx, chunk, kwRef, mapid.LevelKeyword.Relation()); err != nil {
			return err
		}
		keep = append(keep, kw.id)
	}
	if p, ok := e.graph.(KeywordPruner); ok {
		return p.PruneKeywords(ctx, chunk.ID, keep)
	}
	return nil
}

func (e *Engine) recordRow(outcome string) {
	if e.recorder != nil {
		e.recorder.RecordImportRow(outcome)
	}
}

func (e *Engine) recordEntity(l mapid.Level, outcome string) {
	if e.recorder != nil {
		e.recorder.RecordEntityUpsert(l.String(), outcome)
	}
}

func (e *Engine) recordMirror(stage, outcome string) {
	if e.recorder != nil {
		e.recorder.RecordMirrorWrite(stage, outcome)
	}
}

func isUnavailable(err error) bool {
	var u interface{ Unavailable() bool }
	return errors.As(err, &u) && u.Unavailable()
}

// retryable separates infrastructure failures from data errors.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if isUnavailable(err) || errors.Is(err, errMirrorNotConfigured) ||
		errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return uniqueStrings(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return uniqueStrings(out)
	default:
		return nil
	}
}
