package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"edu-data-console/internal/embedding"
	"edu-data-console/internal/logger"
	"edu-data-console/internal/relational"
	"edu-data-console/models"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// SearchIndex is the relational side of search; *relational.Store satisfies it.
type SearchIndex interface {
	CandidateChunkIDs(ctx context.Context, f relational.ChunkFilter) ([]string, error)
	KeywordVectors(ctx context.Context, chunkIDs []string) ([]relational.KeywordVector, error)
	ChunkPaths(ctx context.Context, chunkIDs []string) (map[string]relational.ChunkPath, error)
}

// SearchDocs is the document side; *LibraryService satisfies it.
type SearchDocs interface {
	DocsByMongoID(ctx context.Context, collection string, ids []string) (map[string]map[string]any, error)
	SavedChunkIDs(ctx context.Context, username string, chunkIDs []string) (map[string]bool, error)
}

type SearchRecorder interface {
	RecordSearch(duration float64, results int)
}

type SearchQuery struct {
	Q        string
	Category string
	Username string
	Filter   relational.ChunkFilter
	Limit    int
	Offset   int
	Debug    bool
}

type SearchResult struct {
	Total int            `json:"total"`
	Items []ChunkView    `json:"items"`
	Debug map[string]any `json:"debug,omitempty"`
}

type SearchService struct {
	index    SearchIndex
	docs     SearchDocs
	embedder embedding.Embedder
	recorder SearchRecorder
}

func NewSearchService(index SearchIndex, docs SearchDocs, embedder embedding.Embedder, recorder SearchRecorder) *SearchService {
	return &SearchService{index: index, docs: docs, embedder: embedder, recorder: recorder}
}

type scored struct {
	chunkID string
	score   float64
}

// rankChunks scores each chunk by the best cosine between any of its keyword
// vectors and any query vector. Chunks scoring <= 0 are dropped. Ties break
// on chunk ID.
func rankChunks(vectors []relational.KeywordVector, queries [][]float64) []scored {
	best := map[string]float64{}
	for _, kv := range vectors {
		top := 0.0
		for _, q := range queries {
			if c := embedding.Cosine(kv.Embedding, q); c > top {
				top = c
			}
		}
		if top <= 0 {
			continue
		}
		if top > best[kv.ChunkID] {
			best[kv.ChunkID] = top
		}
	}

	out := make([]scored, 0, len(best))
	for id, s := range best {
		out = append(out, scored{chunkID: id, score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].chunkID < out[j].chunkID
	})
	return out
}

func docString(doc map[string]any, field string) string {
	if doc == nil {
		return ""
	}
	s, _ := doc[field].(string)
	return s
}

func docStrings(doc map[string]any, field string) []string {
	out := []string{}
	if doc == nil {
		return out
	}
	switch v := doc[field].(type) {
	case []any:
		for _, x := range v {
			if s, ok := x.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, v...)
	}
	return out
}

func docVisible(doc map[string]any) bool {
	return doc == nil || models.IsVisible(docString(doc, "status"))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Search ranks chunks against the query. Only chunks present in the
// relational mirror and not hidden in the document store are counted, so
// total always matches what paging can reach.
func (s *SearchService) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	start := time.Now()
	limit, err := CheckPage(q.Limit, q.Offset, DefaultSearchLimit, MaxSearchLimit)
	if err != nil {
		return nil, err
	}
	res := &SearchResult{Items: []ChunkView{}}
	if q.Debug {
		res.Debug = map[string]any{"category": categoryOrDefault(q.Category)}
	}
	defer func() {
		if s.recorder != nil {
			s.recorder.RecordSearch(time.Since(start).Seconds(), len(res.Items))
		}
	}()

	query := strings.TrimSpace(q.Q)
	if query == "" {
		return res, nil
	}

	terms := embedding.QueryTerms(query)
	queries := make([][]float64, 0, len(terms))
	for _, t := range terms {
		vec, err := s.embedder.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed %q: %w", t, err)
		}
		queries = append(queries, vec)
	}

	candidates, err := s.index.CandidateChunkIDs(ctx, q.Filter)
	if err != nil {
		return nil, err
	}
	if candidates != nil && len(candidates) == 0 {
		return res, nil
	}

	vectors, err := s.index.KeywordVectors(ctx, candidates)
	if err != nil {
		return nil, err
	}
	ranked := rankChunks(vectors, queries)
	if q.Debug {
		res.Debug["terms"] = terms
		res.Debug["keyword_vectors"] = len(vectors)
		res.Debug["ranked_chunks_scored"] = len(ranked)
	}
	if len(ranked) == 0 {
		return res, nil
	}

	ids := make([]string, 0, len(ranked))
	for _, r := range ranked {
		ids = append(ids, r.chunkID)
	}
	paths, err := s.index.ChunkPaths(ctx, ids)
	if err != nil {
		return nil, err
	}

	chunkOIDs := make([]string, 0, len(paths))
	for _, p := range paths {
		if p.Chunk.MongoID != "" {
			chunkOIDs = append(chunkOIDs, p.Chunk.MongoID)
		}
	}
	chunkDocs, err := s.docs.DocsByMongoID(ctx, "chunks", chunkOIDs)
	if err != nil {
		return nil, err
	}

	visible := make([]scored, 0, len(ranked))
	missing, hidden := 0, 0
	for _, r := range ranked {
		p, ok := paths[r.chunkID]
		if !ok {
			missing++
			continue
		}
		if !docVisible(chunkDocs[p.Chunk.MongoID]) {
			hidden++
			continue
		}
		visible = append(visible, r)
	}
	res.Total = len(visible)
	if q.Debug {
		res.Debug["dropped_missing_relational"] = missing
		res.Debug["dropped_hidden"] = hidden
		res.Debug["ranked_chunks_visible"] = len(visible)
	}

	if q.Offset >= len(visible) {
		return res, nil
	}
	end := q.Offset + limit
	if end > len(visible) {
		end = len(visible)
	}
	page := visible[q.Offset:end]

	items, err := s.buildItems(ctx, page, paths, chunkDocs, q.Username)
	if err != nil {
		return nil, err
	}
	res.Items = items
	return res, nil
}

func (s *SearchService) buildItems(ctx context.Context, page []scored, paths map[string]relational.ChunkPath, chunkDocs map[string]map[string]any, username string) ([]ChunkView, error) {
	var lessonOIDs, topicOIDs, subjectOIDs []string
	pageIDs := make([]string, 0, len(page))
	for _, r := range page {
		p := paths[r.chunkID]
		pageIDs = append(pageIDs, r.chunkID)
		lessonOIDs = append(lessonOIDs, p.Lesson.MongoID)
		topicOIDs = append(topicOIDs, p.Topic.MongoID)
		subjectOIDs = append(subjectOIDs, p.Subject.MongoID)
	}

	lessons, err := s.docs.DocsByMongoID(ctx, "lessons", lessonOIDs)
	if err != nil {
		return nil, err
	}
	topics, err := s.docs.DocsByMongoID(ctx, "topics", topicOIDs)
	if err != nil {
		return nil, err
	}
	subjects, err := s.docs.DocsByMongoID(ctx, "subjects", subjectOIDs)
	if err != nil {
		return nil, err
	}

	saved := map[string]bool{}
	if username != "" {
		if saved, err = s.docs.SavedChunkIDs(ctx, username, pageIDs); err != nil {
			logger.Warn("saved lookup failed during search", "username", username, "error", err)
			saved = map[string]bool{}
		}
	}

	// parent URLs are only exposed while the parent document is visible
	urlOf := func(docs map[string]map[string]any, oid, field string) string {
		doc, ok := docs[oid]
		if !ok || !docVisible(doc) {
			return ""
		}
		return docString(doc, field)
	}

	items := make([]ChunkView, 0, len(page))
	for _, r := range page {
		p := paths[r.chunkID]
		doc := chunkDocs[p.Chunk.MongoID]
		score := r.score

		v := ChunkView{
			Type:             "chunk",
			ID:               r.chunkID,
			Name:             firstNonEmpty(docString(doc, "chunkName"), p.Chunk.Name, r.chunkID),
			Score:            &score,
			ChunkID:          r.chunkID,
			ChunkName:        firstNonEmpty(docString(doc, "chunkName"), p.Chunk.Name),
			ChunkType:        firstNonEmpty(docString(doc, "chunkType"), p.ChunkType),
			ChunkURL:         docString(doc, "chunkUrl"),
			ChunkDescription: docString(doc, "chunkDescription"),
			Keywords:         docStrings(doc, "keywords"),
			IsSaved:          saved[r.chunkID],
			Class:            ClassRef{ClassID: p.Class.ID, ClassName: p.Class.Name},
			Subject: SubjectRef{
				SubjectID:   p.Subject.ID,
				SubjectName: p.Subject.Name,
				SubjectURL:  urlOf(subjects, p.Subject.MongoID, "subjectUrl"),
			},
			Topic: TopicRef{
				TopicID:   p.Topic.ID,
				TopicName: p.Topic.Name,
				TopicURL:  urlOf(topics, p.Topic.MongoID, "topicUrl"),
			},
			Lesson: LessonRef{
				LessonID:   p.Lesson.ID,
				LessonName: p.Lesson.Name,
				LessonURL:  urlOf(lessons, p.Lesson.MongoID, "lessonUrl"),
			},
		}
		items = append(items, v)
	}
	return items, nil
}
