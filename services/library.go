package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"edu-data-console/internal/docstore"
	"edu-data-console/models"
)

var (
	ErrChunkNotFound = errors.New("chunk not found")
	ErrInvalidPage   = errors.New("invalid paging parameters")
)

const (
	SavedCollection   = "user_saved_chunks"
	KeywordCollection = "keywords"

	DefaultChunkLimit = 50
	MaxChunkLimit     = 500
	MaxSavedLimit     = 200
)

// Page is the {total, items} envelope every listing returns.
type Page struct {
	Total int64 `json:"total"`
	Items any   `json:"items"`
}

func emptyPage() *Page { return &Page{Total: 0, Items: []any{}} }

type ClassRef struct {
	ClassID   string `json:"classID"`
	ClassName string `json:"className"`
}

type SubjectRef struct {
	SubjectID   string `json:"subjectID"`
	SubjectName string `json:"subjectName"`
	SubjectURL  string `json:"subjectUrl"`
}

type TopicRef struct {
	TopicID   string `json:"topicID"`
	TopicName string `json:"topicName"`
	TopicURL  string `json:"topicUrl"`
}

type LessonRef struct {
	LessonID   string `json:"lessonID"`
	LessonName string `json:"lessonName"`
	LessonType string `json:"lessonType,omitempty"`
	LessonURL  string `json:"lessonUrl"`
}

// ChunkView is a chunk as shown to end users, with its ancestors inlined.
// Search results additionally carry type/id/name/score.
type ChunkView struct {
	Type  string   `json:"type,omitempty"`
	ID    string   `json:"id,omitempty"`
	Name  string   `json:"name,omitempty"`
	Score *float64 `json:"score,omitempty"`

	ChunkID          string     `json:"chunkID"`
	ChunkName        string     `json:"chunkName"`
	ChunkType        string     `json:"chunkType"`
	ChunkURL         string     `json:"chunkUrl"`
	ChunkDescription string     `json:"chunkDescription"`
	Keywords         []string   `json:"keywords"`
	IsSaved          bool       `json:"isSaved"`
	Class            ClassRef   `json:"class"`
	Subject          SubjectRef `json:"subject"`
	Topic            TopicRef   `json:"topic"`
	Lesson           LessonRef  `json:"lesson"`
}

type ChunkDetail struct {
	ChunkView
	KeywordItems []models.Keyword `json:"keywordItems"`
	Related      []ChunkView      `json:"related"`
}

// ChunkQuery selects one page of chunks under a lesson.
type ChunkQuery struct {
	LessonID string
	Category string
	Username string
	Limit    int
	Offset   int
	Sort     string
}

// LibraryService serves the read-mostly end-user view of the catalog.
type LibraryService struct {
	db  *mongo.Database
	now func() time.Time
}

func NewLibraryService(db *mongo.Database) *LibraryService {
	return &LibraryService{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func categoryOrDefault(category string) string {
	if strings.TrimSpace(category) == "" {
		return string(models.CategoryDocument)
	}
	return strings.TrimSpace(category)
}

// visibleFilter matches active documents of the category (any spelling).
func visibleFilter(categoryField, category string, extra bson.M) bson.M {
	f := bson.M{
		"status":      bson.M{"$in": models.ActiveStatuses},
		categoryField: bson.M{"$in": models.CategoryVariants(categoryOrDefault(category))},
	}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

func findAll[T any](ctx context.Context, col *mongo.Collection, filter bson.M, opts ...*options.FindOptions) ([]T, error) {
	cursor, err := col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", col.Name(), err)
	}
	defer cursor.Close(ctx)

	out := []T{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", col.Name(), err)
	}
	return out, nil
}

// byName sorts by display name, falling back to the ID for unnamed entries.
func byName[T any](items []T, key func(T) (name, id string)) {
	sort.SliceStable(items, func(i, j int) bool {
		ni, ii := key(items[i])
		nj, ij := key(items[j])
		if ni == "" {
			ni = ii
		}
		if nj == "" {
			nj = ij
		}
		return ni < nj
	})
}

// Classes lists the classes of one category. A class carries the category
// it was first imported under, so it also counts for every category one of
// its visible subjects belongs to.
func (s *LibraryService) Classes(ctx context.Context, category string) (*Page, error) {
	owners, err := s.db.Collection("subjects").Distinct(ctx, "classID", visibleFilter("subjectCategory", category, nil))
	if err != nil {
		return nil, fmt.Errorf("distinct subjects: %w", err)
	}
	if owners == nil {
		owners = []any{}
	}
	filter := bson.M{
		"status": bson.M{"$in": models.ActiveStatuses},
		"$or": bson.A{
			bson.M{"classCategory": bson.M{"$in": models.CategoryVariants(categoryOrDefault(category))}},
			bson.M{"classID": bson.M{"$in": owners}},
		},
	}
	items, err := findAll[models.Class](ctx, s.db.Collection("classes"), filter)
	if err != nil {
		return nil, err
	}
	byName(items, func(c models.Class) (string, string) { return c.ClassName, c.ClassID })
	return &Page{Total: int64(len(items)), Items: items}, nil
}

func (s *LibraryService) Subjects(ctx context.Context, classID, category string) (*Page, error) {
	if strings.TrimSpace(classID) == "" {
		return emptyPage(), nil
	}
	items, err := findAll[models.Subject](ctx, s.db.Collection("subjects"),
		visibleFilter("subjectCategory", category, bson.M{"classID": classID}))
	if err != nil {
		return nil, err
	}
	byName(items, func(x models.Subject) (string, string) { return x.SubjectName, x.SubjectID })
	return &Page{Total: int64(len(items)), Items: items}, nil
}

func (s *LibraryService) Topics(ctx context.Context, subjectID, category string) (*Page, error) {
	if strings.TrimSpace(subjectID) == "" {
		return emptyPage(), nil
	}
	items, err := findAll[models.Topic](ctx, s.db.Collection("topics"),
		visibleFilter("topicCategory", category, bson.M{"subjectID": subjectID}))
	if err != nil {
		return nil, err
	}
	byName(items, func(x models.Topic) (string, string) { return x.TopicName, x.TopicID })
	return &Page{Total: int64(len(items)), Items: items}, nil
}

func (s *LibraryService) Lessons(ctx context.Context, topicID, category string) (*Page, error) {
	if strings.TrimSpace(topicID) == "" {
		return emptyPage(), nil
	}
	items, err := findAll[models.Lesson](ctx, s.db.Collection("lessons"),
		visibleFilter("lessonCategory", category, bson.M{"topicID": topicID}))
	if err != nil {
		return nil, err
	}
	byName(items, func(x models.Lesson) (string, string) { return x.LessonName, x.LessonID })
	return &Page{Total: int64(len(items)), Items: items}, nil
}

// CheckPage validates limit/offset against the allowed range. A zero limit
// takes def.
func CheckPage(limit, offset, def, max int) (int, error) {
	if limit == 0 {
		limit = def
	}
	if limit < 1 || limit > max {
		return 0, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidPage, max)
	}
	if offset < 0 {
		return 0, fmt.Errorf("%w: offset must be >= 0", ErrInvalidPage)
	}
	return limit, nil
}

func chunkSort(sortBy string) bson.D {
	if strings.EqualFold(strings.TrimSpace(sortBy), "updated") {
		return bson.D{{Key: "updatedAt", Value: -1}}
	}
	return bson.D{{Key: "chunkName", Value: 1}}
}

func (s *LibraryService) Chunks(ctx context.Context, q ChunkQuery) (*Page, error) {
	limit, err := CheckPage(q.Limit, q.Offset, DefaultChunkLimit, MaxChunkLimit)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(q.LessonID) == "" {
		return emptyPage(), nil
	}

	col := s.db.Collection("chunks")
	filter := visibleFilter("chunkCategory", q.Category, bson.M{"lessonID": q.LessonID})
	total, err := col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}

	opts := options.Find().
		SetSort(chunkSort(q.Sort)).
		SetSkip(int64(q.Offset)).
		SetLimit(int64(limit))
	chunks, err := findAll[models.Chunk](ctx, col, filter, opts)
	if err != nil {
		return nil, err
	}

	views, err := s.Views(ctx, chunks, q.Category, q.Username)
	if err != nil {
		return nil, err
	}
	return &Page{Total: total, Items: views}, nil
}

// ActiveChunk loads one visible chunk of the category.
func (s *LibraryService) ActiveChunk(ctx context.Context, chunkID, category string) (*models.Chunk, error) {
	var c models.Chunk
	err := s.db.Collection("chunks").FindOne(ctx, visibleFilter("chunkCategory", category, bson.M{"chunkID": chunkID})).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrChunkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load chunk %s: %w", chunkID, err)
	}
	return &c, nil
}

// Chunk returns one chunk with its keyword documents and the other chunks of
// the same lesson.
func (s *LibraryService) Chunk(ctx context.Context, chunkID, category, username string) (*ChunkDetail, error) {
	c, err := s.ActiveChunk(ctx, chunkID, category)
	if err != nil {
		return nil, err
	}

	views, err := s.Views(ctx, []models.Chunk{*c}, category, username)
	if err != nil {
		return nil, err
	}
	detail := &ChunkDetail{ChunkView: views[0], KeywordItems: []models.Keyword{}, Related: []ChunkView{}}

	keywords, err := findAll[models.Keyword](ctx, s.db.Collection(KeywordCollection), bson.M{"chunkID": chunkID})
	if err != nil {
		return nil, err
	}
	if len(keywords) > 0 {
		detail.KeywordItems = keywords
		detail.Keywords = make([]string, 0, len(keywords))
		for _, k := range keywords {
			detail.Keywords = append(detail.Keywords, k.KeywordName)
		}
	}

	if c.LessonID != "" {
		siblings, err := findAll[models.Chunk](ctx, s.db.Collection("chunks"),
			visibleFilter("chunkCategory", category, bson.M{
				"lessonID": c.LessonID,
				"chunkID":  bson.M{"$ne": chunkID},
			}),
			options.Find().SetSort(bson.D{{Key: "chunkName", Value: 1}}))
		if err != nil {
			return nil, err
		}
		related, err := s.Views(ctx, siblings, category, username)
		if err != nil {
			return nil, err
		}
		detail.Related = related
	}
	return detail, nil
}

// ToggleSave bookmarks the chunk for the user, or removes an existing
// bookmark. It reports the state after the call.
func (s *LibraryService) ToggleSave(ctx context.Context, username, chunkID, category string) (bool, error) {
	if _, err := s.ActiveChunk(ctx, chunkID, category); err != nil {
		return false, err
	}

	col := s.db.Collection(SavedCollection)
	key := bson.M{"username": username, "chunkID": chunkID, "category": categoryOrDefault(category)}

	res, err := col.DeleteOne(ctx, key)
	if err != nil {
		return false, fmt.Errorf("unsave chunk: %w", err)
	}
	if res.DeletedCount > 0 {
		return false, nil
	}

	now := s.now()
	_, err = col.InsertOne(ctx, models.SavedChunk{
		Username:  username,
		ChunkID:   chunkID,
		Category:  categoryOrDefault(category),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if mongo.IsDuplicateKeyError(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("save chunk: %w", err)
	}
	return true, nil
}

// Saved lists the user's bookmarks, newest first. Bookmarks whose chunk is
// gone or hidden are skipped in items but still counted in total.
func (s *LibraryService) Saved(ctx context.Context, username, category string, limit, offset int) (*Page, error) {
	limit, err := CheckPage(limit, offset, DefaultChunkLimit, MaxSavedLimit)
	if err != nil {
		return nil, err
	}

	col := s.db.Collection(SavedCollection)
	filter := bson.M{"username": username, "category": categoryOrDefault(category)}
	total, err := col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count saved: %w", err)
	}

	saved, err := findAll[models.SavedChunk](ctx, col, filter, options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	if len(saved) == 0 {
		return &Page{Total: total, Items: []ChunkView{}}, nil
	}

	ids := make([]string, 0, len(saved))
	for _, sc := range saved {
		ids = append(ids, sc.ChunkID)
	}
	chunks, err := findAll[models.Chunk](ctx, s.db.Collection("chunks"),
		visibleFilter("chunkCategory", category, bson.M{"chunkID": bson.M{"$in": ids}}))
	if err != nil {
		return nil, err
	}
	views, err := s.Views(ctx, orderByIDs(chunks, ids), category, username)
	if err != nil {
		return nil, err
	}
	return &Page{Total: total, Items: views}, nil
}

// orderByIDs returns chunks in the order of ids, dropping unknown IDs.
func orderByIDs(chunks []models.Chunk, ids []string) []models.Chunk {
	byID := make(map[string]models.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ChunkID] = c
	}
	out := make([]models.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// hierarchy holds the ancestors needed to render a set of chunks.
type hierarchy struct {
	lessons  map[string]models.Lesson
	topics   map[string]models.Topic
	subjects map[string]models.Subject
	classes  map[string]models.Class
	saved    map[string]bool
}

func newHierarchy() *hierarchy {
	return &hierarchy{
		lessons:  map[string]models.Lesson{},
		topics:   map[string]models.Topic{},
		subjects: map[string]models.Subject{},
		classes:  map[string]models.Class{},
		saved:    map[string]bool{},
	}
}

func (h *hierarchy) view(c models.Chunk) ChunkView {
	v := ChunkView{
		ChunkID:          c.ChunkID,
		ChunkName:        c.ChunkName,
		ChunkType:        c.ChunkType,
		ChunkURL:         c.ChunkURL,
		ChunkDescription: c.ChunkDescription,
		Keywords:         c.Keywords,
		IsSaved:          h.saved[c.ChunkID],
	}
	if v.Keywords == nil {
		v.Keywords = []string{}
	}

	l, ok := h.lessons[c.LessonID]
	if !ok {
		v.Lesson.LessonID = c.LessonID
		return v
	}
	v.Lesson = LessonRef{LessonID: l.LessonID, LessonName: l.LessonName, LessonType: l.LessonType, LessonURL: l.LessonURL}

	t, ok := h.topics[l.TopicID]
	if !ok {
		return v
	}
	v.Topic = TopicRef{TopicID: t.TopicID, TopicName: t.TopicName, TopicURL: t.TopicURL}

	sub, ok := h.subjects[t.SubjectID]
	if !ok {
		return v
	}
	v.Subject = SubjectRef{SubjectID: sub.SubjectID, SubjectName: sub.SubjectName, SubjectURL: sub.SubjectURL}

	if cl, ok := h.classes[sub.ClassID]; ok {
		v.Class = ClassRef{ClassID: cl.ClassID, ClassName: cl.ClassName}
	}
	return v
}

func keysOf(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		if k != "" {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Views renders chunks with their visible ancestors and the user's saved flag.
// Ancestors are fetched level by level with one query each.
func (s *LibraryService) Views(ctx context.Context, chunks []models.Chunk, category, username string) ([]ChunkView, error) {
	h, err := s.loadHierarchy(ctx, chunks, category, username)
	if err != nil {
		return nil, err
	}
	out := make([]ChunkView, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, h.view(c))
	}
	return out, nil
}

func (s *LibraryService) loadHierarchy(ctx context.Context, chunks []models.Chunk, category, username string) (*hierarchy, error) {
	h := newHierarchy()
	if len(chunks) == 0 {
		return h, nil
	}

	lessonIDs, chunkIDs := map[string]bool{}, map[string]bool{}
	for _, c := range chunks {
		lessonIDs[c.LessonID] = true
		chunkIDs[c.ChunkID] = true
	}

	if ids := keysOf(lessonIDs); len(ids) > 0 {
		lessons, err := findAll[models.Lesson](ctx, s.db.Collection("lessons"),
			visibleFilter("lessonCategory", category, bson.M{"lessonID": bson.M{"$in": ids}}))
		if err != nil {
			return nil, err
		}
		topicIDs := map[string]bool{}
		for _, l := range lessons {
			h.lessons[l.LessonID] = l
			topicIDs[l.TopicID] = true
		}

		if ids := keysOf(topicIDs); len(ids) > 0 {
			topics, err := findAll[models.Topic](ctx, s.db.Collection("topics"),
				visibleFilter("topicCategory", category, bson.M{"topicID": bson.M{"$in": ids}}))
			if err != nil {
				return nil, err
			}
			subjectIDs := map[string]bool{}
			for _, t := range topics {
				h.topics[t.TopicID] = t
				subjectIDs[t.SubjectID] = true
			}

			if ids := keysOf(subjectIDs); len(ids) > 0 {
				subjects, err := findAll[models.Subject](ctx, s.db.Collection("subjects"),
					visibleFilter("subjectCategory", category, bson.M{"subjectID": bson.M{"$in": ids}}))
				if err != nil {
					return nil, err
				}
				classIDs := map[string]bool{}
				for _, sub := range subjects {
					h.subjects[sub.SubjectID] = sub
					classIDs[sub.ClassID] = true
				}

				if ids := keysOf(classIDs); len(ids) > 0 {
					classes, err := findAll[models.Class](ctx, s.db.Collection("classes"), bson.M{
						"status":  bson.M{"$in": models.ActiveStatuses},
						"classID": bson.M{"$in": ids},
					})
					if err != nil {
						return nil, err
					}
					for _, cl := range classes {
						h.classes[cl.ClassID] = cl
					}
				}
			}
		}
	}

	if username != "" {
		saved, err := s.savedSet(ctx, username, category, keysOf(chunkIDs))
		if err != nil {
			return nil, err
		}
		h.saved = saved
	}
	return h, nil
}

func (s *LibraryService) savedSet(ctx context.Context, username, category string, chunkIDs []string) (map[string]bool, error) {
	out := map[string]bool{}
	if len(chunkIDs) == 0 {
		return out, nil
	}
	filter := bson.M{"username": username, "chunkID": bson.M{"$in": chunkIDs}}
	if category != "" {
		filter["category"] = categoryOrDefault(category)
	}
	saved, err := findAll[models.SavedChunk](ctx, s.db.Collection(SavedCollection), filter)
	if err != nil {
		return nil, err
	}
	for _, sc := range saved {
		out[sc.ChunkID] = true
	}
	return out, nil
}

// DocsByMongoID loads documents of a collection by their ObjectId hex
// strings, with no status or category filter. Invalid IDs are ignored.
func (s *LibraryService) DocsByMongoID(ctx context.Context, collection string, ids []string) (map[string]map[string]any, error) {
	out := map[string]map[string]any{}
	seen := map[string]bool{}
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		oids = append(oids, oid)
	}
	if len(oids) == 0 {
		return out, nil
	}

	docs, err := findAll[bson.M](ctx, s.db.Collection(collection), bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		n := docstore.Normalize(d)
		if id, ok := n["_id"].(string); ok {
			out[id] = n
		}
	}
	return out, nil
}

// SavedChunkIDs reports which of chunkIDs the user has saved, in any category.
func (s *LibraryService) SavedChunkIDs(ctx context.Context, username string, chunkIDs []string) (map[string]bool, error) {
	return s.savedSet(ctx, username, "", chunkIDs)
}
