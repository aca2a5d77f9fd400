package relational

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// ChunkFilter narrows search to one branch of the hierarchy. The deepest
// non-empty field wins.
type ChunkFilter struct {
	ClassID   string
	SubjectID string
	TopicID   string
	LessonID  string
}

func (f ChunkFilter) Empty() bool {
	return f.ClassID == "" && f.SubjectID == "" && f.TopicID == "" && f.LessonID == ""
}

// CandidateChunkIDs returns the chunk IDs under the filter. A nil slice means
// no restriction; an empty one means nothing matches.
func (s *Store) CandidateChunkIDs(ctx context.Context, f ChunkFilter) ([]string, error) {
	if f.Empty() {
		return nil, nil
	}

	q := s.db.WithContext(ctx).Table("chunk")
	switch {
	case f.LessonID != "":
		q = q.Where("chunk.lesson_id = ?", f.LessonID)
	case f.TopicID != "":
		q = q.Joins("JOIN lesson ON lesson.lesson_id = chunk.lesson_id").
			Where("lesson.topic_id = ?", f.TopicID)
	case f.SubjectID != "":
		q = q.Joins("JOIN lesson ON lesson.lesson_id = chunk.lesson_id").
			Joins("JOIN topic ON topic.topic_id = lesson.topic_id").
			Where("topic.subject_id = ?", f.SubjectID)
	default:
		q = q.Joins("JOIN lesson ON lesson.lesson_id = chunk.lesson_id").
			Joins("JOIN topic ON topic.topic_id = lesson.topic_id").
			Joins("JOIN subject ON subject.subject_id = topic.subject_id").
			Where("subject.class_id = ?", f.ClassID)
	}

	ids := []string{}
	if err := q.Pluck("chunk.chunk_id", &ids).Error; err != nil {
		return nil, classify("candidate chunks", err)
	}
	return ids, nil
}

type KeywordVector struct {
	KeywordID string
	ChunkID   string
	Embedding []float64
}

// KeywordVectors loads stored keyword embeddings, restricted to chunkIDs
// unless it is nil.
func (s *Store) KeywordVectors(ctx context.Context, chunkIDs []string) ([]KeywordVector, error) {
	if chunkIDs != nil && len(chunkIDs) == 0 {
		return nil, nil
	}
	q := s.db.WithContext(ctx).Model(&Keyword{}).Where("keyword_embedding IS NOT NULL")
	if chunkIDs != nil {
		q = q.Where("chunk_id IN ?", chunkIDs)
	}
	var rows []Keyword
	if err := q.Find(&rows).Error; err != nil {
		return nil, classify("keyword vectors", err)
	}

	out := make([]KeywordVector, 0, len(rows))
	for _, r := range rows {
		vec, err := decodeVector(r.KeywordEmbedding)
		if err != nil || len(vec) == 0 || r.ChunkID == "" {
			continue
		}
		out = append(out, KeywordVector{KeywordID: r.KeywordID, ChunkID: r.ChunkID, Embedding: vec})
	}
	return out, nil
}

type PathNode struct {
	ID      string
	Name    string
	MongoID string
}

// ChunkPath is a chunk with whatever ancestors the mirror knows about.
type ChunkPath struct {
	Chunk     PathNode
	ChunkType string
	Lesson    PathNode
	Topic     PathNode
	Subject   PathNode
	Class     PathNode
}

// ChunkPaths resolves the hierarchy for each chunk ID present in the mirror.
// Missing ancestors are left blank rather than dropping the chunk.
func (s *Store) ChunkPaths(ctx context.Context, chunkIDs []string) (map[string]ChunkPath, error) {
	out := make(map[string]ChunkPath, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}
	db := s.db.WithContext(ctx)

	var chunks []Chunk
	if err := db.Where("chunk_id IN ?", chunkIDs).Find(&chunks).Error; err != nil {
		return nil, classify("chunk paths", err)
	}
	lessonIDs := make([]string, 0, len(chunks))
	for _, c := range chunks {
		lessonIDs = append(lessonIDs, c.LessonID)
	}

	var lessons []Lesson
	if len(lessonIDs) > 0 {
		if err := db.Where("lesson_id IN ?", lessonIDs).Find(&lessons).Error; err != nil {
			return nil, classify("chunk paths", err)
		}
	}
	lessonByID := make(map[string]Lesson, len(lessons))
	topicIDs := make([]string, 0, len(lessons))
	for _, l := range lessons {
		lessonByID[l.LessonID] = l
		topicIDs = append(topicIDs, l.TopicID)
	}

	var topics []Topic
	if len(topicIDs) > 0 {
		if err := db.Where("topic_id IN ?", topicIDs).Find(&topics).Error; err != nil {
			return nil, classify("chunk paths", err)
		}
	}
	topicByID := make(map[string]Topic, len(topics))
	subjectIDs := make([]string, 0, len(topics))
	for _, t := range topics {
		topicByID[t.TopicID] = t
		subjectIDs = append(subjectIDs, t.SubjectID)
	}

	var subjects []Subject
	if len(subjectIDs) > 0 {
		if err := db.Where("subject_id IN ?", subjectIDs).Find(&subjects).Error; err != nil {
			return nil, classify("chunk paths", err)
		}
	}
	subjectByID := make(map[string]Subject, len(subjects))
	classIDs := make([]string, 0, len(subjects))
	for _, sub := range subjects {
		subjectByID[sub.SubjectID] = sub
		classIDs = append(classIDs, sub.ClassID)
	}

	var classes []Class
	if len(classIDs) > 0 {
		if err := db.Where("class_id IN ?", classIDs).Find(&classes).Error; err != nil {
			return nil, classify("chunk paths", err)
		}
	}
	classByID := make(map[string]Class, len(classes))
	for _, c := range classes {
		classByID[c.ClassID] = c
	}

	for _, c := range chunks {
		p := ChunkPath{
			Chunk:     PathNode{ID: c.ChunkID, Name: c.ChunkName, MongoID: deref(c.MongoID)},
			ChunkType: deref(c.ChunkType),
		}
		if l, ok := lessonByID[c.LessonID]; ok {
			p.Lesson = PathNode{ID: l.LessonID, Name: l.LessonName, MongoID: deref(l.MongoID)}
			if t, ok := topicByID[l.TopicID]; ok {
				p.Topic = PathNode{ID: t.TopicID, Name: t.TopicName, MongoID: deref(t.MongoID)}
				if sub, ok := subjectByID[t.SubjectID]; ok {
					p.Subject = PathNode{ID: sub.SubjectID, Name: sub.SubjectName, MongoID: deref(sub.MongoID)}
					if cl, ok := classByID[sub.ClassID]; ok {
						p.Class = PathNode{ID: cl.ClassID, Name: cl.ClassName, MongoID: deref(cl.MongoID)}
					}
				}
			}
		} else {
			p.Lesson.ID = c.LessonID
		}
		out[c.ChunkID] = p
	}
	return out, nil
}

// KeywordsMissingEmbedding returns up to limit keywords with no stored vector.
func (s *Store) KeywordsMissingEmbedding(ctx context.Context, limit int) ([]Keyword, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []Keyword
	err := s.db.WithContext(ctx).
		Where("keyword_embedding IS NULL").
		Order("keyword_id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, classify("keywords missing embedding", err)
	}
	return rows, nil
}

// SetKeywordEmbedding stores vec on one keyword row.
func (s *Store) SetKeywordEmbedding(ctx context.Context, keywordID string, vec []float64) error {
	raw, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	res := s.db.WithContext(ctx).Model(&Keyword{}).
		Where("keyword_id = ?", keywordID).
		Update("keyword_embedding", datatypes.JSON(raw))
	if res.Error != nil {
		return classify("set embedding", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRowNotFound
	}
	return nil
}

func decodeVector(raw datatypes.JSON) ([]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var vec []float64
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
