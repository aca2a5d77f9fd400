// Package mapid derives the class/subject/topic/lesson/chunk hierarchy from
// convention-encoded map IDs such as TH10_CD1_B1_C1.
package mapid

import (
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidMap is wrapped by every derivation failure.
var ErrInvalidMap = errors.New("invalid map id")

// ErrNoClass is returned with the otherwise complete chain when the subject
// carries no digits to derive a class from.
var ErrNoClass = fmt.Errorf("%w: cannot derive class", ErrInvalidMap)

// Level is a depth in the catalog hierarchy.
type Level int

const (
	LevelClass Level = iota
	LevelSubject
	LevelTopic
	LevelLesson
	LevelChunk
	LevelKeyword
)

// Levels lists the derivable levels from root to leaf.
var Levels = []Level{LevelClass, LevelSubject, LevelTopic, LevelLesson, LevelChunk}

var levelInfo = [...]struct {
	name, collection, label, table, relation string
}{
	LevelClass:   {"class", "classes", "Class", "class", ""},
	LevelSubject: {"subject", "subjects", "Subject", "subject", "HAS_SUBJECT"},
	LevelTopic:   {"topic", "topics", "Topic", "topic", "HAS_TOPIC"},
	LevelLesson:  {"lesson", "lessons", "Lesson", "lesson", "HAS_LESSON"},
	LevelChunk:   {"chunk", "chunks", "Chunk", "chunk", "HAS_CHUNK"},
	LevelKeyword: {"keyword", "keywords", "Keyword", "keyword", "HAS_KEYWORD"},
}

func (l Level) valid() bool { return l >= LevelClass && l <= LevelKeyword }

func (l Level) String() string {
	if !l.valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelInfo[l].name
}

// Collection is the document store collection holding this level.
func (l Level) Collection() string { return levelInfo[l].collection }

// Label is the graph node label.
func (l Level) Label() string { return levelInfo[l].label }

// Table is the relational table name.
func (l Level) Table() string { return levelInfo[l].table }

// Relation is the graph relationship type from the parent to this level.
func (l Level) Relation() string { return levelInfo[l].relation }

// IDField is the document field carrying the map ID, e.g. "subjectID".
func (l Level) IDField() string { return levelInfo[l].name + "ID" }

// NameField is the document field carrying the display name, e.g. "subjectName".
func (l Level) NameField() string { return levelInfo[l].name + "Name" }

// CategoryField is the document field carrying the category, e.g. "subjectCategory".
func (l Level) CategoryField() string { return levelInfo[l].name + "Category" }

// Parent returns the parent level; ok is false for the root.
func (l Level) Parent() (Level, bool) {
	if l <= LevelClass || !l.valid() {
		return 0, false
	}
	return l - 1, true
}

// ParseLevel accepts singular or plural level names.
func ParseLevel(s string) (Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for l := LevelClass; l <= LevelKeyword; l++ {
		if s == levelInfo[l].name || s == levelInfo[l].collection {
			return l, true
		}
	}
	return 0, false
}

// Chain is the full ancestry recovered from the deepest map ID of a row.
type Chain struct {
	Level        Level
	Class        string
	Subject      string
	Topic        string
	Lesson       string
	Chunk        string
	TopicNumber  string
	LessonNumber string
	ChunkNumber  string
}

// ID returns the map ID at the given level, or "" when the chain stops above it.
func (c Chain) ID(l Level) string {
	switch l {
	case LevelClass:
		return c.Class
	case LevelSubject:
		return c.Subject
	case LevelTopic:
		return c.Topic
	case LevelLesson:
		return c.Lesson
	case LevelChunk:
		return c.Chunk
	}
	return ""
}

// Deepest returns the map ID of the chain's own level.
func (c Chain) Deepest() string { return c.ID(c.Level) }

var (
	topicRe  = regexp.MustCompile(`(?i)^(.+?)_CD(\d+)$`)
	lessonRe = regexp.MustCompile(`(?i)^(.+?)_CD(\d+)_B(\d+)$`)
	chunkRe  = regexp.MustCompile(`(?i)^(.+?)_CD(\d+)_B(\d+)_C(\d+)$`)
	digitsRe = regexp.MustCompile(`\d+`)
)

// ClassFromSubject derives the class map from a subject map: "L" followed by
// the last run of digits (TH10 -> L10). Returns "" when there are no digits.
func ClassFromSubject(subject string) string {
	runs := digitsRe.FindAllString(subject, -1)
	if len(runs) == 0 {
		return ""
	}
	return "L" + runs[len(runs)-1]
}

// TopicID builds SUBJECT_CDn.
func TopicID(subject, topicNumber string) string {
	return subject + "_CD" + topicNumber
}

// LessonID builds TOPIC_Bn.
func LessonID(topic, lessonNumber string) string {
	return topic + "_B" + lessonNumber
}

// ChunkID builds LESSON_Cn.
func ChunkID(lesson, chunkNumber string) string {
	return lesson + "_C" + chunkNumber
}

// Join rebuilds the deepest map ID from a subject and its numbering. Empty
// numbers stop the chain at the previous level.
func Join(subject, topicNumber, lessonNumber, chunkNumber string) string {
	id := strings.TrimSpace(subject)
	if id == "" || topicNumber == "" {
		return id
	}
	id = TopicID(id, topicNumber)
	if lessonNumber == "" {
		return id
	}
	id = LessonID(id, lessonNumber)
	if chunkNumber == "" {
		return id
	}
	return ChunkID(id, chunkNumber)
}

func withClass(c Chain) (Chain, error) {
	c.Class = ClassFromSubject(c.Subject)
	if c.Class == "" {
		return c, fmt.Errorf("%w from subject %q", ErrNoClass, c.Subject)
	}
	return c, nil
}

// ParseChunk parses SUBJECT_CDn_Bm_Ck.
func ParseChunk(s string) (Chain, error) {
	s = strings.TrimSpace(s)
	m := chunkRe.FindStringSubmatch(s)
	if m == nil {
		return Chain{}, fmt.Errorf("%w: chunk map %q does not match SUBJECT_CDn_Bm_Ck", ErrInvalidMap, s)
	}
	c := Chain{
		Level:        LevelChunk,
		Subject:      m[1],
		TopicNumber:  m[2],
		LessonNumber: m[3],
		ChunkNumber:  m[4],
		Chunk:        s,
	}
	c.Topic = TopicID(c.Subject, c.TopicNumber)
	c.Lesson = LessonID(c.Topic, c.LessonNumber)
	return withClass(c)
}

// ParseLesson parses SUBJECT_CDn_Bm.
func ParseLesson(s string) (Chain, error) {
	s = strings.TrimSpace(s)
	m := lessonRe.FindStringSubmatch(s)
	if m == nil {
		return Chain{}, fmt.Errorf("%w: lesson map %q does not match SUBJECT_CDn_Bm", ErrInvalidMap, s)
	}
	c := Chain{
		Level:        LevelLesson,
		Subject:      m[1],
		TopicNumber:  m[2],
		LessonNumber: m[3],
		Lesson:       s,
	}
	c.Topic = TopicID(c.Subject, c.TopicNumber)
	return withClass(c)
}

// ParseTopic parses SUBJECT_CDn.
func ParseTopic(s string) (Chain, error) {
	s = strings.TrimSpace(s)
	m := topicRe.FindStringSubmatch(s)
	if m == nil {
		return Chain{}, fmt.Errorf("%w: topic map %q does not match SUBJECT_CDn", ErrInvalidMap, s)
	}
	return withClass(Chain{
		Level:       LevelTopic,
		Subject:     m[1],
		TopicNumber: m[2],
		Topic:       s,
	})
}

// FromSubject builds the chain rooted at a bare subject map.
func FromSubject(s string) (Chain, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Chain{}, fmt.Errorf("%w: empty subject map", ErrInvalidMap)
	}
	return withClass(Chain{Level: LevelSubject, Subject: s})
}

// FromClass builds a single-level chain for a class map.
func FromClass(s string) (Chain, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Chain{}, fmt.Errorf("%w: empty class map", ErrInvalidMap)
	}
	return Chain{Level: LevelClass, Class: s}, nil
}

// Derive parses id as a map of the given level.
func Derive(l Level, id string) (Chain, error) {
	switch l {
	case LevelChunk:
		return ParseChunk(id)
	case LevelLesson:
		return ParseLesson(id)
	case LevelTopic:
		return ParseTopic(id)
	case LevelSubject:
		return FromSubject(id)
	case LevelClass:
		return FromClass(id)
	}
	return Chain{}, fmt.Errorf("%w: level %s has no map pattern", ErrInvalidMap, l)
}

// KeywordID is the stable identifier of a keyword within a chunk.
func KeywordID(chunkID, keyword string) string {
	sum := sha512.Sum384([]byte(chunkID + ":" + keyword))
	return hex.EncodeToString(sum[:])[:96]
}
