package relational

import (
	"gorm.io/datatypes"
)

// Row models for the mirrored hierarchy. Primary keys are the map IDs;
// mongo_id points back at the document store record.

type Class struct {
	ClassID   string  `gorm:"column:class_id;primaryKey" json:"class_id"`
	ClassName string  `gorm:"column:class_name;not null" json:"class_name"`
	MongoID   *string `gorm:"column:mongo_id;size:24" json:"mongo_id"`
}

func (Class) TableName() string { return "class" }

type Subject struct {
	SubjectID   string  `gorm:"column:subject_id;primaryKey" json:"subject_id"`
	SubjectName string  `gorm:"column:subject_name;not null" json:"subject_name"`
	MongoID     *string `gorm:"column:mongo_id;size:24" json:"mongo_id"`
	ClassID     string  `gorm:"column:class_id;index" json:"class_id"`
}

func (Subject) TableName() string { return "subject" }

type Topic struct {
	TopicID   string  `gorm:"column:topic_id;primaryKey" json:"topic_id"`
	TopicName string  `gorm:"column:topic_name;not null" json:"topic_name"`
	MongoID   *string `gorm:"column:mongo_id;size:24" json:"mongo_id"`
	SubjectID string  `gorm:"column:subject_id;index" json:"subject_id"`
}

func (Topic) TableName() string { return "topic" }

type Lesson struct {
	LessonID   string  `gorm:"column:lesson_id;primaryKey" json:"lesson_id"`
	LessonName string  `gorm:"column:lesson_name;not null" json:"lesson_name"`
	LessonType *string `gorm:"column:lesson_type;size:32" json:"lesson_type"`
	MongoID    *string `gorm:"column:mongo_id;size:24" json:"mongo_id"`
	TopicID    string  `gorm:"column:topic_id;index" json:"topic_id"`
}

func (Lesson) TableName() string { return "lesson" }

type Chunk struct {
	ChunkID   string  `gorm:"column:chunk_id;primaryKey" json:"chunk_id"`
	ChunkName string  `gorm:"column:chunk_name;not null" json:"chunk_name"`
	ChunkType *string `gorm:"column:chunk_type;size:32" json:"chunk_type"`
	MongoID   *string `gorm:"column:mongo_id;size:24" json:"mongo_id"`
	LessonID  string  `gorm:"column:lesson_id;index" json:"lesson_id"`
}

func (Chunk) TableName() string { return "chunk" }

type Keyword struct {
	KeywordID        string         `gorm:"column:keyword_id;primaryKey;size:96" json:"keyword_id"`
	KeywordName      string         `gorm:"column:keyword_name;not null" json:"keyword_name"`
	KeywordEmbedding datatypes.JSON `gorm:"column:keyword_embedding" json:"keyword_embedding"`
	MongoID          *string        `gorm:"column:mongo_id;size:24" json:"mongo_id"`
	ChunkID          string         `gorm:"column:chunk_id;index" json:"chunk_id"`
}

func (Keyword) TableName() string { return "keyword" }

type User struct {
	UserID   string  `gorm:"column:user_id;primaryKey" json:"user_id"`
	Username string  `gorm:"column:username;size:50;uniqueIndex;not null" json:"username"`
	Password string  `gorm:"column:password;not null" json:"password"`
	UserRole string  `gorm:"column:user_role;not null" json:"user_role"`
	IsActive bool    `gorm:"column:is_active;not null" json:"is_active"`
	MongoID  *string `gorm:"column:mongo_id;size:24" json:"mongo_id"`
}

func (User) TableName() string { return "user" }

// tableModels is the set of tables exposed for mirroring and browsing.
var tableModels = map[string]any{
	"class":   &Class{},
	"subject": &Subject{},
	"topic":   &Topic{},
	"lesson":  &Lesson{},
	"chunk":   &Chunk{},
	"keyword": &Keyword{},
	"user":    &User{},
}

// jsonColumns are decoded before rows are returned to callers.
var jsonColumns = map[string]bool{"keyword_embedding": true}

func allModels() []any {
	return []any{&Class{}, &Subject{}, &Topic{}, &Lesson{}, &Chunk{}, &Keyword{}, &User{}}
}
