package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Catalog documents as stored in the classes/subjects/topics/lessons/chunks
// collections. Each is keyed by its map ID plus category.

type Class struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	ClassID       string             `bson:"classID" json:"classID"`
	ClassName     string             `bson:"className" json:"className"`
	ClassCategory string             `bson:"classCategory" json:"classCategory"`
	Status        string             `bson:"status" json:"status"`
	CreatedBy     string             `bson:"createdBy,omitempty" json:"createdBy,omitempty"`
	CreatedAt     time.Time          `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt     time.Time          `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

type Subject struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	SubjectID       string             `bson:"subjectID" json:"subjectID"`
	ClassID         string             `bson:"classID" json:"classID"`
	SubjectName     string             `bson:"subjectName" json:"subjectName"`
	SubjectTitle    string             `bson:"subjectTitle,omitempty" json:"subjectTitle,omitempty"`
	SubjectURL      string             `bson:"subjectUrl,omitempty" json:"subjectUrl,omitempty"`
	SubjectCategory string             `bson:"subjectCategory" json:"subjectCategory"`
	Status          string             `bson:"status" json:"status"`
	CreatedBy       string             `bson:"createdBy,omitempty" json:"createdBy,omitempty"`
	CreatedAt       time.Time          `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt       time.Time          `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

type Topic struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	TopicID       string             `bson:"topicID" json:"topicID"`
	SubjectID     string             `bson:"subjectID" json:"subjectID"`
	TopicName     string             `bson:"topicName" json:"topicName"`
	TopicURL      string             `bson:"topicUrl,omitempty" json:"topicUrl,omitempty"`
	TopicCategory string             `bson:"topicCategory" json:"topicCategory"`
	Status        string             `bson:"status" json:"status"`
	CreatedBy     string             `bson:"createdBy,omitempty" json:"createdBy,omitempty"`
	CreatedAt     time.Time          `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt     time.Time          `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

type Lesson struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	LessonID       string             `bson:"lessonID" json:"lessonID"`
	TopicID        string             `bson:"topicID" json:"topicID"`
	LessonName     string             `bson:"lessonName" json:"lessonName"`
	LessonType     string             `bson:"lessonType,omitempty" json:"lessonType,omitempty"`
	LessonURL      string             `bson:"lessonUrl,omitempty" json:"lessonUrl,omitempty"`
	LessonCategory string             `bson:"lessonCategory" json:"lessonCategory"`
	Status         string             `bson:"status" json:"status"`
	CreatedBy      string             `bson:"createdBy,omitempty" json:"createdBy,omitempty"`
	CreatedAt      time.Time          `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt      time.Time          `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

type Chunk struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	ChunkID          string             `bson:"chunkID" json:"chunkID"`
	LessonID         string             `bson:"lessonID" json:"lessonID"`
	ChunkName        string             `bson:"chunkName" json:"chunkName"`
	ChunkType        string             `bson:"chunkType,omitempty" json:"chunkType,omitempty"`
	ChunkURL         string             `bson:"chunkUrl,omitempty" json:"chunkUrl,omitempty"`
	ChunkDescription string             `bson:"chunkDescription,omitempty" json:"chunkDescription,omitempty"`
	Keywords         []string           `bson:"keywords,omitempty" json:"keywords"`
	ChunkCategory    string             `bson:"chunkCategory" json:"chunkCategory"`
	Status           string             `bson:"status" json:"status"`
	CreatedBy        string             `bson:"createdBy,omitempty" json:"createdBy,omitempty"`
	CreatedAt        time.Time          `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt        time.Time          `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

// Keyword is one keyword document, unique per (keywordID, chunkID).
type Keyword struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	KeywordID   string             `bson:"keywordID" json:"keywordID"`
	KeywordName string             `bson:"keywordName" json:"keywordName"`
	ChunkID     string             `bson:"chunkID" json:"chunkID"`
	Category    string             `bson:"keywordCategory" json:"keywordCategory"`
	CreatedAt   time.Time          `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt   time.Time          `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

// SavedChunk is a user's bookmark on a chunk.
type SavedChunk struct {
	Username  string    `bson:"username" json:"username"`
	ChunkID   string    `bson:"chunkID" json:"chunkID"`
	Category  string    `bson:"category" json:"category"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// KeywordRow is a keyword as mirrored into the relational store.
type KeywordRow struct {
	ID        string
	Name      string
	MongoID   string
	Embedding []float64
}

// NodeRef identifies a node in the graph mirror.
type NodeRef struct {
	Label string
	ID    string
}
