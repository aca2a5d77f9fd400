package importer

import (
	"edu-data-console/internal/mapid"
)

// Counts tallies document store upserts for one entity type.
type Counts struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// SyncSummary tallies mirror writes across both mirrors.
type SyncSummary struct {
	OK      int `json:"ok"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Error stages.
const (
	StageValidate   = "validate"
	StageDocument   = "document"
	StageRelational = "relational"
	StageGraph      = "graph"
)

// RowError is one failure in the batch. Row is the source row number.
type RowError struct {
	Row       int    `json:"row"`
	Sheet     string `json:"sheet,omitempty"`
	Level     string `json:"level,omitempty"`
	MapID     string `json:"map_id,omitempty"`
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Report is the outcome of one import run.
type Report struct {
	Classes   Counts      `json:"classes"`
	Subjects  Counts      `json:"subjects"`
	Topics    Counts      `json:"topics"`
	Lessons   Counts      `json:"lessons"`
	Chunks    Counts      `json:"chunks"`
	Keywords  Counts      `json:"keywords"`
	Sync      SyncSummary `json:"sync"`
	Errors    []RowError  `json:"errors"`
	Processed int         `json:"processed"`
}

func NewReport() *Report {
	return &Report{Errors: []RowError{}}
}

// Counts returns the tally for a level.
func (r *Report) Counts(l mapid.Level) *Counts {
	switch l {
	case mapid.LevelClass:
		return &r.Classes
	case mapid.LevelSubject:
		return &r.Subjects
	case mapid.LevelTopic:
		return &r.Topics
	case mapid.LevelLesson:
		return &r.Lessons
	case mapid.LevelChunk:
		return &r.Chunks
	default:
		return &r.Keywords
	}
}

// OK reports whether the run finished without any recorded error.
func (r *Report) OK() bool { return len(r.Errors) == 0 }

func (r *Report) add(e RowError) { r.Errors = append(r.Errors, e) }
