package importer

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, sheets map[string][][]any, order ...string) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for _, name := range order {
		if name != "Sheet1" {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for i, r := range sheets[name] {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			r := r
			require.NoError(t, f.SetSheetRow(name, cell, &r))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestParseWorkbookFlatSheet(t *testing.T) {
	buf := buildWorkbook(t, map[string][][]any{
		"Sheet1": {
			{"chunk_map", "chunkName", "keywords", ""},
			{"TH10_CD1_B1_C1", "Intro", "a; b", "ignored"},
			{"", "", "", ""},
			{"", "", ""},
			{"TH10_CD1_B1_C2", "Second", "", ""},
		},
	}, "Sheet1")
	rows, err := ParseWorkbook(buf)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "Sheet1", rows[0].Sheet)
	assert.Equal(t, 2, rows[0].Index)
	assert.Equal(t, "TH10_CD1_B1_C1", rows[0].Values["chunk_map"])
	assert.Equal(t, "a; b", rows[0].Values["keywords"])
	assert.Equal(t, 5, rows[1].Index)
}

func TestParseWorkbookOrdersByLevel(t *testing.T) {
	buf := buildWorkbook(t, map[string][][]any{
		"Sheet1": {
			{"chunk_map", "subject_map"},
			{"TH10_CD1_B1_C1", ""},
			{"", "TH10"},
		},
	}, "Sheet1")
	rows, err := ParseWorkbook(buf)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "TH10", rows[0].Values["subject_map"])
	assert.Equal(t, 3, rows[0].Index)
	assert.Equal(t, 2, rows[1].Index)
}

func TestParseWorkbookLegacyLevelSheets(t *testing.T) {
	buf := buildWorkbook(t, map[string][][]any{
		"Class":   {{"import_key", "class_name"}, {"c1", "Lớp 10"}},
		"SUBJECT": {{"import_key", "subject_name", "class_ref"}, {"subj_l10", "Tin học", "c1"}},
		"topic":   {{"import_key", "subject_ref", "topic_num", "topic_name"}, {"t1", "subj_l10", "1", "Máy tính"}},
		"lesson":  {{"import_key", "topic_ref", "lesson_num"}, {"b1", "t1", "2.0"}},
		"chunk":   {{"import_key", "lesson_ref", "chunk_num", "chunk_name", "keywords"}, {"k1", "b1", "3", "Intro", "a;b"}},
		"keyword": {{"chunk_ref", "keyword"}, {"k1", "c"}, {"k1", "a"}, {"unknown", "z"}},
		"notes":   {{"anything"}, {"ignored"}},
	}, "Class", "SUBJECT", "topic", "lesson", "chunk", "keyword", "notes")

	rows, err := ParseWorkbook(buf)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	assert.Equal(t, "L10", rows[0].Values["class_map"])
	assert.Equal(t, "Class", rows[0].Sheet)

	assert.Equal(t, "TH10", rows[1].Values["subject_map"])
	assert.Equal(t, "L10", rows[1].Values["class_map"])
	assert.Equal(t, "Tin học", rows[1].Values["subject_name"])
	assert.NotContains(t, rows[1].Values, "class_ref")
	assert.NotContains(t, rows[1].Values, "import_key")

	assert.Equal(t, "TH10_CD1", rows[2].Values["topic_map"])
	assert.Equal(t, "TH10_CD1_B2", rows[3].Values["lesson_map"])

	chunk := rows[4]
	assert.Equal(t, "TH10_CD1_B2_C3", chunk.Values["chunk_map"])
	assert.Equal(t, "a;b;c", chunk.Values["keywords"])
	assert.Equal(t, 2, chunk.Index)
	assert.NotContains(t, chunk.Values, "lesson_ref")

	rep, err := New(newMemDocs(), nil, nil).Run(context.Background(), rows, Options{})
	require.NoError(t, err)
	assert.Empty(t, rep.Errors)
	assert.Equal(t, Counts{Inserted: 1}, rep.Chunks)
	assert.Equal(t, Counts{Inserted: 3}, rep.Keywords)
}

func TestParseWorkbookDirectMapsOnLevelSheets(t *testing.T) {
	buf := buildWorkbook(t, map[string][][]any{
		"chunk": {{"chunkID", "chunkName"}, {"TH11_CD2_B1_C4", "Direct"}},
	}, "chunk")
	rows, err := ParseWorkbook(buf)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "TH11_CD2_B1_C4", rows[0].Values["chunk_map"])
	assert.NotContains(t, rows[0].Values, "chunkID")
}

func TestParseWorkbookKeepsLevelRowsWithoutID(t *testing.T) {
	buf := buildWorkbook(t, map[string][][]any{
		"topic": {{"topic_map", "topic_name"}, {"TH10_CD1", "Máy tính"}, {"", "Không mã"}},
	}, "topic")
	rows, err := ParseWorkbook(buf)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "TH10_CD1", rows[0].Values["topic_map"])
	assert.NotContains(t, rows[1].Values, "topic_map")
	assert.Equal(t, "Không mã", rows[1].Values["topic_name"])

	rep, err := New(newMemDocs(), nil, nil).Run(context.Background(), rows, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Processed)
	assert.Equal(t, Counts{Inserted: 1}, rep.Topics)
	require.Len(t, rep.Errors, 1)
	assert.Equal(t, StageValidate, rep.Errors[0].Stage)
	assert.Equal(t, "topic", rep.Errors[0].Sheet)
	assert.Equal(t, 3, rep.Errors[0].Row)
}

func TestParseWorkbookErrors(t *testing.T) {
	_, err := ParseWorkbook(strings.NewReader("not a workbook"))
	assert.ErrorIs(t, err, ErrUnreadableWorkbook)

	buf := buildWorkbook(t, map[string][][]any{"Sheet1": {{"chunk_map", "chunkName"}}}, "Sheet1")
	_, err = ParseWorkbook(buf)
	assert.ErrorIs(t, err, ErrEmptyWorkbook)
}

func TestGuesses(t *testing.T) {
	assert.Equal(t, "L11", guessClass(map[string]string{"class_map": "l11"}))
	assert.Equal(t, "L12", guessClass(map[string]string{"import_key": "x", "className": "Khối 12"}))
	assert.Equal(t, "x", guessClass(map[string]string{"import_key": "x"}))

	assert.Equal(t, "HOA12-NC", guessSubject(map[string]string{"subject_map": "HOA12-NC"}))
	assert.Equal(t, "TH11", guessSubject(map[string]string{"import_key": "tin_l11"}))
}

func TestParseJSON(t *testing.T) {
	rows, err := ParseJSON([]byte(`[{"chunk_map":"TH10_CD1_B1_C1","keywords":["a"," b ",""],"_row":7},{"subject_map":"TH10","order":3}]`))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 7, rows[0].Index)
	assert.Equal(t, "a;b", rows[0].Values["keywords"])
	assert.NotContains(t, rows[0].Values, "_row")
	assert.Equal(t, 2, rows[1].Index)
	assert.Equal(t, "3", rows[1].Values["order"])

	rows, err = ParseJSON([]byte(`{"chunks":[{"chunkID":"TH10_CD1_B1_C1"}],"classes":[{"classID":"L10"}]}`))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "L10", rows[0].Values["classID"])

	_, err = ParseJSON([]byte(`  `))
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = ParseJSON([]byte(`{"rows":[]}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = ParseJSON([]byte(`{"rows":`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
