package mapid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChunk(t *testing.T) {
	c, err := ParseChunk("TH10_CD1_B2_C3")
	require.NoError(t, err)
	assert.Equal(t, LevelChunk, c.Level)
	assert.Equal(t, "L10", c.Class)
	assert.Equal(t, "TH10", c.Subject)
	assert.Equal(t, "TH10_CD1", c.Topic)
	assert.Equal(t, "TH10_CD1_B2", c.Lesson)
	assert.Equal(t, "TH10_CD1_B2_C3", c.Chunk)
	assert.Equal(t, "1", c.TopicNumber)
	assert.Equal(t, "2", c.LessonNumber)
	assert.Equal(t, "3", c.ChunkNumber)
	assert.Equal(t, "TH10_CD1_B2_C3", c.Deepest())
}

func TestParseChunkLowercaseTokensAreCanonicalised(t *testing.T) {
	c, err := ParseChunk("th10_cd4_b5_c6")
	require.NoError(t, err)
	assert.Equal(t, "th10", c.Subject)
	assert.Equal(t, "th10_CD4", c.Topic)
	assert.Equal(t, "th10_CD4_B5", c.Lesson)
	assert.Equal(t, "L10", c.Class)
}

func TestParseChunkSubjectWithUnderscores(t *testing.T) {
	c, err := ParseChunk("HOA_NC12_CD2_B1_C10")
	require.NoError(t, err)
	assert.Equal(t, "HOA_NC12", c.Subject)
	assert.Equal(t, "L12", c.Class)
	assert.Equal(t, "HOA_NC12_CD2_B1", c.Lesson)
}

func TestParseLessonAndTopic(t *testing.T) {
	l, err := ParseLesson("TH10_CD3_B7")
	require.NoError(t, err)
	assert.Equal(t, LevelLesson, l.Level)
	assert.Equal(t, "TH10_CD3", l.Topic)
	assert.Empty(t, l.Chunk)

	tp, err := ParseTopic("TH10_CD3")
	require.NoError(t, err)
	assert.Equal(t, LevelTopic, tp.Level)
	assert.Equal(t, "TH10", tp.Subject)
	assert.Empty(t, tp.Lesson)
}

func TestInvalidMaps(t *testing.T) {
	cases := []struct {
		name  string
		level Level
		id    string
	}{
		{"chunk without CD", LevelChunk, "BADMAP"},
		{"chunk missing C", LevelChunk, "TH10_CD1_B1"},
		{"lesson missing B", LevelLesson, "TH10_CD1"},
		{"topic without CD", LevelTopic, "TH10"},
		{"subject without digits", LevelSubject, "TINHOC"},
		{"empty subject", LevelSubject, "  "},
		{"empty class", LevelClass, ""},
		{"non numeric topic", LevelTopic, "TH10_CDx"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Derive(tc.level, tc.id)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidMap)
		})
	}
}

func TestDeriveSubject(t *testing.T) {
	c, err := Derive(LevelSubject, "TH10")
	require.NoError(t, err)
	assert.Equal(t, "L10", c.Class)
	assert.Equal(t, "TH10", c.Deepest())
}

func TestClassFromSubjectUsesLastDigitRun(t *testing.T) {
	assert.Equal(t, "L12", ClassFromSubject("A1B12"))
	assert.Equal(t, "L10", ClassFromSubject("TH10"))
	assert.Equal(t, "", ClassFromSubject("TH"))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "TH10", Join("TH10", "", "", ""))
	assert.Equal(t, "TH10_CD1", Join("TH10", "1", "", ""))
	assert.Equal(t, "TH10_CD1_B2", Join("TH10", "1", "2", ""))
	assert.Equal(t, "TH10_CD1_B2_C3", Join("TH10", "1", "2", "3"))
}

func TestLevelMetadata(t *testing.T) {
	assert.Equal(t, "chunks", LevelChunk.Collection())
	assert.Equal(t, "Lesson", LevelLesson.Label())
	assert.Equal(t, "topicID", LevelTopic.IDField())
	assert.Equal(t, "subjectCategory", LevelSubject.CategoryField())
	assert.Equal(t, "HAS_CHUNK", LevelChunk.Relation())

	p, ok := LevelChunk.Parent()
	assert.True(t, ok)
	assert.Equal(t, LevelLesson, p)
	_, ok = LevelClass.Parent()
	assert.False(t, ok)

	l, ok := ParseLevel("Subjects")
	assert.True(t, ok)
	assert.Equal(t, LevelSubject, l)
}

func TestKeywordIDIsStable(t *testing.T) {
	a := KeywordID("TH10_CD1_B1_C1", "máy tính")
	b := KeywordID("TH10_CD1_B1_C1", "máy tính")
	c := KeywordID("TH10_CD1_B1_C2", "máy tính")
	assert.Len(t, a, 96)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNoClassKeepsChain(t *testing.T) {
	c, err := ParseLesson("TINHOC_CD2_B3")
	require.ErrorIs(t, err, ErrNoClass)
	assert.ErrorIs(t, err, ErrInvalidMap)
	assert.Equal(t, "TINHOC_CD2", c.Topic)
	assert.Equal(t, "TINHOC", c.Subject)
	assert.Empty(t, c.Class)
}
