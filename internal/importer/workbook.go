package importer

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"edu-data-console/internal/mapid"
)

var (
	ErrUnreadableWorkbook = errors.New("unreadable workbook")
	ErrEmptyWorkbook      = errors.New("workbook has no data rows")
)

const keywordSheet = "keyword"

// sheetRow is a keyed data row; index is the 1-based spreadsheet row.
type sheetRow struct {
	sheet  string
	index  int
	values map[string]string
}

// ParseWorkbook reads an .xlsx upload into import rows. A workbook with any
// of the class, subject, topic, lesson, chunk or keyword sheets is read per
// level; otherwise its first sheet is a flat row list.
func ParseWorkbook(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableWorkbook, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyWorkbook
	}

	byLevel := make(map[string][]sheetRow)
	for _, name := range sheets {
		key := strings.ToLower(strings.TrimSpace(name))
		if !isLevelSheet(key) {
			continue
		}
		rows, err := readSheet(f, name)
		if err != nil {
			return nil, err
		}
		byLevel[key] = append(byLevel[key], rows...)
	}

	var out []Row
	if len(byLevel) == 0 {
		rows, err := readSheet(f, sheets[0])
		if err != nil {
			return nil, err
		}
		for _, sr := range rows {
			out = append(out, Row{Sheet: sr.sheet, Index: sr.index, Values: sr.values})
		}
	} else {
		out = resolveLevelSheets(byLevel)
	}

	if len(out) == 0 {
		return nil, ErrEmptyWorkbook
	}
	sortByLevel(out)
	return out, nil
}

func isLevelSheet(name string) bool {
	if name == keywordSheet {
		return true
	}
	for _, l := range mapid.Levels {
		if name == l.String() {
			return true
		}
	}
	return false
}

func readSheet(f *excelize.File, sheet string) ([]sheetRow, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: sheet %q: %v", ErrUnreadableWorkbook, sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}

	var out []sheetRow
	for i, cells := range rows[1:] {
		values := make(map[string]string, len(headers))
		blank := true
		for j, cell := range cells {
			if j >= len(headers) || headers[j] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell != "" {
				blank = false
			}
			values[headers[j]] = cell
		}
		if blank {
			continue
		}
		out = append(out, sheetRow{sheet: sheet, index: i + 2, values: values})
	}
	return out, nil
}

var (
	classGuessRe   = regexp.MustCompile(`(?i)^L\d+$`)
	subjectGuessRe = regexp.MustCompile(`(?i)^[A-Z]{1,6}\d+(?:[-_][A-Z0-9]+)?$`)
	gradeRe        = regexp.MustCompile(`(?i)l(10|11|12)`)
)

var (
	topicNumAliases  = []string{"topic_num", "topicNum", "topicNumber"}
	lessonNumAliases = []string{"lesson_num", "lessonNum", "lessonNumber"}
	chunkNumAliases  = []string{"chunk_label", "chunkLabel", "chunk_num", "chunkNum", "chunkNumber"}
	refAliases       = map[mapid.Level][]string{
		mapid.LevelClass:   {"classID", "class_ref", "class_map"},
		mapid.LevelSubject: {"subjectID", "subject_ref", "subject_map"},
		mapid.LevelTopic:   {"topicID", "topic_ref", "topic_map"},
		mapid.LevelLesson:  {"lessonID", "lesson_ref", "lesson_map"},
		mapid.LevelChunk:   {"chunkID", "chunk_ref", "chunk_map"},
	}
)

func guessClass(values map[string]string) string {
	s := value(values, append(mapAliases[mapid.LevelClass], "import_key")...)
	if classGuessRe.MatchString(s) {
		return strings.ToUpper(s)
	}
	name := value(values, "className", "class_name", "class")
	if name == "" {
		name = s
	}
	if c := mapid.ClassFromSubject(name); c != "" {
		return c
	}
	return s
}

func guessSubject(values map[string]string) string {
	s := value(values, append(mapAliases[mapid.LevelSubject], "import_key")...)
	if subjectGuessRe.MatchString(s) {
		return s
	}
	if m := gradeRe.FindStringSubmatch(s); m != nil {
		return "TH" + m[1]
	}
	return s
}

func number(values map[string]string, keys ...string) string {
	v := value(values, keys...)
	if v == "" {
		return ""
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n < 1 {
		return ""
	}
	return strconv.Itoa(int(n))
}

// refs maps legacy import_key values to resolved map IDs per level.
type refs map[mapid.Level]map[string]string

func (r refs) resolve(l mapid.Level, values map[string]string) string {
	ref := value(values, refAliases[l]...)
	if id, ok := r[l][ref]; ok {
		return id
	}
	return ref
}

func (r refs) remember(l mapid.Level, values map[string]string, id string) {
	if k := value(values, "import_key"); k != "" && id != "" {
		r[l][k] = id
	}
}

// levelMap computes the map ID a level-sheet row describes, consulting the
// legacy *_ref and *_num columns when no direct map column is present.
func (r refs) levelMap(l mapid.Level, values map[string]string) string {
	switch l {
	case mapid.LevelClass:
		return guessClass(values)
	case mapid.LevelSubject:
		return guessSubject(values)
	}
	if id := value(values, mapAliases[l]...); id != "" {
		return id
	}
	parent, _ := l.Parent()
	pid := r.resolve(parent, values)
	if pid == "" {
		return ""
	}
	switch l {
	case mapid.LevelTopic:
		if n := number(values, topicNumAliases...); n != "" {
			return mapid.TopicID(pid, n)
		}
	case mapid.LevelLesson:
		if n := number(values, lessonNumAliases...); n != "" {
			return mapid.LessonID(pid, n)
		}
	case mapid.LevelChunk:
		if n := number(values, chunkNumAliases...); n != "" {
			return mapid.ChunkID(pid, n)
		}
	}
	return ""
}

func resolveLevelSheets(byLevel map[string][]sheetRow) []Row {
	r := refs{}
	for _, l := range mapid.Levels {
		r[l] = map[string]string{}
	}
	ids := make(map[mapid.Level][]string)
	for _, l := range mapid.Levels {
		for _, sr := range byLevel[l.String()] {
			id := r.levelMap(l, sr.values)
			r.remember(l, sr.values, id)
			ids[l] = append(ids[l], id)
		}
	}

	grouped := make(map[string][]string)
	for _, sr := range byLevel[keywordSheet] {
		ck := r.resolve(mapid.LevelChunk, sr.values)
		kw := value(sr.values, "keyword", "keyword_name", "keywordName")
		if ck != "" && kw != "" {
			grouped[ck] = append(grouped[ck], kw)
		}
	}

	var out []Row
	for _, l := range mapid.Levels {
		for i, sr := range byLevel[l.String()] {
			id := ids[l][i]
			values := canonicalValues(sr.values)
			if id == "" {
				// No map column: the engine rejects it with its sheet and row.
				out = append(out, Row{Sheet: sr.sheet, Index: sr.index, Values: values})
				continue
			}
			values[mapAliases[l][0]] = id
			if l == mapid.LevelSubject {
				if c := r.resolve(mapid.LevelClass, sr.values); c != "" {
					values[mapAliases[mapid.LevelClass][0]] = c
				}
			}
			if l == mapid.LevelChunk {
				kws := append(ParseKeywords(value(sr.values, keywordAliases...)), grouped[id]...)
				if kws = uniqueStrings(kws); len(kws) > 0 {
					values["keywords"] = strings.Join(kws, ";")
				}
			}
			out = append(out, Row{Sheet: sr.sheet, Index: sr.index, Values: values})
		}
	}
	return out
}

// canonicalValues copies a row without its identifier and reference columns;
// the resolved map ID is set afterwards.
func canonicalValues(in map[string]string) map[string]string {
	drop := map[string]bool{"import_key": true}
	for _, l := range mapid.Levels {
		for _, k := range mapAliases[l] {
			drop[strings.ToLower(k)] = true
		}
		for _, k := range refAliases[l] {
			drop[strings.ToLower(k)] = true
		}
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if !drop[strings.ToLower(k)] {
			out[k] = v
		}
	}
	return out
}

func sortByLevel(rows []Row) {
	rank := func(r Row) int {
		if l, _, ok := deepest(r.Values); ok {
			return int(l)
		}
		return int(mapid.LevelKeyword)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rank(rows[i]) < rank(rows[j]) })
}
