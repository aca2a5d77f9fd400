package importer

import (
	"regexp"
	"strings"

	"edu-data-console/internal/mapid"
	"edu-data-console/models"
)

// Column aliases accepted for each field. The first non-empty match wins.
var (
	mapAliases = map[mapid.Level][]string{
		mapid.LevelClass:   {"class_map", "classID", "class_id", "classMap"},
		mapid.LevelSubject: {"subject_map", "subjectID", "subject_id", "subjectMap"},
		mapid.LevelTopic:   {"topic_map", "topicID", "topic_id", "topicMap"},
		mapid.LevelLesson:  {"lesson_map", "lessonID", "lesson_id", "lessonMap"},
		mapid.LevelChunk:   {"chunk_map", "chunkID", "chunk_id", "chunkMap"},
	}
	nameAliases = map[mapid.Level][]string{
		mapid.LevelClass:   {"className", "class_name"},
		mapid.LevelSubject: {"subjectName", "subject_name"},
		mapid.LevelTopic:   {"topicName", "topic_name"},
		mapid.LevelLesson:  {"lessonName", "lesson_name"},
		mapid.LevelChunk:   {"chunkName", "chunk_name"},
	}
	urlAliases = map[mapid.Level][]string{
		mapid.LevelSubject: {"subjectUrl", "subject_url"},
		mapid.LevelTopic:   {"topicUrl", "topic_url"},
		mapid.LevelLesson:  {"lessonUrl", "lesson_url"},
		mapid.LevelChunk:   {"chunkUrl", "chunk_url"},
	}
	subjectTitleAliases = []string{"subjectTitle", "subject_title", "subject_type"}
	lessonTypeAliases   = []string{"lessonType", "lesson_type"}
	chunkTypeAliases    = []string{"chunkType", "chunk_type"}
	descriptionAliases  = []string{"chunkDescription", "chunk_description", "chunk_des"}
	keywordAliases      = []string{"keywords", "keyword"}
	statusAliases       = []string{"status"}
)

// value returns the first non-empty value among keys, matching exact keys
// before case-insensitive ones.
func value(values map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(values[k]); v != "" {
			return v
		}
	}
	for _, k := range keys {
		for hk, hv := range values {
			if strings.EqualFold(hk, k) {
				if v := strings.TrimSpace(hv); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

// deepest finds the most specific map identifier on the row.
func deepest(values map[string]string) (mapid.Level, string, bool) {
	for l := mapid.LevelChunk; l >= mapid.LevelClass; l-- {
		if id := value(values, mapAliases[l]...); id != "" {
			return l, id, true
		}
	}
	return 0, "", false
}

// rowCategory resolves the category for a row: the row's own value, then a
// category column, then the batch fallback.
func rowCategory(r Row, level mapid.Level, fallback models.Category) models.Category {
	if strings.TrimSpace(r.Category) != "" {
		return models.NormalizeCategory(r.Category)
	}
	name := level.String()
	if v := value(r.Values, "category", name+"Category", name+"_category"); v != "" {
		return models.NormalizeCategory(v)
	}
	if fallback == "" {
		return models.CategoryDocument
	}
	return fallback
}

var keywordSplit = regexp.MustCompile(`[;,\n\r\t]+`)

// ParseKeywords splits a keyword cell on ; , tab or newline, dropping blanks
// and duplicates while keeping order.
func ParseKeywords(s string) []string {
	return uniqueStrings(keywordSplit.Split(s, -1))
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// attrs are the mutable, non-key fields a row carries for one level.
type attrs struct {
	name, title, kind, url, description, status string
	keywords                                    []string
}

func levelAttrs(values map[string]string, l, rowLevel mapid.Level) attrs {
	a := attrs{name: value(values, nameAliases[l]...)}
	if aliases, ok := urlAliases[l]; ok {
		a.url = value(values, aliases...)
		if a.url == "" && l == rowLevel {
			a.url = value(values, "url")
		}
	}
	switch l {
	case mapid.LevelSubject:
		a.title = value(values, subjectTitleAliases...)
	case mapid.LevelLesson:
		a.kind = value(values, lessonTypeAliases...)
	case mapid.LevelChunk:
		a.kind = value(values, chunkTypeAliases...)
		a.description = value(values, descriptionAliases...)
		a.keywords = ParseKeywords(value(values, keywordAliases...))
	}
	if l == rowLevel {
		a.status = value(values, statusAliases...)
	}
	return a
}
