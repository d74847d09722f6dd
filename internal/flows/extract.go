package flows

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)\\s*```")

// extractJSONObject находит JSON-объект в ответе модели.
// Порядок: весь ответ, блоки ```json```, затем диапазон от первой { до последней }.
// Возвращает пустую строку, если валидного объекта нет.
func extractJSONObject(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if isJSONObject(raw) {
		return raw
	}

	for _, m := range fencedBlockRe.FindAllStringSubmatch(raw, -1) {
		if candidate := strings.TrimSpace(m[1]); isJSONObject(candidate) {
			return candidate
		}
	}

	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first != -1 && last > first {
		if candidate := raw[first : last+1]; isJSONObject(candidate) {
			return candidate
		}
	}
	return ""
}

func isJSONObject(s string) bool {
	return strings.HasPrefix(s, "{") && json.Valid([]byte(s))
}
