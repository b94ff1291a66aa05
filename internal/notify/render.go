package notify

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"reportflow/internal/domain"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_.\-]+)\}`)

// Render substitutes {key} placeholders in tmpl with values from data.
// Dotted keys walk nested maps. A key that cannot be resolved renders as
// <missing:key>. Maps and slices render as JSON with sorted keys.
func Render(tmpl string, data map[string]any) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := lookup(data, key)
		if !ok {
			return "<missing:" + key + ">"
		}
		return format(v)
	})
}

// templateData is the data points of s plus the reserved keys
// report_type and generated_at, which data points cannot override.
func templateData(s domain.ReportSnapshot) map[string]any {
	data := make(map[string]any, len(s.DataPoints)+2)
	for k, v := range s.DataPoints {
		data[k] = v
	}
	data["report_type"] = string(s.Type)
	data["generated_at"] = s.GeneratedAt.UTC().Format(time.RFC3339)
	return data
}

func lookup(data map[string]any, key string) (any, bool) {
	if v, ok := data[key]; ok {
		return v, true
	}
	parts := strings.Split(key, ".")
	var cur any = data
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func format(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
