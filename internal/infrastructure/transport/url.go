package transport

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
)

// ISOTimeFormat renders query times as UTC ISO-8601 with milliseconds.
const ISOTimeFormat = "2006-01-02T15:04:05.000Z"

// FormatURL builds the request URL for a model. An explicit override wins
// over the "{type}[/{id}]" template; the query is appended in either case.
func FormatURL(modelKey, id, override string, query any) string {
	u := override
	if u == "" {
		u = modelKey
		if id != "" {
			u += "/" + id
		}
	}
	if q := EncodeQuery(query); q != "" {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + q
	}
	return u
}

// EncodeQuery serializes a query given as a string, url.Values or a map.
// Map keys are sorted; time values use ISOTimeFormat.
func EncodeQuery(query any) string {
	switch q := query.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimPrefix(q, "?")
	case url.Values:
		return q.Encode()
	case map[string]string:
		values := make(map[string]any, len(q))
		for k, v := range q {
			values[k] = v
		}
		return encodeMap(values)
	case map[string]any:
		return encodeMap(q)
	case entity.Object:
		values := make(map[string]any, len(q))
		for k, v := range q {
			values[k] = v
		}
		return encodeMap(values)
	}
	return ""
}

func encodeMap(values map[string]any) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(queryValue(values[k])))
	}
	return strings.Join(parts, "&")
}

func queryValue(v any) string {
	switch typed := v.(type) {
	case nil, entity.Null:
		return ""
	case time.Time:
		return typed.UTC().Format(ISOTimeFormat)
	case *time.Time:
		if typed == nil {
			return ""
		}
		return typed.UTC().Format(ISOTimeFormat)
	case entity.Time:
		return typed.UTC().Format(ISOTimeFormat)
	case entity.String:
		return string(typed)
	case entity.Number:
		return fmt.Sprint(float64(typed))
	case entity.Bool:
		return fmt.Sprint(bool(typed))
	case fmt.Stringer:
		return typed.String()
	}
	return fmt.Sprint(v)
}
