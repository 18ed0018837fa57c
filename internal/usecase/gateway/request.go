package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"mpsdash/internal/errs"
)

const cacheKeyPrefix = "api_response:"

func normalizeMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return http.MethodPost
	}
	return method
}

func normalizePath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

// validatePath keeps resolved URLs under the base path.
func validatePath(path string) error {
	if path == "" {
		return &errs.ValidationError{Field: "path"}
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == "." || segment == ".." {
			return &errs.ValidationError{Field: "path", Reason: "dot segments are not allowed"}
		}
	}
	return nil
}

// validateRequired fails on the first required field that is absent, nil,
// a blank string or an empty collection. Zero numbers and false count as
// present.
func validateRequired(body map[string]any, fields []string) error {
	for _, field := range fields {
		v, ok := body[field]
		if !ok || isEmptyValue(v) {
			return &errs.ValidationError{Field: field}
		}
	}
	return nil
}

func isEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// CacheKey identifies one upstream call. The method is part of the key so a
// GET and a POST with the same parameters never share an entry.
func CacheKey(method string, path string, body map[string]any) (string, error) {
	canonical, err := canonicalJSON(body)
	if err != nil {
		return "", err
	}
	return cacheKey(method, path, canonical), nil
}

func cacheKey(method string, path string, canonical []byte) string {
	sum := sha256.Sum256([]byte(normalizeMethod(method) + "\n" + normalizePath(path) + "\n" + string(canonical)))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// canonicalJSON relies on encoding/json sorting map keys at every level.
// A body that cannot be encoded (NaN, channels, cycles) is a validation
// failure on "body".
func canonicalJSON(body map[string]any) ([]byte, error) {
	if body == nil {
		body = map[string]any{}
	}
	out, err := json.Marshal(body)
	if err != nil {
		return nil, &errs.ValidationError{Field: "body", Reason: "not encodable as JSON", Err: err}
	}
	return out, nil
}

// encodeQuery folds a body into a query string the way PHP-style backends
// expect it: nested maps as a[b]=v, lists as a[0]=v, booleans as 1/0, nil
// values dropped.
func encodeQuery(body map[string]any) string {
	values := url.Values{}
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		flattenQuery(values, k, body[k])
	}
	return values.Encode()
}

func flattenQuery(values url.Values, key string, v any) {
	switch x := v.(type) {
	case nil:
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenQuery(values, key+"["+k+"]", x[k])
		}
	case []any:
		for i, item := range x {
			flattenQuery(values, key+"["+strconv.Itoa(i)+"]", item)
		}
	case []string:
		for i, item := range x {
			values.Add(key+"["+strconv.Itoa(i)+"]", item)
		}
	case string:
		values.Add(key, x)
	case bool:
		if x {
			values.Add(key, "1")
		} else {
			values.Add(key, "0")
		}
	case float64:
		values.Add(key, strconv.FormatFloat(x, 'f', -1, 64))
	case float32:
		values.Add(key, strconv.FormatFloat(float64(x), 'f', -1, 32))
	case json.Number:
		values.Add(key, x.String())
	default:
		values.Add(key, fmt.Sprint(x))
	}
}

// upstreamMessage pulls a human readable message out of an error body.
func upstreamMessage(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err == nil {
		for _, field := range []string{"Message", "message", "error_description", "error"} {
			if msg := messageField(doc[field]); msg != "" {
				return msg
			}
		}
	}

	if trimmed == "" {
		return http.StatusText(status)
	}
	const maxRaw = 512
	if len(trimmed) > maxRaw {
		trimmed = trimmed[:maxRaw] + "..."
	}
	return trimmed
}

func messageField(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case map[string]any:
		return messageField(x["message"])
	}
	return ""
}
