package medicine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// fencedJSON matches the first ```json ... ``` block; the interior is group 1.
var fencedJSON = regexp.MustCompile("(?s)```json\\r?\\n(.*?)\\r?\\n```")

var (
	errNotObject    = errors.New("model output is not a JSON object")
	errTrailingData = errors.New("trailing data after JSON object")
)

// Result is the normalized form of one model response.
type Result struct {
	// Data is the value relayed to the client: the parsed object, a coerced
	// Record in strict mode, or the placeholder Record.
	Data any
	// Parsed reports whether the model output contained a JSON object.
	Parsed bool
	// Err is the parse failure when Parsed is false.
	Err error
}

// Extract returns the JSON object carried by raw model output. A fenced json
// block takes precedence; without one the whole text must be an object.
func Extract(raw string) (map[string]any, error) {
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		obj, err := decodeObject(m[1])
		if err != nil {
			return nil, fmt.Errorf("fenced block: %w", err)
		}
		return obj, nil
	}
	return decodeObject(raw)
}

// Normalize passes the extracted object through unchanged, or falls back to
// the placeholder record when extraction fails.
func Normalize(raw string) Result {
	obj, err := Extract(raw)
	if err != nil {
		return Result{Data: Placeholder(), Err: err}
	}
	return Result{Data: obj, Parsed: true}
}

// NormalizeStrict behaves like Normalize but coerces parsed objects onto
// the eight record fields.
func NormalizeStrict(raw string) Result {
	obj, err := Extract(raw)
	if err != nil {
		return Result{Data: Placeholder(), Err: err}
	}
	return Result{Data: Coerce(obj), Parsed: true}
}

// Coerce maps an arbitrary object onto a Record. Unknown keys are dropped and
// missing or empty fields become NotAvailable.
func Coerce(obj map[string]any) Record {
	rec := Unknown()
	for _, key := range Fields {
		if s := stringify(obj[key]); s != "" {
			rec.set(key, s)
		}
	}
	return rec
}

func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if obj == nil {
		return nil, errNotObject
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return obj, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := stringify(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
