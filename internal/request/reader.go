// Package request reads submitted parameters from form-encoded and JSON
// request bodies with nested-path lookup.
package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ErrBadRequest is returned for malformed payloads or when a path resolves to
// a non-scalar value.
var ErrBadRequest = errors.New("bad request")

// Values holds the parsed parameters of one request. Parse once per request;
// the underlying body is consumed.
type Values struct {
	form map[string][]string
	json map[string]any
}

// Parse reads the request parameters. JSON bodies (Content-Type
// application/json) are decoded into a generic object; everything else goes
// through standard form parsing (query string plus POST body).
func Parse(r *http.Request) (*Values, error) {
	ct := r.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.TrimSpace(ct)
	if ct == "application/json" {
		var obj map[string]any
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("%w: malformed JSON body", ErrBadRequest)
		}
		return &Values{json: obj}, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return &Values{form: map[string][]string(r.Form)}, nil
}

// Get resolves path to a scalar string value. Paths address nested values as
// "challenge.code" or "challenge[code]"; both notations are equivalent. For
// form bodies the full bracket form is also tried verbatim, matching how HTML
// forms post nested field names. Missing values return ("", nil); only
// structural problems are errors.
func (v *Values) Get(path string) (string, error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return "", fmt.Errorf("%w: empty parameter path", ErrBadRequest)
	}
	if v.json != nil {
		return getJSON(v.json, segments)
	}
	return getForm(v.form, path, segments), nil
}

func getForm(form map[string][]string, raw string, segments []string) string {
	if vals, ok := form[raw]; ok && len(vals) > 0 {
		return vals[0]
	}
	// "a.b.c" posts as a[b][c] from nested form fields.
	if len(segments) > 1 {
		name := segments[0]
		for _, s := range segments[1:] {
			name += "[" + s + "]"
		}
		if vals, ok := form[name]; ok && len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

func getJSON(obj map[string]any, segments []string) (string, error) {
	var current any = obj
	for i, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return "", fmt.Errorf("%w: %q is not an object", ErrBadRequest, strings.Join(segments[:i], "."))
		}
		current, ok = m[seg]
		if !ok {
			return "", nil
		}
	}
	switch val := current.(type) {
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("%w: %q is not a scalar", ErrBadRequest, strings.Join(segments, "."))
	}
}

// splitPath breaks "a.b", "a[b]" and mixtures of both into segments.
func splitPath(path string) []string {
	var segments []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			segments = append(segments, cur.String())
			cur.Reset()
		}
	}
	for _, r := range path {
		switch r {
		case '.', '[', ']':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return segments
}
