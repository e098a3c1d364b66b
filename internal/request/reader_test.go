package request

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func parseForm(t *testing.T, body string) *Values {
	t.Helper()
	r := httptest.NewRequest("POST", "/check", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	v, err := Parse(r)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return v
}

func parseJSON(t *testing.T, body string) *Values {
	t.Helper()
	r := httptest.NewRequest("POST", "/check", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	v, err := Parse(r)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return v
}

func TestValues_FormFlatAndBracketed(t *testing.T) {
	v := parseForm(t, "_auth_code=123456&challenge%5Bcode%5D=654321")

	got, err := v.Get("_auth_code")
	if err != nil || got != "123456" {
		t.Errorf("Get(_auth_code) = %q, %v", got, err)
	}
	// Dotted path resolves the bracketed form field.
	got, err = v.Get("challenge.code")
	if err != nil || got != "654321" {
		t.Errorf("Get(challenge.code) = %q, %v", got, err)
	}
	got, err = v.Get("challenge[code]")
	if err != nil || got != "654321" {
		t.Errorf("Get(challenge[code]) = %q, %v", got, err)
	}
}

func TestValues_JSONNestedPaths(t *testing.T) {
	v := parseJSON(t, `{"challenge":{"code":"123456","attempt":2,"remember":true}}`)

	tests := []struct {
		path string
		want string
	}{
		{"challenge.code", "123456"},
		{"challenge[code]", "123456"},
		{"challenge.attempt", "2"},
		{"challenge.remember", "true"},
		{"challenge.missing", ""},
		{"missing.path", ""},
	}
	for _, tc := range tests {
		got, err := v.Get(tc.path)
		if err != nil {
			t.Errorf("Get(%q): %v", tc.path, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Get(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestValues_JSONNonScalarIsBadRequest(t *testing.T) {
	v := parseJSON(t, `{"challenge":{"code":["1","2"]}}`)
	if _, err := v.Get("challenge.code"); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("Get on array err = %v, want ErrBadRequest", err)
	}

	v = parseJSON(t, `{"challenge":"flat"}`)
	if _, err := v.Get("challenge.code"); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("Get through scalar err = %v, want ErrBadRequest", err)
	}
}

func TestParse_MalformedJSONIsBadRequest(t *testing.T) {
	r := httptest.NewRequest("POST", "/check", strings.NewReader(`{"broken`))
	r.Header.Set("Content-Type", "application/json")
	if _, err := Parse(r); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("Parse err = %v, want ErrBadRequest", err)
	}
}

func TestParse_JSONContentTypeWithCharset(t *testing.T) {
	r := httptest.NewRequest("POST", "/check", strings.NewReader(`{"code":"1"}`))
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	v, err := Parse(r)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got, _ := v.Get("code"); got != "1" {
		t.Errorf("Get(code) = %q, want 1", got)
	}
}
