package translate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestTranslate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/translate" {
			t.Errorf("path: %s", r.URL.Path)
		}
		var req struct {
			Text       string `json:"text"`
			SourceLang string `json:"source_lang"`
			TargetLang string `json:"target_lang"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		if req.Text != "hello" || req.SourceLang != "en" || req.TargetLang != "de" {
			t.Errorf("request: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]string{"translation": "hallo"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	out, err := c.Translate("hello", "en", "de")
	if err != nil {
		t.Fatal(err)
	}
	if out != "hallo" {
		t.Fatalf("translation: %q", out)
	}
}

func TestTranslateServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Translate("hello", "en", "de"); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestTranslateParallelFallsBack(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			TargetLang string `json:"target_lang"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.TargetLang == "fr" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"translation": "uebersetzt"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	out := c.TranslateParallel("hello", "en", []string{"de", "fr", "en"})

	if len(out) != 3 {
		t.Fatalf("results: %+v", out)
	}
	if out["de"] != "uebersetzt" {
		t.Fatalf("de: %q", out["de"])
	}
	// Failure falls back to the original text.
	if out["fr"] != "hello" {
		t.Fatalf("fr: %q", out["fr"])
	}
	// Matching source is passed through without a request.
	if out["en"] != "hello" {
		t.Fatalf("en: %q", out["en"])
	}
	if calls.Load() != 2 {
		t.Fatalf("service calls: %d", calls.Load())
	}
}

func TestBaseLang(t *testing.T) {
	cases := map[string]string{
		"en-US": "en",
		"de-DE": "de",
		"fr":    "fr",
		"":      "",
	}
	for in, want := range cases {
		if got := BaseLang(in); got != want {
			t.Errorf("BaseLang(%q) = %q, want %q", in, got, want)
		}
	}
}
