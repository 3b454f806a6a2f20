package refdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPSourceTerms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vocabularies/"+VocabIsolationTypes {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"terms":["E. coli","Proteus","Klebsiella"]}`))
	}))
	defer srv.Close()

	terms, err := NewHTTPSource(srv.URL).Terms(context.Background(), VocabIsolationTypes)
	if err != nil {
		t.Fatalf("terms: %v", err)
	}
	if len(terms) != 3 || terms[0] != "E. coli" {
		t.Fatalf("terms = %v", terms)
	}
}

func TestHTTPSourceMalformedPayload(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing terms", `{"items":["a"]}`},
		{"wrong element type", `{"terms":[1,2]}`},
		{"empty term", `{"terms":[""]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewHTTPSource(srv.URL).Terms(context.Background(), VocabFungalSpecies)
			var malformed MalformedError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedError, got %v", err)
			}
			if malformed.Vocabulary != VocabFungalSpecies {
				t.Fatalf("vocabulary = %q", malformed.Vocabulary)
			}
		})
	}
}

func TestHTTPSourceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL).Terms(context.Background(), VocabScreenedPathogens)
	if err == nil {
		t.Fatalf("expected error on non-200")
	}
	var malformed MalformedError
	if errors.As(err, &malformed) {
		t.Fatalf("transport failures must not look malformed: %v", err)
	}
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(map[string][]string{
		VocabScreenedPathogens: {"Salmonella", "E. coli"},
	})
	terms, err := src.Terms(context.Background(), VocabScreenedPathogens)
	if err != nil || len(terms) != 2 {
		t.Fatalf("terms = %v, %v", terms, err)
	}

	// Returned slice is a copy; caller mutation must not leak back.
	terms[0] = "tampered"
	again, _ := src.Terms(context.Background(), VocabScreenedPathogens)
	if again[0] != "Salmonella" {
		t.Fatalf("static source leaked internal slice")
	}

	if _, err := src.Terms(context.Background(), "unknown"); err == nil {
		t.Fatalf("unknown vocabulary accepted")
	}
}
