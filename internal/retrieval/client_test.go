package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dansasser/multi-corpus-governance-agent/internal/contextpack"
)

func TestRetrieveProjectsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("auth header = %q", got)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["query"] != "claim to check" {
			t.Errorf("query = %v", req["query"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"text": "Verified fact.", "source_id": "doc-42", "url": "https://example.com/42"},
				{"text": "", "source_id": "empty"},
			},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "key-1"}, nil)
	snippets, err := c.Retrieve(context.Background(), "claim to check")
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(snippets) != 1 {
		t.Fatalf("snippet count = %d", len(snippets))
	}
	sn := snippets[0]
	if sn.Origin != contextpack.OriginExternal {
		t.Fatalf("origin = %s", sn.Origin)
	}
	if sn.Attribution != "retrieval:doc-42" {
		t.Fatalf("attribution = %s", sn.Attribution)
	}
}

func TestRetrieveNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	if _, err := c.Retrieve(context.Background(), "anything"); err == nil {
		t.Fatal("expected error on non-2xx")
	}
}

func TestRetrieveMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	if _, err := c.Retrieve(context.Background(), "anything"); err == nil {
		t.Fatal("expected error on malformed body")
	}
}
