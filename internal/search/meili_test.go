package search

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestMeiliSearchSendsQueryText(t *testing.T) {
	var mu sync.Mutex
	var multiSearchBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/health":
			_, _ = w.Write([]byte(`{"status":"available"}`))
		case "/multi-search":
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			multiSearchBody = string(body)
			mu.Unlock()
			_, _ = w.Write([]byte(`{"results":[]}`))
		default:
			// Index creation and settings calls during configuration.
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	m := NewMeili(srv.URL, "")
	defer m.Close()

	if !m.Healthy() {
		t.Fatal("meili reported unhealthy against test server")
	}
	if _, _, err := m.Search(Query{Text: "merger brief"}); err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	mu.Lock()
	body := multiSearchBody
	mu.Unlock()
	if !strings.Contains(body, `"q":"merger brief"`) {
		t.Errorf("multi-search request missing query text: %s", body)
	}
}
