package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"lexops/api/internal/feed"
	"lexops/api/internal/outlook"
	"lexops/api/internal/store"
)

func newTestServer(fs *fakeStore) *HTTPServer {
	return NewHTTPServer(newTestService(fs, nil, nil), nil, nil, "*")
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(&fakeStore{})
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestOptionsShortCircuitsWithCORS(t *testing.T) {
	srv := newTestServer(&fakeStore{})
	rec := doRequest(t, srv.Handler(), http.MethodOptions, "/api/employees", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q", got)
	}
}

func TestCreateEmployeeValidationEnvelope(t *testing.T) {
	srv := newTestServer(&fakeStore{})
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/employees", `{"name":"Dana"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid error body: %v", err)
	}
	if body["code"] != "VALIDATION_ERROR" {
		t.Errorf("code = %v", body["code"])
	}
	if _, ok := body["error"]; !ok {
		t.Error("missing error message")
	}
}

func TestCreateAssignmentReturnsSeedWarning(t *testing.T) {
	fs := &fakeStore{
		insertAssignmentFn: func(_ context.Context, row map[string]any) (store.Assignment, error) {
			return store.Assignment{ID: "A1", Title: "Draft NDA", DueDate: "2025-06-01"}, nil
		},
		insertTaskFn: func(context.Context, map[string]any) (store.Task, error) {
			return store.Task{}, errors.New("tasks table unavailable")
		},
	}
	srv := newTestServer(fs)
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/assignments",
		`{"title":"Draft NDA","dueDate":"2025-06-01"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body CreateAssignmentResult
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.Assignment.ID != "A1" {
		t.Errorf("assignment id = %q", body.Assignment.ID)
	}
	if body.Warning == "" {
		t.Error("expected seed warning in response")
	}
}

func TestTaskUpdateRoute(t *testing.T) {
	var updatedID string
	fs := &fakeStore{
		getTaskFn: func(_ context.Context, id string) (store.Task, error) {
			return store.Task{ID: id, AssignmentID: "A1", Status: "todo"}, nil
		},
		updateTaskFn: func(_ context.Context, id string, row map[string]any) error {
			updatedID = id
			return nil
		},
	}
	srv := newTestServer(fs)
	rec := doRequest(t, srv.Handler(), http.MethodPut, "/api/tasks/T1", `{"status":"in-progress"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if updatedID != "T1" {
		t.Errorf("updated id = %q", updatedID)
	}
}

func TestMissingRowMapsToNotFound(t *testing.T) {
	srv := newTestServer(&fakeStore{})
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/documents/D-missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestOutlookUnconfiguredReturns503(t *testing.T) {
	srv := newTestServer(&fakeStore{})
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/outlook", `{"action":"emails"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownRouteEnvelope(t *testing.T) {
	srv := newTestServer(&fakeStore{})
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "NOT_FOUND") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestFeedStreamUnavailableWithoutRedis(t *testing.T) {
	srv := newTestServer(&fakeStore{})
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/feed/tasks", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "FEED_UNAVAILABLE") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestFeedStreamRelaysSnapshots(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var mu sync.Mutex
	rows := []store.Task{{ID: "t1", AssignmentID: "A1", Title: "Draft motion"}}
	fs := &fakeStore{
		listTasksFn: func(_ context.Context, assignmentID string) ([]store.Task, error) {
			if assignmentID != "A1" {
				t.Errorf("assignmentID = %q", assignmentID)
			}
			mu.Lock()
			defer mu.Unlock()
			return append([]store.Task(nil), rows...), nil
		},
	}
	service := &Service{store: fs, blobs: &fakeBlobs{}, events: &fakePublisher{}, feed: client}
	srv := NewHTTPServer(service, nil, nil, "*")

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/feed/tasks?assignmentId=A1")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}

	reader := bufio.NewReader(resp.Body)
	first := readSSEData(t, reader)
	if !strings.Contains(first, "Draft motion") {
		t.Fatalf("initial frame = %s", first)
	}

	mu.Lock()
	rows = append(rows, store.Task{ID: "t2", AssignmentID: "A1", Title: "File motion"})
	mu.Unlock()
	feed.NewPublisher(client).Publish(context.Background(), feed.Event{
		Table: "tasks", Op: feed.OpInsert, RowID: "t2", AssignmentID: "A1",
	})

	second := readSSEData(t, reader)
	if !strings.Contains(second, "File motion") {
		t.Errorf("updated frame = %s", second)
	}
}

// readSSEData scans the stream for the next data line of a snapshot frame.
func readSSEData(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	type lineResult struct {
		line string
		err  error
	}
	for {
		ch := make(chan lineResult, 1)
		go func() {
			line, err := reader.ReadString('\n')
			ch <- lineResult{line, err}
		}()
		select {
		case res := <-ch:
			if res.err != nil {
				t.Fatalf("read stream: %v", res.err)
			}
			if strings.HasPrefix(res.line, "data: ") {
				return strings.TrimSpace(strings.TrimPrefix(res.line, "data: "))
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a snapshot frame")
		}
	}
}

func TestOutlookCallbackErrorParamShortCircuits(t *testing.T) {
	calls := 0
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"access_token":"never"}`))
	}))
	defer provider.Close()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	outlookSvc := outlook.NewService(outlook.Config{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		TokenURL:     provider.URL,
	}, outlook.NewSessionStore(client))
	srv := NewHTTPServer(newTestService(&fakeStore{}, nil, nil), outlookSvc, nil, "*")

	rec := doRequest(t, srv.Handler(), http.MethodGet,
		"/api/outlook/callback?error=access_denied&error_description=declined", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "OUTLOOK_AUTH_ERROR") {
		t.Errorf("body = %s", rec.Body.String())
	}
	if calls != 0 {
		t.Errorf("token endpoint called %d times on the error path, want 0", calls)
	}
}
