package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lexops/api/internal/feed"
	"lexops/api/internal/outlook"
	"lexops/api/internal/search"
	"lexops/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	outlook    *outlook.Service
	redisPing  func(ctx context.Context) error
	corsOrigin string
}

// NewHTTPServer builds the API surface. outlookSvc may be nil when the
// integration is not configured; redisPing may be nil when readiness should
// only cover the database.
func NewHTTPServer(service *Service, outlookSvc *outlook.Service, redisPing func(ctx context.Context) error, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, outlook: outlookSvc, redisPing: redisPing, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.URL.Path == "/api/employees" {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListEmployees(r.Context())
			respond(w, http.StatusOK, payload, err)
			return
		case http.MethodPost:
			var payload map[string]any
			if err := decodeBody(r, &payload); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			employee, err := s.service.CreateEmployee(r.Context(), payload)
			respond(w, http.StatusCreated, employee, err)
			return
		}
	}

	parts := splitPath(r.URL.Path)

	// /api/employees/{id}
	if len(parts) == 3 && parts[0] == "api" && parts[1] == "employees" {
		employeeID := parts[2]
		switch r.Method {
		case http.MethodPut:
			var payload map[string]any
			if err := decodeBody(r, &payload); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			employee, err := s.service.UpdateEmployee(r.Context(), employeeID, payload)
			respond(w, http.StatusOK, employee, err)
			return
		case http.MethodDelete:
			err := s.service.DeleteEmployee(r.Context(), employeeID)
			respond(w, http.StatusOK, map[string]any{"ok": true}, err)
			return
		}
	}

	if r.URL.Path == "/api/assignments" {
		switch r.Method {
		case http.MethodGet:
			assignments, err := s.service.ListAssignments(r.Context())
			respond(w, http.StatusOK, assignments, err)
			return
		case http.MethodPost:
			var payload map[string]any
			if err := decodeBody(r, &payload); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			result, err := s.service.CreateAssignment(r.Context(), payload)
			respond(w, http.StatusCreated, result, err)
			return
		}
	}

	// /api/assignments/{id}
	if len(parts) == 3 && parts[0] == "api" && parts[1] == "assignments" {
		assignmentID := parts[2]
		switch r.Method {
		case http.MethodGet:
			detail, err := s.service.GetAssignment(r.Context(), assignmentID)
			respond(w, http.StatusOK, detail, err)
			return
		case http.MethodPut:
			var payload map[string]any
			if err := decodeBody(r, &payload); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			assignment, err := s.service.UpdateAssignment(r.Context(), assignmentID, payload)
			respond(w, http.StatusOK, assignment, err)
			return
		}
	}

	// /api/assignments/{id}/tasks
	if len(parts) == 4 && parts[0] == "api" && parts[1] == "assignments" && parts[3] == "tasks" {
		assignmentID := parts[2]
		switch r.Method {
		case http.MethodGet:
			tasks, err := s.service.ListTasks(r.Context(), assignmentID)
			respond(w, http.StatusOK, tasks, err)
			return
		case http.MethodPost:
			var payload map[string]any
			if err := decodeBody(r, &payload); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			task, err := s.service.CreateTask(r.Context(), assignmentID, payload)
			respond(w, http.StatusCreated, task, err)
			return
		}
	}

	// /api/tasks/{id}
	if len(parts) == 3 && parts[0] == "api" && parts[1] == "tasks" && r.Method == http.MethodPut {
		var payload map[string]any
		if err := decodeBody(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		task, err := s.service.UpdateTask(r.Context(), parts[2], payload)
		respond(w, http.StatusOK, task, err)
		return
	}

	// /api/assignments/{id}/documents
	if len(parts) == 4 && parts[0] == "api" && parts[1] == "assignments" && parts[3] == "documents" {
		assignmentID := parts[2]
		switch r.Method {
		case http.MethodGet:
			files, err := s.service.ListCaseFiles(r.Context(), assignmentID)
			respond(w, http.StatusOK, files, err)
			return
		case http.MethodPost:
			s.handleUpload(w, r, assignmentID)
			return
		}
	}

	// /api/documents/{id} and /api/documents/{id}/download
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "documents" {
		caseFileID := parts[2]
		if len(parts) == 4 && parts[3] == "download" && r.Method == http.MethodGet {
			s.handleDownload(w, r, caseFileID)
			return
		}
		if len(parts) == 3 {
			switch r.Method {
			case http.MethodGet:
				file, err := s.service.GetCaseFile(r.Context(), caseFileID)
				respond(w, http.StatusOK, file, err)
				return
			case http.MethodDelete:
				err := s.service.DeleteCaseFile(r.Context(), caseFileID)
				respond(w, http.StatusOK, map[string]any{"ok": true}, err)
				return
			}
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	// /api/feed/{table}
	if len(parts) == 3 && parts[0] == "api" && parts[1] == "feed" && r.Method == http.MethodGet {
		s.handleFeed(w, r, parts[2])
		return
	}

	if strings.HasPrefix(r.URL.Path, "/api/outlook") {
		s.handleOutlook(w, r)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if s.redisPing != nil {
		checks["redis"] = map[string]any{"status": "ok"}
		if err := s.redisPing(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	filterType := strings.TrimSpace(r.URL.Query().Get("type"))
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		offset = parsed
	}
	writeJSON(w, http.StatusOK, s.service.Search(search.Query{
		Text:       q,
		FilterType: search.ResultType(filterType),
		Limit:      limit,
		Offset:     offset,
	}))
}

// handleFeed streams live snapshots of one table over server-sent events.
// Each change-feed invalidation produces a fresh full snapshot frame; the
// client replaces its copy wholesale, mirroring the view semantics.
func (s *HTTPServer) handleFeed(w http.ResponseWriter, r *http.Request, table string) {
	assignmentID := strings.TrimSpace(r.URL.Query().Get("assignmentId"))
	switch table {
	case "employees":
		streamView(w, r, func(ctx context.Context) (*feed.View[store.Employee], error) {
			return s.service.WatchEmployees(ctx)
		})
	case "assignments":
		streamView(w, r, func(ctx context.Context) (*feed.View[store.Assignment], error) {
			return s.service.WatchAssignments(ctx)
		})
	case "tasks":
		streamView(w, r, func(ctx context.Context) (*feed.View[store.Task], error) {
			return s.service.WatchTasks(ctx, assignmentID)
		})
	case "documents":
		streamView(w, r, func(ctx context.Context) (*feed.View[store.CaseFile], error) {
			return s.service.WatchCaseFiles(ctx, assignmentID)
		})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown feed table", nil)
	}
}

func streamView[T any](w http.ResponseWriter, r *http.Request, open func(ctx context.Context) (*feed.View[T], error)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAM_UNSUPPORTED", "streaming not supported", nil)
		return
	}

	view, err := open(r.Context())
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	defer view.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	writeSSEFrame(w, view.Snapshot())
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case _, more := <-view.Updates():
			if !more {
				return
			}
			writeSSEFrame(w, view.Snapshot())
			flusher.Flush()
		}
	}
}

func writeSSEFrame[T any](w io.Writer, snapshot []T) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		log.Printf("feed stream: marshal snapshot: %v", err)
		return
	}
	fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload)
}

// maxUploadBytes caps multipart memory buffering, not the file size itself.
const maxUploadBytes = 32 << 20

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, assignmentID string) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is required", nil)
		return
	}
	defer file.Close()

	fileType := header.Header.Get("Content-Type")
	if fileType == "" {
		fileType = "application/octet-stream"
	}
	uploaded, err := s.service.UploadCaseFile(
		r.Context(),
		assignmentID,
		header.Filename,
		fileType,
		header.Size,
		file,
		strings.TrimSpace(r.FormValue("uploadedBy")),
		strings.TrimSpace(r.FormValue("description")),
	)
	respond(w, http.StatusCreated, uploaded, err)
}

func (s *HTTPServer) handleDownload(w http.ResponseWriter, r *http.Request, caseFileID string) {
	file, body, err := s.service.DownloadCaseFile(r.Context(), caseFileID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", file.FileType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.FileName))
	if file.FileSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(file.FileSize, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		log.Printf("download %s: stream aborted: %v", caseFileID, err)
	}
}

func (s *HTTPServer) handleOutlook(w http.ResponseWriter, r *http.Request) {
	if s.outlook == nil {
		writeError(w, http.StatusServiceUnavailable, "OUTLOOK_UNAVAILABLE", "Outlook integration not configured", nil)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/outlook":
		var req outlook.Request
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.outlook.Dispatch(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "OUTLOOK_ERROR", err.Error(), nil)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
		return

	case r.Method == http.MethodGet && r.URL.Path == "/api/outlook/authurl":
		if !s.outlook.IsConfigured() {
			writeError(w, http.StatusServiceUnavailable, "OUTLOOK_UNAVAILABLE", "Outlook integration not configured", nil)
			return
		}
		state := strings.TrimSpace(r.URL.Query().Get("state"))
		if state == "" {
			state = randomRequestID()
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": s.outlook.AuthCodeURL(state), "state": state})
		return

	case r.Method == http.MethodGet && r.URL.Path == "/api/outlook/callback":
		payload, err := s.outlook.Callback(r.Context(), r.URL.Query())
		if err != nil {
			var authErr *outlook.AuthError
			if errors.As(err, &authErr) {
				writeError(w, http.StatusBadRequest, "OUTLOOK_AUTH_ERROR", authErr.Error(), map[string]any{"error": authErr.Code})
				return
			}
			writeError(w, http.StatusInternalServerError, "OUTLOOK_ERROR", err.Error(), nil)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
		return

	case r.Method == http.MethodGet && r.URL.Path == "/api/outlook/session":
		connected, err := s.outlook.Connected(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "OUTLOOK_ERROR", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"connected": connected})
		return

	case r.Method == http.MethodPost && r.URL.Path == "/api/outlook/logout":
		if err := s.outlook.Logout(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "OUTLOOK_ERROR", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "STORAGE_ERROR", "Storage error", nil
}
