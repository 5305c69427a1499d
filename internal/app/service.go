package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"lexops/api/internal/adapter"
	"lexops/api/internal/blob"
	"lexops/api/internal/email"
	"lexops/api/internal/feed"
	"lexops/api/internal/search"
	"lexops/api/internal/store"
)

type dataStore interface {
	ListEmployees(context.Context) ([]store.Employee, error)
	GetEmployee(context.Context, string) (store.Employee, error)
	InsertEmployee(context.Context, map[string]any) (store.Employee, error)
	UpdateEmployee(context.Context, string, map[string]any) error
	DeleteEmployee(context.Context, string) error
	ListAssignments(context.Context) ([]store.Assignment, error)
	GetAssignment(context.Context, string) (store.Assignment, error)
	AssignmentExists(context.Context, string) (bool, error)
	InsertAssignment(context.Context, map[string]any) (store.Assignment, error)
	UpdateAssignment(context.Context, string, map[string]any) error
	ListTasks(context.Context, string) ([]store.Task, error)
	GetTask(context.Context, string) (store.Task, error)
	InsertTask(context.Context, map[string]any) (store.Task, error)
	UpdateTask(context.Context, string, map[string]any) error
	ListCaseFiles(context.Context, string) ([]store.CaseFile, error)
	GetCaseFile(context.Context, string) (store.CaseFile, error)
	InsertCaseFile(context.Context, map[string]any) (store.CaseFile, error)
	DeleteCaseFile(context.Context, string) error
	Ping(ctx context.Context) error
}

type blobStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

type eventPublisher interface {
	Publish(ctx context.Context, event feed.Event)
}

type Service struct {
	store  dataStore
	blobs  blobStore
	events eventPublisher
	feed   *redis.Client
	search *search.Service
	email  *email.Service
}

// New wires the service. feedClient, search and email may be nil when not
// configured.
func New(dataStore *store.PostgresStore, blobs *blob.Store, events *feed.Publisher, feedClient *redis.Client, searchSvc *search.Service, emailSvc *email.Service) *Service {
	return &Service{
		store:  dataStore,
		blobs:  blobs,
		events: events,
		feed:   feedClient,
		search: searchSvc,
		email:  emailSvc,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// publish is best-effort; mutations never fail because the feed is down.
func (s *Service) publish(ctx context.Context, table string, op feed.Op, rowID, assignmentID string) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, feed.Event{
		Table:        table,
		Op:           op,
		RowID:        rowID,
		AssignmentID: assignmentID,
	})
}

// Live views

func (s *Service) feedClient() (*redis.Client, error) {
	if s.feed == nil {
		return nil, domainError(http.StatusServiceUnavailable, "FEED_UNAVAILABLE", "change feed not configured", nil)
	}
	return s.feed, nil
}

// WatchEmployees opens a live view over the employee directory. The caller
// must Close it.
func (s *Service) WatchEmployees(ctx context.Context) (*feed.View[store.Employee], error) {
	client, err := s.feedClient()
	if err != nil {
		return nil, err
	}
	return feed.Open(ctx, client, "employees", "", s.store.ListEmployees)
}

func (s *Service) WatchAssignments(ctx context.Context) (*feed.View[store.Assignment], error) {
	client, err := s.feedClient()
	if err != nil {
		return nil, err
	}
	return feed.Open(ctx, client, "assignments", "", s.store.ListAssignments)
}

func (s *Service) WatchTasks(ctx context.Context, assignmentID string) (*feed.View[store.Task], error) {
	client, err := s.feedClient()
	if err != nil {
		return nil, err
	}
	return feed.Open(ctx, client, "tasks", assignmentID, func(ctx context.Context) ([]store.Task, error) {
		return s.store.ListTasks(ctx, assignmentID)
	})
}

func (s *Service) WatchCaseFiles(ctx context.Context, assignmentID string) (*feed.View[store.CaseFile], error) {
	client, err := s.feedClient()
	if err != nil {
		return nil, err
	}
	return feed.Open(ctx, client, "documents", assignmentID, func(ctx context.Context) ([]store.CaseFile, error) {
		return s.store.ListCaseFiles(ctx, assignmentID)
	})
}

// Employees

type EmployeeList struct {
	Employees   []store.Employee `json:"employees"`
	Departments []string         `json:"departments"`
}

// ListEmployees returns all employees plus the distinct department facet the
// directory view filters on.
func (s *Service) ListEmployees(ctx context.Context) (EmployeeList, error) {
	employees, err := s.store.ListEmployees(ctx)
	if err != nil {
		return EmployeeList{}, err
	}
	seen := map[string]struct{}{}
	departments := []string{}
	for _, e := range employees {
		if e.Department == "" {
			continue
		}
		if _, ok := seen[e.Department]; ok {
			continue
		}
		seen[e.Department] = struct{}{}
		departments = append(departments, e.Department)
	}
	sort.Strings(departments)
	if employees == nil {
		employees = []store.Employee{}
	}
	return EmployeeList{Employees: employees, Departments: departments}, nil
}

func (s *Service) CreateEmployee(ctx context.Context, payload map[string]any) (store.Employee, error) {
	if err := validateEmployee(payload, true); err != nil {
		return store.Employee{}, err
	}
	row := adapter.Employees.ToRow(payload)
	employee, err := s.store.InsertEmployee(ctx, row)
	if err != nil {
		return store.Employee{}, err
	}
	s.publish(ctx, "employees", feed.OpInsert, employee.ID, "")
	s.indexEmployee(employee)
	return employee, nil
}

func (s *Service) UpdateEmployee(ctx context.Context, employeeID string, payload map[string]any) (store.Employee, error) {
	if err := validateEmployee(payload, false); err != nil {
		return store.Employee{}, err
	}
	row := adapter.Employees.ToRow(payload)
	if err := s.store.UpdateEmployee(ctx, employeeID, row); err != nil {
		return store.Employee{}, err
	}
	employee, err := s.store.GetEmployee(ctx, employeeID)
	if err != nil {
		return store.Employee{}, err
	}
	s.publish(ctx, "employees", feed.OpUpdate, employeeID, "")
	s.indexEmployee(employee)
	return employee, nil
}

// DeleteEmployee removes the row only. Assignments and tasks keep their
// dangling references; readers resolve those to "Unknown".
func (s *Service) DeleteEmployee(ctx context.Context, employeeID string) error {
	if err := s.store.DeleteEmployee(ctx, employeeID); err != nil {
		return err
	}
	s.publish(ctx, "employees", feed.OpDelete, employeeID, "")
	if s.search != nil {
		s.search.DeleteEmployee(employeeID)
	}
	return nil
}

func validateEmployee(payload map[string]any, create bool) error {
	if create {
		for _, key := range []string{"name", "email", "role", "department"} {
			if stringField(payload, key) == "" {
				return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", key+" is required", nil)
			}
		}
	}
	if emailAddr, ok := payload["email"]; ok {
		if s, _ := emailAddr.(string); !strings.Contains(s, "@") {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email must contain @", nil)
		}
	}
	if raw, ok := payload["workload"]; ok {
		workload, ok := numberField(raw)
		if !ok || workload < 0 || workload > 100 {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "workload must be between 0 and 100", nil)
		}
	}
	return nil
}

// Assignments

type CreateAssignmentResult struct {
	Assignment store.Assignment `json:"assignment"`
	Task       *store.Task      `json:"task,omitempty"`
	Warning    string           `json:"warning,omitempty"`
}

func (s *Service) ListAssignments(ctx context.Context) ([]store.Assignment, error) {
	assignments, err := s.store.ListAssignments(ctx)
	if err != nil {
		return nil, err
	}
	if assignments == nil {
		assignments = []store.Assignment{}
	}
	return assignments, nil
}

type AssignmentDetail struct {
	store.Assignment
	AssignedToNames []string `json:"assignedToNames"`
	CreatedByName   string   `json:"createdByName"`
}

func (s *Service) GetAssignment(ctx context.Context, assignmentID string) (AssignmentDetail, error) {
	assignment, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return AssignmentDetail{}, err
	}
	names := s.employeeNames(ctx)
	detail := AssignmentDetail{Assignment: assignment, AssignedToNames: []string{}}
	for _, id := range assignment.AssignedTo {
		detail.AssignedToNames = append(detail.AssignedToNames, resolveName(names, id))
	}
	createdBy := ""
	if assignment.CreatedBy != nil {
		createdBy = *assignment.CreatedBy
	}
	detail.CreatedByName = resolveName(names, createdBy)
	return detail, nil
}

// CreateAssignment validates, writes the assignment, then seeds the default
// review task. The seed is a dependent write: its failure surfaces as a
// warning while the assignment stands.
func (s *Service) CreateAssignment(ctx context.Context, payload map[string]any) (CreateAssignmentResult, error) {
	if err := validateAssignment(payload, true); err != nil {
		return CreateAssignmentResult{}, err
	}
	row := adapter.Assignments.ToRow(payload)
	assignment, err := s.store.InsertAssignment(ctx, row)
	if err != nil {
		return CreateAssignmentResult{}, err
	}
	s.publish(ctx, "assignments", feed.OpInsert, assignment.ID, assignment.ID)
	s.indexAssignment(assignment)

	result := CreateAssignmentResult{Assignment: assignment}

	seed := adapter.DefaultReviewTask(assignment.ID, assignment.Title, assignment.AssignedTo, assignment.DueDate)
	task, err := s.store.InsertTask(ctx, adapter.Tasks.ToRow(seed))
	if err != nil {
		log.Printf("assignment %s: default task creation failed: %v", assignment.ID, err)
		result.Warning = "assignment created, but the initial review task could not be created"
	} else {
		result.Task = &task
		s.publish(ctx, "tasks", feed.OpInsert, task.ID, assignment.ID)
	}

	s.notifyAssignees(ctx, assignment)
	return result, nil
}

func (s *Service) UpdateAssignment(ctx context.Context, assignmentID string, payload map[string]any) (store.Assignment, error) {
	if err := validateAssignment(payload, false); err != nil {
		return store.Assignment{}, err
	}
	row := adapter.Assignments.ToRow(payload)
	if err := s.store.UpdateAssignment(ctx, assignmentID, row); err != nil {
		return store.Assignment{}, err
	}
	assignment, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return store.Assignment{}, err
	}
	s.publish(ctx, "assignments", feed.OpUpdate, assignmentID, assignmentID)
	s.indexAssignment(assignment)
	return assignment, nil
}

func validateAssignment(payload map[string]any, create bool) error {
	if create {
		for _, key := range []string{"title", "dueDate"} {
			if stringField(payload, key) == "" {
				return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", key+" is required", nil)
			}
		}
		if _, ok := payload["priority"]; !ok {
			payload["priority"] = store.PriorityMedium
		}
		if _, ok := payload["status"]; !ok {
			payload["status"] = store.AssignmentUnassigned
		}
	}
	if raw, ok := payload["priority"]; ok {
		priority, _ := raw.(string)
		if _, valid := store.ValidPriorities[priority]; !valid {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("invalid priority %q", priority), nil)
		}
	}
	// Any known status may be written at any time; there is no transition
	// machine here, only membership.
	if raw, ok := payload["status"]; ok {
		status, _ := raw.(string)
		if _, valid := store.ValidAssignmentStatuses[status]; !valid {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("invalid status %q", status), nil)
		}
	}
	if raw, ok := payload["estimatedHours"]; ok {
		hours, numOK := numberField(raw)
		if !numOK || hours <= 0 {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "estimatedHours must be positive", nil)
		}
	}
	return nil
}

// Tasks

func (s *Service) ListTasks(ctx context.Context, assignmentID string) ([]store.Task, error) {
	tasks, err := s.store.ListTasks(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	return tasks, nil
}

func (s *Service) CreateTask(ctx context.Context, assignmentID string, payload map[string]any) (store.Task, error) {
	if stringField(payload, "title") == "" {
		return store.Task{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	exists, err := s.store.AssignmentExists(ctx, assignmentID)
	if err != nil {
		return store.Task{}, err
	}
	if !exists {
		return store.Task{}, domainError(http.StatusNotFound, "NOT_FOUND", "assignment not found", nil)
	}
	payload["assignmentId"] = assignmentID
	if _, ok := payload["status"]; !ok {
		payload["status"] = store.TaskTodo
	}
	if err := validateTaskStatus(payload); err != nil {
		return store.Task{}, err
	}
	task, err := s.store.InsertTask(ctx, adapter.Tasks.ToRow(payload))
	if err != nil {
		return store.Task{}, err
	}
	s.publish(ctx, "tasks", feed.OpInsert, task.ID, assignmentID)
	return task, nil
}

// UpdateTask applies a partial update. completedAt is owned by this layer: it
// is stamped on the first transition to completed and never cleared.
func (s *Service) UpdateTask(ctx context.Context, taskID string, payload map[string]any) (store.Task, error) {
	if err := validateTaskStatus(payload); err != nil {
		return store.Task{}, err
	}
	current, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	delete(payload, "completedAt")
	if status, _ := payload["status"].(string); status == store.TaskCompleted && current.CompletedAt == nil {
		payload["completedAt"] = time.Now().UTC().Format(time.RFC3339)
	}
	if err := s.store.UpdateTask(ctx, taskID, adapter.Tasks.ToRow(payload)); err != nil {
		return store.Task{}, err
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	s.publish(ctx, "tasks", feed.OpUpdate, taskID, task.AssignmentID)
	return task, nil
}

func validateTaskStatus(payload map[string]any) error {
	raw, ok := payload["status"]
	if !ok {
		return nil
	}
	status, _ := raw.(string)
	if _, valid := store.ValidTaskStatuses[status]; !valid {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("invalid status %q", status), nil)
	}
	return nil
}

// Case files

type CaseFileView struct {
	store.CaseFile
	UploaderName string `json:"uploaderName"`
}

func (s *Service) ListCaseFiles(ctx context.Context, assignmentID string) ([]CaseFileView, error) {
	files, err := s.store.ListCaseFiles(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	names := s.employeeNames(ctx)
	views := make([]CaseFileView, 0, len(files))
	for _, f := range files {
		uploadedBy := ""
		if f.UploadedBy != nil {
			uploadedBy = *f.UploadedBy
		}
		views = append(views, CaseFileView{CaseFile: f, UploaderName: resolveName(names, uploadedBy)})
	}
	return views, nil
}

// UploadCaseFile writes the blob first, then the row. A row failure leaves an
// orphan blob behind; that asymmetry is accepted, the caller sees the error.
func (s *Service) UploadCaseFile(ctx context.Context, assignmentID, fileName, fileType string, size int64, body io.Reader, uploadedBy, description string) (store.CaseFile, error) {
	if strings.TrimSpace(fileName) == "" {
		return store.CaseFile{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "fileName is required", nil)
	}
	if size < 0 {
		return store.CaseFile{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "fileSize must be non-negative", nil)
	}
	exists, err := s.store.AssignmentExists(ctx, assignmentID)
	if err != nil {
		return store.CaseFile{}, err
	}
	if !exists {
		return store.CaseFile{}, domainError(http.StatusNotFound, "NOT_FOUND", "assignment not found", nil)
	}

	key := blob.ObjectKey(assignmentID, fileName)
	if err := s.blobs.Upload(ctx, key, body, size, fileType); err != nil {
		return store.CaseFile{}, domainError(http.StatusBadGateway, "BLOB_ERROR", "file upload failed", err.Error())
	}

	payload := map[string]any{
		"assignmentId": assignmentID,
		"fileName":     fileName,
		"filePath":     key,
		"fileType":     fileType,
		"fileSize":     size,
	}
	if uploadedBy != "" {
		payload["uploadedBy"] = uploadedBy
	}
	if description != "" {
		payload["description"] = description
	}
	file, err := s.store.InsertCaseFile(ctx, adapter.CaseFiles.ToRow(payload))
	if err != nil {
		// The uploaded object stays behind as an orphan.
		return store.CaseFile{}, err
	}
	s.publish(ctx, "documents", feed.OpInsert, file.ID, assignmentID)
	return file, nil
}

func (s *Service) GetCaseFile(ctx context.Context, caseFileID string) (store.CaseFile, error) {
	return s.store.GetCaseFile(ctx, caseFileID)
}

func (s *Service) DownloadCaseFile(ctx context.Context, caseFileID string) (store.CaseFile, io.ReadCloser, error) {
	file, err := s.store.GetCaseFile(ctx, caseFileID)
	if err != nil {
		return store.CaseFile{}, nil, err
	}
	body, err := s.blobs.Download(ctx, file.FilePath)
	if err != nil {
		if blob.IsNotFound(err) {
			return store.CaseFile{}, nil, domainError(http.StatusNotFound, "NOT_FOUND", "file content missing", nil)
		}
		return store.CaseFile{}, nil, domainError(http.StatusBadGateway, "BLOB_ERROR", "file download failed", err.Error())
	}
	return file, body, nil
}

// DeleteCaseFile removes the blob before the row. A blob failure keeps the
// row (fail-closed); a row failure after a removed blob leaves an orphaned
// row that points nowhere.
func (s *Service) DeleteCaseFile(ctx context.Context, caseFileID string) error {
	file, err := s.store.GetCaseFile(ctx, caseFileID)
	if err != nil {
		return err
	}
	// An already-missing object is not a failed removal; the row can go.
	if err := s.blobs.Remove(ctx, file.FilePath); err != nil && !blob.IsNotFound(err) {
		return domainError(http.StatusBadGateway, "BLOB_ERROR", "file removal failed, document retained", err.Error())
	}
	if err := s.store.DeleteCaseFile(ctx, caseFileID); err != nil {
		return err
	}
	s.publish(ctx, "documents", feed.OpDelete, caseFileID, file.AssignmentID)
	return nil
}

// Search

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// helpers

func (s *Service) indexEmployee(e store.Employee) {
	if s.search == nil {
		return
	}
	s.search.IndexEmployee(search.EmployeeRecord{
		ID:         e.ID,
		Name:       e.Name,
		Role:       e.Role,
		Department: e.Department,
		Email:      e.Email,
		Specialty:  e.Specialty,
		Skills:     e.Skills,
	})
}

func (s *Service) indexAssignment(a store.Assignment) {
	if s.search == nil {
		return
	}
	record := search.AssignmentRecord{
		ID:          a.ID,
		Title:       a.Title,
		Description: a.Description,
		Status:      a.Status,
	}
	if a.ClientName != nil {
		record.ClientName = *a.ClientName
	}
	if a.CaseReference != nil {
		record.CaseReference = *a.CaseReference
	}
	s.search.IndexAssignment(record)
}

// notifyAssignees emails everyone listed on a new assignment. Lookup or send
// failures are logged and swallowed: notification is a dependent write.
func (s *Service) notifyAssignees(ctx context.Context, a store.Assignment) {
	if s.email == nil || !s.email.IsConfigured() {
		return
	}
	clientName := ""
	if a.ClientName != nil {
		clientName = *a.ClientName
	}
	for _, employeeID := range a.AssignedTo {
		employee, err := s.store.GetEmployee(ctx, employeeID)
		if err != nil {
			log.Printf("assignment %s: notify lookup %s: %v", a.ID, employeeID, err)
			continue
		}
		if err := s.email.SendAssignmentNotification(employee.Email, employee.Name, a.Title, a.Priority, a.DueDate, clientName); err != nil {
			log.Printf("assignment %s: notify %s: %v", a.ID, employee.Email, err)
		}
	}
}

// employeeNames returns an id-to-name index for defensive display lookups.
// A failed read yields an empty index, which resolves everything to Unknown.
func (s *Service) employeeNames(ctx context.Context) map[string]string {
	employees, err := s.store.ListEmployees(ctx)
	if err != nil {
		log.Printf("employee name lookup failed: %v", err)
		return map[string]string{}
	}
	names := make(map[string]string, len(employees))
	for _, e := range employees {
		names[e.ID] = e.Name
	}
	return names
}

func resolveName(names map[string]string, employeeID string) string {
	if employeeID == "" {
		return "Unassigned"
	}
	if name, ok := names[employeeID]; ok {
		return name
	}
	return "Unknown"
}

func stringField(payload map[string]any, key string) string {
	raw, ok := payload[key]
	if !ok {
		return ""
	}
	s, _ := raw.(string)
	return strings.TrimSpace(s)
}

// numberField accepts the numeric shapes a decoded JSON payload can carry.
func numberField(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
