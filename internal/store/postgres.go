package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Mutations accept partial rows (adapter output) and write only the supplied
// columns. Column names are interpolated into the statement, so they are
// checked against a strict identifier pattern first; values always travel as
// parameters.

var columnPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Non-text columns that need an explicit parameter cast, since the driver
// sends dynamic values as text.
var paramCasts = map[string]map[string]string{
	"employees": {
		"id":        "uuid",
		"specialty": "jsonb",
		"skills":    "jsonb",
	},
	"assignments": {
		"id":          "uuid",
		"due_date":    "date",
		"created_by":  "uuid",
		"assigned_to": "jsonb",
		"partners":    "jsonb",
	},
	"tasks": {
		"id":            "uuid",
		"assignment_id": "uuid",
		"assigned_to":   "uuid",
		"due_date":      "date",
		"completed_at":  "timestamptz",
	},
	"documents": {
		"id":            "uuid",
		"assignment_id": "uuid",
		"uploaded_by":   "uuid",
		"uploaded_at":   "timestamptz",
	},
}

func mutationArgs(table string, row map[string]any) (columns []string, placeholders []string, args []any, err error) {
	columns = make([]string, 0, len(row))
	for column := range row {
		if !columnPattern.MatchString(column) {
			return nil, nil, nil, fmt.Errorf("invalid column name %q", column)
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)

	casts := paramCasts[table]
	placeholders = make([]string, 0, len(columns))
	args = make([]any, 0, len(columns))
	for i, column := range columns {
		placeholder := fmt.Sprintf("$%d", i+1)
		cast := casts[column]
		if cast != "" {
			placeholder += "::" + cast
		}
		value, err := encodeValue(row[column], cast)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("encode column %s: %w", column, err)
		}
		placeholders = append(placeholders, placeholder)
		args = append(args, value)
	}
	return columns, placeholders, args, nil
}

func encodeValue(value any, cast string) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string, []any, map[string]any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	case string:
		// Empty strings on typed columns mean "no value".
		if v == "" && (cast == "uuid" || cast == "date" || cast == "timestamptz") {
			return nil, nil
		}
		return v, nil
	default:
		return value, nil
	}
}

// Employees

const employeeColumns = `id, name, email, role, department, specialty, skills, workload, avatar`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmployee(sc rowScanner) (Employee, error) {
	var item Employee
	var specialty, skills []byte
	var avatar sql.NullString
	if err := sc.Scan(&item.ID, &item.Name, &item.Email, &item.Role, &item.Department, &specialty, &skills, &item.Workload, &avatar); err != nil {
		return Employee{}, err
	}
	item.Specialty = decodeStringList(specialty)
	item.Skills = decodeStringList(skills)
	if avatar.Valid {
		item.Avatar = &avatar.String
	}
	return item, nil
}

func (s *PostgresStore) ListEmployees(ctx context.Context) ([]Employee, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+employeeColumns+`
		FROM employees
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()

	items := make([]Employee, 0)
	for rows.Next() {
		item, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetEmployee(ctx context.Context, employeeID string) (Employee, error) {
	item, err := scanEmployee(s.db.QueryRowContext(ctx, `
		SELECT `+employeeColumns+`
		FROM employees
		WHERE id=$1::uuid
	`, employeeID))
	if err != nil {
		return Employee{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertEmployee(ctx context.Context, row map[string]any) (Employee, error) {
	columns, placeholders, args, err := mutationArgs("employees", row)
	if err != nil {
		return Employee{}, fmt.Errorf("insert employee: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO employees (%s)
		VALUES (%s)
		RETURNING `+employeeColumns,
		strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	item, err := scanEmployee(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return Employee{}, fmt.Errorf("insert employee: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateEmployee(ctx context.Context, employeeID string, row map[string]any) error {
	return s.updateRow(ctx, "employees", employeeID, row, true)
}

func (s *PostgresStore) DeleteEmployee(ctx context.Context, employeeID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM employees WHERE id=$1::uuid`, employeeID)
	if err != nil {
		return fmt.Errorf("delete employee: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete employee rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Assignments

const assignmentColumns = `id, title, description, priority, status, due_date, created_by, assigned_to, partners, estimated_hours, client_name, case_reference`

func scanAssignment(sc rowScanner) (Assignment, error) {
	var item Assignment
	var dueDate sql.NullTime
	var createdBy, clientName, caseReference sql.NullString
	var assignedTo, partners []byte
	if err := sc.Scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&item.Priority,
		&item.Status,
		&dueDate,
		&createdBy,
		&assignedTo,
		&partners,
		&item.EstimatedHours,
		&clientName,
		&caseReference,
	); err != nil {
		return Assignment{}, err
	}
	if dueDate.Valid {
		item.DueDate = dueDate.Time.Format("2006-01-02")
	}
	if createdBy.Valid {
		item.CreatedBy = &createdBy.String
	}
	if clientName.Valid {
		item.ClientName = &clientName.String
	}
	if caseReference.Valid {
		item.CaseReference = &caseReference.String
	}
	item.AssignedTo = decodeStringList(assignedTo)
	item.Partners = decodeStringList(partners)
	return item, nil
}

func (s *PostgresStore) ListAssignments(ctx context.Context) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM assignments
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	items := make([]Assignment, 0)
	for rows.Next() {
		item, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAssignment(ctx context.Context, assignmentID string) (Assignment, error) {
	item, err := scanAssignment(s.db.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM assignments
		WHERE id=$1::uuid
	`, assignmentID))
	if err != nil {
		return Assignment{}, err
	}
	return item, nil
}

func (s *PostgresStore) AssignmentExists(ctx context.Context, assignmentID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM assignments WHERE id=$1::uuid)`, assignmentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check assignment: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertAssignment(ctx context.Context, row map[string]any) (Assignment, error) {
	columns, placeholders, args, err := mutationArgs("assignments", row)
	if err != nil {
		return Assignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO assignments (%s)
		VALUES (%s)
		RETURNING `+assignmentColumns,
		strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	item, err := scanAssignment(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return Assignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateAssignment(ctx context.Context, assignmentID string, row map[string]any) error {
	return s.updateRow(ctx, "assignments", assignmentID, row, true)
}

// Tasks

const taskColumns = `id, assignment_id, title, description, status, assigned_to, due_date, completed_at`

func scanTask(sc rowScanner) (Task, error) {
	var item Task
	var assignedTo sql.NullString
	var dueDate, completedAt sql.NullTime
	if err := sc.Scan(
		&item.ID,
		&item.AssignmentID,
		&item.Title,
		&item.Description,
		&item.Status,
		&assignedTo,
		&dueDate,
		&completedAt,
	); err != nil {
		return Task{}, err
	}
	if assignedTo.Valid {
		item.AssignedTo = &assignedTo.String
	}
	if dueDate.Valid {
		item.DueDate = dueDate.Time.Format("2006-01-02")
	}
	if completedAt.Valid {
		formatted := completedAt.Time.UTC().Format(time.RFC3339)
		item.CompletedAt = &formatted
	}
	return item, nil
}

// ListTasks returns tasks scoped to one assignment, or all tasks when
// assignmentID is empty.
func (s *PostgresStore) ListTasks(ctx context.Context, assignmentID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE ($1='' OR assignment_id=$1::uuid)
		ORDER BY created_at ASC
	`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		item, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	item, err := scanTask(s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE id=$1::uuid
	`, taskID))
	if err != nil {
		return Task{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertTask(ctx context.Context, row map[string]any) (Task, error) {
	columns, placeholders, args, err := mutationArgs("tasks", row)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO tasks (%s)
		VALUES (%s)
		RETURNING `+taskColumns,
		strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	item, err := scanTask(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, taskID string, row map[string]any) error {
	return s.updateRow(ctx, "tasks", taskID, row, true)
}

// Case files

const caseFileColumns = `id, assignment_id, file_name, file_path, file_type, file_size, uploaded_by, uploaded_at, description`

func scanCaseFile(sc rowScanner) (CaseFile, error) {
	var item CaseFile
	var uploadedBy, description sql.NullString
	var uploadedAt sql.NullTime
	if err := sc.Scan(
		&item.ID,
		&item.AssignmentID,
		&item.FileName,
		&item.FilePath,
		&item.FileType,
		&item.FileSize,
		&uploadedBy,
		&uploadedAt,
		&description,
	); err != nil {
		return CaseFile{}, err
	}
	if uploadedBy.Valid {
		item.UploadedBy = &uploadedBy.String
	}
	if uploadedAt.Valid {
		item.UploadedAt = uploadedAt.Time.UTC().Format(time.RFC3339)
	}
	if description.Valid {
		item.Description = &description.String
	}
	return item, nil
}

func (s *PostgresStore) ListCaseFiles(ctx context.Context, assignmentID string) ([]CaseFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+caseFileColumns+`
		FROM documents
		WHERE ($1='' OR assignment_id=$1::uuid)
		ORDER BY uploaded_at DESC
	`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]CaseFile, 0)
	for rows.Next() {
		item, err := scanCaseFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCaseFile(ctx context.Context, documentID string) (CaseFile, error) {
	item, err := scanCaseFile(s.db.QueryRowContext(ctx, `
		SELECT `+caseFileColumns+`
		FROM documents
		WHERE id=$1::uuid
	`, documentID))
	if err != nil {
		return CaseFile{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertCaseFile(ctx context.Context, row map[string]any) (CaseFile, error) {
	columns, placeholders, args, err := mutationArgs("documents", row)
	if err != nil {
		return CaseFile{}, fmt.Errorf("insert document: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO documents (%s)
		VALUES (%s)
		RETURNING `+caseFileColumns,
		strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	item, err := scanCaseFile(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return CaseFile{}, fmt.Errorf("insert document: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) DeleteCaseFile(ctx context.Context, documentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1::uuid`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// updateRow writes only the columns present in row. An empty partial is a
// no-op, matching the partial-update contract.
func (s *PostgresStore) updateRow(ctx context.Context, table, rowID string, row map[string]any, touchUpdatedAt bool) error {
	if len(row) == 0 {
		return nil
	}
	columns, placeholders, args, err := mutationArgs(table, row)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}

	sets := make([]string, 0, len(columns)+1)
	for i, column := range columns {
		sets = append(sets, column+"="+placeholders[i])
	}
	if touchUpdatedAt {
		sets = append(sets, "updated_at=NOW()")
	}
	args = append(args, rowID)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id=$%d::uuid`, table, strings.Join(sets, ", "), len(args))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s rows: %w", table, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func decodeStringList(raw []byte) []string {
	items := []string{}
	if len(raw) == 0 {
		return items
	}
	_ = json.Unmarshal(raw, &items)
	if items == nil {
		items = []string{}
	}
	return items
}
