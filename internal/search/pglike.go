package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgLike implements Searcher with plain ILIKE matching as a fallback. The
// tables carry no tsvector columns, so this trades ranking quality for
// working against the schema as-is.
type PgLike struct {
	db *sql.DB
}

// NewPgLike creates a PostgreSQL fallback searcher.
func NewPgLike(db *sql.DB) *PgLike {
	return &PgLike{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgLike) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across employees and assignments.
func (p *PgLike) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	args := []any{"%" + q.Text + "%"}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultEmployee {
		subQueries = append(subQueries, `
			SELECT 'employee'::text AS type, e.id::text, e.name AS title,
				e.role AS snippet, ''::text AS status
			FROM employees e
			WHERE e.name ILIKE $1 OR e.role ILIKE $1 OR e.department ILIKE $1 OR e.email ILIKE $1
				OR e.specialty::text ILIKE $1 OR e.skills::text ILIKE $1`)
	}
	if q.FilterType == "" || q.FilterType == ResultAssignment {
		subQueries = append(subQueries, `
			SELECT 'assignment'::text AS type, a.id::text, a.title,
				a.description AS snippet, a.status
			FROM assignments a
			WHERE a.title ILIKE $1 OR a.description ILIKE $1
				OR coalesce(a.client_name, '') ILIKE $1
				OR coalesce(a.case_reference, '') ILIKE $1`)
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, status
		FROM (%s) sub
		ORDER BY title ASC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pglike count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pglike query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pglike scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgLike) LoadAllRecords(ctx context.Context) ([]EmployeeRecord, []AssignmentRecord, error) {
	empRows, err := p.db.QueryContext(ctx, `
		SELECT id::text, name, role, department, email, specialty, skills
		FROM employees
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load employees: %w", err)
	}
	defer empRows.Close()

	employees := make([]EmployeeRecord, 0)
	for empRows.Next() {
		var e EmployeeRecord
		var specialty, skills []byte
		if err := empRows.Scan(&e.ID, &e.Name, &e.Role, &e.Department, &e.Email, &specialty, &skills); err != nil {
			return nil, nil, fmt.Errorf("scan employee: %w", err)
		}
		e.Specialty = decodeList(specialty)
		e.Skills = decodeList(skills)
		employees = append(employees, e)
	}
	if err := empRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate employees: %w", err)
	}

	asgRows, err := p.db.QueryContext(ctx, `
		SELECT id::text, title, description, coalesce(client_name, ''), coalesce(case_reference, ''), status
		FROM assignments
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load assignments: %w", err)
	}
	defer asgRows.Close()

	assignments := make([]AssignmentRecord, 0)
	for asgRows.Next() {
		var a AssignmentRecord
		if err := asgRows.Scan(&a.ID, &a.Title, &a.Description, &a.ClientName, &a.CaseReference, &a.Status); err != nil {
			return nil, nil, fmt.Errorf("scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err := asgRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate assignments: %w", err)
	}

	return employees, assignments, nil
}

func decodeList(raw []byte) []string {
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
