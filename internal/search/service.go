package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to
// the Postgres ILIKE searcher.
type Service struct {
	meili  *Meili
	pglike *PgLike
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pglike *PgLike) *Service {
	return &Service{meili: meili, pglike: pglike}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	results, total, err := s.pglike.Search(q)
	if err != nil {
		log.Printf("search: postgres fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexEmployee indexes an employee (fire-and-forget to Meilisearch).
func (s *Service) IndexEmployee(e EmployeeRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexEmployee(e); err != nil {
			log.Printf("search: index employee %s: %v", e.ID, err)
		}
	}()
}

// IndexAssignment indexes an assignment (fire-and-forget to Meilisearch).
func (s *Service) IndexAssignment(a AssignmentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexAssignment(a); err != nil {
			log.Printf("search: index assignment %s: %v", a.ID, err)
		}
	}()
}

// DeleteEmployee removes an employee from the search index (fire-and-forget).
func (s *Service) DeleteEmployee(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteEmployee(id); err != nil {
			log.Printf("search: delete employee %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reads every searchable row from PostgreSQL and pushes it
// to Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pglike == nil {
		return
	}
	employees, assignments, err := s.pglike.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexEmployees(employees); err != nil {
		log.Printf("search: reindex employees: %v", err)
	}
	if err := s.meili.IndexAssignments(assignments); err != nil {
		log.Printf("search: reindex assignments: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
