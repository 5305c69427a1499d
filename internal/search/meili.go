package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxEmployees   = "lexops_employees"
	idxAssignments = "lexops_assignments"
)

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. The instance
// stays usable if the initial connection fails; the health loop picks it up
// once the server comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxEmployees,
			filterable: []string{"department", "role"},
			searchable: []string{"name", "role", "department", "email", "specialty", "skills"},
		},
		{
			uid:        idxAssignments,
			filterable: []string{"status"},
			searchable: []string{"title", "description", "clientName", "caseReference"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries both indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxEmployees, ResultEmployee},
		{idxAssignments, ResultAssignment},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		queries = append(queries, &meili.SearchRequest{
			IndexUID:              ti.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		})
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxEmployees:
		return ResultEmployee
	case idxAssignments:
		return ResultAssignment
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.Status = decodeString(hit, "status")

	switch rtyp {
	case ResultEmployee:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "role"), decodeString(hit, "role"))
	case ResultAssignment:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexEmployee adds or updates an employee in the search index.
func (m *Meili) IndexEmployee(e EmployeeRecord) error {
	_, err := m.client.Index(idxEmployees).AddDocuments([]EmployeeRecord{e}, nil)
	return err
}

// IndexAssignment adds or updates an assignment in the search index.
func (m *Meili) IndexAssignment(a AssignmentRecord) error {
	_, err := m.client.Index(idxAssignments).AddDocuments([]AssignmentRecord{a}, nil)
	return err
}

// DeleteEmployee removes an employee from the search index.
func (m *Meili) DeleteEmployee(id string) error {
	_, err := m.client.Index(idxEmployees).DeleteDocument(id, nil)
	return err
}

// IndexEmployees bulk-indexes employees.
func (m *Meili) IndexEmployees(employees []EmployeeRecord) error {
	if len(employees) == 0 {
		return nil
	}
	_, err := m.client.Index(idxEmployees).AddDocuments(employees, nil)
	return err
}

// IndexAssignments bulk-indexes assignments.
func (m *Meili) IndexAssignments(assignments []AssignmentRecord) error {
	if len(assignments) == 0 {
		return nil
	}
	_, err := m.client.Index(idxAssignments).AddDocuments(assignments, nil)
	return err
}
