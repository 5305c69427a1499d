package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultEmployee   ResultType = "employee"
	ResultAssignment ResultType = "assignment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	Status  string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// EmployeeRecord is the data we index for an employee.
type EmployeeRecord struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Role       string   `json:"role"`
	Department string   `json:"department"`
	Email      string   `json:"email"`
	Specialty  []string `json:"specialty"`
	Skills     []string `json:"skills"`
}

// AssignmentRecord is the data we index for an assignment.
type AssignmentRecord struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	ClientName    string `json:"clientName"`
	CaseReference string `json:"caseReference"`
	Status        string `json:"status"`
}
