package store

// Domain entities. Field names follow the application convention (camelCase in
// JSON); the persisted rows use snake_case columns. Translation between the
// two lives in internal/adapter.

type Employee struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Role       string   `json:"role"`
	Department string   `json:"department"`
	Specialty  []string `json:"specialty"`
	Skills     []string `json:"skills"`
	Workload   int      `json:"workload"`
	Avatar     *string  `json:"avatar,omitempty"`
}

type Assignment struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Priority       string   `json:"priority"`
	Status         string   `json:"status"`
	DueDate        string   `json:"dueDate"`
	CreatedBy      *string  `json:"createdBy,omitempty"`
	AssignedTo     []string `json:"assignedTo"`
	Partners       []string `json:"partners"`
	EstimatedHours float64  `json:"estimatedHours"`
	ClientName     *string  `json:"clientName,omitempty"`
	CaseReference  *string  `json:"caseReference,omitempty"`
}

type Task struct {
	ID           string  `json:"id"`
	AssignmentID string  `json:"assignmentId"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Status       string  `json:"status"`
	AssignedTo   *string `json:"assignedTo,omitempty"`
	DueDate      string  `json:"dueDate"`
	CompletedAt  *string `json:"completedAt,omitempty"`
}

type CaseFile struct {
	ID           string  `json:"id"`
	AssignmentID string  `json:"assignmentId"`
	FileName     string  `json:"fileName"`
	FilePath     string  `json:"filePath"`
	FileType     string  `json:"fileType"`
	FileSize     int64   `json:"fileSize"`
	UploadedBy   *string `json:"uploadedBy,omitempty"`
	UploadedAt   string  `json:"uploadedAt"`
	Description  *string `json:"description,omitempty"`
}

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

const (
	AssignmentUnassigned = "unassigned"
	AssignmentAssigned   = "assigned"
	AssignmentInProgress = "in-progress"
	AssignmentReview     = "review"
	AssignmentCompleted  = "completed"
)

const (
	TaskTodo       = "todo"
	TaskInProgress = "in-progress"
	TaskReview     = "review"
	TaskCompleted  = "completed"
)

var ValidPriorities = map[string]struct{}{
	PriorityLow:    {},
	PriorityMedium: {},
	PriorityHigh:   {},
	PriorityUrgent: {},
}

var ValidAssignmentStatuses = map[string]struct{}{
	AssignmentUnassigned: {},
	AssignmentAssigned:   {},
	AssignmentInProgress: {},
	AssignmentReview:     {},
	AssignmentCompleted:  {},
}

var ValidTaskStatuses = map[string]struct{}{
	TaskTodo:       {},
	TaskInProgress: {},
	TaskReview:     {},
	TaskCompleted:  {},
}
