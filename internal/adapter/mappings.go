package adapter

// The four entity tables. These are fixed: every documented domain field maps
// to exactly one storage column.

var Employees = NewMapping("employees",
	Field{Name: "id", Column: "id", Default: ""},
	Field{Name: "name", Column: "name", Default: ""},
	Field{Name: "email", Column: "email", Default: ""},
	Field{Name: "role", Column: "role", Default: ""},
	Field{Name: "department", Column: "department", Default: ""},
	Field{Name: "specialty", Column: "specialty", Default: []any{}},
	Field{Name: "skills", Column: "skills", Default: []any{}},
	Field{Name: "workload", Column: "workload", Default: 0},
	Field{Name: "avatar", Column: "avatar", Optional: true},
)

var Assignments = NewMapping("assignments",
	Field{Name: "id", Column: "id", Default: ""},
	Field{Name: "title", Column: "title", Default: ""},
	Field{Name: "description", Column: "description", Default: ""},
	Field{Name: "priority", Column: "priority", Default: ""},
	Field{Name: "status", Column: "status", Default: ""},
	Field{Name: "dueDate", Column: "due_date", Default: ""},
	Field{Name: "createdBy", Column: "created_by", Optional: true},
	Field{Name: "assignedTo", Column: "assigned_to", Default: []any{}},
	Field{Name: "partners", Column: "partners", Default: []any{}},
	Field{Name: "estimatedHours", Column: "estimated_hours", Default: float64(0)},
	Field{Name: "clientName", Column: "client_name", Optional: true},
	Field{Name: "caseReference", Column: "case_reference", Optional: true},
)

var Tasks = NewMapping("tasks",
	Field{Name: "id", Column: "id", Default: ""},
	Field{Name: "assignmentId", Column: "assignment_id", Default: ""},
	Field{Name: "title", Column: "title", Default: ""},
	Field{Name: "description", Column: "description", Default: ""},
	Field{Name: "status", Column: "status", Default: ""},
	Field{Name: "assignedTo", Column: "assigned_to", Optional: true},
	Field{Name: "dueDate", Column: "due_date", Default: ""},
	Field{Name: "completedAt", Column: "completed_at", Optional: true},
)

var CaseFiles = NewMapping("documents",
	Field{Name: "id", Column: "id", Default: ""},
	Field{Name: "assignmentId", Column: "assignment_id", Default: ""},
	Field{Name: "fileName", Column: "file_name", Default: ""},
	Field{Name: "filePath", Column: "file_path", Default: ""},
	Field{Name: "fileType", Column: "file_type", Default: ""},
	Field{Name: "fileSize", Column: "file_size", Default: int64(0)},
	Field{Name: "uploadedBy", Column: "uploaded_by", Optional: true},
	Field{Name: "uploadedAt", Column: "uploaded_at", Default: ""},
	Field{Name: "description", Column: "description", Optional: true},
)

// DefaultReviewTask synthesizes the starter task seeded when an assignment is
// created. Pure: the caller decides whether and where to persist it.
func DefaultReviewTask(assignmentID, assignmentTitle string, assignedTo []string, dueDate string) map[string]any {
	assignee := ""
	if len(assignedTo) > 0 {
		assignee = assignedTo[0]
	}
	return map[string]any{
		"assignmentId": assignmentID,
		"title":        "Review " + assignmentTitle,
		"description":  "Initial review and planning for " + assignmentTitle,
		"status":       "todo",
		"assignedTo":   assignee,
		"dueDate":      dueDate,
	}
}
