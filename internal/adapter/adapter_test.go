package adapter

import (
	"reflect"
	"strings"
	"testing"
)

func fullyPopulated(m Mapping) map[string]any {
	entity := make(map[string]any, len(m.Fields()))
	for i, f := range m.Fields() {
		switch f.Default.(type) {
		case int:
			entity[f.Name] = i
		case int64:
			entity[f.Name] = int64(i)
		case float64:
			entity[f.Name] = float64(i)
		case []any:
			entity[f.Name] = []any{"a", "b"}
		default:
			entity[f.Name] = "v-" + f.Name
		}
	}
	return entity
}

func TestRoundTripAllEntities(t *testing.T) {
	for _, m := range []Mapping{Employees, Assignments, Tasks, CaseFiles} {
		entity := fullyPopulated(m)

		row := m.ToRow(entity)
		back := m.FromRow(row)
		if !reflect.DeepEqual(back, entity) {
			t.Errorf("%s: FromRow(ToRow(x)) = %v, want %v", m.Entity, back, entity)
		}

		// The reverse direction restricted to known columns.
		again := m.ToRow(back)
		if !reflect.DeepEqual(again, row) {
			t.Errorf("%s: ToRow(FromRow(row)) = %v, want %v", m.Entity, again, row)
		}
	}
}

func TestToRowPartialContainsOnlySuppliedFields(t *testing.T) {
	row := Assignments.ToRow(map[string]any{"dueDate": "2025-06-01"})
	if len(row) != 1 {
		t.Fatalf("expected exactly one key, got %v", row)
	}
	if row["due_date"] != "2025-06-01" {
		t.Errorf("due_date = %v", row["due_date"])
	}
}

func TestToRowPassesUnknownKeysThrough(t *testing.T) {
	row := Tasks.ToRow(map[string]any{"title": "Draft", "sort_order": 3})
	if row["title"] != "Draft" {
		t.Errorf("title = %v", row["title"])
	}
	if row["sort_order"] != 3 {
		t.Errorf("unknown key not passed through: %v", row)
	}
}

func TestFromRowDefaultsAndOptionals(t *testing.T) {
	out := Employees.FromRow(map[string]any{
		"id":     "e1",
		"name":   "Jane Smith",
		"avatar": nil,
		"extra":  "ignored",
	})

	if out["id"] != "e1" || out["name"] != "Jane Smith" {
		t.Fatalf("known columns mistranslated: %v", out)
	}
	if _, present := out["avatar"]; present {
		t.Errorf("null optional should be omitted: %v", out)
	}
	if _, present := out["extra"]; present {
		t.Errorf("unknown column should be dropped: %v", out)
	}
	if !reflect.DeepEqual(out["skills"], []any{}) {
		t.Errorf("skills default = %v, want empty list", out["skills"])
	}
	if out["workload"] != 0 {
		t.Errorf("workload default = %v, want 0", out["workload"])
	}
	if out["email"] != "" {
		t.Errorf("email default = %v, want empty string", out["email"])
	}
}

func TestMappingIsTotalAndBijective(t *testing.T) {
	for _, m := range []Mapping{Employees, Assignments, Tasks, CaseFiles} {
		seenColumns := make(map[string]string)
		for _, f := range m.Fields() {
			if prior, dup := seenColumns[f.Column]; dup {
				t.Errorf("%s: column %s mapped by both %s and %s", m.Entity, f.Column, prior, f.Name)
			}
			seenColumns[f.Column] = f.Name

			column, ok := m.Column(f.Name)
			if !ok || column != f.Column {
				t.Errorf("%s: Column(%s) = %s, %v", m.Entity, f.Name, column, ok)
			}
		}
	}
}

func TestDefaultReviewTask(t *testing.T) {
	task := DefaultReviewTask("A1", "Draft NDA", []string{"E1", "E2"}, "2025-06-01")

	if task["assignmentId"] != "A1" {
		t.Errorf("assignmentId = %v", task["assignmentId"])
	}
	if task["title"] != "Review Draft NDA" {
		t.Errorf("title = %v", task["title"])
	}
	if desc, _ := task["description"].(string); !strings.Contains(desc, "Draft NDA") {
		t.Errorf("description should mention the assignment title: %v", task["description"])
	}
	if task["status"] != "todo" {
		t.Errorf("status = %v", task["status"])
	}
	if task["assignedTo"] != "E1" {
		t.Errorf("assignedTo = %v, want first assignee", task["assignedTo"])
	}
	if task["dueDate"] != "2025-06-01" {
		t.Errorf("dueDate = %v", task["dueDate"])
	}
}

func TestDefaultReviewTaskWithoutAssignees(t *testing.T) {
	task := DefaultReviewTask("A2", "Compliance Sweep", nil, "2025-07-01")
	if task["assignedTo"] != "" {
		t.Errorf("assignedTo = %v, want empty", task["assignedTo"])
	}
}
