package types

import (
	"sort"
	"testing"
	"time"
)

func TestValidID(t *testing.T) {
	tests := []struct {
		kind Kind
		id   string
		want bool
	}{
		{KindProject, "P-app", true},
		{KindEpic, "E-core-2", true},
		{KindFeature, "F-parse", true},
		{KindTask, "T-fix-lexer", true},
		{KindTask, "T-9lives", true},
		{KindTask, "P-app", false},
		{KindTask, "T-Fix", false},
		{KindTask, "T-", false},
		{KindTask, "T--x", false},
		{KindProject, "P-app/evil", false},
	}
	for _, tt := range tests {
		if got := ValidID(tt.kind, tt.id); got != tt.want {
			t.Errorf("ValidID(%s, %q) = %v, want %v", tt.kind, tt.id, got, tt.want)
		}
	}
}

func TestCanonicalTaskID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"task-fix-lexer", "T-fix-lexer"},
		{"T-fix-lexer", "T-fix-lexer"},
		{"E-core", "E-core"},
		{"taskmaster", "taskmaster"},
	}
	for _, tt := range tests {
		if got := CanonicalTaskID(tt.in); got != tt.want {
			t.Errorf("CanonicalTaskID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in     string
		want   Priority
		wantOK bool
	}{
		{"high", PriorityHigh, true},
		{"HIGH", PriorityHigh, true},
		{"normal", PriorityNormal, true},
		{"medium", PriorityNormal, true},
		{"", PriorityNormal, true},
		{"low", PriorityLow, true},
		{"urgent", "", false},
	}
	for _, tt := range tests {
		got, ok := ParsePriority(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ParsePriority(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		kind     Kind
		from, to Status
		want     bool
	}{
		{KindTask, StatusOpen, StatusInProgress, true},
		{KindTask, StatusInProgress, StatusReview, true},
		{KindTask, StatusInProgress, StatusDone, true},
		{KindTask, StatusReview, StatusDone, true},
		{KindTask, StatusOpen, StatusDone, false},
		{KindTask, StatusDone, StatusOpen, false},
		{KindTask, StatusReview, StatusReview, true},
		{KindProject, StatusDraft, StatusInProgress, true},
		{KindProject, StatusDraft, StatusDone, true},
		{KindProject, StatusDone, StatusDraft, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.kind, tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%s, %s, %s) = %v, want %v", tt.kind, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestClaimLessOrdering(t *testing.T) {
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.AddDate(0, 1, 0)
	tasks := []*Object{
		{ID: "T-c", Priority: PriorityLow, Created: older},
		{ID: "T-b", Priority: PriorityHigh, Created: newer},
		{ID: "T-a", Priority: PriorityHigh, Created: newer},
		{ID: "T-d", Priority: PriorityHigh, Created: older},
		{ID: "T-e", Priority: PriorityNormal, Created: older},
	}
	sort.Slice(tasks, func(i, j int) bool { return ClaimLess(tasks[i], tasks[j]) })

	want := []string{"T-d", "T-a", "T-b", "T-e", "T-c"}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Fatalf("order[%d] = %s, want %s", i, tasks[i].ID, id)
		}
	}
}

func TestTaskFilterMatches(t *testing.T) {
	task := &Object{Kind: KindTask, Status: StatusOpen, Priority: PriorityHigh}

	if !(TaskFilter{}).Matches(task) {
		t.Error("empty filter must match")
	}
	if !(TaskFilter{Status: []Status{StatusOpen, StatusReview}}).Matches(task) {
		t.Error("status filter should match")
	}
	if (TaskFilter{Status: []Status{StatusDone}}).Matches(task) {
		t.Error("status filter should reject")
	}
	if (TaskFilter{Priority: []Priority{PriorityLow}}).Matches(task) {
		t.Error("priority filter should reject")
	}
}

func TestSystemLabel(t *testing.T) {
	solo := &Object{Kind: KindTask}
	if solo.SystemLabel() != "standalone task" {
		t.Errorf("solo = %s", solo.SystemLabel())
	}
	child := &Object{Kind: KindTask, Parent: "F-x"}
	if child.SystemLabel() != "hierarchical task" {
		t.Errorf("child = %s", child.SystemLabel())
	}
	epic := &Object{Kind: KindEpic}
	if epic.SystemLabel() != "epic" {
		t.Errorf("epic = %s", epic.SystemLabel())
	}
}
