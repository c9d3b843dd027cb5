package gamification_test

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/p-n-ai/pai-progress/internal/gamification"
)

func testTable(t *testing.T) gamification.BadgeTable {
	t.Helper()
	table, err := gamification.NewBadgeTable([]gamification.BadgeDefinition{
		{ID: "first-course", Name: "Graduate", Metric: gamification.MetricCoursesCompleted, Threshold: 1},
		{ID: "course-collector", Name: "Collector", Metric: gamification.MetricCoursesCompleted, Threshold: 5},
		{ID: "first-comment", Name: "Hello", Metric: gamification.MetricCommentsPosted, Threshold: 1},
		{ID: "xp-100", Name: "Century", Metric: gamification.MetricTotalXP, Threshold: 100},
	})
	if err != nil {
		t.Fatalf("NewBadgeTable() error = %v", err)
	}
	return table
}

func TestEvaluate(t *testing.T) {
	table := testTable(t)

	tests := []struct {
		name   string
		snap   gamification.Snapshot
		earned []string
		want   []string
	}{
		{
			name: "nothing unlocked",
			snap: gamification.Snapshot{},
			want: nil,
		},
		{
			name: "multiple unlock from one snapshot",
			snap: gamification.Snapshot{CoursesCompleted: 1, TotalXP: 130},
			want: []string{"first-course", "xp-100"},
		},
		{
			name:   "already earned are excluded",
			snap:   gamification.Snapshot{CoursesCompleted: 5, CommentsPosted: 2},
			earned: []string{"first-course", "first-comment"},
			want:   []string{"course-collector"},
		},
		{
			name:   "earned badges stay earned when predicate no longer holds",
			snap:   gamification.Snapshot{},
			earned: []string{"first-course"},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := gamification.Evaluate(tt.snap, table, tt.earned)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_EarnedSetNeverShrinks(t *testing.T) {
	table := testTable(t)
	snaps := []gamification.Snapshot{
		{CommentsPosted: 1},
		{CommentsPosted: 1, CoursesCompleted: 1},
		{},
		{CoursesCompleted: 5, TotalXP: 500},
		{CommentsPosted: 0},
	}

	var earned []string
	for i, s := range snaps {
		before := slices.Clone(earned)
		earned = append(earned, gamification.Evaluate(s, table, earned)...)
		for _, id := range before {
			if !slices.Contains(earned, id) {
				t.Fatalf("step %d: badge %q disappeared", i, id)
			}
		}
	}
	if len(earned) != table.Len() {
		t.Errorf("earned = %v, want all %d badges", earned, table.Len())
	}
}

func TestNewBadgeTable_Rejects(t *testing.T) {
	tests := []struct {
		name string
		defs []gamification.BadgeDefinition
	}{
		{"missing id", []gamification.BadgeDefinition{{Metric: gamification.MetricLevel}}},
		{"duplicate id", []gamification.BadgeDefinition{
			{ID: "a", Metric: gamification.MetricLevel},
			{ID: "a", Metric: gamification.MetricTotalXP},
		}},
		{"unknown metric", []gamification.BadgeDefinition{{ID: "a", Metric: "friends"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := gamification.NewBadgeTable(tt.defs); err == nil {
				t.Error("NewBadgeTable() should return error")
			}
		})
	}
}

func TestDefaultBadgeTable(t *testing.T) {
	table := gamification.DefaultBadgeTable()
	if table.Len() == 0 {
		t.Fatal("DefaultBadgeTable() is empty")
	}
	if _, ok := table.Get("first-course"); !ok {
		t.Error("default table should contain first-course")
	}
}

func TestParseBadgeTable(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name: "valid",
			yaml: `badges:
  - id: reader
    name: Reader
    metric: articlesRead
    threshold: 3
`,
		},
		{
			name: "unknown metric",
			yaml: `badges:
  - id: reader
    name: Reader
    metric: friends
    threshold: 3
`,
			wantErr: true,
		},
		{
			name: "negative threshold",
			yaml: `badges:
  - id: reader
    name: Reader
    metric: articlesRead
    threshold: -1
`,
			wantErr: true,
		},
		{
			name: "unexpected field",
			yaml: `badges:
  - id: reader
    name: Reader
    metric: articlesRead
    threshold: 1
    gems: 50
`,
			wantErr: true,
		},
		{name: "missing badges key", yaml: "other: 1\n", wantErr: true},
		{name: "not yaml", yaml: "badges: [", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gamification.ParseBadgeTable([]byte(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseBadgeTable() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadBadgeTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "badges.yaml")
	content := `badges:
  - id: streak-2
    name: Two Days
    metric: currentStreak
    threshold: 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := gamification.LoadBadgeTable(path)
	if err != nil {
		t.Fatalf("LoadBadgeTable() error = %v", err)
	}
	if table.Len() != 1 {
		t.Errorf("Len() = %d, want 1", table.Len())
	}

	if _, err := gamification.LoadBadgeTable(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadBadgeTable() should fail for a missing file")
	}

	def, err := gamification.LoadBadgeTable("")
	if err != nil || def.Len() == 0 {
		t.Errorf("LoadBadgeTable(\"\") = %d badges, err %v; want default table", def.Len(), err)
	}
}
