package gamification

import "fmt"

// Metric names a Snapshot field a badge predicate can test.
type Metric string

const (
	MetricTotalXP          Metric = "totalXP"
	MetricLevel            Metric = "level"
	MetricCoursesCompleted Metric = "coursesCompleted"
	MetricArticlesRead     Metric = "articlesRead"
	MetricCommentsPosted   Metric = "commentsPosted"
	MetricCurrentStreak    Metric = "currentStreak"
	MetricLongestStreak    Metric = "longestStreak"
)

// Metrics lists every metric a badge may reference.
var Metrics = []Metric{
	MetricTotalXP,
	MetricLevel,
	MetricCoursesCompleted,
	MetricArticlesRead,
	MetricCommentsPosted,
	MetricCurrentStreak,
	MetricLongestStreak,
}

// Snapshot is the read-only view of a user's progress that badge
// predicates are evaluated against.
type Snapshot struct {
	TotalXP          int
	Level            int
	CoursesCompleted int
	ArticlesRead     int
	CommentsPosted   int
	CurrentStreak    int
	LongestStreak    int
}

// Value returns the snapshot value for m.
func (s Snapshot) Value(m Metric) (int, error) {
	switch m {
	case MetricTotalXP:
		return s.TotalXP, nil
	case MetricLevel:
		return s.Level, nil
	case MetricCoursesCompleted:
		return s.CoursesCompleted, nil
	case MetricArticlesRead:
		return s.ArticlesRead, nil
	case MetricCommentsPosted:
		return s.CommentsPosted, nil
	case MetricCurrentStreak:
		return s.CurrentStreak, nil
	case MetricLongestStreak:
		return s.LongestStreak, nil
	default:
		return 0, fmt.Errorf("unknown badge metric %q", m)
	}
}

// BadgeDefinition describes one achievement and its unlock rule.
type BadgeDefinition struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`
	Metric      Metric `yaml:"metric" json:"metric"`
	Threshold   int    `yaml:"threshold" json:"threshold"`
}

// Unlocked reports whether the badge predicate holds for s.
func (b BadgeDefinition) Unlocked(s Snapshot) bool {
	v, err := s.Value(b.Metric)
	if err != nil {
		return false
	}
	return v >= b.Threshold
}

// BadgeTable is an ordered set of badge definitions.
type BadgeTable struct {
	Badges []BadgeDefinition
	byID   map[string]int
}

// NewBadgeTable builds a table, rejecting duplicate ids and unknown metrics.
func NewBadgeTable(defs []BadgeDefinition) (BadgeTable, error) {
	t := BadgeTable{
		Badges: make([]BadgeDefinition, 0, len(defs)),
		byID:   make(map[string]int, len(defs)),
	}
	for _, d := range defs {
		if d.ID == "" {
			return BadgeTable{}, fmt.Errorf("badge without id")
		}
		if _, dup := t.byID[d.ID]; dup {
			return BadgeTable{}, fmt.Errorf("duplicate badge id %q", d.ID)
		}
		if _, err := (Snapshot{}).Value(d.Metric); err != nil {
			return BadgeTable{}, fmt.Errorf("badge %q: %w", d.ID, err)
		}
		t.byID[d.ID] = len(t.Badges)
		t.Badges = append(t.Badges, d)
	}
	return t, nil
}

// Get returns the definition for id.
func (t BadgeTable) Get(id string) (BadgeDefinition, bool) {
	i, ok := t.byID[id]
	if !ok {
		return BadgeDefinition{}, false
	}
	return t.Badges[i], true
}

// Len returns the number of badges in the table.
func (t BadgeTable) Len() int {
	return len(t.Badges)
}

// Evaluate returns the ids of badges whose predicate holds for s and that
// are not already in earned, in table order.
func Evaluate(s Snapshot, table BadgeTable, earned []string) []string {
	have := make(map[string]struct{}, len(earned))
	for _, id := range earned {
		have[id] = struct{}{}
	}

	var unlocked []string
	for _, b := range table.Badges {
		if _, ok := have[b.ID]; ok {
			continue
		}
		if b.Unlocked(s) {
			unlocked = append(unlocked, b.ID)
		}
	}
	return unlocked
}
