// Package gamification holds the pure scoring rules: XP awards, levels,
// daily streaks and badge unlocks. Nothing here performs I/O.
package gamification

import "strings"

const (
	// ArticleBaseXP is awarded for reading any article.
	ArticleBaseXP = 10
	// ArticleLongXP replaces the base award for articles over 1000 words.
	ArticleLongXP = 20
	// ArticleVeryLongXP replaces the base award for articles over 2000 words.
	ArticleVeryLongXP = 30

	// CommentXP is awarded per scored comment. The per-period ceiling is
	// enforced by the caller.
	CommentXP = 5

	// QuizPassXP is awarded the first time a user passes a quiz.
	QuizPassXP = 25

	// CourseArticleBonusXP is added per article in a completed course.
	CourseArticleBonusXP = 10
)

// Difficulty classifies a course.
type Difficulty string

const (
	Beginner     Difficulty = "beginner"
	Intermediate Difficulty = "intermediate"
	Advanced     Difficulty = "advanced"
)

// ParseDifficulty normalizes a stored difficulty label.
// Unknown labels fall back to Beginner.
func ParseDifficulty(s string) Difficulty {
	switch Difficulty(strings.ToLower(strings.TrimSpace(s))) {
	case Intermediate:
		return Intermediate
	case Advanced:
		return Advanced
	default:
		return Beginner
	}
}

// BaseXP returns the flat completion award for a difficulty.
func (d Difficulty) BaseXP() int {
	switch d {
	case Intermediate:
		return 100
	case Advanced:
		return 200
	default:
		return 50
	}
}

// ArticleXP returns the award for reading an article of the given length.
// Only the highest matching tier applies.
func ArticleXP(wordCount int) int {
	switch {
	case wordCount > 2000:
		return ArticleVeryLongXP
	case wordCount > 1000:
		return ArticleLongXP
	default:
		return ArticleBaseXP
	}
}

// CourseXP returns the award for completing a course.
func CourseXP(d Difficulty, articleCount int) int {
	if articleCount < 0 {
		articleCount = 0
	}
	return d.BaseXP() + articleCount*CourseArticleBonusXP
}

// levelThresholds[i] is the minimum total XP for level i+1.
var levelThresholds = []int{0, 100, 250, 500, 1000, 2000, 3500, 5500, 8000, 12000}

// MaxLevel is the highest reachable level.
var MaxLevel = len(levelThresholds)

// LevelForXP maps a cumulative XP total to its level (1-based).
func LevelForXP(totalXP int) int {
	level := 1
	for i, min := range levelThresholds {
		if totalXP >= min {
			level = i + 1
		}
	}
	return level
}

// LevelProgress returns the level for totalXP together with the XP floor
// of that level and the threshold of the next one. At MaxLevel next equals
// floor.
func LevelProgress(totalXP int) (level, floor, next int) {
	level = LevelForXP(totalXP)
	floor = levelThresholds[level-1]
	next = floor
	if level < MaxLevel {
		next = levelThresholds[level]
	}
	return level, floor, next
}
