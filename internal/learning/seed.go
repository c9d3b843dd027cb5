package learning

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// seedFile is the YAML layout of a seed document. Every section is
// optional so records can be split across files.
type seedFile struct {
	Users   []string `yaml:"users"`
	Courses []struct {
		ID         string   `yaml:"id"`
		Title      string   `yaml:"title"`
		Difficulty string   `yaml:"difficulty"`
		Articles   []string `yaml:"articles"`
	} `yaml:"courses"`
	Enrollments []struct {
		User              string   `yaml:"user"`
		Course            string   `yaml:"course"`
		CompletedArticles []string `yaml:"completed_articles"`
		Completed         bool     `yaml:"completed"`
	} `yaml:"enrollments"`
	Quizzes []struct {
		ID           string `yaml:"id"`
		Course       string `yaml:"course"`
		PassingScore int    `yaml:"passing_score"`
		Questions    int    `yaml:"questions"`
		Published    bool   `yaml:"published"`
	} `yaml:"quizzes"`
	Attempts []struct {
		ID          string    `yaml:"id"`
		User        string    `yaml:"user"`
		Quiz        string    `yaml:"quiz"`
		Score       int       `yaml:"score"`
		Passed      bool      `yaml:"passed"`
		CompletedAt time.Time `yaml:"completed_at"`
	} `yaml:"attempts"`
	Comments []struct {
		User string `yaml:"user"`
		ID   string `yaml:"id"`
	} `yaml:"comments"`
	ArticleReads []struct {
		User    string `yaml:"user"`
		Article string `yaml:"article"`
	} `yaml:"article_reads"`
}

// LoadSeed builds a MemorySource from a YAML file, or from every .yaml
// and .yml file under a directory.
func LoadSeed(root string) (*MemorySource, error) {
	src := NewMemorySource()
	files := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !(strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")) {
			return nil
		}
		if err := src.loadSeedFile(path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		files++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading seed: %w", err)
	}

	slog.Info("learning seed loaded", "path", root, "files", files, "users", len(src.users), "courses", len(src.courses))
	return src, nil
}

func (s *MemorySource) loadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}

	for _, u := range f.Users {
		s.AddUser(u)
	}
	for _, c := range f.Courses {
		if c.ID == "" {
			return fmt.Errorf("course without id")
		}
		s.PutCourse(Course{ID: c.ID, Title: c.Title, Difficulty: c.Difficulty, Articles: c.Articles})
	}
	for _, e := range f.Enrollments {
		if e.User == "" || e.Course == "" {
			return fmt.Errorf("enrollment needs user and course")
		}
		s.PutEnrollment(Enrollment{
			UserID:            e.User,
			CourseID:          e.Course,
			CompletedArticles: e.CompletedArticles,
			Completed:         e.Completed,
		})
	}
	for _, q := range f.Quizzes {
		if q.ID == "" || q.Course == "" {
			return fmt.Errorf("quiz needs id and course")
		}
		s.PutQuiz(Quiz{ID: q.ID, CourseID: q.Course, PassingScore: q.PassingScore, Questions: q.Questions, Published: q.Published})
	}
	for _, a := range f.Attempts {
		s.AddAttempt(QuizAttempt{ID: a.ID, UserID: a.User, QuizID: a.Quiz, Score: a.Score, Passed: a.Passed, CompletedAt: a.CompletedAt})
	}
	for _, c := range f.Comments {
		s.AddComment(c.User, c.ID)
	}
	for _, r := range f.ArticleReads {
		s.RecordArticleRead(r.User, r.Article)
	}
	return nil
}
