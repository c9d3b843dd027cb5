package gamification

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed badges.yaml
var defaultBadgesYAML []byte

const badgeTableSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["badges"],
  "properties": {
    "badges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name", "metric", "threshold"],
        "additionalProperties": false,
        "properties": {
          "id":          {"type": "string", "pattern": "^[a-z0-9][a-z0-9_-]*$"},
          "name":        {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "metric":      {"enum": ["totalXP", "level", "coursesCompleted", "articlesRead", "commentsPosted", "currentStreak", "longestStreak"]},
          "threshold":   {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

var badgeSchema = gojsonschema.NewStringLoader(badgeTableSchema)

// DefaultBadgeTable returns the built-in badge table.
func DefaultBadgeTable() BadgeTable {
	t, err := ParseBadgeTable(defaultBadgesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded badge table: %v", err))
	}
	return t
}

// LoadBadgeTable reads a badge table from a YAML file. An empty path
// returns the built-in table.
func LoadBadgeTable(path string) (BadgeTable, error) {
	if path == "" {
		return DefaultBadgeTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return BadgeTable{}, fmt.Errorf("reading badge table: %w", err)
	}
	t, err := ParseBadgeTable(data)
	if err != nil {
		return BadgeTable{}, fmt.Errorf("loading badge table %s: %w", path, err)
	}
	slog.Info("badge table loaded", "path", path, "badges", t.Len())
	return t, nil
}

// ParseBadgeTable decodes and validates a YAML badge table.
func ParseBadgeTable(data []byte) (BadgeTable, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return BadgeTable{}, fmt.Errorf("invalid YAML: %w", err)
	}

	result, err := gojsonschema.Validate(badgeSchema, gojsonschema.NewGoLoader(raw))
	if err != nil {
		return BadgeTable{}, fmt.Errorf("validating badge table: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return BadgeTable{}, fmt.Errorf("badge table does not match schema: %s", strings.Join(msgs, "; "))
	}

	var doc struct {
		Badges []BadgeDefinition `yaml:"badges"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return BadgeTable{}, fmt.Errorf("decoding badges: %w", err)
	}
	return NewBadgeTable(doc.Badges)
}
