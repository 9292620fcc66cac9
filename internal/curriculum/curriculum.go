// Package curriculum reads authored curricula (concepts, skills, lessons,
// quizzes and their prerequisite structure) from YAML and applies them to
// the shared content graph.
package curriculum

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Curriculum is one authoring file.
type Curriculum struct {
	Name     string     `yaml:"name" validate:"required"`
	Concepts []Concept  `yaml:"concepts" validate:"required,min=1,dive"`
	Lessons  []Material `yaml:"lessons" validate:"dive"`
	Quizzes  []Material `yaml:"quizzes" validate:"dive"`
	Similar  []Relation `yaml:"similar" validate:"dive"`
}

// Concept is a trackable node. Type is "concept" (default) or "skill".
type Concept struct {
	ID          string         `yaml:"id" validate:"required"`
	Type        string         `yaml:"type" validate:"omitempty,oneof=concept skill"`
	Title       string         `yaml:"title" validate:"required"`
	Description string         `yaml:"description"`
	Difficulty  string         `yaml:"difficulty" validate:"omitempty,oneof=beginner intermediate advanced"`
	Requires    []Prerequisite `yaml:"requires" validate:"dive"`

	// Body and Items are inline authored material for the static generator.
	Body  string `yaml:"body"`
	Items []Item `yaml:"items" validate:"dive"`
}

// Prerequisite names a concept that must be learned first. Weight defaults
// to 1.
type Prerequisite struct {
	ID     string   `yaml:"id" validate:"required"`
	Weight *float64 `yaml:"weight" validate:"omitempty,gt=0,lte=1"`
}

// Material is an authored lesson or quiz attached to a concept.
type Material struct {
	ID      string `yaml:"id" validate:"required"`
	Concept string `yaml:"concept" validate:"required"`
	Title   string `yaml:"title"`
	Body    string `yaml:"body"`
	Items   []Item   `yaml:"items" validate:"dive"`
}

// Item is an authored question. AnswerType defaults to text.
type Item struct {
	ID          string   `yaml:"id" validate:"required"`
	Prompt      string   `yaml:"prompt" validate:"required"`
	Choices     []string `yaml:"choices"`
	Answer      string   `yaml:"answer" validate:"required"`
	AnswerType  string   `yaml:"answer_type" validate:"omitempty,oneof=integer decimal fraction text"`
	Explanation string   `yaml:"explanation"`
}

// Relation is an undirected similarity between two concepts.
type Relation struct {
	A      string  `yaml:"a" validate:"required"`
	B      string  `yaml:"b" validate:"required,nefield=A"`
	Weight float64 `yaml:"weight" validate:"gte=0,lte=1"`
}

// ErrInvalid marks a curriculum that fails validation.
var ErrInvalid = errors.New("invalid curriculum")

// LoadFile parses and validates the curriculum at path.
func LoadFile(path string) (*Curriculum, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read curriculum: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes and validates a curriculum. Unknown keys are rejected.
func Parse(r io.Reader) (*Curriculum, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var c Curriculum
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse curriculum: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

var validate = validator.New()

// Validate checks field constraints and that every reference resolves to
// a concept in the file.
func (c *Curriculum) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	ids := make(map[string]bool)
	for _, cc := range c.Concepts {
		if ids[cc.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalid, cc.ID)
		}
		ids[cc.ID] = true
	}
	for _, m := range append(append([]Material(nil), c.Lessons...), c.Quizzes...) {
		if ids[m.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalid, m.ID)
		}
		ids[m.ID] = true
	}

	concept := func(id string) bool {
		for _, cc := range c.Concepts {
			if cc.ID == id {
				return true
			}
		}
		return false
	}
	for _, cc := range c.Concepts {
		for _, p := range cc.Requires {
			if !concept(p.ID) {
				return fmt.Errorf("%w: %q requires unknown concept %q", ErrInvalid, cc.ID, p.ID)
			}
		}
	}
	for _, m := range c.Lessons {
		if !concept(m.Concept) {
			return fmt.Errorf("%w: lesson %q targets unknown concept %q", ErrInvalid, m.ID, m.Concept)
		}
	}
	for _, m := range c.Quizzes {
		if !concept(m.Concept) {
			return fmt.Errorf("%w: quiz %q targets unknown concept %q", ErrInvalid, m.ID, m.Concept)
		}
		if len(m.Items) == 0 {
			return fmt.Errorf("%w: quiz %q has no items", ErrInvalid, m.ID)
		}
	}
	for _, r := range c.Similar {
		if !concept(r.A) || !concept(r.B) {
			return fmt.Errorf("%w: similarity %s~%s names an unknown concept", ErrInvalid, r.A, r.B)
		}
	}
	return nil
}
