// Package content loads the read-only module/lesson/quiz tree served by the bot.
//
// The catalog is built once at process start and never mutated afterwards. Lookups by id
// return ErrModuleNotFound / ErrLessonNotFound instead of panicking so that stale or
// tampered selections can be handled by the caller.
package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

var (
	ErrModuleNotFound = errors.New("module not found")
	ErrLessonNotFound = errors.New("lesson not found")
)

// Question is a multiple-choice quiz question.
type Question struct {
	Prompt        string   `json:"question"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correct_option"`
}

// Valid reports whether the correct option index points into Options.
func (q Question) Valid() bool {
	return q.CorrectOption >= 0 && q.CorrectOption < len(q.Options)
}

// CorrectText returns the text of the correct option.
func (q Question) CorrectText() string {
	if !q.Valid() {
		return ""
	}
	return q.Options[q.CorrectOption]
}

// Lesson is explanatory text with an optional quiz.
type Lesson struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Questions []Question `json:"questions"`
}

// Module is a top-level content unit holding ordered lessons.
type Module struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Lessons []Lesson `json:"lessons"`
}

// Lesson finds a lesson of the module by id.
func (m Module) Lesson(id string) (Lesson, error) {
	for _, l := range m.Lessons {
		if l.ID == id {
			return l, nil
		}
	}
	return Lesson{}, fmt.Errorf("%w: %q in module %q", ErrLessonNotFound, id, m.ID)
}

// Catalog is the immutable content tree.
type Catalog struct {
	modules []Module
}

type document struct {
	Modules []Module `json:"modules"`
}

// NewCatalog builds a catalog from already decoded modules. Entries violating the content
// invariants (duplicate ids, out-of-range correct options) are dropped with a warning.
func NewCatalog(modules []Module) *Catalog {
	return &Catalog{modules: sanitize(modules)}
}

// Empty returns a catalog with no modules.
func Empty() *Catalog {
	return &Catalog{}
}

// Parse decodes a content document.
func Parse(r io.Reader) (*Catalog, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode content: %w", err)
	}
	return NewCatalog(doc.Modules), nil
}

// Load reads the content file at path. A missing or unparseable file yields an empty
// catalog so the bot can start degraded.
func Load(path string) *Catalog {
	slog.Info("Content Load started", "path", path)
	f, err := os.Open(path)
	if err != nil {
		slog.Error("Content Load failed to open file, starting with empty catalog", "error", err, "path", path)
		return Empty()
	}
	defer f.Close()

	cat, err := Parse(f)
	if err != nil {
		slog.Error("Content Load failed to parse file, starting with empty catalog", "error", err, "path", path)
		return Empty()
	}
	slog.Info("Content Load succeeded", "path", path, "modules", len(cat.modules))
	return cat
}

// Modules returns the modules in display order.
func (c *Catalog) Modules() []Module {
	out := make([]Module, len(c.modules))
	copy(out, c.modules)
	return out
}

// Module finds a module by id.
func (c *Catalog) Module(id string) (Module, error) {
	for _, m := range c.modules {
		if m.ID == id {
			return m, nil
		}
	}
	return Module{}, fmt.Errorf("%w: %q", ErrModuleNotFound, id)
}

// Lesson finds a lesson by module and lesson id.
func (c *Catalog) Lesson(moduleID, lessonID string) (Lesson, error) {
	m, err := c.Module(moduleID)
	if err != nil {
		return Lesson{}, err
	}
	return m.Lesson(lessonID)
}

// Len returns the number of modules.
func (c *Catalog) Len() int {
	return len(c.modules)
}

func sanitize(modules []Module) []Module {
	out := make([]Module, 0, len(modules))
	seenModules := make(map[string]bool, len(modules))
	for _, m := range modules {
		if m.ID == "" || seenModules[m.ID] {
			slog.Warn("Content dropping module with empty or duplicate id", "moduleID", m.ID, "title", m.Title)
			continue
		}
		seenModules[m.ID] = true

		lessons := make([]Lesson, 0, len(m.Lessons))
		seenLessons := make(map[string]bool, len(m.Lessons))
		for _, l := range m.Lessons {
			if l.ID == "" || seenLessons[l.ID] {
				slog.Warn("Content dropping lesson with empty or duplicate id", "moduleID", m.ID, "lessonID", l.ID)
				continue
			}
			seenLessons[l.ID] = true

			questions := make([]Question, 0, len(l.Questions))
			for i, q := range l.Questions {
				if !q.Valid() {
					slog.Warn("Content dropping question with invalid correct option", "moduleID", m.ID, "lessonID", l.ID, "index", i, "correct_option", q.CorrectOption, "options", len(q.Options))
					continue
				}
				questions = append(questions, q)
			}
			l.Questions = questions
			lessons = append(lessons, l)
		}
		m.Lessons = lessons
		out = append(out, m)
	}
	return out
}
