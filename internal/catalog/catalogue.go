// Package catalog resolves remote visual records to local template items
// and exposes the template catalogue the resolution runs against.
package catalog

import "context"

// Template describes one inspection question template.
type Template struct {
	TemplateID string `json:"template_id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	Kind       string `json:"kind"`
	AnswerType string `json:"answer_type"`
	Required   bool   `json:"required"`
}

// Catalogue lists question templates. The loader itself is an external
// collaborator; the engine only consumes this interface.
type Catalogue interface {
	// ListTemplates returns all templates for a category; an empty category
	// selects every template.
	ListTemplates(ctx context.Context, category string) ([]Template, error)
}

// StaticCatalogue is an in-memory Catalogue backed by a fixed slice.
type StaticCatalogue struct {
	templates []Template
}

func NewStaticCatalogue(templates []Template) *StaticCatalogue {
	return &StaticCatalogue{templates: templates}
}

func (c *StaticCatalogue) ListTemplates(_ context.Context, category string) ([]Template, error) {
	var out []Template
	for _, t := range c.templates {
		if category == "" || t.Category == category {
			out = append(out, t)
		}
	}
	return out, nil
}

// All returns every template regardless of category.
func (c *StaticCatalogue) All() []Template {
	return c.templates
}
