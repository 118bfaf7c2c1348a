package catalog

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadFile reads a template catalogue from a JSON file holding an array of
// templates.
func LoadFile(path string) (*StaticCatalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	var templates []Template
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("parse catalogue %s: %w", path, err)
	}
	return NewStaticCatalogue(templates), nil
}
