package artifact

import (
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/model"
)

// Schema is the ordered list of feature names the trained model was fitted
// on. It is immutable once parsed.
type Schema struct {
	names []string
	index map[string]int
}

// NewSchema builds a Schema from names. Empty or duplicate names make it
// corrupt.
func NewSchema(names []string) (*Schema, error) {
	s := &Schema{
		names: make([]string, len(names)),
		index: make(map[string]int, len(names)),
	}
	copy(s.names, names)

	for i, name := range names {
		if name == "" {
			return nil, goerr.Wrap(model.ErrResourceCorrupt, "empty feature name", goerr.V("position", i))
		}
		if _, dup := s.index[name]; dup {
			return nil, goerr.Wrap(model.ErrResourceCorrupt, "duplicated feature name", goerr.V("name", name))
		}
		s.index[name] = i
	}

	return s, nil
}

// ParseSchema decodes a JSON array of feature names
func ParseSchema(data []byte) (*Schema, error) {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, goerr.Wrap(model.ErrResourceCorrupt, "feature schema is not a JSON string array", goerr.V("error", err.Error()))
	}
	return NewSchema(names)
}

// Names returns a copy of the feature names in model order
func (s *Schema) Names() []string {
	names := make([]string, len(s.names))
	copy(names, s.names)
	return names
}

// Len returns the number of features
func (s *Schema) Len() int {
	return len(s.names)
}

// Index returns the slot of name
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}
