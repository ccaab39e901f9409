package plan

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLSource loads plans from a YAML file:
//
//	plans:
//	  - id: pro
//	    name: Pro
//	    interval: monthly
//	    price: {amount: 2900, currency: USD}
//	    limits:
//	      api_hits_per_month: 5000
type YAMLSource struct {
	path string
}

// NewYAMLSource creates a source reading the given file path.
func NewYAMLSource(path string) *YAMLSource {
	return &YAMLSource{path: path}
}

// Load reads and decodes the catalog file.
func (s *YAMLSource) Load(ctx context.Context) (map[string]Plan, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	if len(doc.Plans) == 0 {
		return nil, errors.Join(ErrFailedToLoadPlans, fmt.Errorf("no plans defined in %s", s.path))
	}

	plans := make(map[string]Plan, len(doc.Plans))
	for _, p := range doc.Plans {
		if _, exists := plans[p.ID]; exists {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("duplicate plan ID %q in %s", p.ID, s.path))
		}
		plans[p.ID] = p
	}
	return plans, nil
}
