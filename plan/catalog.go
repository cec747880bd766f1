package plan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/xraph/payledger/types"
)

// ErrNotFound is returned by a Catalog for an unknown plan id.
var ErrNotFound = errors.New("plan: not found")

// Catalog resolves plan ids to their billing terms.
type Catalog interface {
	Lookup(ctx context.Context, planID string) (*Plan, error)
}

// StaticCatalog is an in-memory Catalog.
type StaticCatalog struct {
	mu    sync.RWMutex
	plans map[string]*Plan
}

// NewStaticCatalog returns a catalog holding plans. It panics on an invalid
// plan, which is a programming error for hardcoded catalogs.
func NewStaticCatalog(plans ...*Plan) *StaticCatalog {
	c := &StaticCatalog{plans: make(map[string]*Plan, len(plans))}
	for _, p := range plans {
		if err := c.Add(p); err != nil {
			panic(err)
		}
	}
	return c
}

// Add validates and registers p, replacing any plan with the same id.
func (c *StaticCatalog) Add(p *Plan) error {
	p.Price.Currency = types.NormalizeCurrency(p.Price.Currency)
	if err := p.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *p
	c.plans[p.ID] = &cp
	return nil
}

// Lookup implements Catalog.
func (c *StaticCatalog) Lookup(_ context.Context, planID string) (*Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.plans[planID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, planID)
	}
	cp := *p
	return &cp, nil
}

type catalogFile struct {
	Plans []*Plan `yaml:"plans"`
}

// LoadCatalogFile reads a YAML catalog of the form
//
//	plans:
//	  - id: pro_monthly
//	    name: Pro
//	    interval: {unit: month, count: 1}
//	    price: {amount: 4900, currency: USD}
func LoadCatalogFile(path string) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plan: read catalog: %w", err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("plan: parse catalog %s: %w", path, err)
	}

	c := &StaticCatalog{plans: make(map[string]*Plan, len(f.Plans))}
	for _, p := range f.Plans {
		if err := c.Add(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}
