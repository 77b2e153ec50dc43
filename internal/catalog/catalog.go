package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
)

var ErrEmptyCatalog = errors.New("plan catalog is empty")

// Catalog is an immutable plan lookup table.
type Catalog struct {
	plans map[string]models.Plan
}

func clp(n int64) map[string]decimal.Decimal {
	return map[string]decimal.Decimal{"CLP": decimal.NewFromInt(n)}
}

// Default returns the built-in plans, priced in USD and CLP.
func Default() *Catalog {
	c, _ := New([]models.Plan{
		{ID: "basic", Name: "Basic", Price: decimal.NewFromInt(29), CardCount: 1, Prices: clp(26990)},
		{ID: "standard", Name: "Standard", Price: decimal.NewFromInt(59), CardCount: 3, Prices: clp(54990)},
		{ID: "premium", Name: "Premium", Price: decimal.NewFromInt(99), CardCount: 5, Prices: clp(91990)},
	})
	return c
}

func New(plans []models.Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, ErrEmptyCatalog
	}
	m := make(map[string]models.Plan, len(plans))
	for _, p := range plans {
		if p.ID == "" {
			return nil, errors.New("plan id required")
		}
		if _, dup := m[p.ID]; dup {
			return nil, fmt.Errorf("duplicate plan %q", p.ID)
		}
		if p.Price.IsNegative() {
			return nil, fmt.Errorf("plan %q: negative price", p.ID)
		}
		if p.CardCount < 1 {
			return nil, fmt.Errorf("plan %q: card count must be positive", p.ID)
		}
		prices := make(map[string]decimal.Decimal, len(p.Prices))
		for cur, price := range p.Prices {
			cur = strings.ToUpper(cur)
			if price.IsNegative() {
				return nil, fmt.Errorf("plan %q: negative %s price", p.ID, cur)
			}
			if !price.Equal(price.Round(models.CurrencyPlaces(cur))) {
				return nil, fmt.Errorf("plan %q: %s price %s has too many decimals", p.ID, cur, price)
			}
			prices[cur] = price
		}
		p.Prices = prices
		m[p.ID] = p
	}
	return &Catalog{plans: m}, nil
}

type planFile struct {
	Plans []struct {
		ID        string `yaml:"id"`
		Name      string `yaml:"name"`
		Price     string            `yaml:"price"`
		Prices    map[string]string `yaml:"prices"`
		CardCount int               `yaml:"cardCount"`
	} `yaml:"plans"`
}

// Parse reads a YAML plan list.
func Parse(data []byte) (*Catalog, error) {
	var f planFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse plans: %w", err)
	}
	plans := make([]models.Plan, 0, len(f.Plans))
	for _, p := range f.Plans {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("plan %q: invalid price %q: %w", p.ID, p.Price, err)
		}
		plan := models.Plan{ID: p.ID, Name: p.Name, Price: price, CardCount: p.CardCount, Prices: map[string]decimal.Decimal{}}
		for cur, raw := range p.Prices {
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("plan %q: invalid %s price %q: %w", p.ID, cur, raw, err)
			}
			plan.Prices[cur] = v
		}
		plans = append(plans, plan)
	}
	return New(plans)
}

// Load returns the plans in path, or the built-ins when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	return Parse(data)
}

// Unpriced lists the plans that have no price in currency.
func (c *Catalog) Unpriced(currency string) []string {
	var out []string
	for _, p := range c.List() {
		if _, ok := p.PriceIn(currency); !ok {
			out = append(out, p.ID)
		}
	}
	return out
}

func (c *Catalog) Get(id string) (models.Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// List returns plans ordered by price, then id.
func (c *Catalog) List() []models.Plan {
	out := make([]models.Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if cmp := out[i].Price.Cmp(out[j].Price); cmp != 0 {
			return cmp < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}
