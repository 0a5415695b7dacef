package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

type Category string

const (
	CategoryDiscount   Category = "discount"
	CategoryProduct    Category = "product"
	CategoryShipping   Category = "shipping"
	CategoryExperience Category = "experience"
)

// DefaultValidDays is how long an issued coupon stays usable unless the option says otherwise.
const DefaultValidDays = 30

var ErrInvalidCatalog = errors.New("invalid redemption catalog")

// Option is something a customer can spend points on.
type Option struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Category    Category        `json:"category"`
	PointsCost  int64           `json:"points_cost"`
	Value       decimal.Decimal `json:"value"`
	Description string          `json:"description"`
	ValidDays   int             `json:"valid_days"`
}

// Catalog is the immutable list of redemption options, ordered by cost.
type Catalog struct {
	options []Option
	byID    map[string]int
}

func New(options []Option) (*Catalog, error) {
	sorted := make([]Option, len(options))
	copy(sorted, options)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PointsCost < sorted[j].PointsCost
	})

	byID := make(map[string]int, len(sorted))
	for i, o := range sorted {
		if o.ID == "" {
			return nil, fmt.Errorf("%w: option %q has no id", ErrInvalidCatalog, o.Name)
		}
		if _, dup := byID[o.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate option %q", ErrInvalidCatalog, o.ID)
		}
		if o.PointsCost <= 0 {
			return nil, fmt.Errorf("%w: option %q must cost more than 0 points", ErrInvalidCatalog, o.ID)
		}
		switch o.Category {
		case CategoryDiscount, CategoryProduct, CategoryShipping, CategoryExperience:
		default:
			return nil, fmt.Errorf("%w: option %q has unknown category %q", ErrInvalidCatalog, o.ID, o.Category)
		}
		if o.Value.IsNegative() {
			return nil, fmt.Errorf("%w: option %q has a negative value", ErrInvalidCatalog, o.ID)
		}
		if o.ValidDays <= 0 {
			sorted[i].ValidDays = DefaultValidDays
		}
		byID[o.ID] = i
	}

	return &Catalog{options: sorted, byID: byID}, nil
}

func (c *Catalog) Get(id string) (Option, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Option{}, false
	}
	return c.options[i], true
}

// List returns a copy of all options, cheapest first.
func (c *Catalog) List() []Option {
	out := make([]Option, len(c.options))
	copy(out, c.options)
	return out
}

// Affordable returns the options whose cost fits into balance.
func (c *Catalog) Affordable(balance int64) []Option {
	var out []Option
	for _, o := range c.options {
		if o.PointsCost > balance {
			break
		}
		out = append(out, o)
	}
	return out
}

// DefaultOptions is the reference reward list of the storefront.
func DefaultOptions() []Option {
	return []Option{
		{ID: "discount-100", Name: "₹10 Off", Category: CategoryDiscount, PointsCost: 500, Value: decimal.NewFromInt(10), Description: "Get ₹10 discount on your next purchase"},
		{ID: "discount-250", Name: "₹25 Off", Category: CategoryDiscount, PointsCost: 1250, Value: decimal.NewFromInt(25), Description: "Get ₹25 discount on your next purchase"},
		{ID: "discount-500", Name: "₹50 Off", Category: CategoryDiscount, PointsCost: 2500, Value: decimal.NewFromInt(50), Description: "Get ₹50 discount on your next purchase"},
		{ID: "shipping-free", Name: "Free Shipping", Category: CategoryShipping, PointsCost: 300, Value: decimal.Zero, Description: "Free shipping on your next order"},
		{ID: "exclusive-seed-pack", Name: "Exclusive Seed Pack", Category: CategoryProduct, PointsCost: 3000, Value: decimal.NewFromInt(299), Description: "Get exclusive seed pack worth ₹299"},
		{ID: "premium-guide", Name: "Premium Growing Guide", Category: CategoryExperience, PointsCost: 500, Value: decimal.NewFromInt(99), Description: "Digital premium growing guide (PDF)"},
	}
}

// Default returns the reference catalog.
func Default() *Catalog {
	c, err := New(DefaultOptions())
	if err != nil {
		panic(err)
	}
	return c
}
