package tier

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

const (
	Bronze   = "bronze"
	Silver   = "silver"
	Gold     = "gold"
	Platinum = "platinum"
)

var (
	ErrNegativeLifetime = errors.New("lifetime points must not be negative")
	ErrInvalidTable     = errors.New("invalid tier table")
)

// Tier is one membership level and the benefits attached to it.
type Tier struct {
	Name                    string          `json:"name"`
	MinLifetimePoints       int64           `json:"min_lifetime_points"`
	PointsMultiplier        decimal.Decimal `json:"points_multiplier"`
	DiscountPercentage      int             `json:"discount_percentage"`
	FreeShippingThreshold   decimal.Decimal `json:"free_shipping_threshold"`
	ExclusivePerks          []string        `json:"exclusive_perks"`
	BirthdayBonusPercentage int             `json:"birthday_bonus_percentage"`
}

// ApplyMultiplier returns floor(base * multiplier) in exact decimal arithmetic.
func (t Tier) ApplyMultiplier(base int64) int64 {
	return decimal.NewFromInt(base).Mul(t.PointsMultiplier).Floor().IntPart()
}

// Table is the immutable, ordered set of tiers. It is safe for concurrent use.
type Table struct {
	tiers []Tier
	rank  map[string]int
}

// NewTable validates tiers and returns them as a table ordered by threshold.
// The lowest tier must start at 0 and thresholds must be strictly increasing.
func NewTable(tiers []Tier) (*Table, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: no tiers", ErrInvalidTable)
	}

	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinLifetimePoints < sorted[j].MinLifetimePoints
	})

	if sorted[0].MinLifetimePoints != 0 {
		return nil, fmt.Errorf("%w: lowest tier %q must start at 0 points", ErrInvalidTable, sorted[0].Name)
	}

	rank := make(map[string]int, len(sorted))
	one := decimal.NewFromInt(1)
	for i, t := range sorted {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: tier %d has no name", ErrInvalidTable, i)
		}
		if _, dup := rank[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate tier %q", ErrInvalidTable, t.Name)
		}
		if i > 0 && t.MinLifetimePoints <= sorted[i-1].MinLifetimePoints {
			return nil, fmt.Errorf("%w: threshold of %q must be above %q", ErrInvalidTable, t.Name, sorted[i-1].Name)
		}
		if t.PointsMultiplier.LessThan(one) {
			return nil, fmt.Errorf("%w: multiplier of %q is below 1.0", ErrInvalidTable, t.Name)
		}
		rank[t.Name] = i
		sorted[i].ExclusivePerks = append([]string(nil), t.ExclusivePerks...)
	}

	return &Table{tiers: sorted, rank: rank}, nil
}

// Resolve returns the highest tier whose threshold is at or below lifetime.
func (t *Table) Resolve(lifetime int64) (Tier, error) {
	if lifetime < 0 {
		return Tier{}, fmt.Errorf("%w: %d", ErrNegativeLifetime, lifetime)
	}
	// first tier above lifetime, the one before it is ours
	i := sort.Search(len(t.tiers), func(i int) bool {
		return t.tiers[i].MinLifetimePoints > lifetime
	})
	return t.tiers[i-1], nil
}

// Progress reports how far lifetime is from the current tier's threshold to
// the next one, as a whole percentage in 0..100. The top tier always reports 100.
func (t *Table) Progress(lifetime int64) int {
	if lifetime < 0 {
		return 0
	}
	current, _ := t.Resolve(lifetime)
	next, ok := t.Next(current.Name)
	if !ok {
		return 100
	}
	span := next.MinLifetimePoints - current.MinLifetimePoints
	return int((lifetime - current.MinLifetimePoints) * 100 / span)
}

// PointsToNext returns the lifetime points still needed for the next tier,
// or 0 at the top tier.
func (t *Table) PointsToNext(lifetime int64) int64 {
	current, err := t.Resolve(lifetime)
	if err != nil {
		return 0
	}
	next, ok := t.Next(current.Name)
	if !ok {
		return 0
	}
	return next.MinLifetimePoints - lifetime
}

// Get looks a tier up by name.
func (t *Table) Get(name string) (Tier, bool) {
	i, ok := t.rank[name]
	if !ok {
		return Tier{}, false
	}
	return t.tiers[i], true
}

// Next returns the tier directly above name.
func (t *Table) Next(name string) (Tier, bool) {
	i, ok := t.rank[name]
	if !ok || i+1 >= len(t.tiers) {
		return Tier{}, false
	}
	return t.tiers[i+1], true
}

// Rank returns the position of name in the table (0 = lowest), or -1.
func (t *Table) Rank(name string) int {
	i, ok := t.rank[name]
	if !ok {
		return -1
	}
	return i
}

// Lowest returns the entry tier.
func (t *Table) Lowest() Tier {
	return t.tiers[0]
}

// All returns a copy of the tiers in ascending order.
func (t *Table) All() []Tier {
	out := make([]Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}
