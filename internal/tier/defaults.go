package tier

import "github.com/shopspring/decimal"

// DefaultTiers is the reference bronze/silver/gold/platinum program.
func DefaultTiers() []Tier {
	return []Tier{
		{
			Name:                  Bronze,
			MinLifetimePoints:     0,
			PointsMultiplier:      decimal.RequireFromString("1.0"),
			DiscountPercentage:    0,
			FreeShippingThreshold: decimal.NewFromInt(150),
			ExclusivePerks:        []string{"Access to sales", "Email updates"},
		},
		{
			Name:                  Silver,
			MinLifetimePoints:     500,
			PointsMultiplier:      decimal.RequireFromString("1.25"),
			DiscountPercentage:    5,
			FreeShippingThreshold: decimal.NewFromInt(100),
			ExclusivePerks:        []string{"5% discount on all purchases", "Free shipping above ₹100", "Early sale access"},
		},
		{
			Name:                  Gold,
			MinLifetimePoints:     2000,
			PointsMultiplier:      decimal.RequireFromString("1.5"),
			DiscountPercentage:    10,
			FreeShippingThreshold: decimal.NewFromInt(50),
			ExclusivePerks: []string{
				"10% discount on all purchases",
				"Free shipping above ₹50",
				"Early access to new products",
				"Priority customer support",
				"Birthday gift",
			},
		},
		{
			Name:                  Platinum,
			MinLifetimePoints:     5000,
			PointsMultiplier:      decimal.RequireFromString("2.0"),
			DiscountPercentage:    15,
			FreeShippingThreshold: decimal.Zero,
			ExclusivePerks: []string{
				"15% discount on all purchases",
				"Free shipping on all orders",
				"VIP customer support",
				"Exclusive products access",
				"Birthday gift + bonus points",
				"Quarterly rewards",
				"Personal shopping assistant",
			},
			BirthdayBonusPercentage: 20,
		},
	}
}

// DefaultTable returns the reference table. It panics only if DefaultTiers is broken.
func DefaultTable() *Table {
	t, err := NewTable(DefaultTiers())
	if err != nil {
		panic(err)
	}
	return t
}
