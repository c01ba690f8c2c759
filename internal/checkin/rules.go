package checkin

import "sort"

// Tier grants Bonus once a streak reaches MinStreak days
type Tier struct {
	MinStreak int64
	Bonus     int64
}

// Rules computes the points awarded for a check-in
type Rules struct {
	BasePoints int64
	// Tiers are not additive; only the highest reached tier applies
	Tiers []Tier
}

// DefaultTiers are +10 at 3 days, +20 at 7, +30 at 15 and +50 at 30
func DefaultTiers() []Tier {
	return []Tier{
		{MinStreak: 30, Bonus: 50},
		{MinStreak: 15, Bonus: 30},
		{MinStreak: 7, Bonus: 20},
		{MinStreak: 3, Bonus: 10},
	}
}

// DefaultRules awards 10 base points plus the default tiers
func DefaultRules() Rules {
	return NewRules(10, DefaultTiers())
}

// NewRules sorts tiers by descending threshold
func NewRules(base int64, tiers []Tier) Rules {
	sorted := append([]Tier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinStreak > sorted[j].MinStreak })
	return Rules{BasePoints: base, Tiers: sorted}
}

// Points returns base plus the bonus of the highest tier the streak reaches
func (r Rules) Points(streak int64) int64 {
	for _, t := range r.Tiers {
		if streak >= t.MinStreak {
			return r.BasePoints + t.Bonus
		}
	}
	return r.BasePoints
}
