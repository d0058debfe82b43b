package tier

import (
	"errors"

	"github.com/shopspring/decimal"

	"outreach-engine/internal/models"
)

var ErrUnknownTier = errors.New("unknown membership tier")

// Definition holds the economics of one membership tier. Rate is per-tier
// data even though every current tier happens to use 0.30.
type Definition struct {
	Price        decimal.Decimal
	Rate         decimal.Decimal
	LevelLimit   int
	MonthlyCap   *decimal.Decimal // nil means unbounded
	SignupPoints int
}

type Registry struct {
	defs map[models.Tier]Definition
}

func capOf(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

// NewRegistry builds the registry with the platform's four tiers.
func NewRegistry() *Registry {
	rate := decimal.RequireFromString("0.30")
	return &Registry{defs: map[models.Tier]Definition{
		models.TierBronze: {
			Price:        decimal.RequireFromString("10.00"),
			Rate:         rate,
			LevelLimit:   1,
			MonthlyCap:   capOf("500.00"),
			SignupPoints: 1,
		},
		models.TierSilver: {
			Price:        decimal.RequireFromString("25.00"),
			Rate:         rate,
			LevelLimit:   2,
			MonthlyCap:   capOf("2000.00"),
			SignupPoints: 2,
		},
		models.TierGold: {
			Price:        decimal.RequireFromString("50.00"),
			Rate:         rate,
			LevelLimit:   5,
			MonthlyCap:   capOf("10000.00"),
			SignupPoints: 5,
		},
		models.TierDiamond: {
			Price:        decimal.RequireFromString("100.00"),
			Rate:         rate,
			LevelLimit:   7,
			MonthlyCap:   nil,
			SignupPoints: 10,
		},
	}}
}

func (r *Registry) Definition(t models.Tier) (Definition, error) {
	def, ok := r.defs[t]
	if !ok {
		return Definition{}, ErrUnknownTier
	}
	return def, nil
}

func (r *Registry) Price(t models.Tier) (decimal.Decimal, error) {
	def, err := r.Definition(t)
	return def.Price, err
}

func (r *Registry) Rate(t models.Tier) (decimal.Decimal, error) {
	def, err := r.Definition(t)
	return def.Rate, err
}

func (r *Registry) LevelLimit(t models.Tier) (int, error) {
	def, err := r.Definition(t)
	return def.LevelLimit, err
}

// Cap returns the monthly earnings cap, nil for unbounded tiers.
func (r *Registry) Cap(t models.Tier) (*decimal.Decimal, error) {
	def, err := r.Definition(t)
	return def.MonthlyCap, err
}

func (r *Registry) SignupPoints(t models.Tier) (int, error) {
	def, err := r.Definition(t)
	return def.SignupPoints, err
}

// MaxLevel is the deepest level any tier unlocks; the calculator never walks
// farther than this.
func (r *Registry) MaxLevel() int {
	max := 0
	for _, def := range r.defs {
		if def.LevelLimit > max {
			max = def.LevelLimit
		}
	}
	return max
}
