package commission

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"outreach-engine/internal/graph"
	"outreach-engine/internal/models"
	"outreach-engine/internal/tier"
)

// ErrDuplicateEvent signals a replayed payment event. The previously written
// entries accompany it, so callers can treat a replay as the original result.
var ErrDuplicateEvent = errors.New("payment event already processed")

// Ledger is the calculator's storage boundary.
type Ledger interface {
	EntriesForEvent(eventID string) ([]models.CommissionEntry, error)
	// InsertEntries writes the batch atomically. caps maps beneficiary id
	// to its monthly cap (nil means unbounded); the store re-derives each
	// beneficiary's running total for the calendar month starting at
	// monthStart under the same lock that guards the insert, truncates
	// amounts past the remaining room (marking them Truncated) and drops
	// entries with no room left. Returns the entries actually written.
	InsertEntries(entries []models.CommissionEntry, caps map[uint]*decimal.Decimal, monthStart time.Time) ([]models.CommissionEntry, error)
}

// TierSource answers "tier as of time T" for a user.
type TierSource interface {
	AsOf(userID uint, at time.Time) (models.Tier, error)
}

// DeactivatedPolicy controls how the upline walk treats deactivated
// ancestors.
type DeactivatedPolicy int

const (
	// DeactivatedSkip passes over the deactivated ancestor without an entry;
	// farther ancestors still earn at their own distance-based level.
	DeactivatedSkip DeactivatedPolicy = iota
	// DeactivatedStop ends the walk at the first deactivated ancestor.
	DeactivatedStop
)

type Config struct {
	ProtectionWindow time.Duration
	MaxLevel         int
	Deactivated      DeactivatedPolicy
}

type Calculator struct {
	log    *zap.Logger
	graph  *graph.Graph
	tiers  *tier.Registry
	source TierSource
	ledger Ledger
	cfg    Config
	now    func() time.Time
}

func NewCalculator(log *zap.Logger, g *graph.Graph, tiers *tier.Registry, source TierSource, ledger Ledger, cfg Config) *Calculator {
	if cfg.MaxLevel <= 0 {
		cfg.MaxLevel = tiers.MaxLevel()
	}
	return &Calculator{
		log:    log,
		graph:  g,
		tiers:  tiers,
		source: source,
		ledger: ledger,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the calculation clock. Tests only.
func (c *Calculator) SetClock(now func() time.Time) {
	c.now = now
}

// Process walks the payer's upline and emits one held ledger entry per
// qualifying ancestor. Every ancestor is judged independently against its
// own level limit; one locked level never ends the walk, because tiers are
// not guaranteed to be non-decreasing with distance.
func (c *Calculator) Process(ev models.PaymentEvent) ([]models.CommissionEntry, error) {
	existing, err := c.ledger.EntriesForEvent(ev.EventID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, ErrDuplicateEvent
	}

	ancestors, err := c.graph.AncestorsOf(ev.PayerID, c.cfg.MaxLevel)
	if err != nil {
		return nil, fmt.Errorf("upline of payer %d: %w", ev.PayerID, err)
	}

	now := c.now()
	releaseAt := now.Add(c.cfg.ProtectionWindow)

	var candidates []models.CommissionEntry
	caps := make(map[uint]*decimal.Decimal)
	for _, a := range ancestors {
		if !a.User.Active {
			if c.cfg.Deactivated == DeactivatedStop {
				break
			}
			continue
		}

		// Current tier, not tier at event creation: commissions reflect the
		// beneficiary's earning capacity at calculation time.
		t, err := c.source.AsOf(a.User.ID, now)
		if errors.Is(err, tier.ErrNoHistory) {
			t = a.User.Tier
		} else if err != nil {
			return nil, err
		}
		def, err := c.tiers.Definition(t)
		if err != nil {
			return nil, fmt.Errorf("beneficiary %d: %w", a.User.ID, err)
		}
		if a.Level > def.LevelLimit {
			continue
		}

		caps[a.User.ID] = def.MonthlyCap
		candidates = append(candidates, models.CommissionEntry{
			EventID:       ev.EventID,
			BeneficiaryID: a.User.ID,
			PayerID:       ev.PayerID,
			Level:         a.Level,
			Amount:        ev.Amount.Mul(def.Rate),
			Status:        models.StatusHeld,
			ReleaseAt:     releaseAt,
			CreatedAt:     now,
		})
	}

	// Cap truncation happens inside the insert, under the store's lock, so
	// concurrent events naming the same beneficiary cannot both spend the
	// same remaining room.
	var entries []models.CommissionEntry
	if len(candidates) > 0 {
		entries, err = c.ledger.InsertEntries(candidates, caps, monthStart(now))
		if err != nil {
			return nil, err
		}
	}
	c.log.Info("processed payment event",
		zap.String("event", ev.EventID),
		zap.Uint("payer", ev.PayerID),
		zap.Int("entries", len(entries)))
	return entries, nil
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
