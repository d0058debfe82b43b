// Package engine is the library surface of the outreach commission engine.
// Callers own storage: anything implementing Store can back it, and the
// bundled memory and gorm stores cover embedding and service deployments.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"outreach-engine/internal/commission"
	"outreach-engine/internal/graph"
	"outreach-engine/internal/models"
	"outreach-engine/internal/payout"
	"outreach-engine/internal/points"
	"outreach-engine/internal/tier"
)

var ErrInvalidAmount = errors.New("payment amount must be positive")

// Store composes every persistence boundary the engine needs. The memory
// and gorm implementations live in internal/store.
type Store interface {
	graph.UserStore
	tier.ChangeStore
	commission.Ledger
	points.Store
	payout.Store

	// CreatePaymentEvent returns commission.ErrDuplicateEvent when the
	// event id was recorded before.
	CreatePaymentEvent(ev models.PaymentEvent) error
	DeletePaymentEvent(eventID string) error
	// EarningsByUser sums commission amounts per beneficiary for entries
	// created at or after since.
	EarningsByUser(since time.Time) (map[uint]decimal.Decimal, error)
}

type Config struct {
	// ProtectionWindow gates payouts after accrual; default 28 days.
	ProtectionWindow time.Duration
	// MaxLevel caps the upline walk; default is the registry's deepest tier.
	MaxLevel    int
	Thresholds  []points.Threshold
	Deactivated commission.DeactivatedPolicy
	Redeem      points.RedeemPolicy
}

const defaultProtectionWindow = 28 * 24 * time.Hour

// DefaultThresholds is the platform's bonus ladder.
func DefaultThresholds() []points.Threshold {
	return []points.Threshold{
		{Points: 25, Bonus: decimal.RequireFromString("50.00")},
	}
}

type Engine struct {
	log     *zap.Logger
	store   Store
	tiers   *tier.Registry
	graph   *graph.Graph
	history *tier.History
	calc    *commission.Calculator
	points  *points.Engine
	sched   *payout.Scheduler
}

func New(log *zap.Logger, store Store, cfg Config) *Engine {
	if cfg.ProtectionWindow <= 0 {
		cfg.ProtectionWindow = defaultProtectionWindow
	}
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = DefaultThresholds()
	}
	registry := tier.NewRegistry()
	g := graph.New(store)
	history := tier.NewHistory(registry, store)
	return &Engine{
		log:     log,
		store:   store,
		tiers:   registry,
		graph:   g,
		history: history,
		calc: commission.NewCalculator(log, g, registry, history, store, commission.Config{
			ProtectionWindow: cfg.ProtectionWindow,
			MaxLevel:         cfg.MaxLevel,
			Deactivated:      cfg.Deactivated,
		}),
		points: points.NewEngine(log, registry, store, points.Config{
			Thresholds:       cfg.Thresholds,
			Redeem:           cfg.Redeem,
			ProtectionWindow: cfg.ProtectionWindow,
		}),
		sched: payout.NewScheduler(log, store),
	}
}

// Calculator exposes the commission calculator, mainly so tests can pin its
// clock.
func (e *Engine) Calculator() *commission.Calculator { return e.calc }

// RecordPayment records one membership charge and accrues upline
// commissions. A replayed eventID returns the original entries together
// with commission.ErrDuplicateEvent. An empty eventID gets a fresh uuid.
func (e *Engine) RecordPayment(eventID string, payerID uint, t models.Tier, amount decimal.Decimal, at time.Time) ([]models.CommissionEntry, error) {
	if _, err := e.tiers.Definition(t); err != nil {
		return nil, err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if eventID == "" {
		eventID = uuid.New().String()
	}

	ev := models.PaymentEvent{
		EventID: eventID,
		PayerID: payerID,
		Tier:    t,
		Amount:  amount,
		PaidAt:  at,
	}
	if err := e.store.CreatePaymentEvent(ev); err != nil {
		if errors.Is(err, commission.ErrDuplicateEvent) {
			prior, lerr := e.store.EntriesForEvent(eventID)
			if lerr != nil {
				return nil, lerr
			}
			return prior, commission.ErrDuplicateEvent
		}
		return nil, fmt.Errorf("record payment event: %w", err)
	}
	entries, err := e.calc.Process(ev)
	if err != nil {
		// The event row must not outlive a failed calculation: a retry of
		// the same event id would otherwise replay as a zero-entry
		// duplicate and the commissions would be lost.
		if derr := e.store.DeletePaymentEvent(eventID); derr != nil {
			e.log.Error("rollback of failed payment event",
				zap.String("event", eventID), zap.Error(derr))
		}
		return nil, err
	}
	return entries, nil
}

// SignupResult reports what one signup earned the direct recruiter.
type SignupResult struct {
	User          models.User
	PointsGranted int
	Balance       int
	Grants        []models.BonusGrant
}

// RecordSignup attaches the new member under its referrer (or as a root)
// and accrues signup points to the direct recruiter only.
func (e *Engine) RecordSignup(newUserID uint, referrerID *uint, t models.Tier, at time.Time) (SignupResult, error) {
	if _, err := e.tiers.Definition(t); err != nil {
		return SignupResult{}, err
	}
	user, err := e.graph.Attach(newUserID, referrerID, t, at)
	if err != nil {
		return SignupResult{}, err
	}
	if err := e.history.Record(newUserID, t, at); err != nil {
		return SignupResult{}, err
	}

	res := SignupResult{User: user}
	if referrerID != nil {
		acc, err := e.points.RecordSignup(*referrerID, t, at)
		if err != nil {
			return SignupResult{}, err
		}
		res.PointsGranted = acc.Points
		res.Balance = acc.Balance
		res.Grants = acc.Grants
	}
	return res, nil
}

// ChangeTier moves a member to a new tier effective at the given time.
// Commissions accrued after this instant use the new tier's economics.
func (e *Engine) ChangeTier(userID uint, t models.Tier, at time.Time) error {
	if _, err := e.tiers.Definition(t); err != nil {
		return err
	}
	user, err := e.store.GetUser(userID)
	if err != nil {
		return err
	}
	if err := e.history.Record(userID, t, at); err != nil {
		return err
	}
	user.Tier = t
	return e.store.SaveUser(user)
}

// Deactivate suspends a member. The node stays in the forest so descendants
// keep their levels; whether the chain skips or stops at it is the
// calculator's configured policy.
func (e *Engine) Deactivate(userID uint) error {
	return e.setActive(userID, false)
}

func (e *Engine) Reactivate(userID uint) error {
	return e.setActive(userID, true)
}

func (e *Engine) setActive(userID uint, active bool) error {
	user, err := e.store.GetUser(userID)
	if err != nil {
		return err
	}
	user.Active = active
	return e.store.SaveUser(user)
}

// ReleasablePayouts releases every ledger row whose protection window has
// elapsed by now and returns them for dispatch.
func (e *Engine) ReleasablePayouts(now time.Time) ([]payout.Payout, error) {
	return e.sched.Releasable(now)
}

// OutstandingPayouts returns released rows not yet confirmed paid, for
// dispatch retries.
func (e *Engine) OutstandingPayouts() ([]payout.Payout, error) {
	return e.sched.Outstanding()
}

// MarkPaid confirms external dispatch for the given payouts.
func (e *Engine) MarkPaid(refs []payout.Ref) error {
	return e.sched.MarkPaid(refs)
}

func (e *Engine) DownlineTree(userID uint) (*graph.Node, error) {
	return e.graph.DownlineTree(userID)
}

func (e *Engine) DirectChildrenOf(userID uint) ([]models.User, error) {
	return e.graph.DirectChildrenOf(userID)
}

type LeaderboardRow struct {
	UserID         uint            `json:"user_id"`
	TotalEarnings  decimal.Decimal `json:"total_earnings"`
	WeeklyEarnings decimal.Decimal `json:"weekly_earnings"`
}

// Leaderboard ranks beneficiaries by total earnings descending, breaking
// ties by weekly earnings descending, then user id ascending so the order
// is deterministic.
func (e *Engine) Leaderboard(limit int, now time.Time) ([]LeaderboardRow, error) {
	totals, err := e.store.EarningsByUser(time.Time{})
	if err != nil {
		return nil, err
	}
	weekly, err := e.store.EarningsByUser(now.Add(-7 * 24 * time.Hour))
	if err != nil {
		return nil, err
	}

	rows := make([]LeaderboardRow, 0, len(totals))
	for id, total := range totals {
		week, ok := weekly[id]
		if !ok {
			week = decimal.Zero
		}
		rows = append(rows, LeaderboardRow{UserID: id, TotalEarnings: total, WeeklyEarnings: week})
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].TotalEarnings.Equal(rows[j].TotalEarnings) {
			return rows[i].TotalEarnings.GreaterThan(rows[j].TotalEarnings)
		}
		if !rows[i].WeeklyEarnings.Equal(rows[j].WeeklyEarnings) {
			return rows[i].WeeklyEarnings.GreaterThan(rows[j].WeeklyEarnings)
		}
		return rows[i].UserID < rows[j].UserID
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}
