package points

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"outreach-engine/internal/models"
	"outreach-engine/internal/tier"
)

// Store is the points engine's storage boundary. Both grant operations are
// atomic check-and-write steps, so two concurrent signups crossing the same
// threshold cannot both grant.
type Store interface {
	AddPoints(userID uint, delta int) (models.PointsBalance, error)
	// InsertGrantOnce writes the grant unless one already exists for the
	// same beneficiary and threshold.
	InsertGrantOnce(grant models.BonusGrant) (bool, error)
	// RedeemGrant subtracts the threshold from the balance and writes the
	// grant, unless the balance no longer covers the threshold.
	RedeemGrant(grant models.BonusGrant) (models.PointsBalance, bool, error)
}

// Threshold maps a cumulative points value to a one-time cash bonus.
type Threshold struct {
	Points int
	Bonus  decimal.Decimal
}

// RedeemPolicy controls what crossing a threshold does to the balance.
type RedeemPolicy int

const (
	// RedeemKeep leaves balances permanent; thresholds are checkpoints
	// granted at most once per user.
	RedeemKeep RedeemPolicy = iota
	// RedeemReset subtracts the threshold from the balance on grant and
	// re-arms the threshold.
	RedeemReset
)

type Config struct {
	// Thresholds must be ascending by Points.
	Thresholds       []Threshold
	Redeem           RedeemPolicy
	ProtectionWindow time.Duration
}

type Engine struct {
	log   *zap.Logger
	tiers *tier.Registry
	store Store
	cfg   Config
}

func NewEngine(log *zap.Logger, tiers *tier.Registry, store Store, cfg Config) *Engine {
	return &Engine{log: log, tiers: tiers, store: store, cfg: cfg}
}

// Accrual is the outcome of one signup: points granted to the direct
// recruiter, their balance afterwards, and any bonuses the new balance
// unlocked.
type Accrual struct {
	Points  int
	Balance int
	Grants  []models.BonusGrant
}

// RecordSignup credits the direct recruiter for one signup at the signee's
// tier. Points never cascade past level 1.
func (e *Engine) RecordSignup(recruiterID uint, signeeTier models.Tier, at time.Time) (Accrual, error) {
	pts, err := e.tiers.SignupPoints(signeeTier)
	if err != nil {
		return Accrual{}, err
	}
	bal, err := e.store.AddPoints(recruiterID, pts)
	if err != nil {
		return Accrual{}, err
	}

	acc := Accrual{Points: pts, Balance: bal.Balance}
	balance := bal.Balance
	for _, th := range e.cfg.Thresholds {
		if th.Points > balance {
			break
		}
		grant := models.BonusGrant{
			BeneficiaryID: recruiterID,
			Threshold:     th.Points,
			Amount:        th.Bonus,
			Status:        models.StatusPending,
			ReleaseAt:     at.Add(e.cfg.ProtectionWindow),
			CreatedAt:     at,
		}
		var granted bool
		if e.cfg.Redeem == RedeemReset {
			newBal, ok, err := e.store.RedeemGrant(grant)
			if err != nil {
				return Accrual{}, err
			}
			granted = ok
			if ok {
				balance = newBal.Balance
			}
		} else {
			granted, err = e.store.InsertGrantOnce(grant)
			if err != nil {
				return Accrual{}, err
			}
		}
		if granted {
			acc.Grants = append(acc.Grants, grant)
			e.log.Info("bonus threshold crossed",
				zap.Uint("recruiter", recruiterID),
				zap.Int("threshold", th.Points))
		}
	}
	acc.Balance = balance
	return acc, nil
}
