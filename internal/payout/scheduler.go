package payout

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"outreach-engine/internal/models"
)

type Kind string

const (
	KindCommission Kind = "commission"
	KindBonus      Kind = "bonus"
)

// Store is the scheduler's view of the ledgers. Due* return rows still in
// their first state (held / pending) whose ReleaseAt is not after now.
type Store interface {
	DueCommissions(now time.Time) ([]models.CommissionEntry, error)
	DueBonuses(now time.Time) ([]models.BonusGrant, error)
	// Released* return rows released but not yet confirmed paid.
	ReleasedCommissions() ([]models.CommissionEntry, error)
	ReleasedBonuses() ([]models.BonusGrant, error)
	MarkCommissionsReleased(ids []uint) error
	MarkBonusesReleased(ids []uint) error
	// MarkCommissionsPaid / MarkBonusesPaid only touch released rows.
	MarkCommissionsPaid(ids []uint) error
	MarkBonusesPaid(ids []uint) error
}

// Payout is one releasable ledger row, commission or bonus.
type Payout struct {
	Kind          Kind            `json:"kind"`
	ID            uint            `json:"id"`
	BeneficiaryID uint            `json:"beneficiary_id"`
	Amount        decimal.Decimal `json:"amount"`
	ReleaseAt     time.Time       `json:"release_at"`
}

// Ref identifies one payout row for the external dispatch pipeline.
type Ref struct {
	Kind Kind `json:"kind"`
	ID   uint `json:"id"`
}

// Scheduler time-gates ledger rows behind the protection window. A dispatch
// failure leaves rows released and retryable; nothing ever reverts to held.
type Scheduler struct {
	log   *zap.Logger
	store Store
}

func NewScheduler(log *zap.Logger, store Store) *Scheduler {
	return &Scheduler{log: log, store: store}
}

// Releasable transitions every due held commission and pending bonus to
// released and returns them for dispatch.
func (s *Scheduler) Releasable(now time.Time) ([]Payout, error) {
	commissions, err := s.store.DueCommissions(now)
	if err != nil {
		return nil, err
	}
	bonuses, err := s.store.DueBonuses(now)
	if err != nil {
		return nil, err
	}

	payouts := make([]Payout, 0, len(commissions)+len(bonuses))
	if len(commissions) > 0 {
		ids := make([]uint, len(commissions))
		for i, e := range commissions {
			ids[i] = e.ID
			payouts = append(payouts, Payout{
				Kind:          KindCommission,
				ID:            e.ID,
				BeneficiaryID: e.BeneficiaryID,
				Amount:        e.Amount,
				ReleaseAt:     e.ReleaseAt,
			})
		}
		if err := s.store.MarkCommissionsReleased(ids); err != nil {
			return nil, err
		}
	}
	if len(bonuses) > 0 {
		ids := make([]uint, len(bonuses))
		for i, b := range bonuses {
			ids[i] = b.ID
			payouts = append(payouts, Payout{
				Kind:          KindBonus,
				ID:            b.ID,
				BeneficiaryID: b.BeneficiaryID,
				Amount:        b.Amount,
				ReleaseAt:     b.ReleaseAt,
			})
		}
		if err := s.store.MarkBonusesReleased(ids); err != nil {
			return nil, err
		}
	}
	if len(payouts) > 0 {
		s.log.Info("released payouts", zap.Int("count", len(payouts)))
	}
	return payouts, nil
}

// Outstanding returns every released row awaiting dispatch confirmation.
// Dispatchers work from this set each cycle, so a row whose queue push
// failed is picked up again; rows leave it only through MarkPaid.
func (s *Scheduler) Outstanding() ([]Payout, error) {
	commissions, err := s.store.ReleasedCommissions()
	if err != nil {
		return nil, err
	}
	bonuses, err := s.store.ReleasedBonuses()
	if err != nil {
		return nil, err
	}
	payouts := make([]Payout, 0, len(commissions)+len(bonuses))
	for _, e := range commissions {
		payouts = append(payouts, Payout{
			Kind:          KindCommission,
			ID:            e.ID,
			BeneficiaryID: e.BeneficiaryID,
			Amount:        e.Amount,
			ReleaseAt:     e.ReleaseAt,
		})
	}
	for _, b := range bonuses {
		payouts = append(payouts, Payout{
			Kind:          KindBonus,
			ID:            b.ID,
			BeneficiaryID: b.BeneficiaryID,
			Amount:        b.Amount,
			ReleaseAt:     b.ReleaseAt,
		})
	}
	return payouts, nil
}

// MarkPaid records external dispatch confirmation for the given rows.
func (s *Scheduler) MarkPaid(refs []Ref) error {
	var commissionIDs, bonusIDs []uint
	for _, r := range refs {
		switch r.Kind {
		case KindCommission:
			commissionIDs = append(commissionIDs, r.ID)
		case KindBonus:
			bonusIDs = append(bonusIDs, r.ID)
		default:
			return fmt.Errorf("unknown payout kind %q", r.Kind)
		}
	}
	if len(commissionIDs) > 0 {
		if err := s.store.MarkCommissionsPaid(commissionIDs); err != nil {
			return err
		}
	}
	if len(bonusIDs) > 0 {
		if err := s.store.MarkBonusesPaid(bonusIDs); err != nil {
			return err
		}
	}
	return nil
}
