package store

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"outreach-engine/internal/commission"
	"outreach-engine/internal/graph"
	"outreach-engine/internal/models"
)

// Gorm is the postgres-backed store used by the service deployment.
type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

func (s *Gorm) GetUser(id uint) (models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.User{}, graph.ErrNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *Gorm) CreateUser(user models.User) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return graph.ErrAlreadyAttached
		}
		// A concurrent creator can slip past the count; the primary key
		// stops it and the loser gets the same sentinel.
		if err := tx.Create(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return graph.ErrAlreadyAttached
			}
			return err
		}
		return nil
	})
}

func (s *Gorm) SaveUser(user models.User) error {
	res := s.db.Model(&models.User{}).Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"referrer_id": user.ReferrerID,
			"tier":        user.Tier,
			"active":      user.Active,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return graph.ErrNotFound
	}
	return nil
}

func (s *Gorm) ChildrenOf(id uint) ([]models.User, error) {
	var out []models.User
	err := s.db.Where("referrer_id = ?", id).
		Order("joined_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (s *Gorm) AppendChange(change models.TierChange) error {
	return s.db.Create(&change).Error
}

func (s *Gorm) ChangesFor(userID uint) ([]models.TierChange, error) {
	var out []models.TierChange
	err := s.db.Where("user_id = ?", userID).
		Order("effective_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (s *Gorm) CreatePaymentEvent(ev models.PaymentEvent) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.PaymentEvent{}).Where("event_id = ?", ev.EventID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return commission.ErrDuplicateEvent
		}
		// Two concurrent recorders of the same event race past the count;
		// the event_id unique index decides, and the loser must see the
		// sentinel so the caller takes its replay path.
		if err := tx.Create(&ev).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return commission.ErrDuplicateEvent
			}
			return err
		}
		return nil
	})
}

func (s *Gorm) DeletePaymentEvent(eventID string) error {
	return s.db.Where("event_id = ?", eventID).Delete(&models.PaymentEvent{}).Error
}

func (s *Gorm) EntriesForEvent(eventID string) ([]models.CommissionEntry, error) {
	var out []models.CommissionEntry
	err := s.db.Where("event_id = ?", eventID).Order("level ASC").Find(&out).Error
	return out, err
}

// InsertEntries locks the beneficiaries' user rows for the whole
// transaction, so the monthly totals read here stay valid until the insert
// commits. Locking the user row rather than existing entry rows also covers
// beneficiaries with no entries yet.
func (s *Gorm) InsertEntries(entries []models.CommissionEntry, caps map[uint]*decimal.Decimal, monthStart time.Time) ([]models.CommissionEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	end := monthStart.AddDate(0, 1, 0)
	var written []models.CommissionEntry
	err := s.db.Transaction(func(tx *gorm.DB) error {
		beneficiaries := make([]uint, 0, len(entries))
		for _, e := range entries {
			beneficiaries = append(beneficiaries, e.BeneficiaryID)
		}
		var locked []models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", beneficiaries).
			Order("id ASC").
			Find(&locked).Error; err != nil {
			return err
		}

		var existing []models.CommissionEntry
		if err := tx.Where("beneficiary_id IN ? AND created_at >= ? AND created_at < ?",
			beneficiaries, monthStart, end).
			Find(&existing).Error; err != nil {
			return err
		}
		totals := make(map[uint]decimal.Decimal, len(beneficiaries))
		for _, e := range existing {
			totals[e.BeneficiaryID] = totals[e.BeneficiaryID].Add(e.Amount)
		}

		for _, e := range entries {
			if c := caps[e.BeneficiaryID]; c != nil {
				room := c.Sub(totals[e.BeneficiaryID])
				if room.LessThanOrEqual(decimal.Zero) {
					continue
				}
				if e.Amount.GreaterThan(room) {
					e.Amount = room
					e.Truncated = true
				}
			}
			if err := tx.Create(&e).Error; err != nil {
				return err
			}
			totals[e.BeneficiaryID] = totals[e.BeneficiaryID].Add(e.Amount)
			written = append(written, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}

func (s *Gorm) AddPoints(userID uint, delta int) (models.PointsBalance, error) {
	var bal models.PointsBalance
	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&bal).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			bal = models.PointsBalance{UserID: userID}
			if err := tx.Create(&bal).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		bal.Balance += delta
		return tx.Save(&bal).Error
	})
	return bal, err
}

// InsertGrantOnce serializes on the beneficiary's user row so two
// concurrent signups crossing the same threshold cannot both pass the
// existence check.
func (s *Gorm) InsertGrantOnce(grant models.BonusGrant) (bool, error) {
	inserted := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&user, grant.BeneficiaryID).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		var count int64
		if err := tx.Model(&models.BonusGrant{}).
			Where("beneficiary_id = ? AND threshold = ?", grant.BeneficiaryID, grant.Threshold).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		if err := tx.Create(&grant).Error; err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

// RedeemGrant spends the threshold from the locked balance row and writes
// the grant in the same transaction; a balance that no longer covers the
// threshold grants nothing.
func (s *Gorm) RedeemGrant(grant models.BonusGrant) (models.PointsBalance, bool, error) {
	var bal models.PointsBalance
	redeemed := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", grant.BeneficiaryID).
			First(&bal).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			bal = models.PointsBalance{UserID: grant.BeneficiaryID}
			return nil
		} else if err != nil {
			return err
		}
		if bal.Balance < grant.Threshold {
			return nil
		}
		bal.Balance -= grant.Threshold
		if err := tx.Save(&bal).Error; err != nil {
			return err
		}
		if err := tx.Create(&grant).Error; err != nil {
			return err
		}
		redeemed = true
		return nil
	})
	return bal, redeemed, err
}

func (s *Gorm) DueCommissions(now time.Time) ([]models.CommissionEntry, error) {
	var out []models.CommissionEntry
	err := s.db.Where("status = ? AND release_at <= ?", models.StatusHeld, now).
		Order("release_at ASC").
		Find(&out).Error
	return out, err
}

func (s *Gorm) DueBonuses(now time.Time) ([]models.BonusGrant, error) {
	var out []models.BonusGrant
	err := s.db.Where("status = ? AND release_at <= ?", models.StatusPending, now).
		Order("release_at ASC").
		Find(&out).Error
	return out, err
}

func (s *Gorm) ReleasedCommissions() ([]models.CommissionEntry, error) {
	var out []models.CommissionEntry
	err := s.db.Where("status = ?", models.StatusReleased).
		Order("release_at ASC").
		Find(&out).Error
	return out, err
}

func (s *Gorm) ReleasedBonuses() ([]models.BonusGrant, error) {
	var out []models.BonusGrant
	err := s.db.Where("status = ?", models.StatusReleased).
		Order("release_at ASC").
		Find(&out).Error
	return out, err
}

func (s *Gorm) MarkCommissionsReleased(ids []uint) error {
	return s.db.Model(&models.CommissionEntry{}).
		Where("id IN ? AND status = ?", ids, models.StatusHeld).
		Update("status", models.StatusReleased).Error
}

func (s *Gorm) MarkCommissionsPaid(ids []uint) error {
	return s.db.Model(&models.CommissionEntry{}).
		Where("id IN ? AND status = ?", ids, models.StatusReleased).
		Update("status", models.StatusPaid).Error
}

func (s *Gorm) MarkBonusesReleased(ids []uint) error {
	return s.db.Model(&models.BonusGrant{}).
		Where("id IN ? AND status = ?", ids, models.StatusPending).
		Update("status", models.StatusReleased).Error
}

func (s *Gorm) MarkBonusesPaid(ids []uint) error {
	return s.db.Model(&models.BonusGrant{}).
		Where("id IN ? AND status = ?", ids, models.StatusReleased).
		Update("status", models.StatusPaid).Error
}

func (s *Gorm) EarningsByUser(since time.Time) (map[uint]decimal.Decimal, error) {
	type row struct {
		BeneficiaryID uint
		Total         decimal.Decimal
	}
	var rows []row
	err := s.db.Model(&models.CommissionEntry{}).
		Select("beneficiary_id, SUM(amount) AS total").
		Where("created_at >= ?", since).
		Group("beneficiary_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint]decimal.Decimal, len(rows))
	for _, r := range rows {
		out[r.BeneficiaryID] = r.Total
	}
	return out, nil
}
