package tier

import (
	"errors"
	"time"

	"outreach-engine/internal/models"
)

var ErrNoHistory = errors.New("no tier history for user")

// ChangeStore persists tier changes. ChangesFor returns them ordered by
// EffectiveAt ascending.
type ChangeStore interface {
	AppendChange(change models.TierChange) error
	ChangesFor(userID uint) ([]models.TierChange, error)
}

// History is the event-sourced view of each member's tier over time. The
// commission calculator reads tiers through it so audits can reconstruct
// what a beneficiary's earning capacity was at any instant.
type History struct {
	registry *Registry
	store    ChangeStore
}

func NewHistory(registry *Registry, store ChangeStore) *History {
	return &History{registry: registry, store: store}
}

// Record appends a tier change effective at the given time.
func (h *History) Record(userID uint, t models.Tier, at time.Time) error {
	if _, err := h.registry.Definition(t); err != nil {
		return err
	}
	return h.store.AppendChange(models.TierChange{
		UserID:      userID,
		Tier:        t,
		EffectiveAt: at,
	})
}

// AsOf returns the user's tier at time at: the latest change whose
// EffectiveAt is not after at. ErrNoHistory if the user had no tier yet.
func (h *History) AsOf(userID uint, at time.Time) (models.Tier, error) {
	changes, err := h.store.ChangesFor(userID)
	if err != nil {
		return "", err
	}
	var current models.Tier
	found := false
	for _, c := range changes {
		if c.EffectiveAt.After(at) {
			break
		}
		current = c.Tier
		found = true
	}
	if !found {
		return "", ErrNoHistory
	}
	return current, nil
}
