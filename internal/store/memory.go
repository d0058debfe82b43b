package store

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"outreach-engine/internal/commission"
	"outreach-engine/internal/graph"
	"outreach-engine/internal/models"
)

// Memory is the in-memory store used by tests and embedding callers. All
// state sits behind one mutex, so concurrent engine use is safe.
type Memory struct {
	mu          sync.Mutex
	users       map[uint]models.User
	tierChanges []models.TierChange
	events      map[string]models.PaymentEvent
	entries     []models.CommissionEntry
	grants      []models.BonusGrant
	balances    map[uint]models.PointsBalance

	nextChangeID uint
	nextEntryID  uint
	nextGrantID  uint
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[uint]models.User),
		events:   make(map[string]models.PaymentEvent),
		balances: make(map[uint]models.PointsBalance),
	}
}

func (m *Memory) GetUser(id uint) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, graph.ErrNotFound
	}
	return u, nil
}

func (m *Memory) CreateUser(user models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; ok {
		return graph.ErrAlreadyAttached
	}
	m.users[user.ID] = user
	return nil
}

func (m *Memory) SaveUser(user models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return graph.ErrNotFound
	}
	m.users[user.ID] = user
	return nil
}

func (m *Memory) ChildrenOf(id uint) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.users {
		if u.ReferrerID != nil && *u.ReferrerID == id {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) AppendChange(change models.TierChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextChangeID++
	change.ID = m.nextChangeID
	m.tierChanges = append(m.tierChanges, change)
	return nil
}

func (m *Memory) ChangesFor(userID uint) ([]models.TierChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TierChange
	for _, c := range m.tierChanges {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EffectiveAt.Equal(out[j].EffectiveAt) {
			return out[i].EffectiveAt.Before(out[j].EffectiveAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) CreatePaymentEvent(ev models.PaymentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[ev.EventID]; ok {
		return commission.ErrDuplicateEvent
	}
	ev.ID = uint(len(m.events) + 1)
	m.events[ev.EventID] = ev
	return nil
}

func (m *Memory) DeletePaymentEvent(eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, eventID)
	return nil
}

func (m *Memory) EntriesForEvent(eventID string) ([]models.CommissionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CommissionEntry
	for _, e := range m.entries {
		if e.EventID == eventID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) InsertEntries(entries []models.CommissionEntry, caps map[uint]*decimal.Decimal, monthStart time.Time) ([]models.CommissionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := monthStart.AddDate(0, 1, 0)
	written := make([]models.CommissionEntry, 0, len(entries))
	for _, e := range entries {
		if c := caps[e.BeneficiaryID]; c != nil {
			room := c.Sub(m.monthlyTotalLocked(e.BeneficiaryID, monthStart, end))
			if room.LessThanOrEqual(decimal.Zero) {
				continue
			}
			if e.Amount.GreaterThan(room) {
				e.Amount = room
				e.Truncated = true
			}
		}
		m.nextEntryID++
		e.ID = m.nextEntryID
		m.entries = append(m.entries, e)
		written = append(written, e)
	}
	return written, nil
}

// monthlyTotalLocked must be called with m.mu held.
func (m *Memory) monthlyTotalLocked(beneficiaryID uint, start, end time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, e := range m.entries {
		if e.BeneficiaryID != beneficiaryID {
			continue
		}
		if e.CreatedAt.Before(start) || !e.CreatedAt.Before(end) {
			continue
		}
		total = total.Add(e.Amount)
	}
	return total
}

func (m *Memory) AddPoints(userID uint, delta int) (models.PointsBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.balances[userID]
	bal.UserID = userID
	bal.Balance += delta
	bal.UpdatedAt = time.Now().UTC()
	m.balances[userID] = bal
	return bal, nil
}

func (m *Memory) InsertGrantOnce(grant models.BonusGrant) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.grants {
		if g.BeneficiaryID == grant.BeneficiaryID && g.Threshold == grant.Threshold {
			return false, nil
		}
	}
	m.nextGrantID++
	grant.ID = m.nextGrantID
	m.grants = append(m.grants, grant)
	return true, nil
}

func (m *Memory) RedeemGrant(grant models.BonusGrant) (models.PointsBalance, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.balances[grant.BeneficiaryID]
	bal.UserID = grant.BeneficiaryID
	if bal.Balance < grant.Threshold {
		return bal, false, nil
	}
	bal.Balance -= grant.Threshold
	bal.UpdatedAt = time.Now().UTC()
	m.balances[grant.BeneficiaryID] = bal
	m.nextGrantID++
	grant.ID = m.nextGrantID
	m.grants = append(m.grants, grant)
	return bal, true, nil
}

func (m *Memory) DueCommissions(now time.Time) ([]models.CommissionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CommissionEntry
	for _, e := range m.entries {
		if e.Status == models.StatusHeld && !e.ReleaseAt.After(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) DueBonuses(now time.Time) ([]models.BonusGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BonusGrant
	for _, g := range m.grants {
		if g.Status == models.StatusPending && !g.ReleaseAt.After(now) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *Memory) ReleasedCommissions() ([]models.CommissionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CommissionEntry
	for _, e := range m.entries {
		if e.Status == models.StatusReleased {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) ReleasedBonuses() ([]models.BonusGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BonusGrant
	for _, g := range m.grants {
		if g.Status == models.StatusReleased {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *Memory) MarkCommissionsReleased(ids []uint) error {
	return m.setEntryStatus(ids, models.StatusHeld, models.StatusReleased)
}

func (m *Memory) MarkCommissionsPaid(ids []uint) error {
	return m.setEntryStatus(ids, models.StatusReleased, models.StatusPaid)
}

func (m *Memory) setEntryStatus(ids []uint, from, to models.EntryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := idSet(ids)
	for i := range m.entries {
		if want[m.entries[i].ID] && m.entries[i].Status == from {
			m.entries[i].Status = to
			m.entries[i].UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (m *Memory) MarkBonusesReleased(ids []uint) error {
	return m.setGrantStatus(ids, models.StatusPending, models.StatusReleased)
}

func (m *Memory) MarkBonusesPaid(ids []uint) error {
	return m.setGrantStatus(ids, models.StatusReleased, models.StatusPaid)
}

func (m *Memory) setGrantStatus(ids []uint, from, to models.EntryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := idSet(ids)
	for i := range m.grants {
		if want[m.grants[i].ID] && m.grants[i].Status == from {
			m.grants[i].Status = to
			m.grants[i].UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (m *Memory) EarningsByUser(since time.Time) (map[uint]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint]decimal.Decimal)
	for _, e := range m.entries {
		if e.CreatedAt.Before(since) {
			continue
		}
		cur, ok := out[e.BeneficiaryID]
		if !ok {
			cur = decimal.Zero
		}
		out[e.BeneficiaryID] = cur.Add(e.Amount)
	}
	return out, nil
}

func idSet(ids []uint) map[uint]bool {
	set := make(map[uint]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
