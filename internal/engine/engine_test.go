package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"outreach-engine/internal/commission"
	"outreach-engine/internal/engine"
	"outreach-engine/internal/models"
	"outreach-engine/internal/store"
	"outreach-engine/internal/tier"
)

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) (*engine.Engine, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	eng := engine.New(zap.NewNop(), st, engine.Config{})
	eng.Calculator().SetClock(func() time.Time { return now })
	return eng, st
}

func ref(id uint) *uint { return &id }

func signup(t *testing.T, eng *engine.Engine, id uint, referrer *uint, tr models.Tier) engine.SignupResult {
	t.Helper()
	res, err := eng.RecordSignup(id, referrer, tr, now.AddDate(0, -1, 0))
	require.NoError(t, err)
	return res
}

func fifty() decimal.Decimal { return decimal.RequireFromString("50.00") }

func TestSignupAndPaymentFlow(t *testing.T) {
	eng, _ := newEngine(t)
	signup(t, eng, 1, nil, models.TierGold)
	signup(t, eng, 2, ref(1), models.TierGold)
	signup(t, eng, 3, ref(2), models.TierGold)

	entries, err := eng.RecordPayment("ev-1", 3, models.TierGold, fifty(), now)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint(2), entries[0].BeneficiaryID)
	require.Equal(t, 1, entries[0].Level)
	require.Equal(t, uint(1), entries[1].BeneficiaryID)
	require.Equal(t, 2, entries[1].Level)
	for _, e := range entries {
		require.True(t, e.Amount.Equal(decimal.RequireFromString("15.00")))
		require.Equal(t, models.StatusHeld, e.Status)
	}

	// Nothing is releasable inside the protection window.
	payouts, err := eng.ReleasablePayouts(now.Add(27 * 24 * time.Hour))
	require.NoError(t, err)
	require.Empty(t, payouts)

	payouts, err = eng.ReleasablePayouts(now.Add(28 * 24 * time.Hour))
	require.NoError(t, err)
	require.Len(t, payouts, 2)
}

func TestSignupPointsStayWithDirectRecruiter(t *testing.T) {
	eng, st := newEngine(t)
	signup(t, eng, 1, nil, models.TierGold)

	res := signup(t, eng, 2, ref(1), models.TierGold)
	require.Equal(t, 5, res.PointsGranted)

	res = signup(t, eng, 3, ref(2), models.TierGold)
	require.Equal(t, 5, res.PointsGranted)
	require.Equal(t, 5, res.Balance)

	// The grandparent's balance only reflects its own direct recruit.
	bal, err := st.AddPoints(1, 0)
	require.NoError(t, err)
	require.Equal(t, 5, bal.Balance)
}

func TestRecordPaymentDuplicateEvent(t *testing.T) {
	eng, _ := newEngine(t)
	signup(t, eng, 1, nil, models.TierGold)
	signup(t, eng, 2, ref(1), models.TierGold)

	first, err := eng.RecordPayment("ev-1", 2, models.TierGold, fifty(), now)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := eng.RecordPayment("ev-1", 2, models.TierGold, fifty(), now)
	require.ErrorIs(t, err, commission.ErrDuplicateEvent)
	require.Len(t, second, 1)
	require.True(t, first[0].Amount.Equal(second[0].Amount))
}

func TestRecordPaymentRollsBackEventOnFailure(t *testing.T) {
	eng, st := newEngine(t)
	// A corrupt ancestor tier makes the calculation fail after the event
	// row is written.
	joined := now.AddDate(0, -1, 0)
	require.NoError(t, st.CreateUser(models.User{ID: 1, Tier: models.Tier("platinum"), Active: true, JoinedAt: joined}))
	require.NoError(t, st.CreateUser(models.User{ID: 2, ReferrerID: ref(1), Tier: models.TierGold, Active: true, JoinedAt: joined}))

	_, err := eng.RecordPayment("ev-1", 2, models.TierGold, fifty(), now)
	require.ErrorIs(t, err, tier.ErrUnknownTier)

	// The event row did not survive the failure: repairing the data and
	// retrying the same event id computes the commissions instead of
	// replaying a zero-entry duplicate.
	user, err := st.GetUser(1)
	require.NoError(t, err)
	user.Tier = models.TierGold
	require.NoError(t, st.SaveUser(user))

	entries, err := eng.RecordPayment("ev-1", 2, models.TierGold, fifty(), now)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, uint(1), entries[0].BeneficiaryID)
}

func TestRecordPaymentValidation(t *testing.T) {
	eng, _ := newEngine(t)
	signup(t, eng, 1, nil, models.TierGold)

	_, err := eng.RecordPayment("ev-1", 1, models.Tier("platinum"), fifty(), now)
	require.ErrorIs(t, err, tier.ErrUnknownTier)

	_, err = eng.RecordPayment("ev-2", 1, models.TierGold, decimal.Zero, now)
	require.ErrorIs(t, err, engine.ErrInvalidAmount)
}

func TestChangeTierAffectsLaterCommissions(t *testing.T) {
	eng, _ := newEngine(t)
	signup(t, eng, 1, nil, models.TierGold)
	signup(t, eng, 2, ref(1), models.TierGold)
	signup(t, eng, 3, ref(2), models.TierGold)

	// Downgrading the top ancestor to bronze locks its level-2 position.
	require.NoError(t, eng.ChangeTier(1, models.TierBronze, now.Add(-time.Hour)))

	entries, err := eng.RecordPayment("ev-1", 3, models.TierGold, fifty(), now)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, uint(2), entries[0].BeneficiaryID)
}

func TestDeactivatedAncestorIsSkipped(t *testing.T) {
	eng, _ := newEngine(t)
	signup(t, eng, 1, nil, models.TierGold)
	signup(t, eng, 2, ref(1), models.TierGold)
	signup(t, eng, 3, ref(2), models.TierGold)

	require.NoError(t, eng.Deactivate(2))

	entries, err := eng.RecordPayment("ev-1", 3, models.TierGold, fifty(), now)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, uint(1), entries[0].BeneficiaryID)
	require.Equal(t, 2, entries[0].Level)

	require.NoError(t, eng.Reactivate(2))
	entries, err = eng.RecordPayment("ev-2", 3, models.TierGold, fifty(), now)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestDownlineTree(t *testing.T) {
	eng, _ := newEngine(t)
	signup(t, eng, 1, nil, models.TierGold)
	signup(t, eng, 2, ref(1), models.TierGold)
	signup(t, eng, 3, ref(1), models.TierBronze)

	tree, err := eng.DownlineTree(1)
	require.NoError(t, err)
	require.Len(t, tree.Children, 2)

	children, err := eng.DirectChildrenOf(1)
	require.NoError(t, err)
	require.Len(t, children, 2)
}

func TestLeaderboardOrdering(t *testing.T) {
	eng, _ := newEngine(t)
	// Four separate recruiters, one payer each.
	for i, recruiter := range []uint{1, 2, 3, 4} {
		signup(t, eng, recruiter, nil, models.TierGold)
		signup(t, eng, uint(11+i), ref(recruiter), models.TierGold)
	}

	old := now.AddDate(0, 0, -10)
	calc := eng.Calculator()

	// Recruiter 1: $15 ten days ago + $15 today = $30 total, $15 weekly.
	calc.SetClock(func() time.Time { return old })
	_, err := eng.RecordPayment("ev-1a", 11, models.TierGold, fifty(), old)
	require.NoError(t, err)
	calc.SetClock(func() time.Time { return now })
	_, err = eng.RecordPayment("ev-1b", 11, models.TierGold, fifty(), now)
	require.NoError(t, err)

	// Recruiter 2: $30 total, all within the week.
	for _, ev := range []string{"ev-2a", "ev-2b"} {
		_, err = eng.RecordPayment(ev, 12, models.TierGold, fifty(), now)
		require.NoError(t, err)
	}

	// Recruiters 3 and 4: identical $15 totals and weeklies.
	_, err = eng.RecordPayment("ev-3a", 13, models.TierGold, fifty(), now)
	require.NoError(t, err)
	_, err = eng.RecordPayment("ev-4a", 14, models.TierGold, fifty(), now)
	require.NoError(t, err)

	rows, err := eng.Leaderboard(0, now)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	// Equal totals break on weekly earnings, equal weeklies on user id.
	require.Equal(t, uint(2), rows[0].UserID)
	require.Equal(t, uint(1), rows[1].UserID)
	require.Equal(t, uint(3), rows[2].UserID)
	require.Equal(t, uint(4), rows[3].UserID)
	require.True(t, rows[0].TotalEarnings.Equal(decimal.RequireFromString("30.00")))
	require.True(t, rows[1].WeeklyEarnings.Equal(decimal.RequireFromString("15.00")))

	rows, err = eng.Leaderboard(2, now)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}
