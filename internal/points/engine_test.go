package points_test

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"outreach-engine/internal/models"
	"outreach-engine/internal/points"
	"outreach-engine/internal/store"
	"outreach-engine/internal/tier"
)

var signupTime = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newEngine(cfg points.Config) (*points.Engine, *store.Memory) {
	if cfg.ProtectionWindow == 0 {
		cfg.ProtectionWindow = 28 * 24 * time.Hour
	}
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = []points.Threshold{
			{Points: 25, Bonus: decimal.RequireFromString("50.00")},
		}
	}
	st := store.NewMemory()
	return points.NewEngine(zap.NewNop(), tier.NewRegistry(), st, cfg), st
}

func TestSignupPointsByTier(t *testing.T) {
	tests := []struct {
		tier   models.Tier
		points int
	}{
		{models.TierBronze, 1},
		{models.TierSilver, 2},
		{models.TierGold, 5},
		{models.TierDiamond, 10},
	}
	for _, tc := range tests {
		t.Run(string(tc.tier), func(t *testing.T) {
			eng, _ := newEngine(points.Config{})
			acc, err := eng.RecordSignup(1, tc.tier, signupTime)
			require.NoError(t, err)
			require.Equal(t, tc.points, acc.Points)
			require.Equal(t, tc.points, acc.Balance)
			require.Empty(t, acc.Grants)
		})
	}
}

func TestSignupRejectsUnknownTier(t *testing.T) {
	eng, _ := newEngine(points.Config{})
	_, err := eng.RecordSignup(1, models.Tier("platinum"), signupTime)
	require.ErrorIs(t, err, tier.ErrUnknownTier)
}

func TestThresholdGrantedExactlyOnce(t *testing.T) {
	eng, _ := newEngine(points.Config{})

	// Two diamond signups bring the recruiter to 20 points; the third
	// crosses 25 and grants the $50 bonus.
	for i := 0; i < 2; i++ {
		acc, err := eng.RecordSignup(1, models.TierDiamond, signupTime)
		require.NoError(t, err)
		require.Empty(t, acc.Grants)
	}
	acc, err := eng.RecordSignup(1, models.TierDiamond, signupTime)
	require.NoError(t, err)
	require.Equal(t, 30, acc.Balance)
	require.Len(t, acc.Grants, 1)
	require.Equal(t, 25, acc.Grants[0].Threshold)
	require.True(t, acc.Grants[0].Amount.Equal(decimal.RequireFromString("50.00")))
	require.Equal(t, models.StatusPending, acc.Grants[0].Status)
	require.Equal(t, signupTime.Add(28*24*time.Hour), acc.Grants[0].ReleaseAt)

	// Further accrual above the threshold never re-grants.
	acc, err = eng.RecordSignup(1, models.TierDiamond, signupTime)
	require.NoError(t, err)
	require.Empty(t, acc.Grants)
}

func TestMultipleThresholdsInOneJump(t *testing.T) {
	eng, _ := newEngine(points.Config{Thresholds: []points.Threshold{
		{Points: 5, Bonus: decimal.RequireFromString("10.00")},
		{Points: 10, Bonus: decimal.RequireFromString("25.00")},
	}})

	acc, err := eng.RecordSignup(1, models.TierDiamond, signupTime)
	require.NoError(t, err)
	require.Len(t, acc.Grants, 2)
	require.Equal(t, 5, acc.Grants[0].Threshold)
	require.Equal(t, 10, acc.Grants[1].Threshold)
}

func TestRedeemResetPolicy(t *testing.T) {
	eng, _ := newEngine(points.Config{
		Redeem: points.RedeemReset,
		Thresholds: []points.Threshold{
			{Points: 25, Bonus: decimal.RequireFromString("50.00")},
		},
	})

	for i := 0; i < 2; i++ {
		_, err := eng.RecordSignup(1, models.TierDiamond, signupTime)
		require.NoError(t, err)
	}
	acc, err := eng.RecordSignup(1, models.TierDiamond, signupTime)
	require.NoError(t, err)
	require.Len(t, acc.Grants, 1)
	require.Equal(t, 5, acc.Balance)

	// The threshold re-arms: another climb to 25 grants again.
	for i := 0; i < 2; i++ {
		acc, err = eng.RecordSignup(1, models.TierDiamond, signupTime)
		require.NoError(t, err)
	}
	require.Len(t, acc.Grants, 1)
	require.Equal(t, 0, acc.Balance)
}

func TestConcurrentSignupsGrantThresholdOnce(t *testing.T) {
	eng, st := newEngine(points.Config{})

	// Eight simultaneous diamond signups push the recruiter well past the
	// 25-point threshold; only one of them may land the grant.
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.RecordSignup(1, models.TierDiamond, signupTime)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	bal, err := st.AddPoints(1, 0)
	require.NoError(t, err)
	require.Equal(t, 80, bal.Balance)

	grants, err := st.DueBonuses(signupTime.Add(28 * 24 * time.Hour))
	require.NoError(t, err)
	require.Len(t, grants, 1)
	require.Equal(t, 25, grants[0].Threshold)
}

func TestAccrualIsPerRecruiter(t *testing.T) {
	eng, st := newEngine(points.Config{})

	_, err := eng.RecordSignup(2, models.TierGold, signupTime)
	require.NoError(t, err)

	// Reading with a zero delta: recruiter 2 earned, nobody else did.
	bal, err := st.AddPoints(2, 0)
	require.NoError(t, err)
	require.Equal(t, 5, bal.Balance)
	bal, err = st.AddPoints(1, 0)
	require.NoError(t, err)
	require.Equal(t, 0, bal.Balance)
}
