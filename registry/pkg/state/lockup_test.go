package state

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const t0 int64 = 1_700_000_000

func lockedAt(t *testing.T, l Lockup, initially uint64, now int64) uint64 {
	t.Helper()
	e := DepositEntry{InUse: true, Lockup: l, AmountDepositedNative: initially, AmountInitiallyLockedNative: initially}
	locked, err := e.AmountLocked(now)
	require.NoError(t, err)
	return locked
}

func TestVSR_Lockup_None_NeverLocks(t *testing.T) {
	t.Parallel()

	l, err := NewLockup(LockupKindNone, t0, t0+1000, 0)
	require.NoError(t, err)
	require.Equal(t, t0, l.EndTime)

	for _, now := range []int64{0, t0 - 1, t0, t0 + 500, t0 + 1_000_000} {
		require.Zero(t, lockedAt(t, l, 1000, now))
		require.Zero(t, l.SecondsLeft(now))
	}
}

func TestVSR_Lockup_Cliff(t *testing.T) {
	t.Parallel()

	l, err := NewLockup(LockupKindCliff, t0, t0+86_400, 0)
	require.NoError(t, err)

	require.Equal(t, uint64(100), lockedAt(t, l, 100, t0-10))
	require.Equal(t, uint64(100), lockedAt(t, l, 100, t0))
	require.Equal(t, uint64(100), lockedAt(t, l, 100, t0+86_399))
	require.Zero(t, lockedAt(t, l, 100, t0+86_400))
	require.Zero(t, lockedAt(t, l, 100, t0+10*86_400))

	require.Equal(t, uint64(86_400), l.SecondsLeft(t0))
	require.Equal(t, uint64(1), l.SecondsLeft(t0+86_399))
	require.True(t, l.Expired(t0+86_400))
}

func TestVSR_Lockup_Daily_VestsInSteps(t *testing.T) {
	t.Parallel()

	l, err := NewLockup(LockupKindDaily, t0, t0+86_400, 2)
	require.NoError(t, err)

	require.Equal(t, uint64(10), lockedAt(t, l, 10, t0))
	require.Equal(t, uint64(10), lockedAt(t, l, 10, t0+43_199))
	require.Equal(t, uint64(5), lockedAt(t, l, 10, t0+43_200))
	require.Equal(t, uint64(5), lockedAt(t, l, 10, t0+86_399))
	require.Zero(t, lockedAt(t, l, 10, t0+86_400))

	num, den := l.VestedFraction(t0 + 43_200)
	require.Equal(t, uint64(1), num)
	require.Equal(t, uint64(2), den)
}

func TestVSR_Lockup_Periodic_FractionIsMonotonic(t *testing.T) {
	t.Parallel()

	for _, kind := range []LockupKind{LockupKindDaily, LockupKindMonthly} {
		t.Run(kind.String(), func(t *testing.T) {
			t.Parallel()

			l, err := LockupParams{Kind: kind, StartTime: ptr(t0), Periods: 12}.Build(t0)
			require.NoError(t, err)

			num, den := l.VestedFraction(l.StartTime)
			require.Zero(t, num)
			require.NotZero(t, den)

			prev := uint64(0)
			step := l.PeriodSecs() / 3
			for now := l.StartTime; now <= l.EndTime; now += step {
				num, den := l.VestedFraction(now)
				require.LessOrEqual(t, num, den)
				require.GreaterOrEqual(t, num, prev)
				prev = num
			}

			num, den = l.VestedFraction(l.EndTime)
			require.Equal(t, num, den)
		})
	}
}

func TestVSR_Lockup_Constant_NeverErodes(t *testing.T) {
	t.Parallel()

	l, err := LockupParams{Kind: LockupKindConstant, StartTime: ptr(t0), Periods: 30}.Build(t0)
	require.NoError(t, err)

	for _, now := range []int64{t0, t0 + 29*86_400, t0 + 365*86_400} {
		require.Equal(t, uint64(1234), lockedAt(t, l, 1234, now))
		require.Equal(t, uint64(30*86_400), l.SecondsLeft(now))
		require.False(t, l.Expired(now))
	}
}

func TestVSR_Lockup_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		lockup Lockup
		err    error
	}{
		{"end before start", Lockup{Kind: LockupKindCliff, StartTime: 10, EndTime: 5}, ErrInvalidLockupPeriod},
		{"unknown kind", Lockup{Kind: LockupKind(9)}, ErrInvalidLockupKind},
		{"daily without periods", Lockup{Kind: LockupKindDaily, StartTime: 0, EndTime: 86_400}, ErrInvalidLockupPeriod},
		{"indivisible periods", Lockup{Kind: LockupKindDaily, StartTime: 0, EndTime: 100, PeriodCount: 3}, ErrInvalidLockupPeriod},
		{"empty constant", Lockup{Kind: LockupKindConstant, StartTime: 5, EndTime: 5}, ErrInvalidLockupPeriod},
		{"valid cliff", Lockup{Kind: LockupKindCliff, StartTime: 0, EndTime: 86_400}, nil},
		{"valid monthly", Lockup{Kind: LockupKindMonthly, StartTime: 0, EndTime: 2 * SecsPerMonth, PeriodCount: 2}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.lockup.Validate()
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestVSR_LockupParams_Build(t *testing.T) {
	t.Parallel()

	t.Run("defaults start to now", func(t *testing.T) {
		t.Parallel()
		l, err := LockupParams{Kind: LockupKindMonthly, Periods: 3}.Build(t0)
		require.NoError(t, err)
		require.Equal(t, t0, l.StartTime)
		require.Equal(t, t0+3*SecsPerMonth, l.EndTime)
		require.Equal(t, uint32(3), l.PeriodCount)
	})

	t.Run("cliff periods are days", func(t *testing.T) {
		t.Parallel()
		l, err := LockupParams{Kind: LockupKindCliff, Periods: 7}.Build(t0)
		require.NoError(t, err)
		require.Equal(t, t0+7*SecsPerDay, l.EndTime)
		require.Zero(t, l.PeriodCount)
	})

	t.Run("rejects too many periods", func(t *testing.T) {
		t.Parallel()
		_, err := LockupParams{Kind: LockupKindMonthly, Periods: MaxMonthsLocked + 1}.Build(t0)
		require.ErrorIs(t, err, ErrInvalidLockupPeriod)
	})

	t.Run("rejects zero period vesting", func(t *testing.T) {
		t.Parallel()
		_, err := LockupParams{Kind: LockupKindDaily}.Build(t0)
		require.ErrorIs(t, err, ErrInvalidLockupPeriod)
	})
}

func TestVSR_LockupKind_StrictnessAndParse(t *testing.T) {
	t.Parallel()

	require.Less(t, LockupKindNone.Strictness(), LockupKindDaily.Strictness())
	require.Less(t, LockupKindDaily.Strictness(), LockupKindMonthly.Strictness())
	require.Less(t, LockupKindMonthly.Strictness(), LockupKindCliff.Strictness())
	require.Equal(t, LockupKindCliff.Strictness(), LockupKindConstant.Strictness())

	for k := LockupKindNone; k <= LockupKindConstant; k++ {
		parsed, err := ParseLockupKind(k.String())
		require.NoError(t, err)
		require.Equal(t, k, parsed)
	}
	_, err := ParseLockupKind("weekly")
	require.ErrorIs(t, err, ErrInvalidLockupKind)
}

func ptr[T any](v T) *T { return &v }
