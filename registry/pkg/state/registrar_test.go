package state

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func TestVSR_Registrar_ConfigureVotingMint(t *testing.T) {
	t.Parallel()

	mintA := solana.NewWallet().PublicKey()
	mintB := solana.NewWallet().PublicKey()
	base := VotingMintConfig{
		Mint:                           mintA,
		BaselineVoteWeightFactor:       FactorScale,
		MaxExtraLockupVoteWeightFactor: FactorScale,
		LockupSaturationSecs:           86_400,
	}

	t.Run("index out of range", func(t *testing.T) {
		t.Parallel()
		r := &Registrar{}
		require.ErrorIs(t, r.ConfigureVotingMint(MaxVotingMints, base, false), ErrInvalidMintConfigIndex)
		require.ErrorIs(t, r.ConfigureVotingMint(-1, base, false), ErrInvalidMintConfigIndex)
	})

	t.Run("unused slot can be rewritten", func(t *testing.T) {
		t.Parallel()
		r := &Registrar{}
		require.NoError(t, r.ConfigureVotingMint(0, base, false))
		other := base
		other.Mint = mintB
		other.DecimalShift = 3
		require.NoError(t, r.ConfigureVotingMint(0, other, false))
		require.Equal(t, mintB, r.VotingMints[0].Mint)
	})

	t.Run("slot in use keeps its weighting", func(t *testing.T) {
		t.Parallel()
		r := &Registrar{}
		require.NoError(t, r.ConfigureVotingMint(1, base, false))

		require.NoError(t, r.ConfigureVotingMint(1, base, true))

		regranted := base
		regranted.GrantAuthority = solana.NewWallet().PublicKey()
		require.NoError(t, r.ConfigureVotingMint(1, regranted, true))
		require.Equal(t, regranted.GrantAuthority, r.VotingMints[1].GrantAuthority)

		changed := base
		changed.BaselineVoteWeightFactor = 2 * FactorScale
		require.ErrorIs(t, r.ConfigureVotingMint(1, changed, true), ErrMintConfigInUse)

		swapped := base
		swapped.Mint = mintB
		require.ErrorIs(t, r.ConfigureVotingMint(1, swapped, true), ErrMintConfigInUse)
		require.Equal(t, mintA, r.VotingMints[1].Mint)
	})

	t.Run("mint configured once", func(t *testing.T) {
		t.Parallel()
		r := &Registrar{}
		require.NoError(t, r.ConfigureVotingMint(0, base, false))
		require.ErrorIs(t, r.ConfigureVotingMint(2, base, false), ErrVotingMintAlreadyConfigured)
	})

	t.Run("parameter validation", func(t *testing.T) {
		t.Parallel()
		r := &Registrar{}

		shift := base
		shift.DecimalShift = MaxDecimalShift + 1
		require.ErrorIs(t, r.ConfigureVotingMint(0, shift, false), ErrInvalidDecimalShift)

		sat := base
		sat.LockupSaturationSecs = 0
		require.ErrorIs(t, r.ConfigureVotingMint(0, sat, false), ErrInvalidLockupSaturation)

		require.ErrorIs(t, r.ConfigureVotingMint(0, VotingMintConfig{}, false), ErrVotingMintNotFound)
	})
}

func TestVSR_Registrar_VotingMintLookup(t *testing.T) {
	t.Parallel()

	mint := solana.NewWallet().PublicKey()
	r := &Registrar{}
	require.NoError(t, r.ConfigureVotingMint(2, VotingMintConfig{Mint: mint, BaselineVoteWeightFactor: FactorScale}, false))

	idx, err := r.VotingMintConfigIndex(mint)
	require.NoError(t, err)
	require.Equal(t, 2, idx)

	_, err = r.VotingMintConfigIndex(solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, ErrVotingMintNotFound)

	_, err = r.VotingMint(0)
	require.ErrorIs(t, err, ErrVotingMintNotFound)
}

func TestVSR_Registrar_MaxVoteWeight(t *testing.T) {
	t.Parallel()

	mintA := solana.NewWallet().PublicKey()
	mintB := solana.NewWallet().PublicKey()
	r := &Registrar{}
	require.NoError(t, r.ConfigureVotingMint(0, VotingMintConfig{
		Mint:                           mintA,
		BaselineVoteWeightFactor:       FactorScale,
		MaxExtraLockupVoteWeightFactor: FactorScale,
		LockupSaturationSecs:           86_400,
	}, false))
	require.NoError(t, r.ConfigureVotingMint(1, VotingMintConfig{
		Mint:                     mintB,
		DecimalShift:             -2,
		BaselineVoteWeightFactor: FactorScale,
	}, false))

	w, err := r.MaxVoteWeight(map[solana.PublicKey]uint64{mintA: 1_000, mintB: 5_000})
	require.NoError(t, err)
	require.Equal(t, uint64(2_000+50), w)
}

func TestVSR_VotingMintConfig_Convert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		shift int8
		in    uint64
		want  uint64
		err   error
	}{
		{0, 123, 123, nil},
		{3, 123, 123_000, nil},
		{-2, 12_345, 123, nil},
		{-19, ^uint64(0), 1, nil},
		{19, 2, 0, ErrArithmeticOverflow},
		{20, 1, 0, ErrInvalidDecimalShift},
	}
	for _, tt := range tests {
		got, err := VotingMintConfig{DecimalShift: tt.shift}.Convert(tt.in)
		if tt.err != nil {
			require.ErrorIs(t, err, tt.err)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}
}

func TestVSR_VoterWeightRecord_CheckFresh(t *testing.T) {
	t.Parallel()

	now := time.Unix(t0, 0)
	rec := &VoterWeightRecord{VoterWeight: 10, LastUpdatedAt: t0 - 30}
	require.NoError(t, rec.CheckFresh(now, time.Minute))
	require.ErrorIs(t, rec.CheckFresh(now, 10*time.Second), ErrStaleVoterWeightRecord)

	maxRec := &MaxVoterWeightRecord{LastUpdatedAt: t0}
	require.NoError(t, maxRec.CheckFresh(now, 0))
}
