package game

import (
	"testing"
	"time"

	"github.com/shipyard/shipyard-server-go/internal/game/rules"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestSnapshot() *state.GameState {
	s := state.New("game-1", state.DefaultSettings(), time.Unix(1700000000, 0).UTC())
	s.Status = state.StatusActive
	s.Version = 7
	s.Players = append(s.Players,
		state.Player{ID: "p1", Name: "Ada", Faction: "human", Health: 25, Lines: 4, Status: state.PlayerActive},
		state.Player{ID: "p2", Name: "Grace", Faction: "xenite", Health: 22, Lines: 1, Status: state.PlayerActive},
	)
	s.AddUnit("p1", "fighter", 0)
	s.AddUnit("p1", "interceptor", 1)
	s.AddUnit("p2", "raider", 0)
	s.Turn.Number = 3
	s.Turn.Phase = rules.PhaseBattle
	s.Turn.Subphase = rules.SubphaseChargeDeclaration
	s.Turn.DiceRoll = 4
	s.Turn.StartingHealth = map[string]int{"p1": 25, "p2": 23}
	s.QueueEffect(state.TriggeredEffect{
		ID: "e1", Kind: state.EffectDamage, SourceUnitID: "u1", SourcePlayerID: "p1",
		TargetPlayerID: "p2", Amount: 1, Origin: state.OriginAutomatic,
	})
	s.Readiness["p1"] = state.PlayerReadiness{PlayerID: "p1", Subphase: rules.SubphaseChargeDeclaration, Turn: 3}
	s.History = append(s.History, state.TurnSummary{
		Turn: 2, Damage: map[string]int{"p2": 3}, Healing: map[string]int{}, Health: map[string]int{"p1": 25, "p2": 22},
	})
	return s
}

func TestComputeChecksum(t *testing.T) {
	checksum, err := ComputeChecksum(createTestSnapshot())
	require.NoError(t, err)
	assert.Len(t, checksum.Hash, 64)
	assert.Equal(t, checksumVersion, checksum.Version)
	assert.Equal(t, uint64(7), checksum.StateVersion)
}

// Map iteration order is randomized, so repeated runs must still agree.
func TestDeterministicChecksum(t *testing.T) {
	first, err := ComputeChecksum(createTestSnapshot())
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := ComputeChecksum(createTestSnapshot())
		require.NoError(t, err)
		assert.Equal(t, first.Hash, again.Hash, "run %d", i)
	}
}

func TestChecksumIgnoresTimestamps(t *testing.T) {
	a := createTestSnapshot()
	b := createTestSnapshot()
	b.CreatedAt = b.CreatedAt.Add(time.Hour)
	b.UpdatedAt = b.UpdatedAt.Add(2 * time.Hour)

	ca, err := ComputeChecksum(a)
	require.NoError(t, err)
	cb, err := ComputeChecksum(b)
	require.NoError(t, err)
	assert.Equal(t, ca.Hash, cb.Hash)
}

func TestChecksumDetectsChanges(t *testing.T) {
	base, err := ComputeChecksum(createTestSnapshot())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(s *state.GameState)
	}{
		{"health", func(s *state.GameState) { s.Players[1].Health-- }},
		{"lines", func(s *state.GameState) { s.Players[0].Lines++ }},
		{"unit destroyed", func(s *state.GameState) { s.Units["u1"].Destroyed = true }},
		{"charges spent", func(s *state.GameState) { *s.Units["u2"].Charges = 0 }},
		{"subphase", func(s *state.GameState) { s.Turn.Subphase = rules.SubphaseChargeResponse }},
		{"effect amount", func(s *state.GameState) { s.Turn.Effects[0].Amount = 2 }},
		{"readiness", func(s *state.GameState) { delete(s.Readiness, "p1") }},
		{"hidden bundle", func(s *state.GameState) {
			s.Battle.Bundles(state.WindowDeclaration)["p2"] = state.ChargeBundle{PlayerID: "p2"}
		}},
		{"draw offer", func(s *state.GameState) { s.DrawOffer = &state.DrawOffer{OfferedBy: "p1", Turn: 3} }},
		{"history", func(s *state.GameState) { s.History[0].Health["p2"] = 21 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := createTestSnapshot()
			tt.mutate(s)
			checksum, err := ComputeChecksum(s)
			require.NoError(t, err)
			assert.NotEqual(t, base.Hash, checksum.Hash)
		})
	}
}

func TestSerializeDeserialize(t *testing.T) {
	s := createTestSnapshot()
	s.Battle.Bundles(state.WindowDeclaration)["p1"] = state.ChargeBundle{
		PlayerID:     "p1",
		Declarations: []state.ChargeDeclaration{{UnitID: "u2", PowerIndex: 0}},
	}

	data, err := MarshalSnapshot(s)
	require.NoError(t, err)

	decoded, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, s.Players, decoded.Players)
	assert.Equal(t, s.Units, decoded.Units)
	assert.Equal(t, s.Turn.Subphase, decoded.Turn.Subphase)
	assert.Equal(t, s.Battle.Declarations, decoded.Battle.Declarations)
	assert.True(t, s.CreatedAt.Equal(decoded.CreatedAt))

	require.NoError(t, ValidateSerializationRoundtrip(s))
}

func TestUnmarshalSnapshotRejectsGarbage(t *testing.T) {
	_, err := UnmarshalSnapshot([]byte("{not json"))
	assert.Error(t, err)
}

func TestVerifyChecksum(t *testing.T) {
	s := createTestSnapshot()
	checksum, err := ComputeChecksum(s)
	require.NoError(t, err)

	ok, err := VerifyChecksum(s, checksum)
	require.NoError(t, err)
	assert.True(t, ok)

	s.Players[0].Health = 1
	ok, err = VerifyChecksum(s, checksum)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChecksumWithEmptyState(t *testing.T) {
	s := state.New("empty", state.Settings{}, time.Time{})
	checksum, err := ComputeChecksum(s)
	require.NoError(t, err)
	assert.NotEmpty(t, checksum.Hash)
	require.NoError(t, ValidateSerializationRoundtrip(s))
}
