package game

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shipyard/shipyard-server-go/internal/game/state"
)

// checksumVersion changes whenever the canonical representation does.
const checksumVersion = 1

// SnapshotChecksum is a deterministic digest of a game snapshot. Stored next to
// persisted snapshots and replays to detect divergence.
type SnapshotChecksum struct {
	Hash         string `json:"hash"`
	StateVersion uint64 `json:"state_version"`
	Version      int    `json:"version"`
}

// ComputeChecksum hashes the canonical representation of s. Timestamps are
// excluded, so two engines that applied the same actions agree.
func ComputeChecksum(s *state.GameState) (*SnapshotChecksum, error) {
	hash := sha256.New()
	if _, err := hash.Write([]byte(buildDeterministicRepresentation(s))); err != nil {
		return nil, fmt.Errorf("failed to compute hash: %w", err)
	}
	return &SnapshotChecksum{
		Hash:         hex.EncodeToString(hash.Sum(nil)),
		StateVersion: s.Version,
		Version:      checksumVersion,
	}, nil
}

// buildDeterministicRepresentation writes every rule-relevant field of s with
// maps in key order.
func buildDeterministicRepresentation(s *state.GameState) string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "GAME:%s|%s|%d|%d|%d|%d|%d|%d\n",
		s.ID, s.Status, s.Version, s.NextUnitSeq,
		s.Settings.StartingHealth, s.Settings.MaxHealth, s.Settings.StartingLines, s.Settings.MaxUnits)

	for _, p := range s.Players {
		fmt.Fprintf(&buf, "PLAYER:%s|%s|%s|%d|%d|%s\n", p.ID, p.Name, p.Faction, p.Health, p.Lines, p.Status)
	}

	for _, id := range s.UnitIDs() {
		u := s.Units[id]
		charges := "-"
		if u.Charges != nil {
			charges = fmt.Sprint(*u.Charges)
		}
		fmt.Fprintf(&buf, "UNIT:%s|%s|%s|%t|%s|%t|%t|%d|%d|%s\n",
			u.ID, u.DefinitionID, u.OwnerID, u.Destroyed, charges, u.BuiltThisTurn, u.ConsumedInUpgrade, u.BuiltOnTurn,
			u.LinesPaid, u.ConsumedBy)
	}

	t := s.Turn
	fmt.Fprintf(&buf, "TURN:%d|%s|%s|%d|%t|%t|%d|%t\n",
		t.Number, t.Phase, t.Subphase, t.DiceRoll, t.RerollRequested, t.AnyChargeDeclared,
		t.ConsecutiveMaxHealthTurns, t.DrawEligible)
	for _, req := range t.Required {
		fmt.Fprintf(&buf, "  REQUIRED:%s|%t|%s\n", req.Subphase, req.Always, strings.Join(req.Players, ","))
	}
	// Effect order is irrelevant to resolution; sort by id.
	effects := append([]state.TriggeredEffect(nil), t.Effects...)
	sort.Slice(effects, func(i, j int) bool { return effects[i].ID < effects[j].ID })
	for _, e := range effects {
		fmt.Fprintf(&buf, "  EFFECT:%s|%s|%s|%s|%s|%d|%t|%s\n",
			e.ID, e.Kind, e.SourceUnitID, e.SourcePlayerID, e.TargetPlayerID, e.Amount, e.MustApplyIfDestroyed, e.Origin)
	}
	writeIntMap(&buf, "  STARTING_HEALTH", t.StartingHealth)

	b := s.Battle
	fmt.Fprintf(&buf, "BATTLE:%s|%t|%t|%t\n", b.Stage, b.DeclarationRevealed, b.ResponseRevealed, b.AnyDeclarationsMade)
	writeBundles(&buf, "  DECLARATION", b.Declarations)
	writeBundles(&buf, "  RESPONSE", b.Responses)

	for _, id := range sortedKeys(s.Readiness) {
		r := s.Readiness[id]
		fmt.Fprintf(&buf, "READY:%s|%s|%d\n", id, r.Subphase, r.Turn)
	}
	for _, use := range s.PendingUses {
		fmt.Fprintf(&buf, "USE:%s|%s|%d|%s|%s\n", use.PlayerID, use.UnitID, use.PowerIndex, use.TargetUnitID, use.Subphase)
	}
	if s.DrawOffer != nil {
		fmt.Fprintf(&buf, "DRAW_OFFER:%s|%d\n", s.DrawOffer.OfferedBy, s.DrawOffer.Turn)
	}
	if s.Outcome != nil {
		fmt.Fprintf(&buf, "OUTCOME:%s|%s|%d\n", s.Outcome.Kind, s.Outcome.WinnerID, s.Outcome.Turn)
	}
	for _, h := range s.History {
		fmt.Fprintf(&buf, "HISTORY:%d|%d\n", h.Turn, h.Skipped)
		writeIntMap(&buf, "  HEALTH", h.Health)
	}

	return buf.String()
}

func writeIntMap(buf *bytes.Buffer, label string, m map[string]int) {
	for _, k := range sortedKeys(m) {
		fmt.Fprintf(buf, "%s:%s=%d\n", label, k, m[k])
	}
}

func writeBundles(buf *bytes.Buffer, label string, bundles map[string]state.ChargeBundle) {
	for _, id := range sortedKeys(bundles) {
		bundle := bundles[id]
		fmt.Fprintf(buf, "%s:%s|%d|%t\n", label, id, bundle.EnergySpent, bundle.Hidden)
		for _, d := range bundle.Declarations {
			fmt.Fprintf(buf, "    CHARGE:%s|%d|%s\n", d.UnitID, d.PowerIndex, d.TargetUnitID)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// VerifyChecksum reports whether s still matches expected.
func VerifyChecksum(s *state.GameState, expected *SnapshotChecksum) (bool, error) {
	computed, err := ComputeChecksum(s)
	if err != nil {
		return false, fmt.Errorf("failed to compute checksum: %w", err)
	}
	return computed.Hash == expected.Hash, nil
}

// MarshalSnapshot encodes s as the persisted JSON document.
func MarshalSnapshot(s *state.GameState) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot %s: %w", s.ID, err)
	}
	return data, nil
}

// UnmarshalSnapshot decodes a persisted JSON document.
func UnmarshalSnapshot(data []byte) (*state.GameState, error) {
	var s state.GameState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &s, nil
}

// ValidateSerializationRoundtrip encodes and decodes s and compares checksums.
func ValidateSerializationRoundtrip(s *state.GameState) error {
	original, err := ComputeChecksum(s)
	if err != nil {
		return fmt.Errorf("failed to compute original checksum: %w", err)
	}
	data, err := MarshalSnapshot(s)
	if err != nil {
		return err
	}
	decoded, err := UnmarshalSnapshot(data)
	if err != nil {
		return err
	}
	roundtrip, err := ComputeChecksum(decoded)
	if err != nil {
		return fmt.Errorf("failed to compute decoded checksum: %w", err)
	}
	if original.Hash != roundtrip.Hash {
		return fmt.Errorf("checksum mismatch: original=%s, decoded=%s", original.Hash, roundtrip.Hash)
	}
	return nil
}
