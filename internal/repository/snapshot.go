package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shipyard/shipyard-server-go/internal/game"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
	"go.uber.org/zap"
)

// ErrStaleSnapshot is returned when a save would overwrite a newer version.
var ErrStaleSnapshot = errors.New("snapshot is older than the stored version")

// ErrCorruptSnapshot is returned when a stored snapshot fails its checksum.
var ErrCorruptSnapshot = errors.New("stored snapshot fails its checksum")

// querier is the subset of pgxpool.Pool the repository needs.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresSnapshotRepository keeps the latest snapshot of every game as JSONB.
type PostgresSnapshotRepository struct {
	db     querier
	logger *zap.Logger
}

// NewPostgresSnapshotRepository creates a repository backed by db.
func NewPostgresSnapshotRepository(db *DB, logger *zap.Logger) *PostgresSnapshotRepository {
	return newPostgresSnapshotRepository(db.pool, logger)
}

func newPostgresSnapshotRepository(q querier, logger *zap.Logger) *PostgresSnapshotRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresSnapshotRepository{db: q, logger: logger}
}

const upsertSnapshot = `
INSERT INTO game_snapshots (id, version, status, checksum, snapshot, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	version    = EXCLUDED.version,
	status     = EXCLUDED.status,
	checksum   = EXCLUDED.checksum,
	snapshot   = EXCLUDED.snapshot,
	updated_at = EXCLUDED.updated_at
WHERE game_snapshots.version < EXCLUDED.version`

// Save stores s unless a newer version is already stored.
func (r *PostgresSnapshotRepository) Save(ctx context.Context, s *state.GameState) error {
	data, err := game.MarshalSnapshot(s)
	if err != nil {
		return err
	}
	checksum, err := game.ComputeChecksum(s)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, upsertSnapshot, s.ID, int64(s.Version), string(s.Status), checksum.Hash, data, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: game %s version %d", ErrStaleSnapshot, s.ID, s.Version)
	}

	r.logger.Debug("snapshot saved",
		zap.String("game_id", s.ID),
		zap.Uint64("version", s.Version),
		zap.String("checksum", checksum.Hash))
	return nil
}

// Load returns the latest stored snapshot of gameID.
func (r *PostgresSnapshotRepository) Load(ctx context.Context, gameID string) (*state.GameState, error) {
	var (
		data     []byte
		checksum string
	)
	err := r.db.QueryRow(ctx,
		`SELECT snapshot, checksum FROM game_snapshots WHERE id = $1`, gameID,
	).Scan(&data, &checksum)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", game.ErrGameNotFound, gameID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", gameID, err)
	}
	return decodeSnapshot(gameID, data, checksum)
}

// ListActive returns the ids of games that have not completed, oldest update first.
func (r *PostgresSnapshotRepository) ListActive(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM game_snapshots WHERE status <> $1 ORDER BY updated_at, id`,
		string(state.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read game ids: %w", err)
	}
	return ids, nil
}

// DeleteCompletedBefore removes completed games last updated before cutoff.
func (r *PostgresSnapshotRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM game_snapshots WHERE status = $1 AND updated_at < $2`,
		string(state.StatusCompleted), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func decodeSnapshot(gameID string, data []byte, checksum string) (*state.GameState, error) {
	s, err := game.UnmarshalSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("game %s: %w", gameID, err)
	}
	ok, err := game.VerifyChecksum(s, &game.SnapshotChecksum{Hash: checksum})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: game %s version %d", ErrCorruptSnapshot, gameID, s.Version)
	}
	return s, nil
}
