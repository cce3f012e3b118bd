package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shipyard/shipyard-server-go/internal/game"
	"github.com/shipyard/shipyard-server-go/internal/game/catalog"
	"github.com/shipyard/shipyard-server-go/internal/game/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeTable mimics the game_snapshots table for the statements the repository issues.
type fakeTable struct {
	mu      sync.Mutex
	rows    map[string]fakeRowData
	execErr error
}

type fakeRowData struct {
	version   int64
	status    string
	checksum  string
	snapshot  []byte
	updatedAt time.Time
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: make(map[string]fakeRowData)}
}

func (f *fakeTable) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}

	switch {
	case strings.Contains(sql, "INSERT INTO game_snapshots"):
		id := args[0].(string)
		row := fakeRowData{
			version:   args[1].(int64),
			status:    args[2].(string),
			checksum:  args[3].(string),
			snapshot:  args[4].([]byte),
			updatedAt: args[5].(time.Time),
		}
		if existing, ok := f.rows[id]; ok && existing.version >= row.version {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		f.rows[id] = row
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.Contains(sql, "DELETE FROM game_snapshots"):
		status, cutoff := args[0].(string), args[1].(time.Time)
		deleted := 0
		for id, row := range f.rows {
			if row.status == status && row.updatedAt.Before(cutoff) {
				delete(f.rows, id)
				deleted++
			}
		}
		return pgconn.NewCommandTag(fmt.Sprintf("DELETE %d", deleted)), nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("unexpected statement: %s", sql)
}

func (f *fakeTable) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{values: []any{row.snapshot, row.checksum}}
}

func (f *fakeTable) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, row := range f.rows {
		if row.status != args[0].(string) {
			ids = append(ids, id)
		}
	}
	sortByUpdate(ids, f.rows)
	return &fakeRows{ids: ids, index: -1}, nil
}

func sortByUpdate(ids []string, rows map[string]fakeRowData) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0; j-- {
			a, b := rows[ids[j-1]], rows[ids[j]]
			if a.updatedAt.Before(b.updatedAt) || (a.updatedAt.Equal(b.updatedAt) && ids[j-1] < ids[j]) {
				break
			}
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch target := d.(type) {
		case *[]byte:
			*target = r.values[i].([]byte)
		case *string:
			*target = r.values[i].(string)
		default:
			return fmt.Errorf("unsupported scan target %T", d)
		}
	}
	return nil
}

type fakeRows struct {
	ids   []string
	index int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return []any{r.ids[r.index]}, nil }
func (r *fakeRows) RawValues() [][]byte                          { return [][]byte{[]byte(r.ids[r.index])} }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.index++
	return r.index < len(r.ids)
}

func (r *fakeRows) Scan(dest ...any) error {
	*(dest[0].(*string)) = r.ids[r.index]
	return nil
}

type snapshotStore interface {
	game.Store
	ListActive(ctx context.Context) ([]string, error)
}

func testSnapshot(id string, version uint64, status state.GameStatus, updated time.Time) *state.GameState {
	s := state.New(id, state.DefaultSettings(), updated)
	s.Status = status
	s.Version = version
	s.UpdatedAt = updated
	s.Players = append(s.Players,
		state.Player{ID: "p1", Faction: "human", Health: 25, Status: state.PlayerActive},
		state.Player{ID: "p2", Faction: "xenite", Health: 19, Status: state.PlayerActive},
	)
	s.AddUnit("p1", "fighter", 0)
	s.AddUnit("p2", "interceptor", 2)
	return s
}

func stores(t *testing.T) map[string]func() (snapshotStore, *fakeTable) {
	return map[string]func() (snapshotStore, *fakeTable){
		"postgres": func() (snapshotStore, *fakeTable) {
			table := newFakeTable()
			return newPostgresSnapshotRepository(table, zaptest.NewLogger(t)), table
		},
		"memory": func() (snapshotStore, *fakeTable) {
			return NewMemorySnapshotRepository(), nil
		},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store, _ := open()
			s := testSnapshot("g1", 3, state.StatusActive, now)
			require.NoError(t, store.Save(ctx, s))

			loaded, err := store.Load(ctx, "g1")
			require.NoError(t, err)
			assert.Equal(t, s.Players, loaded.Players)
			assert.Equal(t, s.Units, loaded.Units)
			assert.Equal(t, s.Version, loaded.Version)
		})
	}
}

func TestSnapshotSaveRejectsOlderVersions(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store, _ := open()
			require.NoError(t, store.Save(ctx, testSnapshot("g1", 5, state.StatusActive, now)))
			assert.ErrorIs(t, store.Save(ctx, testSnapshot("g1", 5, state.StatusActive, now)), ErrStaleSnapshot)
			assert.ErrorIs(t, store.Save(ctx, testSnapshot("g1", 4, state.StatusActive, now)), ErrStaleSnapshot)
			require.NoError(t, store.Save(ctx, testSnapshot("g1", 6, state.StatusActive, now)))

			loaded, err := store.Load(ctx, "g1")
			require.NoError(t, err)
			assert.Equal(t, uint64(6), loaded.Version)
		})
	}
}

func TestSnapshotLoadUnknownGame(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store, _ := open()
			_, err := store.Load(context.Background(), "missing")
			assert.ErrorIs(t, err, game.ErrGameNotFound)
		})
	}
}

func TestListActive(t *testing.T) {
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()

	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store, _ := open()
			require.NoError(t, store.Save(ctx, testSnapshot("b", 1, state.StatusActive, base.Add(time.Minute))))
			require.NoError(t, store.Save(ctx, testSnapshot("a", 1, state.StatusWaiting, base)))
			require.NoError(t, store.Save(ctx, testSnapshot("c", 1, state.StatusCompleted, base)))

			ids, err := store.ListActive(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, ids)
		})
	}
}

func TestPostgresLoadDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	table := newFakeTable()
	repo := newPostgresSnapshotRepository(table, zaptest.NewLogger(t))
	require.NoError(t, repo.Save(ctx, testSnapshot("g1", 1, state.StatusActive, time.Now())))

	row := table.rows["g1"]
	row.checksum = strings.Repeat("0", 64)
	table.rows["g1"] = row

	_, err := repo.Load(ctx, "g1")
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestPostgresSaveWrapsDriverErrors(t *testing.T) {
	table := newFakeTable()
	table.execErr = errors.New("connection reset")
	repo := newPostgresSnapshotRepository(table, zaptest.NewLogger(t))

	err := repo.Save(context.Background(), testSnapshot("g1", 1, state.StatusActive, time.Now()))
	assert.ErrorContains(t, err, "connection reset")
	assert.NotErrorIs(t, err, ErrStaleSnapshot)
}

func TestPostgresDeleteCompletedBefore(t *testing.T) {
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()
	table := newFakeTable()
	repo := newPostgresSnapshotRepository(table, zaptest.NewLogger(t))

	require.NoError(t, repo.Save(ctx, testSnapshot("old", 1, state.StatusCompleted, base)))
	require.NoError(t, repo.Save(ctx, testSnapshot("new", 1, state.StatusCompleted, base.Add(2*time.Hour))))
	require.NoError(t, repo.Save(ctx, testSnapshot("live", 1, state.StatusActive, base)))

	deleted, err := repo.DeleteCompletedBefore(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.NotContains(t, table.rows, "old")
	assert.Contains(t, table.rows, "new")
	assert.Contains(t, table.rows, "live")
}

func TestEngineRestoresGamesFromRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySnapshotRepository()
	cat, err := catalog.Default()
	require.NoError(t, err)

	engine, err := game.NewEngine(game.EngineConfig{Catalog: cat, Logger: zaptest.NewLogger(t), Store: repo})
	require.NoError(t, err)
	view, err := engine.CreateGame(ctx, game.CreateRequest{Creator: game.JoinRequest{PlayerID: "p1", Faction: "human"}})
	require.NoError(t, err)
	_, err = engine.JoinGame(ctx, view.State.ID, game.JoinRequest{PlayerID: "p2", Faction: "xenite"})
	require.NoError(t, err)

	restarted, err := game.NewEngine(game.EngineConfig{Catalog: cat, Logger: zaptest.NewLogger(t), Store: repo})
	require.NoError(t, err)
	s, err := restarted.Snapshot(ctx, view.State.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusActive, s.Status)
	assert.Equal(t, uint64(2), s.Version)
}
