package migrate

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeTarget keeps the ledger in memory.
type fakeTarget struct {
	ledger map[string]time.Time
	wipes  int
}

var _ Target = (*fakeTarget)(nil)

func newFakeTarget() *fakeTarget {
	return &fakeTarget{ledger: make(map[string]time.Time)}
}

func (t *fakeTarget) Ensure(context.Context) error { return nil }

func (t *fakeTarget) Executed(context.Context) ([]Record, error) {
	records := make([]Record, 0, len(t.ledger))
	for name, at := range t.ledger {
		records = append(records, Record{Name: name, ExecutedAt: at})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

func (t *fakeTarget) Record(_ context.Context, name string, at time.Time) error {
	t.ledger[name] = at
	return nil
}

func (t *fakeTarget) Remove(_ context.Context, name string) error {
	delete(t.ledger, name)
	return nil
}

func (t *fakeTarget) Wipe(context.Context) error {
	t.ledger = make(map[string]time.Time)
	t.wipes++
	return nil
}

func step(name string, log *[]string) Migration {
	return Migration{
		Name: name,
		Up: func(context.Context) error {
			*log = append(*log, "up:"+name)
			return nil
		},
		Down: func(context.Context) error {
			*log = append(*log, "down:"+name)
			return nil
		},
	}
}

const (
	nameAlpha = "20250101000001_alpha"
	nameBravo = "20250101000002_bravo"
	nameCharl = "20250101000003_charlie"
)

func TestUpRunsPendingInLexicographicOrder(t *testing.T) {
	target := newFakeTarget()
	var log []string

	// Declaration order and source boundaries must not matter.
	engine, err := NewEngine(context.Background(), target, zap.NewNop(),
		Static(step(nameCharl, &log), step(nameAlpha, &log)),
		Static(step(nameBravo, &log)),
	)
	require.NoError(t, err)

	require.NoError(t, engine.Up(context.Background()))
	assert.Equal(t, []string{"up:" + nameAlpha, "up:" + nameBravo, "up:" + nameCharl}, log)

	executed, err := target.Executed(context.Background())
	require.NoError(t, err)
	require.Len(t, executed, 3)
	assert.Equal(t, nameAlpha, executed[0].Name)
}

func TestUpSecondRunIsNoOp(t *testing.T) {
	target := newFakeTarget()
	var log []string

	engine, err := NewEngine(context.Background(), target, zap.NewNop(),
		Static(step(nameAlpha, &log), step(nameBravo, &log)))
	require.NoError(t, err)

	require.NoError(t, engine.Up(context.Background()))
	require.NoError(t, engine.Up(context.Background()))

	assert.Len(t, log, 2, "second invocation must not rerun anything")
	assert.Len(t, target.ledger, 2)
}

func TestUpAbortKeepsPriorRows(t *testing.T) {
	target := newFakeTarget()
	var log []string

	failing := Migration{
		Name: nameBravo,
		Up:   func(context.Context) error { return fmt.Errorf("boom") },
	}
	engine, err := NewEngine(context.Background(), target, zap.NewNop(),
		Static(step(nameAlpha, &log), failing, step(nameCharl, &log)))
	require.NoError(t, err)

	err = engine.Up(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), nameBravo)

	assert.Equal(t, []string{"up:" + nameAlpha}, log, "later migrations must not run after a failure")
	assert.Len(t, target.ledger, 1, "the failed migration must not be recorded")
	assert.Contains(t, target.ledger, nameAlpha)
}

func TestUpToStopsAtBoundary(t *testing.T) {
	target := newFakeTarget()
	var log []string

	engine, err := NewEngine(context.Background(), target, zap.NewNop(),
		Static(step(nameAlpha, &log), step(nameBravo, &log), step(nameCharl, &log)))
	require.NoError(t, err)

	require.NoError(t, engine.UpTo(context.Background(), nameBravo))
	assert.Len(t, target.ledger, 2)
	assert.NotContains(t, target.ledger, nameCharl)

	err = engine.UpTo(context.Background(), "20250101000009_unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not declared")
}

func TestNewEngineRejectsBadDeclarations(t *testing.T) {
	noop := func(context.Context) error { return nil }

	cases := []struct {
		name       string
		migrations []Migration
		wantErr    string
	}{
		{
			name:       "malformed name",
			migrations: []Migration{{Name: "0001_too_short", Up: noop}},
			wantErr:    "must match",
		},
		{
			name:       "uppercase slug",
			migrations: []Migration{{Name: "20250101000001_Alpha", Up: noop}},
			wantErr:    "must match",
		},
		{
			name: "duplicate name",
			migrations: []Migration{
				{Name: nameAlpha, Up: noop},
				{Name: nameAlpha, Up: noop},
			},
			wantErr: "declared twice",
		},
		{
			name:       "missing up",
			migrations: []Migration{{Name: nameAlpha}},
			wantErr:    "no up function",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewEngine(context.Background(), newFakeTarget(), zap.NewNop(), Static(tc.migrations...))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestDownRevertsNewestFirst(t *testing.T) {
	target := newFakeTarget()
	var log []string

	engine, err := NewEngine(context.Background(), target, zap.NewNop(),
		Static(step(nameAlpha, &log), step(nameBravo, &log), step(nameCharl, &log)))
	require.NoError(t, err)
	require.NoError(t, engine.Up(context.Background()))
	log = nil

	require.NoError(t, engine.Down(context.Background()))
	assert.Equal(t, []string{"down:" + nameCharl}, log)
	assert.Len(t, target.ledger, 2)

	require.NoError(t, engine.DownTo(context.Background(), ""))
	assert.Equal(t, []string{"down:" + nameCharl, "down:" + nameBravo, "down:" + nameAlpha}, log)
	assert.Empty(t, target.ledger)
}

func TestDownToKeepsBoundary(t *testing.T) {
	target := newFakeTarget()
	var log []string

	engine, err := NewEngine(context.Background(), target, zap.NewNop(),
		Static(step(nameAlpha, &log), step(nameBravo, &log), step(nameCharl, &log)))
	require.NoError(t, err)
	require.NoError(t, engine.Up(context.Background()))

	require.NoError(t, engine.DownTo(context.Background(), nameAlpha))
	assert.Len(t, target.ledger, 1)
	assert.Contains(t, target.ledger, nameAlpha)
}

func TestDownRequiresDownFunction(t *testing.T) {
	target := newFakeTarget()

	oneWay := Migration{Name: nameAlpha, Up: func(context.Context) error { return nil }}
	engine, err := NewEngine(context.Background(), target, zap.NewNop(), Static(oneWay))
	require.NoError(t, err)
	require.NoError(t, engine.Up(context.Background()))

	err = engine.Down(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no down function")
	assert.Len(t, target.ledger, 1, "a failed revert must keep the ledger row")
}

func TestDownRejectsUndeclaredLedgerRows(t *testing.T) {
	target := newFakeTarget()
	target.ledger["20250101000009_ghost"] = time.Now()

	var log []string
	engine, err := NewEngine(context.Background(), target, zap.NewNop(), Static(step(nameAlpha, &log)))
	require.NoError(t, err)

	err = engine.Down(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no longer declared")
}

func TestResetWipesThenRunsEverything(t *testing.T) {
	target := newFakeTarget()
	var log []string

	engine, err := NewEngine(context.Background(), target, zap.NewNop(),
		Static(step(nameAlpha, &log), step(nameBravo, &log)))
	require.NoError(t, err)
	require.NoError(t, engine.Up(context.Background()))

	require.NoError(t, engine.Reset(context.Background(), ""))
	assert.Equal(t, 1, target.wipes)
	assert.Len(t, target.ledger, 2, "everything reapplies against the empty state")
	assert.Equal(t, []string{"up:" + nameAlpha, "up:" + nameBravo, "up:" + nameAlpha, "up:" + nameBravo}, log)
}

func TestStatusMergesDeclaredAndLedger(t *testing.T) {
	target := newFakeTarget()
	var log []string

	engine, err := NewEngine(context.Background(), target, zap.NewNop(),
		Static(step(nameAlpha, &log), step(nameBravo, &log)))
	require.NoError(t, err)
	require.NoError(t, engine.UpTo(context.Background(), nameAlpha))

	// A row from a migration that has since been deleted from the sources.
	target.ledger["20250101000009_ghost"] = time.Now()

	statuses, err := engine.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	assert.Equal(t, nameAlpha, statuses[0].Name)
	assert.True(t, statuses[0].Executed)
	assert.True(t, statuses[0].Declared)

	assert.Equal(t, nameBravo, statuses[1].Name)
	assert.False(t, statuses[1].Executed)
	assert.True(t, statuses[1].Declared)

	assert.Equal(t, "20250101000009_ghost", statuses[2].Name)
	assert.True(t, statuses[2].Executed)
	assert.False(t, statuses[2].Declared)
}
