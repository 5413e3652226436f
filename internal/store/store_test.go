package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/pagepilot/internal/axtree"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSnapshot(t *testing.T, tab, mode string, created time.Time, name string) *axtree.Snapshot {
	t.Helper()
	snap, err := axtree.NewSnapshot(tab, &axtree.SnapshotNode{
		ID:   "root",
		Role: "RootWebArea",
		Name: "Shop",
		Children: []*axtree.SnapshotNode{
			{ID: "b1", Role: "button", Name: name, BackendID: 10, FrameID: "F1"},
		},
	})
	require.NoError(t, err)
	snap.Mode = mode
	snap.URL = "https://shop.test/"
	snap.Title = "Shop"
	snap.CreatedAt = created
	return snap
}

func TestSaveAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := time.UnixMilli(1700000000000)

	require.NoError(t, s.Save(ctx, testSnapshot(t, "tab1", axtree.ModeCDP, created, "Pay")))

	got, err := s.Load(ctx, "tab1", axtree.ModeCDP)
	require.NoError(t, err)
	require.NoError(t, got.Validate())
	assert.Equal(t, "https://shop.test/", got.URL)
	assert.True(t, got.CreatedAt.Equal(created))

	b, ok := got.Node("b1")
	require.True(t, ok)
	assert.Equal(t, "Pay", b.Name)
	assert.EqualValues(t, 10, b.BackendID)
	assert.Equal(t, "F1", b.FrameID)
}

func TestSaveReplacesPerTabAndMode(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	require.NoError(t, s.Save(ctx, testSnapshot(t, "tab1", axtree.ModeCDP, base, "Old")))
	require.NoError(t, s.Save(ctx, testSnapshot(t, "tab1", axtree.ModeCDP, base.Add(time.Second), "New")))
	require.NoError(t, s.Save(ctx, testSnapshot(t, "tab1", axtree.ModeDOM, base.Add(2*time.Second), "Dom")))

	cdp, err := s.Load(ctx, "tab1", axtree.ModeCDP)
	require.NoError(t, err)
	b, _ := cdp.Node("b1")
	assert.Equal(t, "New", b.Name)

	latest, err := s.Load(ctx, "tab1", "")
	require.NoError(t, err)
	assert.Equal(t, axtree.ModeDOM, latest.Mode)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, axtree.ModeDOM, entries[0].Mode)
}

func TestLoadMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Load(context.Background(), "nope", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAndPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Save(ctx, testSnapshot(t, "old", axtree.ModeCDP, now.Add(-48*time.Hour), "x")))
	require.NoError(t, s.Save(ctx, testSnapshot(t, "fresh", axtree.ModeCDP, now, "y")))
	require.NoError(t, s.Save(ctx, testSnapshot(t, "gone", axtree.ModeCDP, now, "z")))

	require.NoError(t, s.Delete(ctx, "gone"))
	_, err := s.Load(ctx, "gone", "")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fresh", entries[0].TabID)
}

func TestSaveRejectsAnonymousSnapshot(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.Save(context.Background(), &axtree.Snapshot{}))
}

func TestReopenKeepsMigratedSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, testSnapshot(t, "tab", axtree.ModeCDP, time.Now(), "Pay")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	snap, err := s.Load(ctx, "tab", axtree.ModeCDP)
	require.NoError(t, err)
	assert.Equal(t, "Shop", snap.Title)
}
