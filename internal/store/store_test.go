package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-agent/internal/store"
	"github.com/nhle/mail-agent/tests/testutil"
)

func TestMarkAndCheckProcessed(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	ok, err := s.IsProcessed(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.MarkProcessed(ctx, store.ProcessedEntry{
		UID:       7,
		MessageID: "<m1@example.com>",
		Subject:   "hello",
	})
	require.NoError(t, err)

	ok, err = s.IsProcessed(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMarkProcessedIsIdempotent(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	entry := store.ProcessedEntry{UID: 9, MessageID: "<m@example.com>", Subject: "x"}
	require.NoError(t, s.MarkProcessed(ctx, entry))
	require.NoError(t, s.MarkProcessed(ctx, entry))

	uids, err := s.ProcessedUIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, uids, 1)
	assert.True(t, uids[9])
}

func TestProcessedUIDs(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	for _, uid := range []uint32{1, 2, 3} {
		require.NoError(t, s.MarkProcessed(ctx, store.ProcessedEntry{UID: uid}))
	}

	uids, err := s.ProcessedUIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[uint32]bool{1: true, 2: true, 3: true}, uids)
}

func TestPruneProcessed(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.MarkProcessed(ctx, store.ProcessedEntry{UID: 1, ProcessedAt: old}))
	require.NoError(t, s.MarkProcessed(ctx, store.ProcessedEntry{UID: 2}))

	pruned, err := s.PruneProcessed(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	uids, err := s.ProcessedUIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[uint32]bool{2: true}, uids)
}

func TestRecordAndListActions(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordAction(ctx, store.ActionRecord{
		UID:    5,
		Action: "archive",
		Status: "ok",
	}))
	require.NoError(t, s.RecordAction(ctx, store.ActionRecord{
		UID:    5,
		Action: "forward",
		Target: "manager@example.com",
		Status: "error",
		Error:  "smtp: connection refused",
	}))

	recs, err := s.RecentActions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	for _, rec := range recs {
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, uint32(5), rec.UID)
		assert.False(t, rec.CreatedAt.IsZero())
	}
}

func TestRecentActionsRespectsLimit(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordAction(ctx, store.ActionRecord{
			UID:    uint32(i),
			Action: "mark_read",
			Status: "ok",
		}))
	}

	recs, err := s.RecentActions(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}
