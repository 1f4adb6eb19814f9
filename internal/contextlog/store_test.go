package contextlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xbghc/email-assistant/internal/ai"
	"github.com/xbghc/email-assistant/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubSummarizer struct {
	summary string
	err     error
	calls   int
}

func (s *stubSummarizer) Generate(
	_ context.Context, _, _ string, _ ai.GenerateOptions,
) (string, error) {
	s.calls++
	return s.summary, s.err
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := NewStore(
		filepath.Join(t.TempDir(), "context.json"),
		time.Hour, 100, 2, testLogger(), opts...,
	)
	require.NoError(t, s.Load())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndRecentPreserveOrder(t *testing.T) {
	s := newTestStore(t)

	s.Append("u1", model.ContextConversation, "first", nil)
	s.Append("u1", model.ContextWorkSummary, "second", nil)
	s.Append("u1", model.ContextConversation, "third", nil)
	s.Append("u2", model.ContextConversation, "other user", nil)

	entries := s.Recent("u1", 7)
	require.Len(t, entries, 3)
	assert.Equal(t, "first", entries[0].Content)
	assert.Equal(t, "second", entries[1].Content)
	assert.Equal(t, "third", entries[2].Content)

	filtered := s.Recent("u1", 7, model.ContextWorkSummary)
	require.Len(t, filtered, 1)
	assert.Equal(t, "second", filtered[0].Content)
}

func TestRecentCutsOffOldEntries(t *testing.T) {
	s := newTestStore(t)
	entry := s.Append("u1", model.ContextConversation, "recent", nil)
	assert.False(t, entry.Timestamp.IsZero())

	assert.Len(t, s.Recent("u1", 7), 1)
	assert.Empty(t, s.Recent("u1", 0), "a zero-day window excludes everything")
}

func TestFlushAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.json")
	s := NewStore(path, time.Hour, 100, 2, testLogger())
	require.NoError(t, s.Load())

	s.Append("u1", model.ContextSchedule, "standup at 10", map[string]any{"messageId": "<m1>"})
	require.NoError(t, s.Flush())

	reloaded := NewStore(path, time.Hour, 100, 2, testLogger())
	require.NoError(t, reloaded.Load())

	entries := reloaded.Recent("u1", 7)
	require.Len(t, entries, 1)
	assert.Equal(t, "standup at 10", entries[0].Content)
	assert.Equal(t, model.ContextSchedule, entries[0].Type)
	assert.Equal(t, "<m1>", entries[0].Metadata["messageId"])
}

func TestLoadLegacyArrayShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.json")
	legacy := []model.ContextEntry{
		{ID: "e1", Timestamp: time.Now().UTC(), Type: model.ContextConversation, Content: "old entry"},
	}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	s := NewStore(path, time.Hour, 100, 2, testLogger(), WithDefaultUser("admin-1"))
	require.NoError(t, s.Load())

	entries := s.Recent("admin-1", 7)
	require.Len(t, entries, 1)
	assert.Equal(t, "old entry", entries[0].Content)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope.json"), time.Hour, 100, 2, testLogger())
	require.NoError(t, s.Load())
	assert.Zero(t, s.EntryCount("u1"))
}

func TestDebouncedFlushWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.json")
	s := NewStore(path, 20*time.Millisecond, 100, 2, testLogger())
	require.NoError(t, s.Load())

	s.Append("u1", model.ContextConversation, "a", nil)
	s.Append("u1", model.ContextConversation, "b", nil)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "nothing should be written before the debounce fires")

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestShouldCompress(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.ShouldCompress("u1"))

	long := make([]byte, 60)
	for i := range long {
		long[i] = 'x'
	}
	s.Append("u1", model.ContextConversation, string(long), nil)
	assert.False(t, s.ShouldCompress("u1"), "60 of 100 is under the limit")

	s.Append("u1", model.ContextConversation, string(long), nil)
	assert.True(t, s.ShouldCompress("u1"))
	assert.False(t, s.ShouldCompress("u2"), "thresholds apply per user")
}

func TestCompressKeepsRecentEntriesVerbatim(t *testing.T) {
	summarizer := &stubSummarizer{summary: "the user did many things"}
	s := newTestStore(t, WithSummarizer(summarizer))

	for _, content := range []string{"one", "two", "three", "four", "five"} {
		s.Append("u1", model.ContextConversation, content, nil)
	}

	s.Compress(context.Background(), "u1")

	entries := s.Recent("u1", 7)
	require.Len(t, entries, 3, "keepRecent=2 plus one summary entry")
	assert.Equal(t, 1, summarizer.calls)

	summary := entries[0]
	assert.Equal(t, model.ContextOther, summary.Type)
	assert.Equal(t, "the user did many things", summary.Content)
	assert.Equal(t, true, summary.Metadata["compressed"])
	assert.Equal(t, 3, summary.Metadata["originalEntries"])

	assert.Equal(t, "four", entries[1].Content)
	assert.Equal(t, "five", entries[2].Content)
}

func TestCompressFailureLeavesLogUnmodified(t *testing.T) {
	summarizer := &stubSummarizer{err: assert.AnError}
	s := newTestStore(t, WithSummarizer(summarizer))

	for _, content := range []string{"one", "two", "three", "four", "five"} {
		s.Append("u1", model.ContextConversation, content, nil)
	}

	s.Compress(context.Background(), "u1")

	entries := s.Recent("u1", 7)
	require.Len(t, entries, 5)
	assert.Equal(t, "one", entries[0].Content)
}

func TestCompressSkipsShortLogs(t *testing.T) {
	summarizer := &stubSummarizer{summary: "summary"}
	s := newTestStore(t, WithSummarizer(summarizer))

	s.Append("u1", model.ContextConversation, "one", nil)
	s.Append("u1", model.ContextConversation, "two", nil)

	s.Compress(context.Background(), "u1")
	assert.Zero(t, summarizer.calls, "nothing to collapse below keepRecent+1 entries")
	assert.Equal(t, 2, s.EntryCount("u1"))
}

func TestPurgeRemovesUser(t *testing.T) {
	s := newTestStore(t)
	s.Append("u1", model.ContextConversation, "gone soon", nil)
	s.Append("u2", model.ContextConversation, "stays", nil)

	require.NoError(t, s.Purge("u1"))
	assert.Zero(t, s.EntryCount("u1"))
	assert.Equal(t, 1, s.EntryCount("u2"))
}
