// Package contextlog keeps the per-user append-only interaction
// history: synchronous in-memory appends, debounced JSON persistence,
// and AI-assisted compression that keeps the log bounded.
package contextlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xbghc/email-assistant/internal/ai"
	"github.com/xbghc/email-assistant/internal/model"
)

// Summarizer is the slice of the provider gateway the store needs for
// compression.
type Summarizer interface {
	Generate(ctx context.Context, system, prompt string, opts ai.GenerateOptions) (string, error)
}

const compressionSystemPrompt = "You condense a user's assistant " +
	"interaction history. Summarize the entries below into one " +
	"compact prose paragraph that preserves facts, decisions, " +
	"reported work, and schedule details. Do not invent anything."

// Store owns the per-user context logs and their durable file. Appends
// are synchronous in memory; persistence is debounced so bursts
// coalesce into one write. Compression rewrites a user's log and
// flushes immediately, bypassing the debounce.
type Store struct {
	mu      sync.Mutex
	entries map[string][]model.ContextEntry

	path          string
	debounce      time.Duration
	flushTimer    *time.Timer
	compressLimit int
	keepRecent    int

	// defaultUser receives entries from legacy flat-array files.
	defaultUser string

	summarizer Summarizer
	logger     *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithSummarizer enables AI-assisted compression.
func WithSummarizer(s Summarizer) Option {
	return func(st *Store) { st.summarizer = s }
}

// WithDefaultUser sets the user id legacy flat-array files belong to.
func WithDefaultUser(id string) Option {
	return func(st *Store) { st.defaultUser = id }
}

// NewStore creates a store persisting to path. compressLimit is the
// total content length above which ShouldCompress reports true;
// keepRecent is how many trailing entries compression keeps verbatim.
func NewStore(
	path string,
	debounce time.Duration,
	compressLimit, keepRecent int,
	logger *slog.Logger,
	opts ...Option,
) *Store {
	s := &Store{
		entries:       make(map[string][]model.ContextEntry),
		path:          path,
		debounce:      debounce,
		compressLimit: compressLimit,
		keepRecent:    keepRecent,
		defaultUser:   "default",
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the durable file. Two shapes are supported: the current
// map of user id to entry list, and a legacy bare array attributed to
// the default user. A missing file is an empty store.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading context file %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var legacy []model.ContextEntry
		if err := json.Unmarshal(data, &legacy); err != nil {
			return fmt.Errorf("parsing legacy context file %s: %w", s.path, err)
		}
		s.entries[s.defaultUser] = legacy
		return nil
	}

	byUser := make(map[string][]model.ContextEntry)
	if err := json.Unmarshal(data, &byUser); err != nil {
		return fmt.Errorf("parsing context file %s: %w", s.path, err)
	}
	s.entries = byUser
	return nil
}

// Append records one entry for userID and schedules a debounced flush.
func (s *Store) Append(
	userID string,
	typ model.ContextEntryType,
	content string,
	metadata map[string]any,
) model.ContextEntry {
	entry := model.ContextEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Content:   content,
		Metadata:  metadata,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userID] = append(s.entries[userID], entry)
	s.scheduleFlushLocked()
	return entry
}

// Recent returns userID's entries newer than days ago, optionally
// filtered by type, preserving insertion order.
func (s *Store) Recent(
	userID string,
	days int,
	types ...model.ContextEntryType,
) []model.ContextEntry {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.ContextEntry
	for _, e := range s.entries[userID] {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		if len(types) > 0 && !containsType(types, e.Type) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func containsType(types []model.ContextEntryType, t model.ContextEntryType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// EntryCount returns how many entries are stored for userID.
func (s *Store) EntryCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[userID])
}

// ShouldCompress reports whether userID's total content length exceeds
// the configured threshold.
func (s *Store) ShouldCompress(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, e := range s.entries[userID] {
		total += len(e.Content)
	}
	return total > s.compressLimit
}

// Compress collapses all but the last keepRecent entries of userID's
// log into one AI-generated summary entry and persists the result
// immediately. Compression is best-effort: any failure leaves the log
// unmodified and is logged, never raised.
func (s *Store) Compress(ctx context.Context, userID string) {
	if s.summarizer == nil {
		return
	}

	s.mu.Lock()
	log := s.entries[userID]
	if len(log) <= s.keepRecent+1 {
		s.mu.Unlock()
		return
	}
	candidateCount := len(log) - s.keepRecent
	candidates := make([]model.ContextEntry, candidateCount)
	copy(candidates, log[:candidateCount])
	s.mu.Unlock()

	var b strings.Builder
	for _, e := range candidates {
		fmt.Fprintf(&b, "[%s] (%s) %s\n",
			e.Timestamp.Format(time.RFC3339), e.Type, e.Content)
	}

	summary, err := s.summarizer.Generate(
		ctx, compressionSystemPrompt, b.String(), ai.GenerateOptions{},
	)
	if err != nil || strings.TrimSpace(summary) == "" {
		s.logger.Warn("context compression failed, log left unmodified",
			"user", userID, "entries", candidateCount, "error", err)
		return
	}

	synthetic := model.ContextEntry{
		ID: uuid.New().String(),
		// Keep the timestamp of the newest collapsed entry so the log
		// stays ordered.
		Timestamp: candidates[candidateCount-1].Timestamp,
		Type:      model.ContextOther,
		Content:   summary,
		Metadata: map[string]any{
			"compressed":      true,
			"originalEntries": candidateCount,
		},
	}

	s.mu.Lock()
	// The log is append-only, so the first candidateCount entries are
	// exactly the ones summarized even if appends happened meanwhile.
	current := s.entries[userID]
	rebuilt := make([]model.ContextEntry, 0, len(current)-candidateCount+1)
	rebuilt = append(rebuilt, synthetic)
	rebuilt = append(rebuilt, current[candidateCount:]...)
	s.entries[userID] = rebuilt
	err = s.writeLocked()
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("persisting compressed context failed", "user", userID, "error", err)
		return
	}
	s.logger.Info("context compressed",
		"user", userID, "collapsed", candidateCount, "kept", s.keepRecent)
}

// Purge removes every entry for userID and persists immediately.
func (s *Store) Purge(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
	return s.writeLocked()
}

// Flush writes the store to disk now, cancelling any pending debounce.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked()
}

// Close flushes outstanding state.
func (s *Store) Close() error {
	return s.Flush()
}

// scheduleFlushLocked arms (or re-arms) the debounce timer. A later
// write supersedes an earlier not-yet-flushed one.
func (s *Store) scheduleFlushLocked() {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	s.flushTimer = time.AfterFunc(s.debounce, func() {
		if err := s.Flush(); err != nil {
			s.logger.Error("debounced context flush failed", "error", err)
		}
	})
}

// writeLocked persists the store atomically. Callers must hold mu.
func (s *Store) writeLocked() error {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating context directory: %w", err)
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding context entries: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing context file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing context file: %w", err)
	}
	return nil
}
