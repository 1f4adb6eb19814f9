package security

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xbghc/email-assistant/internal/directory"
	"github.com/xbghc/email-assistant/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestGate(t *testing.T) (*Gate, *directory.SQLiteDirectory) {
	t.Helper()
	dir, err := directory.NewSQLiteDirectory(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dir.Close() })
	return NewGate(dir, 3, testLogger()), dir
}

func TestIsAuthorizedAdmin(t *testing.T) {
	gate, dir := newTestGate(t)
	ctx := context.Background()

	_, err := dir.EnsureAdmin(ctx, "boss@example.com")
	require.NoError(t, err)
	_, err = dir.Create(ctx, model.User{Email: "alice@example.com", IsActive: true})
	require.NoError(t, err)

	assert.True(t, gate.IsAuthorizedAdmin(ctx, "boss@example.com"))
	assert.True(t, gate.IsAuthorizedAdmin(ctx, "  BOSS@example.com "))
	assert.False(t, gate.IsAuthorizedAdmin(ctx, "alice@example.com"),
		"regular users never pass the admin gate")
	assert.False(t, gate.IsAuthorizedAdmin(ctx, "stranger@example.com"))
}

func TestForgedSenderCannotPass(t *testing.T) {
	gate, _ := newTestGate(t)

	// A message may claim any From value; without a matching admin
	// record the gate must deny it.
	assert.False(t, gate.IsAuthorizedAdmin(context.Background(), "boss@example.com"))
}

func TestInactiveAdminIsDenied(t *testing.T) {
	gate, dir := newTestGate(t)
	ctx := context.Background()

	admin, err := dir.EnsureAdmin(ctx, "boss@example.com")
	require.NoError(t, err)

	inactive := false
	require.NoError(t, dir.Update(ctx, admin.ID, directory.UserUpdate{IsActive: &inactive}))

	assert.False(t, gate.IsAuthorizedAdmin(ctx, "boss@example.com"))
}

func TestRepeatedViolationsTriggerDeactivation(t *testing.T) {
	gate, _ := newTestGate(t)

	assert.False(t, gate.RecordUnauthorizedAccess("mallory@example.com", "/adduser x@y.com"))
	assert.False(t, gate.RecordUnauthorizedAccess("mallory@example.com", "/users"))
	assert.True(t, gate.RecordUnauthorizedAccess("mallory@example.com", "/deluser a@b.com"),
		"the third attempt must cross the threshold")

	// Counters are per address.
	assert.False(t, gate.RecordUnauthorizedAccess("other@example.com", "/users"))
}

func TestResetViolations(t *testing.T) {
	gate, _ := newTestGate(t)

	gate.RecordUnauthorizedAccess("mallory@example.com", "/users")
	gate.RecordUnauthorizedAccess("mallory@example.com", "/users")
	gate.ResetViolations("mallory@example.com")

	assert.False(t, gate.RecordUnauthorizedAccess("mallory@example.com", "/users"),
		"a reset counter starts over")
}
