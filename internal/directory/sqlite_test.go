package directory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xbghc/email-assistant/internal/model"
)

func newTestDirectory(t *testing.T) *SQLiteDirectory {
	t.Helper()
	d, err := NewSQLiteDirectory(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestCreateAndGet(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	created, err := d.Create(ctx, model.User{
		Email:    "alice@example.com",
		Name:     "Alice",
		IsActive: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID, "a missing id should be generated")
	assert.Equal(t, model.RoleUser, created.Role, "a missing role defaults to user")

	byEmail, err := d.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)
	assert.Equal(t, "Alice", byEmail.Name)

	byID, err := d.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", byID.Email)
}

func TestGetByEmailCaseInsensitive(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	_, err := d.Create(ctx, model.User{Email: "Bob@Example.com", IsActive: true})
	require.NoError(t, err)

	found, err := d.GetByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Bob@Example.com", found.Email)

	found, err = d.GetByEmail(ctx, "  BOB@EXAMPLE.COM  ")
	require.NoError(t, err)
	assert.NotNil(t, found)
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	_, err := d.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.GetByID(ctx, "missing-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	_, err := d.Create(ctx, model.User{Email: "dup@example.com", IsActive: true})
	require.NoError(t, err)

	_, err = d.Create(ctx, model.User{Email: "dup@example.com", IsActive: true})
	assert.Error(t, err)
}

func TestPartialUpdate(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	created, err := d.Create(ctx, model.User{
		Email:    "carol@example.com",
		Name:     "Carol",
		IsActive: true,
		Config: model.UserConfig{
			Language: "en",
			Schedule: model.ScheduleConfig{MorningReminderTime: "09:00"},
		},
	})
	require.NoError(t, err)

	lang := "fr"
	evening := "18:30"
	require.NoError(t, d.Update(ctx, created.ID, UserUpdate{
		Language:            &lang,
		EveningReminderTime: &evening,
	}))

	updated, err := d.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "fr", updated.Config.Language)
	assert.Equal(t, "18:30", updated.Config.Schedule.EveningReminderTime)
	assert.Equal(t, "09:00", updated.Config.Schedule.MorningReminderTime,
		"fields not named in the update must not change")
	assert.Equal(t, "Carol", updated.Name)
}

func TestUpdateUnknownUser(t *testing.T) {
	d := newTestDirectory(t)
	name := "Nobody"
	err := d.Update(context.Background(), "missing-id", UserUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeactivateUser(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	created, err := d.Create(ctx, model.User{Email: "dave@example.com", IsActive: true})
	require.NoError(t, err)

	inactive := false
	require.NoError(t, d.Update(ctx, created.ID, UserUpdate{IsActive: &inactive}))

	updated, err := d.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.False(t, updated.IsAdmin())
}

func TestDelete(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	created, err := d.Create(ctx, model.User{Email: "eve@example.com", IsActive: true})
	require.NoError(t, err)

	require.NoError(t, d.Delete(ctx, created.ID))
	_, err = d.GetByID(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, d.Delete(ctx, created.ID), ErrNotFound)
}

func TestAllOrdersByEmail(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	for _, email := range []string{"zoe@example.com", "amy@example.com", "mia@example.com"} {
		_, err := d.Create(ctx, model.User{Email: email, IsActive: true})
		require.NoError(t, err)
	}

	users, err := d.All(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "amy@example.com", users[0].Email)
	assert.Equal(t, "mia@example.com", users[1].Email)
	assert.Equal(t, "zoe@example.com", users[2].Email)
}

func TestEnsureAdmin(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	admin, err := d.EnsureAdmin(ctx, "boss@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, admin.Role)
	assert.True(t, admin.IsActive)
	assert.True(t, admin.IsAdmin())

	again, err := d.EnsureAdmin(ctx, "boss@example.com")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, again.ID, "a second bootstrap must reuse the existing record")

	users, err := d.All(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")

	first, err := NewSQLiteDirectory(path)
	require.NoError(t, err)
	_, err = first.Create(context.Background(), model.User{Email: "kept@example.com", IsActive: true})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewSQLiteDirectory(path)
	require.NoError(t, err)
	defer second.Close()

	found, err := second.GetByEmail(context.Background(), "kept@example.com")
	require.NoError(t, err)
	assert.Equal(t, "kept@example.com", found.Email)
}
