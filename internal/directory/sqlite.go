package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/xbghc/email-assistant/internal/model"
)

// SQLiteDirectory implements Directory using a local SQLite database.
type SQLiteDirectory struct {
	db *sqlx.DB
}

// NewSQLiteDirectory opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteDirectory(dbPath string) (*SQLiteDirectory, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	d := &SQLiteDirectory{db: db}
	if err := d.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return d, nil
}

// Close closes the underlying database connection.
func (d *SQLiteDirectory) Close() error {
	return d.db.Close()
}

type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY,
				applied_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL DEFAULT '',
				role TEXT NOT NULL DEFAULT 'user',
				is_active INTEGER NOT NULL DEFAULT 1,
				language TEXT NOT NULL DEFAULT '',
				morning_reminder_time TEXT NOT NULL DEFAULT '',
				evening_reminder_time TEXT NOT NULL DEFAULT '',
				timezone TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
		},
	},
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (d *SQLiteDirectory) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := d.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = d.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		tx, err := d.db.Beginx()
		if err != nil {
			return fmt.Errorf("starting migration %d: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("applying migration %d: %w", m.version, err)
			}
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			m.version, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
	}

	return nil
}

// userRow is the flat database shape of a user record.
type userRow struct {
	ID                  string `db:"id"`
	Email               string `db:"email"`
	Name                string `db:"name"`
	Role                string `db:"role"`
	IsActive            bool   `db:"is_active"`
	Language            string `db:"language"`
	MorningReminderTime string `db:"morning_reminder_time"`
	EveningReminderTime string `db:"evening_reminder_time"`
	Timezone            string `db:"timezone"`
	CreatedAt           string `db:"created_at"`
	UpdatedAt           string `db:"updated_at"`
}

func (r userRow) toUser() model.User {
	return model.User{
		ID:       r.ID,
		Email:    r.Email,
		Name:     r.Name,
		Role:     model.Role(r.Role),
		IsActive: r.IsActive,
		Config: model.UserConfig{
			Language: r.Language,
			Schedule: model.ScheduleConfig{
				MorningReminderTime: r.MorningReminderTime,
				EveningReminderTime: r.EveningReminderTime,
				Timezone:            r.Timezone,
			},
		},
	}
}

const selectUser = `SELECT id, email, name, role, is_active, language,
	morning_reminder_time, evening_reminder_time, timezone,
	created_at, updated_at FROM users`

// GetByEmail looks up a user by email address. The comparison is
// case-insensitive, matching mail address semantics.
func (d *SQLiteDirectory) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var row userRow
	err := d.db.GetContext(ctx, &row,
		selectUser+" WHERE email = ? COLLATE NOCASE",
		strings.TrimSpace(email),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by email: %w", err)
	}
	u := row.toUser()
	return &u, nil
}

// GetByID looks up a user by directory id.
func (d *SQLiteDirectory) GetByID(ctx context.Context, id string) (*model.User, error) {
	var row userRow
	err := d.db.GetContext(ctx, &row, selectUser+" WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by id: %w", err)
	}
	u := row.toUser()
	return &u, nil
}

// All returns every directory record ordered by email.
func (d *SQLiteDirectory) All(ctx context.Context) ([]model.User, error) {
	var rows []userRow
	if err := d.db.SelectContext(ctx, &rows, selectUser+" ORDER BY email"); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	users := make([]model.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toUser())
	}
	return users, nil
}

// Update applies a partial update to one record. Nil fields are left
// unchanged.
func (d *SQLiteDirectory) Update(ctx context.Context, id string, update UserUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339)}

	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if update.Name != nil {
		add("name", *update.Name)
	}
	if update.Role != nil {
		add("role", string(*update.Role))
	}
	if update.IsActive != nil {
		add("is_active", *update.IsActive)
	}
	if update.Language != nil {
		add("language", *update.Language)
	}
	if update.MorningReminderTime != nil {
		add("morning_reminder_time", *update.MorningReminderTime)
	}
	if update.EveningReminderTime != nil {
		add("evening_reminder_time", *update.EveningReminderTime)
	}
	if update.Timezone != nil {
		add("timezone", *update.Timezone)
	}

	args = append(args, id)
	query := "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE id = ?"

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating user %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update of user %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Create inserts a new user record. A missing id is generated; a
// missing role defaults to the regular user role.
func (d *SQLiteDirectory) Create(ctx context.Context, user model.User) (*model.User, error) {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	user.Email = strings.TrimSpace(user.Email)

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, role, is_active, language,
			morning_reminder_time, evening_reminder_time, timezone,
			created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Name, string(user.Role), user.IsActive,
		user.Config.Language,
		user.Config.Schedule.MorningReminderTime,
		user.Config.Schedule.EveningReminderTime,
		user.Config.Schedule.Timezone,
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating user %s: %w", user.Email, err)
	}
	return &user, nil
}

// Delete removes a user record.
func (d *SQLiteDirectory) Delete(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting user %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete of user %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureAdmin inserts an active admin record for email if none exists,
// and returns the record either way.
func (d *SQLiteDirectory) EnsureAdmin(ctx context.Context, email string) (*model.User, error) {
	existing, err := d.GetByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	return d.Create(ctx, model.User{
		Email:    email,
		Role:     model.RoleAdmin,
		IsActive: true,
	})
}
