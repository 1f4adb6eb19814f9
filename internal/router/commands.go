package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xbghc/email-assistant/internal/directory"
	"github.com/xbghc/email-assistant/internal/model"
)

const commandUsage = `Available commands:
/adduser <email> [name] - add a directory user
/deluser <email> - remove a directory user
/users - list directory users
/setlang <email> <language> - set a user's reply language
/setreminder <email> <morning|evening> <HH:MM> - set a reminder time
/help - show this help`

// executeCommand parses and runs one admin command line
// deterministically. The LLM is never involved in deciding what a
// command does; it only phrases the result afterwards.
func (r *Router) executeCommand(ctx context.Context, line string) string {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return commandUsage
	}

	switch strings.ToLower(fields[0]) {
	case "/help":
		return commandUsage

	case "/users":
		return r.listUsers(ctx)

	case "/adduser":
		if len(fields) < 2 {
			return "Usage: /adduser <email> [name]"
		}
		name := ""
		if len(fields) >= 3 {
			name = strings.Join(fields[2:], " ")
		}
		return r.addUser(ctx, fields[1], name)

	case "/deluser":
		if len(fields) != 2 {
			return "Usage: /deluser <email>"
		}
		return r.deleteUser(ctx, fields[1])

	case "/setlang":
		if len(fields) != 3 {
			return "Usage: /setlang <email> <language>"
		}
		return r.setLanguage(ctx, fields[1], fields[2])

	case "/setreminder":
		if len(fields) != 4 {
			return "Usage: /setreminder <email> <morning|evening> <HH:MM>"
		}
		return r.setReminder(ctx, fields[1], fields[2], fields[3])

	default:
		return fmt.Sprintf("Unknown command %s.\n%s", fields[0], commandUsage)
	}
}

func (r *Router) listUsers(ctx context.Context) string {
	users, err := r.dir.All(ctx)
	if err != nil {
		return fmt.Sprintf("Listing users failed: %v", err)
	}
	if len(users) == 0 {
		return "The directory is empty."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d user(s):\n", len(users))
	for _, u := range users {
		status := "active"
		if !u.IsActive {
			status = "inactive"
		}
		fmt.Fprintf(&b, "- %s (%s, %s)", u.Email, u.Role, status)
		if u.Name != "" {
			fmt.Fprintf(&b, " %s", u.Name)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) addUser(ctx context.Context, email, name string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return fmt.Sprintf("%q does not look like an email address.", email)
	}

	if existing, err := r.dir.GetByEmail(ctx, email); err == nil && existing != nil {
		return fmt.Sprintf("%s is already in the directory.", email)
	}

	user, err := r.dir.Create(ctx, model.User{
		Email:    email,
		Name:     name,
		Role:     model.RoleUser,
		IsActive: true,
	})
	if err != nil {
		return fmt.Sprintf("Adding %s failed: %v", email, err)
	}
	return fmt.Sprintf("Added %s (id %s).", user.Email, user.ID)
}

func (r *Router) deleteUser(ctx context.Context, email string) string {
	user, err := r.dir.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return fmt.Sprintf("%s is not in the directory.", email)
		}
		return fmt.Sprintf("Looking up %s failed: %v", email, err)
	}

	if err := r.dir.Delete(ctx, user.ID); err != nil {
		return fmt.Sprintf("Removing %s failed: %v", email, err)
	}
	return fmt.Sprintf("Removed %s.", email)
}

func (r *Router) setLanguage(ctx context.Context, email, lang string) string {
	user, err := r.dir.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return fmt.Sprintf("%s is not in the directory.", email)
		}
		return fmt.Sprintf("Looking up %s failed: %v", email, err)
	}

	if err := r.dir.Update(ctx, user.ID, directory.UserUpdate{Language: &lang}); err != nil {
		return fmt.Sprintf("Updating %s failed: %v", email, err)
	}
	return fmt.Sprintf("Language for %s set to %s.", email, lang)
}

func (r *Router) setReminder(ctx context.Context, email, which, at string) string {
	if _, err := time.Parse("15:04", at); err != nil {
		return fmt.Sprintf("%q is not a valid time, expected HH:MM.", at)
	}

	user, err := r.dir.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return fmt.Sprintf("%s is not in the directory.", email)
		}
		return fmt.Sprintf("Looking up %s failed: %v", email, err)
	}

	var update directory.UserUpdate
	switch strings.ToLower(which) {
	case "morning":
		update.MorningReminderTime = &at
	case "evening":
		update.EveningReminderTime = &at
	default:
		return "The reminder slot must be morning or evening."
	}

	if err := r.dir.Update(ctx, user.ID, update); err != nil {
		return fmt.Sprintf("Updating %s failed: %v", email, err)
	}
	return fmt.Sprintf("Set the %s reminder for %s to %s.", strings.ToLower(which), email, at)
}
