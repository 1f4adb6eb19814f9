// Package directory provides the user identity store: lookups by email
// or id, partial updates, and the admin bootstrap. Privileged checks
// elsewhere in the system resolve senders through this package only.
package directory

import (
	"context"
	"errors"

	"github.com/xbghc/email-assistant/internal/model"
)

// ErrNotFound is returned when no directory record matches a lookup.
var ErrNotFound = errors.New("directory: user not found")

// UserUpdate is a partial update; nil fields are left unchanged.
type UserUpdate struct {
	Name                *string
	Role                *model.Role
	IsActive            *bool
	Language            *string
	MorningReminderTime *string
	EveningReminderTime *string
	Timezone            *string
}

// Directory is the user identity capability consumed by the pipeline.
type Directory interface {
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	Update(ctx context.Context, id string, update UserUpdate) error
	All(ctx context.Context) ([]model.User, error)

	Create(ctx context.Context, user model.User) (*model.User, error)
	Delete(ctx context.Context, id string) error
}
