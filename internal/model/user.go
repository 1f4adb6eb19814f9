package model

// Role identifies a directory user's privilege level.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ScheduleConfig holds a user's reminder times. Times are "HH:MM"
// strings in the user's timezone.
type ScheduleConfig struct {
	MorningReminderTime string `json:"morningReminderTime"`
	EveningReminderTime string `json:"eveningReminderTime"`
	Timezone            string `json:"timezone"`
}

// UserConfig holds per-user preferences.
type UserConfig struct {
	Schedule ScheduleConfig `json:"schedule"`
	Language string         `json:"language"`
}

// User is one directory record. Privilege decisions are made from the
// Role stored here, never from anything carried in a mail message.
type User struct {
	ID       string     `json:"id"`
	Email    string     `json:"email"`
	Name     string     `json:"name"`
	Role     Role       `json:"role"`
	IsActive bool       `json:"isActive"`
	Config   UserConfig `json:"config"`
}

// IsAdmin reports whether the user holds the admin role and is active.
func (u *User) IsAdmin() bool {
	return u != nil && u.IsActive && u.Role == RoleAdmin
}
