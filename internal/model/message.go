package model

import "time"

// IntentKind is the coarse category assigned to an incoming message
// before deep processing.
type IntentKind string

const (
	IntentAdminCommand     IntentKind = "admin_command"
	IntentWorkReport       IntentKind = "work_report"
	IntentScheduleResponse IntentKind = "schedule_response"
	IntentGeneral          IntentKind = "general"
)

// IncomingMessage is an immutable snapshot of one fetched mail message
// after classification. It is never stored; anything worth keeping goes
// through the context log or the user directory.
type IncomingMessage struct {
	// MessageID is the RFC 5322 Message-Id header, used for
	// deduplication and log correlation.
	MessageID string

	// From is the bare sender address (no display name).
	From string

	// To lists the recipient addresses.
	To []string

	Subject string
	Body    string

	// ReceivedAt is the envelope date reported by the mailbox.
	ReceivedAt time.Time

	// InReplyTo and References carry the reply-chain markers from the
	// message headers, when present.
	InReplyTo  string
	References []string

	// IsReply is true when the message continues an existing thread.
	IsReply bool

	// Intent is the classification result. Only admin_command and
	// general are assigned at ingestion time; finer categories are
	// recognized by the AI layer.
	Intent IntentKind

	// UserID is the directory id of the sender, or empty when the
	// sender is not a known directory entry.
	UserID string
}

// ProcessedReply echoes the outcome of handling one message. It exists
// for logging only and is not persisted.
type ProcessedReply struct {
	MessageID string
	Intent    IntentKind
	Original  string
	Reply     string
	Outcome   string
}

// ReminderSkip is the best-effort signal handed to the external
// reminder scheduler after a message is processed.
type ReminderSkip struct {
	SkipMorning bool
	SkipEvening bool
	Reason      string
}
