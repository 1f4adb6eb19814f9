package model

import "time"

// ContextEntryType categorizes one unit of a user's interaction history.
type ContextEntryType string

const (
	ContextConversation ContextEntryType = "conversation"
	ContextWorkSummary  ContextEntryType = "work_summary"
	ContextSchedule     ContextEntryType = "schedule"
	ContextOther        ContextEntryType = "other"
)

// ContextEntry is one record in a user's append-only context log.
// Entries are only ever appended, or replaced wholesale by compression;
// they are never edited or reordered in place.
type ContextEntry struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Type      ContextEntryType `json:"type"`
	Content   string           `json:"content"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
}
