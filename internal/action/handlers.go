package action

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xbghc/email-assistant/internal/contextlog"
	"github.com/xbghc/email-assistant/internal/directory"
	"github.com/xbghc/email-assistant/internal/model"
)

// RegisterBuiltins wires the standard action set against the given
// collaborators.
func RegisterBuiltins(r *Registry, dir directory.Directory, store *contextlog.Store) {
	r.Register(&workReportHandler{store: store})
	r.Register(&scheduleHandler{store: store})
	r.Register(&reminderConfigHandler{dir: dir})
	r.Register(&contextLookupHandler{store: store})
	r.Register(&languageHandler{dir: dir})
}

// workReportHandler records a work report the model recognized in the
// user's message.
type workReportHandler struct {
	store *contextlog.Store
}

func (h *workReportHandler) Name() string { return "record_work_report" }

func (h *workReportHandler) Description() string {
	return "Record that the user reported completed or ongoing work. " +
		"Call this when the message describes tasks done, progress made, " +
		"or blockers hit."
}

func (h *workReportHandler) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {
				"type": "string",
				"description": "A concise restatement of the reported work"
			}
		},
		"required": ["content"]
	}`)
}

func (h *workReportHandler) Execute(
	_ context.Context, req model.ActionRequest,
) model.ActionResult {
	if req.UserID == "" {
		return model.Failure("cannot record a work report for an unknown user")
	}
	content := strings.TrimSpace(stringArg(req.Args, "content"))
	if content == "" {
		return model.Failure("work report content is empty")
	}

	h.store.Append(req.UserID, model.ContextWorkSummary, content, nil)
	return model.Succeed("Got it — I've recorded your work report.")
}

// scheduleHandler records a schedule or availability statement.
type scheduleHandler struct {
	store *contextlog.Store
}

func (h *scheduleHandler) Name() string { return "record_schedule" }

func (h *scheduleHandler) Description() string {
	return "Record the user's schedule or availability for the coming " +
		"days. Call this when the message states plans, meetings, leave, " +
		"or time away."
}

func (h *scheduleHandler) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {
				"type": "string",
				"description": "A concise restatement of the schedule information"
			}
		},
		"required": ["content"]
	}`)
}

func (h *scheduleHandler) Execute(
	_ context.Context, req model.ActionRequest,
) model.ActionResult {
	if req.UserID == "" {
		return model.Failure("cannot record a schedule for an unknown user")
	}
	content := strings.TrimSpace(stringArg(req.Args, "content"))
	if content == "" {
		return model.Failure("schedule content is empty")
	}

	h.store.Append(req.UserID, model.ContextSchedule, content, nil)
	return model.Succeed("Noted — I've saved your schedule.")
}

// reminderConfigHandler updates a user's reminder times and timezone
// through the directory's own update contract.
type reminderConfigHandler struct {
	dir directory.Directory
}

func (h *reminderConfigHandler) Name() string { return "update_reminder_config" }

func (h *reminderConfigHandler) Description() string {
	return "Change the user's daily reminder configuration. Call this " +
		"when the user asks to move, set, or change their morning or " +
		"evening reminder times or timezone."
}

func (h *reminderConfigHandler) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"morning_time": {
				"type": "string",
				"description": "Morning reminder time as HH:MM, 24-hour clock"
			},
			"evening_time": {
				"type": "string",
				"description": "Evening reminder time as HH:MM, 24-hour clock"
			},
			"timezone": {
				"type": "string",
				"description": "IANA timezone name, e.g. Asia/Shanghai"
			}
		}
	}`)
}

func (h *reminderConfigHandler) Execute(
	ctx context.Context, req model.ActionRequest,
) model.ActionResult {
	if req.UserID == "" {
		return model.Failure("cannot update reminders for an unknown user")
	}

	var update directory.UserUpdate
	var changed []string

	if morning := stringArg(req.Args, "morning_time"); morning != "" {
		if _, err := time.Parse("15:04", morning); err != nil {
			return model.Failure(fmt.Sprintf("invalid morning time %q, expected HH:MM", morning))
		}
		update.MorningReminderTime = &morning
		changed = append(changed, "morning reminder to "+morning)
	}
	if evening := stringArg(req.Args, "evening_time"); evening != "" {
		if _, err := time.Parse("15:04", evening); err != nil {
			return model.Failure(fmt.Sprintf("invalid evening time %q, expected HH:MM", evening))
		}
		update.EveningReminderTime = &evening
		changed = append(changed, "evening reminder to "+evening)
	}
	if tz := stringArg(req.Args, "timezone"); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return model.Failure(fmt.Sprintf("unknown timezone %q", tz))
		}
		update.Timezone = &tz
		changed = append(changed, "timezone to "+tz)
	}

	if len(changed) == 0 {
		return model.Failure("no reminder settings were provided")
	}

	if err := h.dir.Update(ctx, req.UserID, update); err != nil {
		return model.Failure(fmt.Sprintf("updating reminder settings: %v", err))
	}
	return model.Succeed("Done — I've set your " + strings.Join(changed, " and ") + ".")
}

// contextLookupHandler retrieves recent history so the model can answer
// questions about past interactions.
type contextLookupHandler struct {
	store *contextlog.Store
}

func (h *contextLookupHandler) Name() string { return "get_recent_context" }

func (h *contextLookupHandler) Description() string {
	return "Fetch the user's recent interaction history. Call this when " +
		"answering requires knowing what the user previously reported or " +
		"scheduled."
}

func (h *contextLookupHandler) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"days": {
				"type": "integer",
				"description": "How many trailing days to include, default 7"
			},
			"type": {
				"type": "string",
				"enum": ["conversation", "work_summary", "schedule", "other"],
				"description": "Restrict to one entry type"
			}
		}
	}`)
}

func (h *contextLookupHandler) Execute(
	_ context.Context, req model.ActionRequest,
) model.ActionResult {
	if req.UserID == "" {
		return model.Failure("cannot look up context for an unknown user")
	}

	days := intArg(req.Args, "days", 7)
	if days <= 0 {
		days = 7
	}

	var entries []model.ContextEntry
	if typ := stringArg(req.Args, "type"); typ != "" {
		entries = h.store.Recent(req.UserID, days, model.ContextEntryType(typ))
	} else {
		entries = h.store.Recent(req.UserID, days)
	}

	if len(entries) == 0 {
		return model.Succeed("No recorded history in that period.")
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s (%s): %s\n",
			e.Timestamp.Format("2006-01-02 15:04"), e.Type, e.Content)
	}

	return model.ActionResult{
		Success: true,
		Message: b.String(),
		Data:    map[string]any{"count": len(entries)},
	}
}

// languageHandler updates the user's preferred reply language.
type languageHandler struct {
	dir directory.Directory
}

func (h *languageHandler) Name() string { return "set_language" }

func (h *languageHandler) Description() string {
	return "Set the language the assistant should use when replying to " +
		"this user. Call this when the user asks for replies in a " +
		"specific language."
}

func (h *languageHandler) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"language": {
				"type": "string",
				"description": "Language tag or name, e.g. en, zh-CN, French"
			}
		},
		"required": ["language"]
	}`)
}

func (h *languageHandler) Execute(
	ctx context.Context, req model.ActionRequest,
) model.ActionResult {
	if req.UserID == "" {
		return model.Failure("cannot set a language for an unknown user")
	}
	lang := strings.TrimSpace(stringArg(req.Args, "language"))
	if lang == "" {
		return model.Failure("language is empty")
	}

	if err := h.dir.Update(ctx, req.UserID, directory.UserUpdate{Language: &lang}); err != nil {
		return model.Failure(fmt.Sprintf("updating language: %v", err))
	}
	return model.Succeed("From now on I'll reply in " + lang + ".")
}
