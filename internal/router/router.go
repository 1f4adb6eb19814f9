// Package router is the top-level message pipeline: it takes one
// classified message, dispatches it to the right handling branch,
// obtains a reply from the AI layer, sends it, and records context.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xbghc/email-assistant/internal/ai"
	"github.com/xbghc/email-assistant/internal/contextlog"
	"github.com/xbghc/email-assistant/internal/directory"
	"github.com/xbghc/email-assistant/internal/mail"
	"github.com/xbghc/email-assistant/internal/model"
	"github.com/xbghc/email-assistant/internal/security"
)

const unauthorizedReply = "You are not authorized to run administrative " +
	"commands. This attempt has been recorded."

// Answerer is the slice of the AI orchestrator the router needs.
type Answerer interface {
	Answer(ctx context.Context, system, prompt string, opts ai.GenerateOptions, userID string) (string, error)
}

// ReplySender delivers one outbound reply. An empty recipient goes to
// the configured administrator.
type ReplySender interface {
	Send(subject, body, to string) error
}

// SkipFunc receives the best-effort reminder-skip signal for one
// processed message. The external scheduler consumes it; this pipeline
// only reports.
type SkipFunc func(userID string, skip model.ReminderSkip)

// Router dispatches classified messages to their handling branch.
type Router struct {
	dir    directory.Directory
	gate   *security.Gate
	orch   Answerer
	store  *contextlog.Store
	sender ReplySender
	onSkip SkipFunc
	logger *slog.Logger
}

// New wires a router from its collaborators. onSkip may be nil.
func New(
	dir directory.Directory,
	gate *security.Gate,
	orch Answerer,
	store *contextlog.Store,
	sender ReplySender,
	onSkip SkipFunc,
	logger *slog.Logger,
) *Router {
	return &Router{
		dir:    dir,
		gate:   gate,
		orch:   orch,
		store:  store,
		sender: sender,
		onSkip: onSkip,
		logger: logger,
	}
}

// Handle processes one message end to end. Any failure is scoped to
// this message: it is logged with the message id and returned, never
// propagated into the ingestion loop by the caller.
func (r *Router) Handle(ctx context.Context, msg *model.IncomingMessage) (reply *model.ProcessedReply, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while handling message",
				"messageId", msg.MessageID, "panic", rec)
			err = fmt.Errorf("handling %s: panic: %v", msg.MessageID, rec)
		}
	}()

	r.logger.Info("handling message",
		"messageId", msg.MessageID, "from", msg.From, "intent", msg.Intent)

	switch msg.Intent {
	case model.IntentAdminCommand:
		return r.handleAdminCommand(ctx, msg)
	default:
		return r.handleGeneral(ctx, msg)
	}
}

// handleAdminCommand verifies the sender, then executes the command
// line from the subject deterministically. The LLM only phrases the
// outcome.
func (r *Router) handleAdminCommand(ctx context.Context, msg *model.IncomingMessage) (*model.ProcessedReply, error) {
	if !r.gate.IsAuthorizedAdmin(ctx, msg.From) {
		shouldDisable := r.gate.RecordUnauthorizedAccess(msg.From, msg.Subject)
		if shouldDisable && msg.UserID != "" {
			inactive := false
			if err := r.dir.Update(ctx, msg.UserID, directory.UserUpdate{IsActive: &inactive}); err != nil {
				r.logger.Error("deactivating user after repeated violations failed",
					"user", msg.UserID, "error", err)
			} else {
				r.logger.Warn("user deactivated after repeated violations",
					"user", msg.UserID, "address", msg.From)
			}
		}

		if err := r.sendReply(msg, unauthorizedReply); err != nil {
			return nil, err
		}
		return r.processed(msg, unauthorizedReply, "unauthorized"), nil
	}

	result := r.executeCommand(ctx, msg.Subject)

	content := result
	phrased, err := r.orch.Answer(ctx,
		"You are an email assistant. Rephrase the following "+
			"administrative command result as one short, friendly reply. "+
			"Keep every factual detail exactly as given.",
		result, ai.GenerateOptions{}, msg.UserID)
	if err != nil {
		r.logger.Warn("phrasing command result failed, replying verbatim",
			"messageId", msg.MessageID, "error", err)
	} else if strings.TrimSpace(phrased) != "" {
		content = phrased
	}

	if err := r.sendReply(msg, content); err != nil {
		return nil, err
	}
	return r.processed(msg, content, "admin_command"), nil
}

// handleGeneral is the default branch: record the message, gather
// recent context, and let the model answer — calling registered
// actions on its own when it recognizes a deeper intent.
func (r *Router) handleGeneral(ctx context.Context, msg *model.IncomingMessage) (*model.ProcessedReply, error) {
	if msg.UserID == "" {
		// Unknown senders get no reply and leave no durable state;
		// answering strangers invites backscatter.
		r.logger.Info("ignoring message from unknown sender",
			"messageId", msg.MessageID, "from", msg.From)
		return r.processed(msg, "", "ignored_unknown_sender"), nil
	}

	r.store.Append(msg.UserID, model.ContextConversation,
		fmt.Sprintf("Subject: %s\n%s", msg.Subject, msg.Body),
		map[string]any{"messageId": msg.MessageID})

	r.reportReminderSkip(msg)

	system := r.buildGeneralSystemPrompt(ctx, msg.UserID)
	prompt := fmt.Sprintf("Subject: %s\n\n%s", msg.Subject, msg.Body)

	content, err := r.orch.Answer(ctx, system, prompt, ai.GenerateOptions{}, msg.UserID)
	if err != nil {
		return nil, fmt.Errorf("answering %s: %w", msg.MessageID, err)
	}

	if err := r.sendReply(msg, content); err != nil {
		return nil, err
	}

	// Compression is best-effort housekeeping after the reply is out.
	if r.store.ShouldCompress(msg.UserID) {
		r.store.Compress(ctx, msg.UserID)
	}

	return r.processed(msg, content, "answered"), nil
}

// buildGeneralSystemPrompt assembles the instruction block plus the
// user's recent context and language preference.
func (r *Router) buildGeneralSystemPrompt(ctx context.Context, userID string) string {
	var b strings.Builder
	b.WriteString("You are an email assistant for a small team. ")
	b.WriteString("Read the user's message and reply helpfully and concisely.\n\n")
	b.WriteString("Recognize these situations on your own and call the ")
	b.WriteString("matching action instead of only describing it:\n")
	b.WriteString("- the user reports completed or ongoing work -> record_work_report\n")
	b.WriteString("- the user states plans, meetings, or time away -> record_schedule\n")
	b.WriteString("- the user asks to change reminder times or timezone -> update_reminder_config\n")
	b.WriteString("- answering needs earlier history -> get_recent_context\n")
	b.WriteString("- the user asks for replies in another language -> set_language\n\n")

	if user, err := r.dir.GetByID(ctx, userID); err == nil {
		if user.Config.Language != "" {
			fmt.Fprintf(&b, "Reply in %s.\n", user.Config.Language)
		}
		if user.Name != "" {
			fmt.Fprintf(&b, "The user's name is %s.\n", user.Name)
		}
	}

	recent := r.store.Recent(userID, 7)
	if len(recent) > 0 {
		b.WriteString("\nRecent interaction history:\n")
		for _, e := range recent {
			fmt.Fprintf(&b, "- [%s] (%s) %s\n",
				e.Timestamp.Format("2006-01-02"), e.Type, e.Content)
		}
	}

	return b.String()
}

// sendReply composes the Re:-prefixed subject and delegates to the
// mail-sending capability. A send failure is reported, not retried.
func (r *Router) sendReply(msg *model.IncomingMessage, content string) error {
	subject := mail.ReplySubject(msg.Subject)
	if err := r.sender.Send(subject, content, msg.From); err != nil {
		return fmt.Errorf("sending reply for %s: %w", msg.MessageID, err)
	}
	return nil
}

func (r *Router) processed(msg *model.IncomingMessage, reply, outcome string) *model.ProcessedReply {
	return &model.ProcessedReply{
		MessageID: msg.MessageID,
		Intent:    msg.Intent,
		Original:  msg.Body,
		Reply:     reply,
		Outcome:   outcome,
	}
}

// reportReminderSkip derives the best-effort skip signal from simple
// keyword rules and hands it to the external scheduler's callback.
// Precision is explicitly not guaranteed here.
func (r *Router) reportReminderSkip(msg *model.IncomingMessage) {
	if r.onSkip == nil {
		return
	}

	skip := DeriveReminderSkip(msg)
	if skip.SkipMorning || skip.SkipEvening {
		r.onSkip(msg.UserID, skip)
	}
}

// DeriveReminderSkip inspects a message for signs the user should not
// be reminded today.
func DeriveReminderSkip(msg *model.IncomingMessage) model.ReminderSkip {
	text := strings.ToLower(msg.Subject + "\n" + msg.Body)

	leaveTerms := []string{
		"day off", "vacation", "annual leave", "sick leave",
		"on leave", "out of office", "ooo",
	}
	for _, term := range leaveTerms {
		if strings.Contains(text, term) {
			return model.ReminderSkip{
				SkipMorning: true,
				SkipEvening: true,
				Reason:      fmt.Sprintf("message mentions %q", term),
			}
		}
	}

	var skip model.ReminderSkip
	if strings.Contains(text, "skip morning") || strings.Contains(text, "no morning reminder") {
		skip.SkipMorning = true
		skip.Reason = "morning skip requested"
	}
	if strings.Contains(text, "skip evening") || strings.Contains(text, "no evening reminder") {
		skip.SkipEvening = true
		if skip.Reason != "" {
			skip.Reason = "morning and evening skip requested"
		} else {
			skip.Reason = "evening skip requested"
		}
	}
	return skip
}
