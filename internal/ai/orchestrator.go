package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xbghc/email-assistant/internal/model"
)

// ActionDispatcher exposes the registered actions to the orchestrator
// without tying it to any one registry implementation.
type ActionDispatcher interface {
	// Declarations lists every registered action in provider-neutral
	// form.
	Declarations() []ActionDecl

	// Dispatch executes one requested action on behalf of userID.
	Dispatch(ctx context.Context, call ActionCall, userID string) model.ActionResult
}

// Orchestrator combines a provider, an action dispatcher, and the
// scheduler into a single answer-or-act call.
type Orchestrator struct {
	provider Provider
	actions  ActionDispatcher
	sched    *Scheduler
	logger   *slog.Logger
}

// NewOrchestrator wires the orchestrator from its collaborators.
func NewOrchestrator(
	provider Provider,
	actions ActionDispatcher,
	sched *Scheduler,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		provider: provider,
		actions:  actions,
		sched:    sched,
		logger:   logger,
	}
}

// Answer asks the provider for a reply, offering the full registered
// action set. Requested actions are dispatched sequentially and their
// result messages become the reply. If the action-augmented call fails
// for any reason, Answer degrades to a plain generation with the same
// prompts instead of surfacing an error to the end user.
func (o *Orchestrator) Answer(
	ctx context.Context,
	system, prompt string,
	opts GenerateOptions,
	userID string,
) (string, error) {
	decls := o.actions.Declarations()

	reply, err := Run(ctx, o.sched, ClassGenerateWithActions,
		func(ctx context.Context) (*Reply, error) {
			return o.provider.GenerateWithActions(ctx, system, prompt, opts, decls)
		})
	if err != nil {
		o.logger.Warn("action-augmented generation failed, falling back to plain",
			"provider", o.provider.Name(), "error", err)
		return o.plainAnswer(ctx, system, prompt, opts)
	}

	if len(reply.ActionCalls) > 0 {
		var messages []string
		for _, call := range reply.ActionCalls {
			result := o.actions.Dispatch(ctx, call, userID)
			if !result.Success {
				o.logger.Warn("action dispatch failed",
					"action", call.Name, "message", result.Message)
			}
			if result.Message != "" {
				messages = append(messages, result.Message)
			}
		}
		if len(messages) > 0 {
			return strings.Join(messages, "\n"), nil
		}
	}

	if reply.Text != "" {
		return reply.Text, nil
	}

	// The model returned neither text nor actions; fall back rather
	// than handing the user an empty reply.
	return o.plainAnswer(ctx, system, prompt, opts)
}

// plainAnswer is the degraded path: one plain generation, no actions.
func (o *Orchestrator) plainAnswer(
	ctx context.Context,
	system, prompt string,
	opts GenerateOptions,
) (string, error) {
	text, err := Run(ctx, o.sched, ClassGenerate,
		func(ctx context.Context) (string, error) {
			return o.provider.Generate(ctx, system, prompt, opts)
		})
	if err != nil {
		return "", fmt.Errorf("generating reply: %w", err)
	}
	return text, nil
}
