// Package security verifies privileged-command senders against durable
// directory identity. Nothing carried inside a mail message — headers
// included — is ever trusted for authorization.
package security

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/xbghc/email-assistant/internal/directory"
)

// DefaultViolationThreshold is how many unauthorized privileged
// attempts from one address trigger the deactivation signal.
const DefaultViolationThreshold = 3

// Gate answers authorization questions for privileged commands and
// tracks repeated unauthorized attempts per sender address.
type Gate struct {
	dir       directory.Directory
	threshold int
	logger    *slog.Logger

	mu         sync.Mutex
	violations map[string]int
}

// NewGate creates a gate over the given directory. threshold <= 0
// selects the default.
func NewGate(dir directory.Directory, threshold int, logger *slog.Logger) *Gate {
	if threshold <= 0 {
		threshold = DefaultViolationThreshold
	}
	return &Gate{
		dir:        dir,
		threshold:  threshold,
		logger:     logger,
		violations: make(map[string]int),
	}
}

// IsAuthorizedAdmin resolves fromAddress through the directory and
// checks the stored role. A forged From header cannot pass: the
// decision rests entirely on the directory record.
func (g *Gate) IsAuthorizedAdmin(ctx context.Context, fromAddress string) bool {
	user, err := g.dir.GetByEmail(ctx, strings.TrimSpace(fromAddress))
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			g.logger.Error("authorization lookup failed",
				"address", fromAddress, "error", err)
		}
		return false
	}
	return user.IsAdmin()
}

// RecordUnauthorizedAccess counts one failed privileged attempt from
// address and reports whether the caller should deactivate that user's
// directory record.
func (g *Gate) RecordUnauthorizedAccess(address, subject string) bool {
	g.mu.Lock()
	g.violations[address]++
	count := g.violations[address]
	g.mu.Unlock()

	g.logger.Warn("unauthorized privileged command",
		"address", address, "subject", subject, "attempts", count)

	return count >= g.threshold
}

// ResetViolations clears the counter for address, typically after an
// administrator re-enables the account.
func (g *Gate) ResetViolations(address string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.violations, address)
}
