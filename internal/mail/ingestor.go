// Package mail owns the mailbox connection: polling for unread
// messages, parsing and classifying them, deduplication, and outbound
// reply submission.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/xbghc/email-assistant/internal/directory"
	"github.com/xbghc/email-assistant/internal/model"
)

// dedupCapacity bounds the window of remembered message ids.
const dedupCapacity = 10000

// HandleFunc processes one classified message. Errors are the
// handler's own concern; the ingestor never stops polling because a
// message failed.
type HandleFunc func(ctx context.Context, msg *model.IncomingMessage)

// Ingestor polls the shared mailbox, classifies unread messages, and
// hands them to the pipeline. It exclusively owns the IMAP connection
// and the dedup window.
type Ingestor struct {
	cfg        model.MailboxConfig
	password   string
	ownAddress string
	dir        directory.Directory
	handle     HandleFunc
	logger     *slog.Logger

	client       *imapclient.Client
	dedup        *DedupWindow
	disconnected bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewIngestor creates an ingestor for the configured mailbox.
// ownAddress is the assistant account's address; mail from it is
// dropped silently to prevent reply loops.
func NewIngestor(
	cfg model.MailboxConfig,
	password, ownAddress string,
	dir directory.Directory,
	handle HandleFunc,
	logger *slog.Logger,
) *Ingestor {
	return &Ingestor{
		cfg:        cfg,
		password:   password,
		ownAddress: strings.ToLower(strings.TrimSpace(ownAddress)),
		dir:        dir,
		handle:     handle,
		logger:     logger,
		dedup:      NewDedupWindow(dedupCapacity),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start opens the mailbox connection and begins periodic polling.
func (in *Ingestor) Start(ctx context.Context) error {
	if err := in.connect(); err != nil {
		return fmt.Errorf("opening mailbox connection: %w", err)
	}

	go in.run(ctx)
	return nil
}

// Stop ends polling and closes the connection.
func (in *Ingestor) Stop() {
	close(in.stopCh)
	<-in.doneCh
}

// connect dials and authenticates, then selects INBOX.
func (in *Ingestor) connect() error {
	addr := in.cfg.Host + ":" + in.cfg.Port

	var client *imapclient.Client
	var err error
	if in.cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(in.cfg.Username, in.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return fmt.Errorf("authenticating %s: %w", in.cfg.Username, err)
	}

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return fmt.Errorf("selecting INBOX: %w", err)
	}

	in.client = client
	in.disconnected = false
	in.logger.Info("mailbox connected", "addr", addr, "user", in.cfg.Username)
	return nil
}

// run is the polling loop. Connection errors suspend polling until a
// reconnect succeeds; they never crash the process.
func (in *Ingestor) run(ctx context.Context) {
	defer close(in.doneCh)

	interval := time.Duration(in.cfg.PollIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-in.stopCh:
			in.closeConnection()
			return
		case <-ctx.Done():
			in.closeConnection()
			return
		case <-ticker.C:
			if in.disconnected {
				if err := in.reconnect(ctx); err != nil {
					in.logger.Warn("reconnect failed, polling suspended", "error", err)
					continue
				}
			}
			if err := in.poll(ctx); err != nil {
				in.logger.Error("poll failed", "error", err)
				in.disconnected = true
				in.closeConnection()
			}
		}
	}
}

func (in *Ingestor) closeConnection() {
	if in.client != nil {
		_ = in.client.Logout().Wait()
		in.client = nil
	}
}

// reconnect retries the connection with exponential backoff, bounded
// so the next poll tick can try again rather than blocking forever.
func (in *Ingestor) reconnect(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.MaxElapsedTime = 2 * time.Minute

	return backoff.Retry(func() error {
		select {
		case <-in.stopCh:
			return backoff.Permanent(errors.New("ingestor stopped"))
		default:
		}
		return in.connect()
	}, backoff.WithContext(policy, ctx))
}

// poll searches for unread messages within the trailing window,
// parses and classifies them, and dispatches each at most once.
func (in *Ingestor) poll(ctx context.Context) error {
	window := time.Duration(in.cfg.SearchWindowHrs) * time.Hour
	criteria := &imap.SearchCriteria{
		Since:   time.Now().Add(-window),
		NotFlag: []imap.Flag{imap.FlagSeen},
	}

	searchData, err := in.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return fmt.Errorf("searching unseen messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil
	}

	section := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}

	fetchCmd := in.client.Fetch(imap.UIDSetNum(uids...), fetchOpts)

	// Collect everything before processing: message handling may call
	// the provider and must not hold up the fetch stream.
	var buffers []*imapclient.FetchMessageBuffer
	for {
		msgData := fetchCmd.Next()
		if msgData == nil {
			break
		}
		buf, err := msgData.Collect()
		if err != nil {
			in.logger.Warn("collecting fetched message failed", "error", err)
			continue
		}
		buffers = append(buffers, buf)
	}
	if err := fetchCmd.Close(); err != nil {
		return fmt.Errorf("fetching messages: %w", err)
	}

	for _, buf := range buffers {
		in.processFetched(ctx, buf, section)
	}
	return nil
}

// processFetched handles one fetched message end to end. Parse errors
// skip that message only.
func (in *Ingestor) processFetched(
	ctx context.Context,
	buf *imapclient.FetchMessageBuffer,
	section *imap.FetchItemBodySection,
) {
	msg, err := parseFetched(buf, section)
	if err != nil {
		if msg == nil {
			in.logger.Warn("skipping unparseable message", "error", err)
			return
		}
		// Body parse failures still leave usable headers.
		in.logger.Warn("message body unparseable, continuing with headers",
			"messageId", msg.MessageID, "error", err)
	}

	if !in.dispatch(ctx, msg) {
		return
	}

	if err := in.markSeen(buf.UID); err != nil {
		// Non-fatal: dedup covers redelivery of an unmarked message.
		in.logger.Warn("marking message seen failed",
			"messageId", msg.MessageID, "error", err)
	}
}

// dispatch routes one parsed message through loop prevention, dedup,
// and classification into the pipeline handler. It reports whether the
// message was handed on.
func (in *Ingestor) dispatch(ctx context.Context, msg *model.IncomingMessage) bool {
	// Loop prevention: never react to our own mail.
	if msg.From == in.ownAddress {
		return false
	}

	if in.dedup.Seen(msg.MessageID) {
		return false
	}
	// Recorded before handling so a crash mid-handling cannot cause a
	// duplicate reply on redelivery.
	in.dedup.Add(msg.MessageID)

	in.classify(ctx, msg)

	in.handle(ctx, msg)
	return true
}

// classify resolves the sender against the directory and assigns the
// intent. Any command-prefixed subject from a directory user is routed
// as admin_command; whether the sender may actually run it is the
// security gate's decision, so a non-admin attempt gets warned and
// counted instead of being answered. Everything else is general, with
// finer categorization delegated to the AI layer.
func (in *Ingestor) classify(ctx context.Context, msg *model.IncomingMessage) {
	user, err := in.dir.GetByEmail(ctx, msg.From)
	if err != nil && !errors.Is(err, directory.ErrNotFound) {
		in.logger.Error("directory lookup failed", "from", msg.From, "error", err)
	}
	if user != nil {
		msg.UserID = user.ID
	}

	if user != nil && strings.HasPrefix(strings.TrimSpace(msg.Subject), "/") {
		msg.Intent = model.IntentAdminCommand
		return
	}
	msg.Intent = model.IntentGeneral
}

// markSeen flags the source message as read.
func (in *Ingestor) markSeen(uid imap.UID) error {
	cmd := in.client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	return cmd.Close()
}
