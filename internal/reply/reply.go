// Package reply closes the loop on completed executions: it composes an
// outcome reply, threads it back to the original sender, and marks the
// triggering message closed.
package reply

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/ledger"
	"github.com/zulandar/switchboard/internal/mailbox"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/spawner"
	"gorm.io/gorm"
)

const (
	// maxRetries is the max number of redelivery attempts for a reply.
	maxRetries = 3
	// baseBackoff is the initial backoff duration between attempts.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff between attempts.
	maxBackoff = 30 * time.Second
)

// Finalizer delivers outcome replies and closes triggering messages.
type Finalizer struct {
	db          *gorm.DB
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// Opts holds parameters for creating a Finalizer.
type Opts struct {
	DB *gorm.DB
	// For testing: shrink the retry schedule.
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// New creates a Finalizer.
func New(opts Opts) (*Finalizer, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("reply: db is required")
	}
	f := &Finalizer{
		db:          opts.DB,
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
	if opts.MaxRetries > 0 {
		f.maxRetries = opts.MaxRetries
	}
	if opts.BaseBackoff > 0 {
		f.baseBackoff = opts.BaseBackoff
	}
	if opts.MaxBackoff > 0 {
		f.maxBackoff = opts.MaxBackoff
	}
	return f, nil
}

// Compose builds the reply subject and body for a completed execution.
func Compose(original *models.Message, res spawner.Result) (string, string) {
	subject := original.Subject
	if !strings.HasPrefix(subject, "Re: ") {
		subject = "Re: " + subject
	}

	var b strings.Builder
	switch res.Status {
	case models.ExecSucceeded:
		fmt.Fprintf(&b, "Handled automatically (execution %s).\n", res.ExecutionID)
		if out := strings.TrimSpace(res.Output); out != "" {
			fmt.Fprintf(&b, "\n%s\n", out)
		}
	case models.ExecTimedOut:
		fmt.Fprintf(&b, "Automated handling did not finish in time (execution %s): %s.\n", res.ExecutionID, res.Detail)
		b.WriteString("The message may need manual attention.\n")
	default:
		fmt.Fprintf(&b, "Automated handling failed (execution %s): %s.\n", res.ExecutionID, res.Detail)
		b.WriteString("The message may need manual attention.\n")
	}
	fmt.Fprintf(&b, "\nDuration: %s", res.EndedAt.Sub(res.StartedAt).Round(time.Second))
	return subject, b.String()
}

// Finalize replies to the original sender and closes the triggering message.
// Delivery is retried with exponential backoff; if every attempt fails the
// failure is recorded as a critical audit event and the message is left
// opened so an operator can spot it.
func (f *Finalizer) Finalize(ctx context.Context, res spawner.Result) error {
	original, err := mailbox.Get(f.db, res.MessageID)
	if err != nil {
		return fmt.Errorf("reply: load original message: %w", err)
	}

	subject, body := Compose(original, res)
	threadID := original.ThreadID
	if threadID == nil {
		threadID = &original.ID
	}

	replyMsg, err := f.deliverWithRetry(ctx, res.AgentID, original.FromAgent, subject, body, threadID)
	if err != nil {
		ledger.RecordCritical(f.db, res.AgentID, res.MessageID, res.ExecutionID,
			truncate(fmt.Sprintf("reply delivery exhausted retries: %v", err), 256))
		return fmt.Errorf("reply: deliver: %w", err)
	}

	if err := f.db.Model(&models.ExecutionRecord{}).
		Where("id = ?", res.ExecutionID).
		Update("reply_message_id", replyMsg.ID).Error; err != nil {
		return fmt.Errorf("reply: link reply message: %w", err)
	}

	if err := mailbox.Close(f.db, original.ID); err != nil {
		return fmt.Errorf("reply: close original message: %w", err)
	}
	return nil
}

// deliverWithRetry attempts delivery up to maxRetries+1 times with
// exponential backoff between attempts.
func (f *Finalizer) deliverWithRetry(ctx context.Context, from, to, subject, body string, threadID *uint) (*models.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		msg, err := mailbox.Deliver(f.db, from, to, subject, body, mailbox.DeliverOpts{ThreadID: threadID})
		if err == nil {
			return msg, nil
		}
		lastErr = err

		if attempt == f.maxRetries {
			break
		}
		wait := time.Duration(math.Pow(2, float64(attempt))) * f.baseBackoff
		if wait > f.maxBackoff {
			wait = f.maxBackoff
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
