// Package watcher polls agent mailboxes for unhandled inbound messages and
// surfaces them as dispatch candidates.
package watcher

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/switchboard/internal/mailbox"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 60 * time.Second

// Candidate is an unhandled message surfaced for a dispatch decision.
type Candidate struct {
	AgentID    string
	Message    models.Message
	DetectedAt time.Time
}

// Watcher scans the mailboxes of registered agents on a fixed interval and
// emits candidates in per-agent arrival order. Messages stay candidates
// until something moves them out of the new state, so a deferred message
// resurfaces on the next cycle.
type Watcher struct {
	db           *gorm.DB
	agents       []string
	pollInterval time.Duration
}

// Opts holds parameters for creating a Watcher.
type Opts struct {
	DB           *gorm.DB
	Agents       []string      // registered agent IDs to scan
	PollInterval time.Duration // defaults to DefaultPollInterval
}

// New creates a Watcher.
func New(opts Opts) (*Watcher, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("watcher: db is required")
	}
	if len(opts.Agents) == 0 {
		return nil, fmt.Errorf("watcher: at least one agent is required")
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Watcher{
		db:           opts.DB,
		agents:       opts.Agents,
		pollInterval: poll,
	}, nil
}

// Poll runs one scan cycle across all registered agents. An unreadable
// mailbox is logged and skipped; one broken agent never blocks the rest.
func (w *Watcher) Poll(ctx context.Context) []Candidate {
	var candidates []Candidate
	now := time.Now()
	for _, agentID := range w.agents {
		select {
		case <-ctx.Done():
			return candidates
		default:
		}
		unseen, err := mailbox.Unseen(w.db, agentID)
		if err != nil {
			log.Printf("watcher: scan mailbox for %s: %v", agentID, err)
			continue
		}
		for _, msg := range unseen {
			candidates = append(candidates, Candidate{
				AgentID:    agentID,
				Message:    msg,
				DetectedAt: now,
			})
		}
	}
	return candidates
}

// Run starts the watcher loop. It polls on the configured interval and sends
// candidates to the returned channel. The first scan fires immediately. The
// channel is closed when the context is cancelled.
func (w *Watcher) Run(ctx context.Context) <-chan Candidate {
	ch := make(chan Candidate, 64)
	go func() {
		defer close(ch)

		emit := func(candidates []Candidate) {
			for _, c := range candidates {
				select {
				case ch <- c:
				case <-ctx.Done():
					return
				}
			}
		}

		emit(w.Poll(ctx))

		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emit(w.Poll(ctx))
			}
		}
	}()
	return ch
}
