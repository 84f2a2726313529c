// Package dispatch decides whether an unhandled message triggers an
// automated worker, and runs the daemon loop that ties the watcher, the
// spawner, and the reply protocol together.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/switchboard/internal/dedup"
	"github.com/zulandar/switchboard/internal/ledger"
	"github.com/zulandar/switchboard/internal/mailbox"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/policy"
	"github.com/zulandar/switchboard/internal/ratelimit"
	"github.com/zulandar/switchboard/internal/safety"
	"github.com/zulandar/switchboard/internal/spawner"
	"gorm.io/gorm"
)

// Decision verdicts.
const (
	VerdictAccept = "accept"
	VerdictReject = "reject"
	VerdictDefer  = "defer"
)

// Decision is the outcome of the ordered dispatch checks for one message.
type Decision struct {
	Verdict string
	Reason  string

	// MarkOpened moves the message out of the new state so automation will
	// not consider it again. Kill-switch, rate-limit, and busy outcomes
	// leave it new for the next cycle instead.
	MarkOpened bool

	// Surface asks the daemon to notify a human (notify mode).
	Surface bool
}

// Engine applies the dispatch checks in their fixed order: kill switch,
// policy, rate limiter, dedup.
type Engine struct {
	db       *gorm.DB
	safety   safety.Controller
	limiter  *ratelimit.Limiter
	dedupTTL time.Duration
}

// EngineOpts holds parameters for creating an Engine.
type EngineOpts struct {
	DB       *gorm.DB
	Safety   safety.Controller
	Limiter  *ratelimit.Limiter
	DedupTTL time.Duration
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("dispatch: db is required")
	}
	if opts.Safety == nil {
		return nil, fmt.Errorf("dispatch: safety controller is required")
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLimiter()
	}
	ttl := opts.DedupTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Engine{
		db:       opts.DB,
		safety:   opts.Safety,
		limiter:  limiter,
		dedupTTL: ttl,
	}, nil
}

// Decide runs the ordered checks for one message. force bypasses the
// cooldown/window and dedup checks but never the kill switch.
func (e *Engine) Decide(msg models.Message, force bool) (Decision, *models.AutomationPolicy) {
	if e.safety.Engaged() {
		return Decision{Verdict: VerdictReject, Reason: "kill switch engaged"}, nil
	}

	pol, err := policy.Get(e.db, msg.ToAgent)
	if err != nil {
		return Decision{Verdict: VerdictReject, Reason: fmt.Sprintf("no automation policy: %v", err), MarkOpened: true}, nil
	}
	if !pol.Enabled {
		return Decision{Verdict: VerdictReject, Reason: "automation disabled", MarkOpened: true}, pol
	}
	if pol.Muted {
		return Decision{Verdict: VerdictReject, Reason: "agent muted", MarkOpened: true}, pol
	}
	switch pol.Mode {
	case models.ModeManual:
		return Decision{Verdict: VerdictReject, Reason: "manual mode", MarkOpened: true}, pol
	case models.ModeNotify:
		return Decision{Verdict: VerdictDefer, Reason: "notify mode: surfaced to human", MarkOpened: true, Surface: true}, pol
	case models.ModeAuto:
	default:
		return Decision{Verdict: VerdictReject, Reason: fmt.Sprintf("unknown mode %q", pol.Mode), MarkOpened: true}, pol
	}

	if !force {
		limits := ratelimit.Limits{
			MaxPerWindow: pol.MaxPerWindow,
			Window:       time.Duration(pol.WindowSeconds) * time.Second,
			Cooldown:     time.Duration(pol.CooldownSeconds) * time.Second,
		}
		if ok, reason := e.limiter.Allow(msg.ToAgent, limits); !ok {
			return Decision{Verdict: VerdictDefer, Reason: reason}, pol
		}

		fp := dedup.Fingerprint(msg.FromAgent, msg.Subject, msg.Body)
		live, err := dedup.IsLive(e.db, fp)
		if err != nil {
			return Decision{Verdict: VerdictDefer, Reason: fmt.Sprintf("dedup check failed: %v", err)}, pol
		}
		if live {
			return Decision{Verdict: VerdictReject, Reason: "duplicate of a recent trigger", MarkOpened: true}, pol
		}
	}

	return Decision{Verdict: VerdictAccept, Reason: "all checks passed"}, pol
}

// Dispatch decides, records the decision, applies the message status effect,
// and on accept launches the worker. It returns the execution ID for
// accepted dispatches.
func (e *Engine) Dispatch(ctx context.Context, sp *spawner.Spawner, workspace string, msg models.Message, force bool) (string, Decision, error) {
	dec, pol := e.Decide(msg, force)

	if dec.Verdict == VerdictAccept {
		execID, err := e.launch(ctx, sp, workspace, msg, pol, force)
		if err != nil {
			switch {
			case errors.Is(err, spawner.ErrAgentBusy):
				dec = Decision{Verdict: VerdictDefer, Reason: "agent has an execution in flight"}
			case errors.Is(err, spawner.ErrAtCapacity):
				dec = Decision{Verdict: VerdictDefer, Reason: "global concurrency ceiling reached"}
			case errors.Is(err, dedup.ErrDuplicate):
				dec = Decision{Verdict: VerdictReject, Reason: "duplicate of a recent trigger", MarkOpened: true}
			default:
				return "", dec, fmt.Errorf("dispatch: launch for %s: %w", msg.ToAgent, err)
			}
		} else {
			dec.Reason = fmt.Sprintf("dispatched as %s", execID)
			if err := e.record(msg, dec); err != nil {
				return execID, dec, err
			}
			return execID, dec, nil
		}
	}

	if err := e.record(msg, dec); err != nil {
		return "", dec, err
	}
	return "", dec, nil
}

// launch registers the dedup fingerprint, opens the message, launches the
// worker, and records the accepted trigger in the rate window.
func (e *Engine) launch(ctx context.Context, sp *spawner.Spawner, workspace string, msg models.Message, pol *models.AutomationPolicy, force bool) (string, error) {
	if sp.Busy(msg.ToAgent) {
		return "", spawner.ErrAgentBusy
	}
	if sp.AtCapacity() {
		return "", spawner.ErrAtCapacity
	}

	fp := dedup.Fingerprint(msg.FromAgent, msg.Subject, msg.Body)
	if !force {
		if _, err := dedup.Register(e.db, fp, msg.ToAgent, msg.ID, e.dedupTTL); err != nil {
			return "", err
		}
	}

	if err := mailbox.Open(e.db, msg.ID); err != nil {
		return "", fmt.Errorf("open message: %w", err)
	}

	execID, err := sp.Spawn(ctx, spawner.Request{
		AgentID:     msg.ToAgent,
		MessageID:   msg.ID,
		Workspace:   workspace,
		Instruction: instruction(msg),
		Timeout:     time.Duration(pol.TimeoutSeconds) * time.Second,
		Snapshot:    pol.Snapshot(),
	})
	if err != nil {
		// Unwind the claim so the next cycle can retry: a failed launch must
		// not leave a live fingerprint or an opened message behind.
		if !force {
			if rerr := dedup.Release(e.db, fp); rerr != nil {
				log.Printf("dispatch: release fingerprint for message %d: %v", msg.ID, rerr)
			}
		}
		if rerr := mailbox.Requeue(e.db, msg.ID); rerr != nil {
			log.Printf("dispatch: requeue message %d: %v", msg.ID, rerr)
		}
		return "", err
	}

	if !force {
		if err := dedup.LinkExecution(e.db, fp, execID); err != nil {
			return execID, err
		}
	}
	limits := ratelimit.Limits{
		MaxPerWindow: pol.MaxPerWindow,
		Window:       time.Duration(pol.WindowSeconds) * time.Second,
		Cooldown:     time.Duration(pol.CooldownSeconds) * time.Second,
	}
	e.limiter.Record(msg.ToAgent, limits)
	return execID, nil
}

// record appends the decision to the ledger and applies the message status
// effect.
func (e *Engine) record(msg models.Message, dec Decision) error {
	if err := ledger.RecordDecision(e.db, msg.ToAgent, msg.ID, dec.Verdict, dec.Reason); err != nil {
		return err
	}
	if dec.MarkOpened && msg.Status == models.MessageNew {
		if err := mailbox.Open(e.db, msg.ID); err != nil {
			return fmt.Errorf("dispatch: surface message %d: %w", msg.ID, err)
		}
	}
	return nil
}

// instruction builds the worker prompt for one message.
func instruction(msg models.Message) string {
	return fmt.Sprintf("Handle inbound message %d from %s.\nSubject: %s\n\n%s",
		msg.ID, msg.FromAgent, msg.Subject, msg.Body)
}
