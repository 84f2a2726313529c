package dispatch

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/dedup"
	"github.com/zulandar/switchboard/internal/ledger"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/notify"
	"github.com/zulandar/switchboard/internal/reply"
	"github.com/zulandar/switchboard/internal/safety"
	"github.com/zulandar/switchboard/internal/spawner"
	"github.com/zulandar/switchboard/internal/watcher"
	"gorm.io/gorm"
)

// Runaway detection: this many accepts for one agent inside the window trips
// a critical ledger entry and a notifier alert.
const (
	runawayWindow    = 10 * time.Minute
	runawayThreshold = 5
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Daemon is the long-running dispatch loop: poll mailboxes, decide, spawn,
// and finalize completed executions.
type Daemon struct {
	db       *gorm.DB
	cfg      *config.Config
	engine   *Engine
	spawner  *spawner.Spawner
	watcher  *watcher.Watcher
	final    *reply.Finalizer
	notifier notify.Notifier
	out      io.Writer

	warned map[string]time.Time // agentID -> last runaway warning
}

// DaemonOpts holds parameters for creating a Daemon.
type DaemonOpts struct {
	DB       *gorm.DB
	Config   *config.Config
	Safety   safety.Controller
	Notifier notify.Notifier
	Runner   spawner.Runner // defaults to the configured worker subprocess
	Out      io.Writer
}

// NewDaemon creates a Daemon and wires its components.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("dispatch: db is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("dispatch: config is required")
	}
	if opts.Safety == nil {
		return nil, fmt.Errorf("dispatch: safety controller is required")
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Discard{}
	}

	runner := opts.Runner
	if runner == nil {
		runner = &spawner.ProcessRunner{
			Command: opts.Config.Worker.Command,
			Args:    opts.Config.Worker.Args,
			DB:      opts.DB,
		}
	}
	sp, err := spawner.New(opts.DB, runner, opts.Config.Worker.MaxConcurrent)
	if err != nil {
		return nil, err
	}

	agents := make([]string, 0, len(opts.Config.Agents))
	for _, a := range opts.Config.Agents {
		agents = append(agents, a.ID)
	}
	w, err := watcher.New(watcher.Opts{
		DB:           opts.DB,
		Agents:       agents,
		PollInterval: time.Duration(opts.Config.Watcher.PollIntervalSec) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	engine, err := NewEngine(EngineOpts{
		DB:       opts.DB,
		Safety:   opts.Safety,
		DedupTTL: time.Duration(opts.Config.Dedup.TTLSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	final, err := reply.New(reply.Opts{DB: opts.DB})
	if err != nil {
		return nil, err
	}

	return &Daemon{
		db:       opts.DB,
		cfg:      opts.Config,
		engine:   engine,
		spawner:  sp,
		watcher:  w,
		final:    final,
		notifier: notifier,
		out:      out,
		warned:   make(map[string]time.Time),
	}, nil
}

// Run executes the daemon loop until the context is cancelled. Completed
// executions are finalized concurrently with polling; retention sweeps fire
// on the configured cron schedule.
func (d *Daemon) Run(ctx context.Context) error {
	poll := time.Duration(d.cfg.Watcher.PollIntervalSec) * time.Second
	fmt.Fprintf(d.out, "Switchboard daemon starting (poll every %s, %d agents)...\n", poll, len(d.cfg.Agents))

	retention := d.startRetention(ctx)
	defer retention.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Switchboard daemon stopped.\n")
			return nil
		case res := <-d.spawner.Results():
			d.finalize(ctx, res)
			continue
		default:
		}

		d.cycle(ctx)

		// Between cycles, keep draining completions so replies go out
		// promptly instead of waiting for the next poll tick.
		deadline := time.NewTimer(poll)
	drain:
		for {
			select {
			case <-ctx.Done():
				deadline.Stop()
				fmt.Fprintf(d.out, "Switchboard daemon stopped.\n")
				return nil
			case res := <-d.spawner.Results():
				d.finalize(ctx, res)
			case <-deadline.C:
				break drain
			}
		}
	}
}

// cycle runs one dispatch pass: scan every registered mailbox and apply the
// decision checks, accepting at most one message per agent (oldest first).
func (d *Daemon) cycle(ctx context.Context) {
	candidates := d.watcher.Poll(ctx)
	accepted := make(map[string]bool)

	for _, c := range candidates {
		if ctx.Err() != nil {
			return
		}
		if accepted[c.AgentID] {
			continue
		}

		execID, dec, err := d.dispatch(ctx, c)
		if err != nil {
			log.Printf("dispatch: %s message %d: %v", c.AgentID, c.Message.ID, err)
			continue
		}
		if dec.Surface {
			d.surface(ctx, c.Message)
		}
		if dec.Verdict == VerdictAccept {
			accepted[c.AgentID] = true
			fmt.Fprintf(d.out, "Dispatched %s for %s (message %d)\n", execID, c.AgentID, c.Message.ID)
			d.checkRunaway(ctx, c.AgentID)
		}
	}
}

func (d *Daemon) dispatch(ctx context.Context, c watcher.Candidate) (string, Decision, error) {
	workspace := ""
	if a := d.cfg.Agent(c.AgentID); a != nil {
		workspace = a.Workspace
	}
	return d.engine.Dispatch(ctx, d.spawner, workspace, c.Message, false)
}

// Force dispatches one message immediately, bypassing cooldown and dedup.
// The kill switch still applies.
func (d *Daemon) Force(ctx context.Context, msg models.Message) (string, Decision, error) {
	workspace := ""
	if a := d.cfg.Agent(msg.ToAgent); a != nil {
		workspace = a.Workspace
	}
	return d.engine.Dispatch(ctx, d.spawner, workspace, msg, true)
}

// ForceSync force-dispatches one message and blocks until its worker
// finishes and the reply goes out. Used by the one-shot force path when no
// daemon loop is consuming completions.
func (d *Daemon) ForceSync(ctx context.Context, msg models.Message) (spawner.Result, Decision, error) {
	_, dec, err := d.Force(ctx, msg)
	if err != nil || dec.Verdict != VerdictAccept {
		return spawner.Result{}, dec, err
	}
	select {
	case <-ctx.Done():
		return spawner.Result{}, dec, ctx.Err()
	case res := <-d.spawner.Results():
		d.finalize(ctx, res)
		return res, dec, nil
	}
}

// finalize records the outcome and runs the reply/close protocol for one
// completed execution.
func (d *Daemon) finalize(ctx context.Context, res spawner.Result) {
	if err := ledger.RecordOutcome(d.db, res.AgentID, res.MessageID, res.ExecutionID, res.Status, res.Detail); err != nil {
		log.Printf("dispatch: record outcome %s: %v", res.ExecutionID, err)
	}
	fmt.Fprintf(d.out, "Execution %s for %s finished: %s\n", res.ExecutionID, res.AgentID, res.Status)

	if err := d.final.Finalize(ctx, res); err != nil {
		log.Printf("dispatch: finalize %s: %v", res.ExecutionID, err)
		d.notifier.Notify(ctx, notify.Notification{
			AgentID:   res.AgentID,
			MessageID: res.MessageID,
			Subject:   "reply delivery failed",
			Body:      fmt.Sprintf("execution %s finished %s but its reply could not be delivered", res.ExecutionID, res.Status),
			Priority:  "urgent",
		})
	}
}

// surface notifies a human about a notify-mode message.
func (d *Daemon) surface(ctx context.Context, msg models.Message) {
	d.notifier.Notify(ctx, notify.Notification{
		AgentID:   msg.ToAgent,
		MessageID: msg.ID,
		FromAgent: msg.FromAgent,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Priority:  msg.Priority,
	})
}

// checkRunaway warns once per window when an agent's accept rate trips the
// runaway threshold.
func (d *Daemon) checkRunaway(ctx context.Context, agentID string) {
	tripped, count, err := ledger.DetectRunaway(d.db, agentID, runawayWindow, runawayThreshold)
	if err != nil {
		log.Printf("dispatch: runaway check for %s: %v", agentID, err)
		return
	}
	if !tripped {
		return
	}
	if last, ok := d.warned[agentID]; ok && time.Since(last) < runawayWindow {
		return
	}
	d.warned[agentID] = time.Now()

	reason := fmt.Sprintf("runaway loop suspected: %d accepts in %s", count, runawayWindow)
	if err := ledger.RecordCritical(d.db, agentID, 0, "", reason); err != nil {
		log.Printf("dispatch: record runaway for %s: %v", agentID, err)
	}
	d.notifier.Notify(ctx, notify.Notification{
		AgentID:  agentID,
		Subject:  "runaway loop suspected",
		Body:     reason,
		Priority: "urgent",
	})
}

// startRetention schedules the retention sweep on the configured cron
// expression. An invalid expression disables the sweep.
func (d *Daemon) startRetention(ctx context.Context) *time.Timer {
	expr := d.cfg.Retention.Schedule
	next := nextCronDuration(expr)
	if next <= 0 {
		log.Printf("dispatch: retention sweep disabled (schedule %q)", expr)
		return time.NewTimer(0)
	}
	timer := time.NewTimer(next)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				d.sweep()
				timer.Reset(nextCronDuration(expr))
			}
		}
	}()
	return timer
}

// sweep prunes expired dedup entries and aged ledger/worker-log rows.
func (d *Daemon) sweep() {
	if n, err := dedup.PruneExpired(d.db); err != nil {
		log.Printf("dispatch: prune dedup: %v", err)
	} else if n > 0 {
		fmt.Fprintf(d.out, "Retention sweep: %d expired dedup entries removed\n", n)
	}

	ledgerCutoff := time.Now().AddDate(0, 0, -d.cfg.Retention.LedgerDays)
	if n, err := ledger.Prune(d.db, ledgerCutoff); err != nil {
		log.Printf("dispatch: prune ledger: %v", err)
	} else if n > 0 {
		fmt.Fprintf(d.out, "Retention sweep: %d ledger entries removed\n", n)
	}

	logCutoff := time.Now().AddDate(0, 0, -d.cfg.Retention.WorkerLogDays)
	if err := d.db.Where("created_at < ?", logCutoff).Delete(&models.WorkerLog{}).Error; err != nil {
		log.Printf("dispatch: prune worker logs: %v", err)
	}
}

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}
