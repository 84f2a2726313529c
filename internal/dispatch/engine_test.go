package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/dedup"
	"github.com/zulandar/switchboard/internal/mailbox"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/safety"
	"github.com/zulandar/switchboard/internal/spawner"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	err = db.AutoMigrate(
		&models.Message{},
		&models.AutomationPolicy{},
		&models.ExecutionRecord{},
		&models.WorkerLog{},
		&models.LedgerEntry{},
		&models.DedupEntry{},
	)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func seedPolicy(t *testing.T, db *gorm.DB, agentID, mode string, mutate func(*models.AutomationPolicy)) {
	t.Helper()
	pol := models.AutomationPolicy{
		AgentID:         agentID,
		Workspace:       "/tmp/" + agentID,
		Enabled:         true,
		Mode:            mode,
		CooldownSeconds: 0,
		MaxPerWindow:    10,
		WindowSeconds:   3600,
		TimeoutSeconds:  60,
		MaxRetries:      3,
	}
	if mutate != nil {
		mutate(&pol)
	}
	if err := db.Create(&pol).Error; err != nil {
		t.Fatalf("seed policy: %v", err)
	}
}

func deliver(t *testing.T, db *gorm.DB, to, subject string) models.Message {
	t.Helper()
	msg, err := mailbox.Deliver(db, "operator", to, subject, "body of "+subject, mailbox.DeliverOpts{})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	return *msg
}

func newEngine(t *testing.T, db *gorm.DB, ctrl safety.Controller) *Engine {
	t.Helper()
	if ctrl == nil {
		ctrl = safety.NewSwitch()
	}
	e, err := NewEngine(EngineOpts{DB: db, Safety: ctrl, DedupTTL: time.Hour})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// instantRunner completes immediately with the scripted status.
type instantRunner struct {
	status string
}

func (r *instantRunner) Run(ctx context.Context, req spawner.Request) spawner.Result {
	return spawner.Result{
		ExecutionID: req.ExecutionID,
		AgentID:     req.AgentID,
		MessageID:   req.MessageID,
		Status:      r.status,
		StartedAt:   time.Now(),
		EndedAt:     time.Now(),
	}
}

func newSpawner(t *testing.T, db *gorm.DB, runner spawner.Runner) *spawner.Spawner {
	t.Helper()
	if runner == nil {
		runner = &instantRunner{status: models.ExecSucceeded}
	}
	sp, err := spawner.New(db, runner, 4)
	if err != nil {
		t.Fatalf("spawner.New: %v", err)
	}
	return sp
}

func messageStatus(t *testing.T, db *gorm.DB, id uint) string {
	t.Helper()
	msg, err := mailbox.Get(db, id)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	return msg.Status
}

func lastDecision(t *testing.T, db *gorm.DB, agentID string) models.LedgerEntry {
	t.Helper()
	var entry models.LedgerEntry
	err := db.Where("agent_id = ? AND kind = ?", agentID, models.LedgerDecision).
		Order("id DESC").First(&entry).Error
	if err != nil {
		t.Fatalf("load last decision: %v", err)
	}
	return entry
}

func TestDecide_KillSwitchRejects(t *testing.T) {
	db := openTestDB(t)
	seedPolicy(t, db, "alpha", models.ModeAuto, nil)
	ctrl := safety.NewSwitch()
	ctrl.Engage()
	e := newEngine(t, db, ctrl)
	msg := deliver(t, db, "alpha", "blocked")

	dec, _ := e.Decide(msg, false)
	if dec.Verdict != VerdictReject {
		t.Errorf("verdict = %q, want reject", dec.Verdict)
	}
	if dec.MarkOpened {
		t.Error("kill-switch reject must leave the message new")
	}

	// Force never bypasses the kill switch.
	dec, _ = e.Decide(msg, true)
	if dec.Verdict != VerdictReject {
		t.Errorf("forced verdict = %q, want reject", dec.Verdict)
	}
}

func TestDecide_PolicyChecks(t *testing.T) {
	db := openTestDB(t)
	seedPolicy(t, db, "manual-agent", models.ModeManual, nil)
	seedPolicy(t, db, "notify-agent", models.ModeNotify, nil)
	seedPolicy(t, db, "disabled-agent", models.ModeAuto, func(p *models.AutomationPolicy) { p.Enabled = false })
	seedPolicy(t, db, "muted-agent", models.ModeAuto, func(p *models.AutomationPolicy) { p.Muted = true })
	e := newEngine(t, db, nil)

	cases := []struct {
		agent    string
		verdict  string
		opened   bool
		surfaced bool
	}{
		{"manual-agent", VerdictReject, true, false},
		{"notify-agent", VerdictDefer, true, true},
		{"disabled-agent", VerdictReject, true, false},
		{"muted-agent", VerdictReject, true, false},
		{"unregistered-agent", VerdictReject, true, false},
	}
	for _, tc := range cases {
		msg := deliver(t, db, tc.agent, "check")
		dec, _ := e.Decide(msg, false)
		if dec.Verdict != tc.verdict {
			t.Errorf("%s: verdict = %q, want %q", tc.agent, dec.Verdict, tc.verdict)
		}
		if dec.MarkOpened != tc.opened {
			t.Errorf("%s: markOpened = %v, want %v", tc.agent, dec.MarkOpened, tc.opened)
		}
		if dec.Surface != tc.surfaced {
			t.Errorf("%s: surface = %v, want %v", tc.agent, dec.Surface, tc.surfaced)
		}
	}
}

func TestDecide_CooldownDefers(t *testing.T) {
	db := openTestDB(t)
	seedPolicy(t, db, "alpha", models.ModeAuto, func(p *models.AutomationPolicy) {
		p.CooldownSeconds = 300
	})
	e := newEngine(t, db, nil)
	sp := newSpawner(t, db, nil)

	first := deliver(t, db, "alpha", "first")
	if _, dec, err := e.Dispatch(context.Background(), sp, "", first, false); err != nil || dec.Verdict != VerdictAccept {
		t.Fatalf("first dispatch: verdict=%q err=%v", dec.Verdict, err)
	}
	<-sp.Results()

	second := deliver(t, db, "alpha", "second")
	dec, _ := e.Decide(second, false)
	if dec.Verdict != VerdictDefer {
		t.Errorf("verdict = %q, want defer during cooldown", dec.Verdict)
	}
	if dec.MarkOpened {
		t.Error("cooldown defer must leave the message new")
	}

	// Force bypasses the cooldown.
	dec, _ = e.Decide(second, true)
	if dec.Verdict != VerdictAccept {
		t.Errorf("forced verdict = %q, want accept", dec.Verdict)
	}
}

func TestDispatch_AcceptOpensAndSpawns(t *testing.T) {
	db := openTestDB(t)
	seedPolicy(t, db, "alpha", models.ModeAuto, nil)
	e := newEngine(t, db, nil)
	sp := newSpawner(t, db, nil)
	msg := deliver(t, db, "alpha", "do the thing")

	execID, dec, err := e.Dispatch(context.Background(), sp, "/tmp/alpha", msg, false)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if dec.Verdict != VerdictAccept {
		t.Fatalf("verdict = %q (%s), want accept", dec.Verdict, dec.Reason)
	}
	if execID == "" {
		t.Fatal("no execution ID returned")
	}
	if got := messageStatus(t, db, msg.ID); got != models.MessageOpened {
		t.Errorf("message status = %q, want opened", got)
	}

	entry := lastDecision(t, db, "alpha")
	if entry.Verdict != VerdictAccept || entry.MessageID != msg.ID {
		t.Errorf("ledger entry = %+v", entry)
	}

	// The dedup fingerprint is registered and linked.
	fp := dedup.Fingerprint(msg.FromAgent, msg.Subject, msg.Body)
	live, err := dedup.IsLive(db, fp)
	if err != nil || !live {
		t.Errorf("fingerprint live = %v err = %v, want live", live, err)
	}

	<-sp.Results()
}

func TestDispatch_DuplicateRejected(t *testing.T) {
	db := openTestDB(t)
	seedPolicy(t, db, "alpha", models.ModeAuto, nil)
	e := newEngine(t, db, nil)
	sp := newSpawner(t, db, nil)

	first := deliver(t, db, "alpha", "same content")
	if _, dec, err := e.Dispatch(context.Background(), sp, "", first, false); err != nil || dec.Verdict != VerdictAccept {
		t.Fatalf("first dispatch: verdict=%q err=%v", dec.Verdict, err)
	}
	<-sp.Results()

	second := deliver(t, db, "alpha", "same content")
	_, dec, err := e.Dispatch(context.Background(), sp, "", second, false)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if dec.Verdict != VerdictReject {
		t.Errorf("verdict = %q (%s), want reject for duplicate", dec.Verdict, dec.Reason)
	}
	if got := messageStatus(t, db, second.ID); got != models.MessageOpened {
		t.Errorf("duplicate status = %q, want opened", got)
	}
}

func TestDispatch_AgentBusyDefers(t *testing.T) {
	db := openTestDB(t)
	seedPolicy(t, db, "alpha", models.ModeAuto, nil)
	e := newEngine(t, db, nil)

	release := make(chan struct{})
	sp := newSpawner(t, db, &blockingRunner{release: release})

	first := deliver(t, db, "alpha", "long job")
	if _, dec, err := e.Dispatch(context.Background(), sp, "", first, false); err != nil || dec.Verdict != VerdictAccept {
		t.Fatalf("first dispatch: verdict=%q err=%v", dec.Verdict, err)
	}

	second := deliver(t, db, "alpha", "queued job")
	_, dec, err := e.Dispatch(context.Background(), sp, "", second, false)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if dec.Verdict != VerdictDefer {
		t.Errorf("verdict = %q (%s), want defer while busy", dec.Verdict, dec.Reason)
	}
	if got := messageStatus(t, db, second.ID); got != models.MessageNew {
		t.Errorf("busy-deferred status = %q, want new", got)
	}

	close(release)
	<-sp.Results()
}

// blockingRunner holds the worker until release is closed.
type blockingRunner struct {
	release chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context, req spawner.Request) spawner.Result {
	<-r.release
	return spawner.Result{
		ExecutionID: req.ExecutionID,
		AgentID:     req.AgentID,
		MessageID:   req.MessageID,
		Status:      models.ExecSucceeded,
		StartedAt:   time.Now(),
		EndedAt:     time.Now(),
	}
}

func TestDispatch_SpawnFailureUnwinds(t *testing.T) {
	db := openTestDB(t)
	seedPolicy(t, db, "alpha", models.ModeAuto, nil)
	e := newEngine(t, db, nil)
	sp := newSpawner(t, db, nil)
	msg := deliver(t, db, "alpha", "doomed launch")

	// Break the execution-record insert so the launch fails after the
	// fingerprint is claimed and the message opened.
	if err := db.Migrator().DropTable(&models.ExecutionRecord{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	if _, _, err := e.Dispatch(context.Background(), sp, "", msg, false); err == nil {
		t.Fatal("expected dispatch error with broken execution store")
	}

	// The claim is unwound: fingerprint released, message back to new.
	fp := dedup.Fingerprint(msg.FromAgent, msg.Subject, msg.Body)
	if live, err := dedup.IsLive(db, fp); err != nil || live {
		t.Errorf("fingerprint live = %v err = %v after failed launch, want released", live, err)
	}
	if got := messageStatus(t, db, msg.ID); got != models.MessageNew {
		t.Errorf("message status = %q after failed launch, want new", got)
	}

	// Once the store recovers, the same content dispatches normally.
	if err := db.AutoMigrate(&models.ExecutionRecord{}); err != nil {
		t.Fatalf("recreate table: %v", err)
	}
	execID, dec, err := e.Dispatch(context.Background(), sp, "", msg, false)
	if err != nil {
		t.Fatalf("retry dispatch: %v", err)
	}
	if dec.Verdict != VerdictAccept || execID == "" {
		t.Errorf("retry verdict = %q (%s) execID = %q, want accept", dec.Verdict, dec.Reason, execID)
	}
	<-sp.Results()
}

func TestDispatch_ForceBypassesDedup(t *testing.T) {
	db := openTestDB(t)
	seedPolicy(t, db, "alpha", models.ModeAuto, func(p *models.AutomationPolicy) {
		p.CooldownSeconds = 300
	})
	e := newEngine(t, db, nil)
	sp := newSpawner(t, db, nil)

	first := deliver(t, db, "alpha", "same content")
	if _, dec, err := e.Dispatch(context.Background(), sp, "", first, false); err != nil || dec.Verdict != VerdictAccept {
		t.Fatalf("first dispatch: verdict=%q err=%v", dec.Verdict, err)
	}
	<-sp.Results()

	// Identical content inside the cooldown window: force still dispatches.
	second := deliver(t, db, "alpha", "same content")
	execID, dec, err := e.Dispatch(context.Background(), sp, "", second, true)
	if err != nil {
		t.Fatalf("forced dispatch: %v", err)
	}
	if dec.Verdict != VerdictAccept || execID == "" {
		t.Errorf("forced verdict = %q execID = %q, want accept", dec.Verdict, execID)
	}
	<-sp.Results()
}
