package dedup

import (
	"errors"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/models"
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
	if err := db.AutoMigrate(&models.DedupEntry{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func TestFingerprint_Stable(t *testing.T) {
	a := Fingerprint("beta", "task: ping", "please ping")
	b := Fingerprint("beta", "task: ping", "please ping")
	if a != b {
		t.Errorf("fingerprints differ: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func TestFingerprint_FieldSensitive(t *testing.T) {
	base := Fingerprint("beta", "subj", "body")
	if Fingerprint("gamma", "subj", "body") == base {
		t.Error("different sender should change fingerprint")
	}
	if Fingerprint("beta", "subj2", "body") == base {
		t.Error("different subject should change fingerprint")
	}
	if Fingerprint("beta", "subj", "body2") == base {
		t.Error("different body should change fingerprint")
	}
}

func TestFingerprint_NoFieldBleed(t *testing.T) {
	// Field separator must prevent "ab"+"c" colliding with "a"+"bc".
	if Fingerprint("ab", "c", "x") == Fingerprint("a", "bc", "x") {
		t.Error("field boundaries should be part of the hash")
	}
}

func TestRegister_ThenDuplicate(t *testing.T) {
	db := openTestDB(t)
	fp := Fingerprint("beta", "subj", "body")

	entry, err := Register(db, fp, "alpha", 1, time.Hour)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if entry.TTLSeconds != 3600 {
		t.Errorf("TTLSeconds = %d, want 3600", entry.TTLSeconds)
	}

	_, err = Register(db, fp, "alpha", 2, time.Hour)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second Register error = %v, want ErrDuplicate", err)
	}
}

func TestRegister_ExpiredEntryReclaimed(t *testing.T) {
	db := openTestDB(t)
	fp := Fingerprint("beta", "subj", "body")

	// Seed an entry whose TTL elapsed long ago.
	stale := models.DedupEntry{
		Fingerprint: fp,
		AgentID:     "alpha",
		MessageID:   1,
		TriggeredAt: time.Now().Add(-2 * time.Hour),
		TTLSeconds:  60,
	}
	if err := db.Create(&stale).Error; err != nil {
		t.Fatalf("seed stale entry: %v", err)
	}

	entry, err := Register(db, fp, "alpha", 2, time.Hour)
	if err != nil {
		t.Fatalf("Register over expired entry: %v", err)
	}
	if entry.MessageID != 2 {
		t.Errorf("MessageID = %d, want 2 (new trigger)", entry.MessageID)
	}
}

func TestRegister_Validation(t *testing.T) {
	db := openTestDB(t)
	if _, err := Register(db, "", "alpha", 1, time.Hour); err == nil {
		t.Error("expected error for empty fingerprint")
	}
	if _, err := Register(db, "fp", "alpha", 1, 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}

func TestIsLive(t *testing.T) {
	db := openTestDB(t)
	fp := Fingerprint("beta", "subj", "body")

	live, err := IsLive(db, fp)
	if err != nil {
		t.Fatalf("IsLive: %v", err)
	}
	if live {
		t.Error("unregistered fingerprint should not be live")
	}

	if _, err := Register(db, fp, "alpha", 1, time.Hour); err != nil {
		t.Fatalf("Register: %v", err)
	}
	live, err = IsLive(db, fp)
	if err != nil {
		t.Fatalf("IsLive: %v", err)
	}
	if !live {
		t.Error("registered fingerprint should be live")
	}
}

func TestIsLive_LazyExpiry(t *testing.T) {
	db := openTestDB(t)
	fp := "deadbeef"

	stale := models.DedupEntry{
		Fingerprint: fp,
		TriggeredAt: time.Now().Add(-time.Hour),
		TTLSeconds:  1,
	}
	if err := db.Create(&stale).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	live, err := IsLive(db, fp)
	if err != nil {
		t.Fatalf("IsLive: %v", err)
	}
	if live {
		t.Error("expired entry should not be live")
	}

	// The lookup should have removed the expired row.
	var count int64
	db.Model(&models.DedupEntry{}).Where("fingerprint = ?", fp).Count(&count)
	if count != 0 {
		t.Errorf("expired row still present (count=%d)", count)
	}
}

func TestLinkExecution(t *testing.T) {
	db := openTestDB(t)
	fp := Fingerprint("beta", "subj", "body")
	if _, err := Register(db, fp, "alpha", 1, time.Hour); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := LinkExecution(db, fp, "exec-01234567"); err != nil {
		t.Fatalf("LinkExecution: %v", err)
	}

	var entry models.DedupEntry
	db.Where("fingerprint = ?", fp).First(&entry)
	if entry.ExecutionID != "exec-01234567" {
		t.Errorf("ExecutionID = %q", entry.ExecutionID)
	}
}

func TestPruneExpired(t *testing.T) {
	db := openTestDB(t)

	db.Create(&models.DedupEntry{Fingerprint: "old", TriggeredAt: time.Now().Add(-time.Hour), TTLSeconds: 1})
	db.Create(&models.DedupEntry{Fingerprint: "fresh", TriggeredAt: time.Now(), TTLSeconds: 3600})

	pruned, err := PruneExpired(db)
	if err != nil {
		t.Fatalf("PruneExpired: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	var count int64
	db.Model(&models.DedupEntry{}).Count(&count)
	if count != 1 {
		t.Errorf("remaining entries = %d, want 1", count)
	}
}
