package spawner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Sentinel errors for slot reservation.
var (
	ErrAgentBusy  = errors.New("spawner: agent already has an in-flight execution")
	ErrAtCapacity = errors.New("spawner: global concurrency ceiling reached")
)

// Spawner launches workers asynchronously and enforces the one-in-flight-per-
// agent rule plus a global max-concurrent ceiling. Completions are delivered
// on the Results channel; the caller's loop never blocks on a worker.
type Spawner struct {
	db            *gorm.DB
	runner        Runner
	maxConcurrent int
	results       chan Result

	mu       sync.Mutex
	inflight map[string]string // agentID -> executionID
}

// New creates a Spawner.
func New(db *gorm.DB, runner Runner, maxConcurrent int) (*Spawner, error) {
	if db == nil {
		return nil, fmt.Errorf("spawner: db is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("spawner: runner is required")
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Spawner{
		db:            db,
		runner:        runner,
		maxConcurrent: maxConcurrent,
		results:       make(chan Result, 64),
		inflight:      make(map[string]string),
	}, nil
}

// Results returns the channel on which completed executions are delivered.
func (s *Spawner) Results() <-chan Result {
	return s.results
}

// Busy reports whether the agent currently has an in-flight execution.
func (s *Spawner) Busy(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inflight[agentID]
	return busy
}

// InFlight returns the number of currently running executions.
func (s *Spawner) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// AtCapacity reports whether the global concurrency ceiling is reached.
func (s *Spawner) AtCapacity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight) >= s.maxConcurrent
}

// Spawn reserves an execution slot, records the ExecutionRecord in pending
// state, and launches the worker asynchronously. It returns the execution ID
// without waiting for the worker; the terminal Result arrives on Results().
func (s *Spawner) Spawn(ctx context.Context, req Request) (string, error) {
	if req.AgentID == "" {
		return "", fmt.Errorf("spawner: agentID is required")
	}
	if req.MessageID == 0 {
		return "", fmt.Errorf("spawner: messageID is required")
	}
	if req.ExecutionID == "" {
		id, err := GenerateExecutionID()
		if err != nil {
			return "", err
		}
		req.ExecutionID = id
	}

	s.mu.Lock()
	if _, busy := s.inflight[req.AgentID]; busy {
		s.mu.Unlock()
		return "", ErrAgentBusy
	}
	if len(s.inflight) >= s.maxConcurrent {
		s.mu.Unlock()
		return "", ErrAtCapacity
	}
	s.inflight[req.AgentID] = req.ExecutionID
	s.mu.Unlock()

	record := models.ExecutionRecord{
		ID:                    req.ExecutionID,
		MessageID:             req.MessageID,
		AgentID:               req.AgentID,
		Status:                models.ExecPending,
		StartedAt:             time.Now(),
		PolicyMode:            req.Snapshot.Mode,
		PolicyCooldownSeconds: req.Snapshot.CooldownSeconds,
		PolicyTimeoutSeconds:  req.Snapshot.TimeoutSeconds,
		PolicyMaxRetries:      req.Snapshot.MaxRetries,
	}
	if err := s.db.Create(&record).Error; err != nil {
		s.release(req.AgentID)
		return "", fmt.Errorf("spawner: create execution record: %w", err)
	}

	go s.run(ctx, req)

	return req.ExecutionID, nil
}

// run executes the worker, persists the terminal state, then delivers the
// result. Record update precedes delivery so audit appends observe committed
// state.
func (s *Spawner) run(ctx context.Context, req Request) {
	s.db.Model(&models.ExecutionRecord{}).
		Where("id = ?", req.ExecutionID).
		Update("status", models.ExecRunning)

	result := s.runner.Run(ctx, req)

	ended := result.EndedAt
	if ended.IsZero() {
		ended = time.Now()
		result.EndedAt = ended
	}
	if err := s.db.Model(&models.ExecutionRecord{}).
		Where("id = ?", req.ExecutionID).
		Updates(map[string]interface{}{
			"status":   result.Status,
			"pid":      result.PID,
			"ended_at": ended,
		}).Error; err != nil {
		log.Printf("spawner: record terminal state for %s: %v", req.ExecutionID, err)
	}

	s.release(req.AgentID)
	s.results <- result
}

func (s *Spawner) release(agentID string) {
	s.mu.Lock()
	delete(s.inflight, agentID)
	s.mu.Unlock()
}
