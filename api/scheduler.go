/*
scheduler.go - Periodic integrity audit

PURPOSE:
  Runs tooling.Audit in the background and records each pass as an
  AuditRun, so drift between the usage ledger, tool rows and work order
  charges (manual SQL edits, store bugs) is caught and visible.

DESIGN:
  - Background goroutine with a configurable interval (default: 1 hour)
  - Runs once immediately on Start
  - Each pass is saved twice: "running" when it starts, then "completed"
    or "failed"
  - Findings are logged at warn level and exported through AuditObserver

USAGE:
  auditor := NewIntegrityAuditor(engine, runStore, log)
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - tooling/audit.go: The checks themselves
  - handlers.go: POST /api/audit/run (manual trigger)
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/JorgeZavalaO/torno-app-sub000/id"
	"github.com/JorgeZavalaO/torno-app-sub000/tooling"
)

// AuditObserver is told about every finished audit. Implemented by
// metrics.Recorder.
type AuditObserver interface {
	AuditFinished(status string, findings int)
}

// IntegrityAuditor periodically re-checks persisted invariants.
type IntegrityAuditor struct {
	Engine   *tooling.Engine
	Runs     tooling.AuditRunStore // optional
	Observer AuditObserver         // optional
	Interval time.Duration
	Timeout  time.Duration
	Enabled  bool
	Log      *slog.Logger

	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewIntegrityAuditor creates an enabled auditor with a one-hour interval.
// runs may be nil.
func NewIntegrityAuditor(engine *tooling.Engine, runs tooling.AuditRunStore, log *slog.Logger) *IntegrityAuditor {
	if log == nil {
		log = slog.Default()
	}
	return &IntegrityAuditor{
		Engine:   engine,
		Runs:     runs,
		Interval: time.Hour,
		Timeout:  5 * time.Minute,
		Enabled:  true,
		Log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the background loop. Calling Start twice is a no-op.
func (a *IntegrityAuditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Enabled {
		a.Log.Info("integrity auditor disabled")
		return
	}
	if a.ticker != nil {
		return
	}

	a.ticker = time.NewTicker(a.Interval)
	a.stop = make(chan struct{})
	a.wg.Add(1)
	go a.run(a.ticker, a.stop)

	a.Log.Info("integrity auditor started", "interval", a.Interval)
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (a *IntegrityAuditor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ticker == nil {
		return
	}
	a.ticker.Stop()
	close(a.stop)
	a.wg.Wait()
	a.ticker = nil
	a.Log.Info("integrity auditor stopped")
}

func (a *IntegrityAuditor) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer a.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	a.pass(ctx)
	for {
		select {
		case <-ticker.C:
			a.pass(ctx)
		case <-stop:
			return
		}
	}
}

func (a *IntegrityAuditor) pass(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()
	if _, err := a.RunNow(ctx); err != nil {
		a.Log.Error("integrity audit failed", "error", err)
	}
}

// RunNow performs one audit pass and records it. On failure the returned run
// has status failed and err is the cause.
func (a *IntegrityAuditor) RunNow(ctx context.Context) (*tooling.AuditRun, error) {
	run := tooling.AuditRun{
		ID:        id.NewAuditRunID().String(),
		Status:    tooling.AuditRunning,
		StartedAt: a.now(),
	}
	a.save(ctx, run)

	report, err := a.Engine.Audit(ctx)
	completed := a.now()
	run.CompletedAt = &completed
	if err != nil {
		run.Status = tooling.AuditFailed
		run.Error = err.Error()
		if report != nil {
			run.ToolsChecked = report.ToolsChecked
		}
		a.save(context.WithoutCancel(ctx), run)
		a.observe(run)
		return &run, err
	}

	run.Status = tooling.AuditCompleted
	run.ToolsChecked = report.ToolsChecked
	run.Findings = report.Findings
	a.save(ctx, run)
	a.observe(run)

	for _, f := range report.Findings {
		a.Log.Warn("integrity violation", "tool_id", f.ToolID, "code", f.Code, "message", f.Message)
	}
	a.Log.Info("integrity audit completed",
		"run_id", run.ID,
		"tools_checked", run.ToolsChecked,
		"findings", len(run.Findings),
		"duration", completed.Sub(run.StartedAt),
	)
	return &run, nil
}

func (a *IntegrityAuditor) save(ctx context.Context, run tooling.AuditRun) {
	if a.Runs == nil {
		return
	}
	if err := a.Runs.SaveAuditRun(ctx, run); err != nil {
		a.Log.Error("failed to save audit run", "run_id", run.ID, "error", err)
	}
}

func (a *IntegrityAuditor) observe(run tooling.AuditRun) {
	if a.Observer != nil {
		a.Observer.AuditFinished(run.Status, len(run.Findings))
	}
}
