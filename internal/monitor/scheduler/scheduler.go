package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/dealerlytics/dealerlytics-ai/internal/store"
)

// Package scheduler runs the autonomous scan engine.
//
// A single tick loop checks each scan type's cadence against its last
// successful run and launches due scans. Cadence is judged from persisted
// run history, not in-process timers, so a restart never double-runs a
// cadence that already succeeded.
//
// Concurrency: at most one scan of a given type runs at a time. A second
// trigger for a running type (manual or scheduled) is rejected with
// ErrScanAlreadyRunning; different types may overlap freely.
//
// Every execution is recorded as a scan run before work starts and finished
// afterwards. Panics inside a pipeline are captured onto the run record
// rather than crashing the engine, and context cancellation marks the run
// interrupted.

// ErrScanAlreadyRunning is returned when a scan of the same type is in
// flight.
var ErrScanAlreadyRunning = errors.New("a scan of this type is already running")

// ErrUnknownScanType is returned for a scan type the engine does not know.
var ErrUnknownScanType = errors.New("unknown scan type")

// Cadence intervals per scan type. Manual scans have no cadence.
var cadences = map[string]time.Duration{
	store.ScanTypeHourly:  time.Hour,
	store.ScanTypeDaily:   24 * time.Hour,
	store.ScanTypeWeekly:  7 * 24 * time.Hour,
	store.ScanTypeMonthly: 30 * 24 * time.Hour,
}

// Config holds scheduler policy.
type Config struct {
	// TickInterval is how often due cadences are checked.
	TickInterval time.Duration
}

// DefaultConfig returns the default scheduler policy.
func DefaultConfig() Config {
	return Config{TickInterval: 5 * time.Minute}
}

// TypeStatus is the live status of one scan type.
type TypeStatus struct {
	ScanType string               `json:"scan_type"`
	Running  bool                 `json:"running"`
	LastRun  *store.ScanRunRecord `json:"last_run,omitempty"`
	// NextDue is when the cadence next fires; zero for manual.
	NextDue time.Time `json:"next_due,omitempty"`
}

// Status is the engine's live status across all scan types.
type Status struct {
	SchedulerRunning bool         `json:"scheduler_running"`
	Types            []TypeStatus `json:"types"`
}

// Scheduler drives scheduled and manual scans.
type Scheduler interface {
	// Start recovers interrupted runs and launches the tick loop. The loop
	// stops when ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop stops the tick loop and waits for in-flight scans to finish.
	Stop()

	// Trigger runs a scan of the given type immediately, regardless of
	// cadence. Returns ErrScanAlreadyRunning when that type is in flight.
	Trigger(ctx context.Context, scanType string) (*store.ScanRunRecord, error)

	// Status reports per-type run state and history.
	Status(ctx context.Context) (*Status, error)
}
