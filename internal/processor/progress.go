// Package processor implements the outbox/event-processor runtime (spec
// C7-C12): fetching query-matching events past a checkpoint, handing
// them to a dispatch sink, and tracking per-processor progress with
// leader election and backoff between empty polls. The polling-loop
// shape (ticker, zerolog, lease-then-handle-then-advance) is grounded on
// the outbox worker pattern retrieved for this domain; the teacher
// itself has no processor runtime to imitate directly.
package processor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

// Status values stored in processor_progress.status. FAILED is reached
// from RecordError once a processor's error streak meets its
// configured maxErrors budget, and is sticky: only an operator Reset
// or Resume clears it.
const (
	StatusActive = "ACTIVE"
	StatusPaused = "PAUSED"
	StatusFailed = "FAILED"
)

// Progress is one processor's checkpoint row.
type Progress struct {
	ProcessorID  string
	LastPosition int64
	Status       string
	ErrorCount   int
	LastError    string
	InstanceID   string
	UpdatedAt    time.Time
}

// ProgressStore persists processor checkpoints in processor_progress.
// Built on database/sql (via the pgx stdlib driver) rather than pgxpool
// directly so it can be exercised against go-sqlmock without a live
// database (spec §8 testable properties).
type ProgressStore struct {
	db *sql.DB
}

func NewProgressStore(db *sql.DB) *ProgressStore {
	return &ProgressStore{db: db}
}

// Get returns the processor's checkpoint, creating an ACTIVE row at
// position 0 the first time a processor is seen.
func (p *ProgressStore) Get(ctx context.Context, processorID string) (Progress, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT processor_id, last_position, status, error_count, COALESCE(last_error, ''), COALESCE(instance_id, ''), updated_at
		FROM processor_progress WHERE processor_id = $1`, processorID)

	var pr Progress
	err := row.Scan(&pr.ProcessorID, &pr.LastPosition, &pr.Status, &pr.ErrorCount, &pr.LastError, &pr.InstanceID, &pr.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if _, insertErr := p.db.ExecContext(ctx, `
			INSERT INTO processor_progress (processor_id, last_position, status)
			VALUES ($1, 0, $2)
			ON CONFLICT (processor_id) DO NOTHING`, processorID, StatusActive); insertErr != nil {
			return Progress{}, fmt.Errorf("processor: creating progress row for %s: %w", processorID, insertErr)
		}
		return Progress{ProcessorID: processorID, Status: StatusActive}, nil
	}
	if err != nil {
		return Progress{}, fmt.Errorf("processor: reading progress for %s: %w", processorID, err)
	}
	return pr, nil
}

// Advance moves the checkpoint forward after a batch is handled
// successfully, and clears any prior error streak. last_position only
// ever moves forward: a redelivered or out-of-order batch can't rewind
// a checkpoint another instance already advanced past.
func (p *ProgressStore) Advance(ctx context.Context, processorID string, position int64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO processor_progress (processor_id, last_position, status, error_count, last_error)
		VALUES ($1, $2, $3, 0, NULL)
		ON CONFLICT (processor_id) DO UPDATE SET
			last_position = GREATEST(processor_progress.last_position, EXCLUDED.last_position),
			error_count = 0,
			last_error = NULL,
			updated_at = now()`, processorID, position, StatusActive)
	if err != nil {
		return fmt.Errorf("processor: advancing %s to %d: %w", processorID, position, err)
	}
	return nil
}

// RecordError increments the error streak without moving the checkpoint,
// so a failing batch is retried rather than skipped (spec: at-least-once).
// Once the streak reaches maxErrors the processor transitions to FAILED,
// which halts further polling until an operator intervenes. maxErrors <= 0
// means no budget: the streak grows but never trips FAILED.
func (p *ProgressStore) RecordError(ctx context.Context, processorID string, cause error, maxErrors int) error {
	if maxErrors <= 0 {
		maxErrors = math.MaxInt32
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO processor_progress (processor_id, last_position, status, error_count, last_error)
		VALUES ($1, 0, CASE WHEN 1 >= $4 THEN $5 ELSE $2 END, 1, $3)
		ON CONFLICT (processor_id) DO UPDATE SET
			error_count = processor_progress.error_count + 1,
			last_error = EXCLUDED.last_error,
			status = CASE WHEN processor_progress.error_count + 1 >= $4 THEN $5 ELSE processor_progress.status END,
			updated_at = now()`, processorID, StatusActive, cause.Error(), maxErrors, StatusFailed)
	if err != nil {
		return fmt.Errorf("processor: recording error for %s: %w", processorID, err)
	}
	return nil
}

func (p *ProgressStore) setStatus(ctx context.Context, processorID, status string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO processor_progress (processor_id, last_position, status)
		VALUES ($1, 0, $2)
		ON CONFLICT (processor_id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()`,
		processorID, status)
	if err != nil {
		return fmt.Errorf("processor: setting %s status to %s: %w", processorID, status, err)
	}
	return nil
}

func (p *ProgressStore) Pause(ctx context.Context, processorID string) error {
	return p.setStatus(ctx, processorID, StatusPaused)
}

// Resume sets the processor ACTIVE and clears its error streak, so a
// processor resumed from FAILED gets its full maxErrors budget back.
func (p *ProgressStore) Resume(ctx context.Context, processorID string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO processor_progress (processor_id, last_position, status)
		VALUES ($1, 0, $2)
		ON CONFLICT (processor_id) DO UPDATE SET status = EXCLUDED.status, error_count = 0, last_error = NULL, updated_at = now()`,
		processorID, StatusActive)
	if err != nil {
		return fmt.Errorf("processor: resuming %s: %w", processorID, err)
	}
	return nil
}

// Reset rewinds the checkpoint to 0, causing the processor to redeliver
// its entire matching history on the next poll.
func (p *ProgressStore) Reset(ctx context.Context, processorID string) error {
	return p.ResetToPosition(ctx, processorID, 0)
}

// ResetToPosition rewinds the checkpoint to an arbitrary position, so an
// operator can redeliver from a known-good point instead of the whole
// log. The position is not validated against the store's current
// position; rewinding past the log's head is harmless, the next fetch
// simply returns nothing until new events arrive. A FAILED processor is
// returned to ACTIVE; a PAUSED one stays paused.
func (p *ProgressStore) ResetToPosition(ctx context.Context, processorID string, position int64) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE processor_progress SET last_position = $2, error_count = 0, last_error = NULL,
			status = CASE WHEN status = 'FAILED' THEN 'ACTIVE' ELSE status END, updated_at = now()
		WHERE processor_id = $1`, processorID, position)
	if err != nil {
		return fmt.Errorf("processor: resetting %s to %d: %w", processorID, position, err)
	}
	return nil
}
