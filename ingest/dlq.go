package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"watchtower/core"
	"watchtower/metrics"
	"watchtower/storage"

	"go.uber.org/zap"
)

// Dead letter reasons
const (
	ReasonDecode     = "decode_failure"
	ReasonValidation = "validation_error"
)

// DLQ statuses
const (
	DLQStatusPending   = "pending"
	DLQStatusReplayed  = "replayed"
	DLQStatusDiscarded = "discarded"
)

// FailedMessage is a message that was rejected and will not be retried
type FailedMessage struct {
	Source      string // transport, e.g. "kafka"
	Origin      string // where it came from within the transport
	ContentType string
	Payload     []byte
	Reason      string
	Details     string
}

// DeadLetter is a stored FailedMessage
type DeadLetter struct {
	ID          int64     `json:"id"`
	Source      string    `json:"source"`
	Origin      string    `json:"origin"`
	ContentType string    `json:"contentType,omitempty"`
	Payload     []byte    `json:"payload"`
	Reason      string    `json:"reason"`
	Details     string    `json:"details"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DeadLetterWriter keeps rejected messages for later inspection
type DeadLetterWriter interface {
	Add(ctx context.Context, msg FailedMessage) error
}

// DLQ stores rejected ingestion messages in the dead_letter_queue table
type DLQ struct {
	sqlite *storage.SQLite
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewDLQ creates a new DLQ instance
func NewDLQ(sqlite *storage.SQLite, logger *zap.SugaredLogger) *DLQ {
	return &DLQ{sqlite: sqlite, logger: logger, now: time.Now}
}

// Add writes a failed message to the DLQ
func (d *DLQ) Add(ctx context.Context, msg FailedMessage) error {
	_, err := d.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO dead_letter_queue (source, origin, content_type, payload, reason, details, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.Source, msg.Origin, msg.ContentType, msg.Payload, msg.Reason, msg.Details, DLQStatusPending, d.now().UTC().UnixNano(),
	)
	if err != nil {
		d.logger.Errorw("Failed to write message to DLQ", "source", msg.Source, "reason", msg.Reason, "error", err)
		return core.NewStorageError("insert dead letter", err)
	}

	metrics.IngestMessages.WithLabelValues(msg.Source, "dead_lettered").Inc()
	d.logger.Debugw("Message written to DLQ", "source", msg.Source, "origin", msg.Origin, "reason", msg.Reason)
	return nil
}

// Get retrieves a DLQ entry by id
func (d *DLQ) Get(ctx context.Context, id int64) (*DeadLetter, error) {
	row := d.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT id, source, origin, content_type, payload, reason, details, status, created_at
		FROM dead_letter_queue WHERE id = ?`, id)
	dl, err := scanDeadLetter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Kind: "dead letter", ID: fmt.Sprint(id)}
	}
	if err != nil {
		return nil, core.NewStorageError("get dead letter", err)
	}
	return dl, nil
}

// List returns entries newest first, optionally restricted to one status
func (d *DLQ) List(ctx context.Context, status string, page core.Pagination) (*core.Page[DeadLetter], error) {
	page = page.Normalize()
	where := ""
	args := []interface{}{}
	if status != "" {
		where = " WHERE status = ?"
		args = append(args, status)
	}

	var total int64
	if err := d.sqlite.ReadDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`+where, args...).Scan(&total); err != nil {
		return nil, core.NewStorageError("count dead letters", err)
	}

	rows, err := d.sqlite.ReadDB.QueryContext(ctx, `
		SELECT id, source, origin, content_type, payload, reason, details, status, created_at
		FROM dead_letter_queue`+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, append(args, page.Limit, page.Offset)...)
	if err != nil {
		return nil, core.NewStorageError("list dead letters", err)
	}
	defer rows.Close()

	items := []DeadLetter{}
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, core.NewStorageError("scan dead letter", err)
		}
		items = append(items, *dl)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("iterate dead letters", err)
	}
	return &core.Page[DeadLetter]{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// Replay decodes a pending entry again and records it. The entry is
// marked replayed only when the event is stored; otherwise it stays
// pending and the record error is returned.
func (d *DLQ) Replay(ctx context.Context, id int64, recorder Recorder) (*core.SecurityEvent, error) {
	dl, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if dl.Status != DLQStatusPending {
		return nil, d.stateError(dl, DLQStatusReplayed)
	}

	in, err := DecodeEvent(dl.Payload, dl.ContentType)
	if err != nil {
		return nil, err
	}
	event, err := recorder.RecordEvent(ctx, in)
	if err != nil {
		metrics.IngestMessages.WithLabelValues(dl.Source, "replay_failed").Inc()
		return nil, err
	}

	if err := d.transition(ctx, dl, DLQStatusReplayed); err != nil {
		// the event is stored; a second replay would record it again
		d.logger.Errorw("Replayed dead letter but failed to mark it", "dlq_id", id, "event_id", event.ID, "error", err)
		return event, err
	}
	metrics.IngestMessages.WithLabelValues(dl.Source, "replayed").Inc()
	d.logger.Infow("Dead letter replayed", "dlq_id", id, "event_id", event.ID)
	return event, nil
}

// Discard marks a pending entry as not worth replaying. The row is kept.
func (d *DLQ) Discard(ctx context.Context, id int64) error {
	dl, err := d.Get(ctx, id)
	if err != nil {
		return err
	}
	return d.transition(ctx, dl, DLQStatusDiscarded)
}

// transition moves a pending entry to status, failing if another caller
// got there first
func (d *DLQ) transition(ctx context.Context, dl *DeadLetter, status string) error {
	res, err := d.sqlite.WriteDB.ExecContext(ctx,
		`UPDATE dead_letter_queue SET status = ? WHERE id = ? AND status = ?`, status, dl.ID, DLQStatusPending)
	if err != nil {
		return core.NewStorageError("update dead letter status", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	current, err := d.Get(ctx, dl.ID)
	if err != nil {
		return err
	}
	return d.stateError(current, status)
}

func (d *DLQ) stateError(dl *DeadLetter, requested string) error {
	return &core.InvalidStateError{
		Kind:      "dead letter",
		ID:        fmt.Sprint(dl.ID),
		Current:   dl.Status,
		Requested: requested,
		Reason:    "only pending entries can change",
	}
}

type deadLetterScanner interface {
	Scan(dest ...interface{}) error
}

func scanDeadLetter(row deadLetterScanner) (*DeadLetter, error) {
	var dl DeadLetter
	var created int64
	if err := row.Scan(&dl.ID, &dl.Source, &dl.Origin, &dl.ContentType, &dl.Payload, &dl.Reason, &dl.Details, &dl.Status, &created); err != nil {
		return nil, err
	}
	dl.CreatedAt = time.Unix(0, created).UTC()
	return &dl, nil
}
