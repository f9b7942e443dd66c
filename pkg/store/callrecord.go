package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/frontdesk-ai/frontdesk/pkg/memory"
)

// Outcome is the terminal disposition of a call.
type Outcome string

const (
	OutcomeBooked      Outcome = "booked"
	OutcomeTransferred Outcome = "transferred"
	OutcomeInfo        Outcome = "info"
	OutcomeMissed      Outcome = "missed"
	OutcomeFailed      Outcome = "failed"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeBooked, OutcomeTransferred, OutcomeInfo, OutcomeMissed, OutcomeFailed:
		return true
	}
	return false
}

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("store: call record not found")

// CallRecord is the durable post-call artifact. Created once at call end,
// immutable thereafter.
type CallRecord struct {
	ID             string        `json:"id"`
	CarrierCallID  string        `json:"carrier_call_id,omitempty"`
	CallerNumber   string        `json:"caller_number"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
	DurationMS     int64         `json:"duration_ms"`
	Outcome        Outcome       `json:"outcome"`
	Transcript     []memory.Turn `json:"transcript"`
	Summary        string        `json:"summary,omitempty"`
	Sentiment      string        `json:"sentiment,omitempty"`
	AppointmentRef string        `json:"appointment_ref,omitempty"`
}

// Query filters the record feed.
type Query struct {
	CallerNumber string
	From         time.Time
	To           time.Time
	Outcome      Outcome
	Limit        int
	Offset       int
}

// SaveCallRecord persists one record. Records are write-once: a duplicate
// id is an error, which backs the one-record-per-session invariant.
func (db *DB) SaveCallRecord(rec CallRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("store: record id is required")
	}
	if !rec.Outcome.Valid() {
		return fmt.Errorf("store: invalid outcome %q", rec.Outcome)
	}
	transcript, err := json.Marshal(rec.Transcript)
	if err != nil {
		return fmt.Errorf("store: encoding transcript: %w", err)
	}

	_, err = db.sql.Exec(`
		INSERT INTO call_records
			(id, carrier_call_id, caller_number, started_at, ended_at,
			 duration_ms, outcome, transcript, summary, sentiment, appointment_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CarrierCallID, rec.CallerNumber,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.EndedAt.UTC().Format(time.RFC3339Nano),
		rec.DurationMS, string(rec.Outcome), string(transcript),
		rec.Summary, rec.Sentiment, rec.AppointmentRef,
	)
	if err != nil {
		return fmt.Errorf("store: saving call record: %w", err)
	}
	db.log.Info().
		Str("id", rec.ID).
		Str("outcome", string(rec.Outcome)).
		Int64("duration_ms", rec.DurationMS).
		Msg("call record saved")
	return nil
}

// GetCallRecord fetches one record by id.
func (db *DB) GetCallRecord(id string) (CallRecord, error) {
	row := db.sql.QueryRow(`
		SELECT id, carrier_call_id, caller_number, started_at, ended_at,
		       duration_ms, outcome, transcript, summary, sentiment, appointment_ref
		FROM call_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CallRecord{}, ErrNotFound
	}
	return rec, err
}

// QueryCallRecords returns records matching q, newest first.
func (db *DB) QueryCallRecords(q Query) ([]CallRecord, error) {
	var (
		where []string
		args  []any
	)
	if q.CallerNumber != "" {
		where = append(where, "caller_number = ?")
		args = append(args, q.CallerNumber)
	}
	if !q.From.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, q.From.UTC().Format(time.RFC3339Nano))
	}
	if !q.To.IsZero() {
		where = append(where, "started_at < ?")
		args = append(args, q.To.UTC().Format(time.RFC3339Nano))
	}
	if q.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(q.Outcome))
	}

	sqlQ := `
		SELECT id, carrier_call_id, caller_number, started_at, ended_at,
		       duration_ms, outcome, transcript, summary, sentiment, appointment_ref
		FROM call_records`
	if len(where) > 0 {
		sqlQ += " WHERE " + strings.Join(where, " AND ")
	}
	sqlQ += " ORDER BY started_at DESC"

	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	sqlQ += " LIMIT ? OFFSET ?"
	args = append(args, limit, q.Offset)

	rows, err := db.sql.Query(sqlQ, args...)
	if err != nil {
		return nil, fmt.Errorf("store: querying call records: %w", err)
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountByOutcome returns record counts per outcome so operators can see
// missed-call patterns.
func (db *DB) CountByOutcome() (map[Outcome]int, error) {
	rows, err := db.sql.Query("SELECT outcome, COUNT(*) FROM call_records GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("store: counting outcomes: %w", err)
	}
	defer rows.Close()

	out := make(map[Outcome]int)
	for rows.Next() {
		var (
			outcome string
			count   int
		)
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		out[Outcome(outcome)] = count
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (CallRecord, error) {
	var (
		out                CallRecord
		startedAt, endedAt string
		outcome            string
		transcript         string
	)
	err := row.Scan(&out.ID, &out.CarrierCallID, &out.CallerNumber,
		&startedAt, &endedAt, &out.DurationMS, &outcome, &transcript,
		&out.Summary, &out.Sentiment, &out.AppointmentRef)
	if err != nil {
		return CallRecord{}, err
	}
	out.Outcome = Outcome(outcome)
	if out.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return CallRecord{}, fmt.Errorf("store: parsing started_at: %w", err)
	}
	if out.EndedAt, err = time.Parse(time.RFC3339Nano, endedAt); err != nil {
		return CallRecord{}, fmt.Errorf("store: parsing ended_at: %w", err)
	}
	if err := json.Unmarshal([]byte(transcript), &out.Transcript); err != nil {
		return CallRecord{}, fmt.Errorf("store: decoding transcript: %w", err)
	}
	return out, nil
}
