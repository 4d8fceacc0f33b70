package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"call-monitoring-service/internal/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Queries runs statements against a database handle or an open transaction.
type Queries struct {
	db      execer
	dialect dialect
}

// CallParams describes a call to create.
type CallParams struct {
	Source     models.Source
	ExternalID *string
	StartedAt  *time.Time
	EndedAt    *time.Time
	Metadata   map[string]any
}

// CallFilter narrows ListCalls.
type CallFilter struct {
	Source string
	Limit  int
	Offset int
}

// AnalysisFilter narrows ListAnalyses.
type AnalysisFilter struct {
	CallID string
	Kind   models.AnalysisKind
	Limit  int
	Offset int
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, rebind(q.dialect, query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, rebind(q.dialect, query), args...)
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, rebind(q.dialect, query), args...)
}

// CreateCall inserts a call.
func (q *Queries) CreateCall(ctx context.Context, p CallParams) (*models.Call, error) {
	meta := p.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	c := &models.Call{
		ID:         uuid.NewString(),
		Source:     p.Source,
		ExternalID: p.ExternalID,
		StartedAt:  utcPtr(p.StartedAt),
		EndedAt:    utcPtr(p.EndedAt),
		Metadata:   meta,
		CreatedAt:  time.Now().UTC(),
	}

	_, err = q.exec(ctx,
		`INSERT INTO calls (id, source, external_id, started_at, ended_at, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, string(c.Source), nullString(c.ExternalID), nullTime(c.StartedAt), nullTime(c.EndedAt),
		string(metaJSON), c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert call: %w", err)
	}
	return c, nil
}

// AddSegments appends segments to a call in the given order.
func (q *Queries) AddSegments(ctx context.Context, callID string, segs []models.SegmentInput) ([]models.TranscriptSegment, error) {
	var offset int
	if err := q.queryRow(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM transcript_segments WHERE call_id = ?`, callID,
	).Scan(&offset); err != nil {
		return nil, fmt.Errorf("segment offset: %w", err)
	}

	now := time.Now().UTC()
	out := make([]models.TranscriptSegment, 0, len(segs))
	for i, s := range segs {
		speaker := s.Speaker
		if speaker == "" {
			speaker = models.SpeakerUnknown
		}
		seg := models.TranscriptSegment{
			ID:        uuid.NewString(),
			CallID:    callID,
			Speaker:   speaker,
			Text:      s.Text,
			StartMs:   s.StartMs,
			EndMs:     s.EndMs,
			CreatedAt: now,
		}
		_, err := q.exec(ctx,
			`INSERT INTO transcript_segments (id, call_id, seq, speaker, text, start_time_ms, end_time_ms, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			seg.ID, callID, offset+i, string(seg.Speaker), seg.Text, nullInt(seg.StartMs), nullInt(seg.EndMs), seg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("insert segment %d: %w", i, err)
		}
		out = append(out, seg)
	}
	return out, nil
}

// CreateAnalysis appends an analysis payload to a call.
func (q *Queries) CreateAnalysis(ctx context.Context, callID string, kind models.AnalysisKind, payload any) (*models.CallAnalysis, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	a := &models.CallAnalysis{
		ID:        uuid.NewString(),
		CallID:    callID,
		Kind:      kind,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}
	_, err = q.exec(ctx,
		`INSERT INTO call_analyses (id, call_id, analysis_type, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.CallID, string(a.Kind), string(raw), a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert analysis: %w", err)
	}
	return a, nil
}

// GetCall returns a call with its segments (in order) and analyses.
func (q *Queries) GetCall(ctx context.Context, id string) (*models.CallDetail, error) {
	row := q.queryRow(ctx,
		`SELECT id, source, external_id, started_at, ended_at, metadata, created_at FROM calls WHERE id = ?`, id)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	detail := &models.CallDetail{
		Call:     *c,
		Segments: []models.TranscriptSegment{},
		Analyses: []models.CallAnalysis{},
	}

	rows, err := q.query(ctx,
		`SELECT id, call_id, speaker, text, start_time_ms, end_time_ms, created_at
		 FROM transcript_segments WHERE call_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var s models.TranscriptSegment
		var speaker string
		var start, end sql.NullInt64
		if err = rows.Scan(&s.ID, &s.CallID, &speaker, &s.Text, &start, &end, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Speaker = models.Speaker(speaker)
		s.StartMs = int64Ptr(start)
		s.EndMs = int64Ptr(end)
		detail.Segments = append(detail.Segments, s)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	analyses, _, err := q.ListAnalyses(ctx, AnalysisFilter{CallID: id, Limit: -1})
	if err != nil {
		return nil, err
	}
	detail.Analyses = analyses
	return detail, nil
}

// ListCalls returns a page of calls, newest start first, and the total count.
func (q *Queries) ListCalls(ctx context.Context, f CallFilter) ([]models.Call, int, error) {
	where, args := "", []any{}
	if f.Source != "" {
		where = " WHERE source = ?"
		args = append(args, f.Source)
	}

	var total int
	if err := q.queryRow(ctx, `SELECT COUNT(*) FROM calls`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := page(f.Limit, f.Offset)
	rows, err := q.query(ctx,
		`SELECT id, source, external_id, started_at, ended_at, metadata, created_at FROM calls`+where+
			` ORDER BY started_at DESC NULLS LAST, created_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	calls := []models.Call{}
	for rows.Next() {
		c, scanErr := scanCall(rows)
		if scanErr != nil {
			return nil, 0, scanErr
		}
		calls = append(calls, *c)
	}
	return calls, total, rows.Err()
}

// ListAnalyses returns a page of analyses, newest first, and the total count.
// A negative Limit returns every matching row.
func (q *Queries) ListAnalyses(ctx context.Context, f AnalysisFilter) ([]models.CallAnalysis, int, error) {
	var conds []string
	var args []any
	if f.CallID != "" {
		conds = append(conds, "call_id = ?")
		args = append(args, f.CallID)
	}
	if f.Kind != "" {
		conds = append(conds, "analysis_type = ?")
		args = append(args, string(f.Kind))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := q.queryRow(ctx, `SELECT COUNT(*) FROM call_analyses`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	stmt := `SELECT id, call_id, analysis_type, payload, created_at FROM call_analyses` + where +
		` ORDER BY created_at DESC`
	if f.Limit >= 0 {
		limit, offset := page(f.Limit, f.Offset)
		stmt += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := q.query(ctx, stmt, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []models.CallAnalysis{}
	for rows.Next() {
		var a models.CallAnalysis
		var kind, payload string
		if err = rows.Scan(&a.ID, &a.CallID, &kind, &payload, &a.CreatedAt); err != nil {
			return nil, 0, err
		}
		a.Kind = models.AnalysisKind(kind)
		a.Payload = json.RawMessage(payload)
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// DeleteCall removes a call; segments and analyses cascade.
func (q *Queries) DeleteCall(ctx context.Context, id string) error {
	res, err := q.exec(ctx, `DELETE FROM calls WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(r rowScanner) (*models.Call, error) {
	var c models.Call
	var source, meta string
	var ext sql.NullString
	var started, ended sql.NullTime
	if err := r.Scan(&c.ID, &source, &ext, &started, &ended, &meta, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Source = models.Source(source)
	if ext.Valid {
		c.ExternalID = &ext.String
	}
	if started.Valid {
		c.StartedAt = &started.Time
	}
	if ended.Valid {
		c.EndedAt = &ended.Time
	}
	c.Metadata = map[string]any{}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for call %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
