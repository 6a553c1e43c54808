package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/qris-classifier/internal/errs"
	"github.com/and161185/qris-classifier/internal/model"
	"github.com/gofrs/uuid/v5"
)

// LogRepo implements LogRepository using PostgreSQL.
type LogRepo struct{ db *DB }

// NewLogRepo constructs a log repository.
func NewLogRepo(db *DB) *LogRepo { return &LogRepo{db: db} }

const defaultListLimit = 100

// InsertRequest stores one request log row.
func (r *LogRepo) InsertRequest(ctx context.Context, l model.RequestLog) error {
	const q = `
INSERT INTO request_logs (request_id, user_id, endpoint, method, status_code, error_code, business_type, image_count, duration_ms, client_ip)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.Pool.Exec(ctx, q, l.RequestID, l.UserID, l.Endpoint, l.Method, l.StatusCode,
		l.ErrorCode, l.BusinessType, l.ImageCount, l.DurationMS, l.ClientIP)
	return err
}

// InsertSystem stores one system log row.
func (r *LogRepo) InsertSystem(ctx context.Context, l model.SystemLog) error {
	raw, err := json.Marshal(l.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `INSERT INTO system_logs (level, message, context) VALUES ($1, $2, $3)`,
		l.Level, l.Message, raw)
	return err
}

// filterClause renders WHERE ... ORDER BY ... LIMIT for a listing.
func filterClause(f model.LogFilter, withLevel bool) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}
	if withLevel && f.Level != "" {
		add("level = $%d", f.Level)
	}
	if !withLevel && f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	var b strings.Builder
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))
	return b.String(), args
}

// ListRequests returns request logs newest first.
func (r *LogRepo) ListRequests(ctx context.Context, f model.LogFilter) ([]model.RequestLog, error) {
	clause, args := filterClause(f, false)
	q := `SELECT id, request_id, user_id, endpoint, method, status_code, error_code, business_type, image_count, duration_ms, client_ip, created_at FROM request_logs` + clause
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RequestLog
	for rows.Next() {
		var l model.RequestLog
		var uid *uuid.UUID
		if err := rows.Scan(&l.ID, &l.RequestID, &uid, &l.Endpoint, &l.Method, &l.StatusCode, &l.ErrorCode,
			&l.BusinessType, &l.ImageCount, &l.DurationMS, &l.ClientIP, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.UserID = uid
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListSystem returns system logs newest first.
func (r *LogRepo) ListSystem(ctx context.Context, f model.LogFilter) ([]model.SystemLog, error) {
	clause, args := filterClause(f, true)
	rows, err := r.db.Pool.Query(ctx, `SELECT id, level, message, context, created_at FROM system_logs`+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SystemLog
	for rows.Next() {
		var l model.SystemLog
		var raw []byte
		if err := rows.Scan(&l.ID, &l.Level, &l.Message, &raw, &l.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &l.Context)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// RequestStats aggregates request logs since a point in time.
func (r *LogRepo) RequestStats(ctx context.Context, since time.Time) (model.RequestStats, error) {
	st := model.RequestStats{ByBusinessType: map[string]int64{}, ByStatus: map[int]int64{}}

	const totals = `
SELECT count(*), count(*) FILTER (WHERE status_code < 400), coalesce(avg(duration_ms), 0)::float8
FROM request_logs WHERE created_at >= $1`
	if err := r.db.Pool.QueryRow(ctx, totals, since).Scan(&st.Total, &st.Succeeded, &st.AvgDurationMS); err != nil {
		return st, err
	}
	st.Failed = st.Total - st.Succeeded

	const byType = `
SELECT business_type, count(*) FROM request_logs
WHERE created_at >= $1 AND business_type <> ''
GROUP BY business_type`
	rows, err := r.db.Pool.Query(ctx, byType, since)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var k string
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			rows.Close()
			return st, err
		}
		st.ByBusinessType[k] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	const byStatus = `SELECT status_code, count(*) FROM request_logs WHERE created_at >= $1 GROUP BY status_code`
	rows, err = r.db.Pool.Query(ctx, byStatus, since)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var code int
		var n int64
		if err := rows.Scan(&code, &n); err != nil {
			return st, err
		}
		st.ByStatus[code] = n
	}
	return st, rows.Err()
}

// Clear deletes logs older than before.
func (r *LogRepo) Clear(ctx context.Context, kind model.LogKind, before time.Time) (int64, error) {
	var tables []string
	switch kind {
	case model.LogKindRequest:
		tables = []string{"request_logs"}
	case model.LogKindSystem:
		tables = []string{"system_logs"}
	case model.LogKindAll:
		tables = []string{"request_logs", "system_logs"}
	default:
		return 0, fmt.Errorf("%w: log kind %q", errs.ErrInvalidInput, kind)
	}

	var total int64
	for _, t := range tables {
		tag, err := r.db.Pool.Exec(ctx, `DELETE FROM `+t+` WHERE created_at < $1`, before)
		if err != nil {
			return total, err
		}
		total += tag.RowsAffected()
	}
	return total, nil
}
