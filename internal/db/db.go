// Package db is the relational store of the bot: administrators, scheduled
// jobs and the audit trail, kept in SQLite.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"admin-activead/internal/common"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS admins (
	user_id  INTEGER PRIMARY KEY,
	added_by INTEGER,
	added_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	job_type   TEXT NOT NULL,
	sam        TEXT NOT NULL,
	run_at     INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'SCHEDULED',
	created_by INTEGER NOT NULL,
	meta       TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_run ON jobs(status, run_at);

UPDATE jobs SET status = 'CANCELLED'
WHERE status = 'SCHEDULED' AND id NOT IN (
	SELECT MIN(id) FROM jobs WHERE status = 'SCHEDULED' GROUP BY sam, run_at
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_scheduled_once ON jobs(sam, run_at) WHERE status = 'SCHEDULED';

CREATE TABLE IF NOT EXISTS audit_logs (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      INTEGER NOT NULL,
	user_id INTEGER,
	action  TEXT NOT NULL,
	target  TEXT,
	details TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_logs(ts);
`

// AuditRecord is one row of audit_logs. UserID and Target are nil when
// the action had no actor or no target.
type AuditRecord struct {
	ID      int64     `json:"id"`
	TS      time.Time `json:"ts"`
	UserID  *int64    `json:"userId,omitempty"`
	Action  string    `json:"action"`
	Target  *string   `json:"target,omitempty"`
	Details string    `json:"details,omitempty"`
}

// DB wraps the SQLite handle together with the role configuration.
type DB struct {
	sql          *sql.DB
	loc          *time.Location
	superAdminID int64
	now          func() time.Time

	mu        sync.RWMutex
	listeners []func(AuditRecord)
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database. superAdminID of 0 means no superadmin.
func Open(path string, loc *time.Location, superAdminID int64) (*DB, error) {
	if loc == nil {
		loc = time.UTC
	}

	dsn := path
	memory := path == ":memory:"
	if !memory {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// every pooled connection would otherwise get its own empty database
		sqlDB.SetMaxOpenConns(1)
	}

	d := &DB{
		sql:          sqlDB,
		loc:          loc,
		superAdminID: superAdminID,
		now:          time.Now,
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// Location returns the timezone used for timestamps.
func (d *DB) Location() *time.Location {
	return d.loc
}

// SuperAdminID returns the configured superadmin, 0 if none.
func (d *DB) SuperAdminID() int64 {
	return d.superAdminID
}

// OnAudit registers fn to be called after every stored audit record.
func (d *DB) OnAudit(fn func(AuditRecord)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

func (d *DB) IsSuperAdmin(uid int64) bool {
	return d.superAdminID != 0 && uid == d.superAdminID
}

// IsAdmin reports whether uid may use the bot. The superadmin always may.
func (d *DB) IsAdmin(ctx context.Context, uid int64) (bool, error) {
	if d.IsSuperAdmin(uid) {
		return true, nil
	}
	var one int
	err := d.sql.QueryRowContext(ctx, "SELECT 1 FROM admins WHERE user_id = ?", uid).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query admin %d: %w", uid, err)
	}
	return true, nil
}

// Role returns superadmin, admin or user for uid.
func (d *DB) Role(ctx context.Context, uid int64) (string, error) {
	if d.IsSuperAdmin(uid) {
		return common.RoleSuperAdmin, nil
	}
	ok, err := d.IsAdmin(ctx, uid)
	if err != nil {
		return "", err
	}
	if ok {
		return common.RoleAdmin, nil
	}
	return common.RoleUser, nil
}

// AddAdmin grants the admin role. It returns false if uid already had it.
func (d *DB) AddAdmin(ctx context.Context, uid, actor int64) (bool, error) {
	res, err := d.sql.ExecContext(ctx,
		"INSERT OR IGNORE INTO admins(user_id, added_by, added_at) VALUES (?, ?, ?)",
		uid, nullInt(actor), d.now().Unix())
	if err != nil {
		return false, fmt.Errorf("add admin %d: %w", uid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add admin %d: %w", uid, err)
	}
	if err := d.Audit(ctx, actor, common.AuditAddAdmin, fmt.Sprint(uid), nil); err != nil {
		return false, err
	}
	return n == 1, nil
}

// RemoveAdmin revokes the admin role. It returns false if uid was not an admin.
func (d *DB) RemoveAdmin(ctx context.Context, uid, actor int64) (bool, error) {
	res, err := d.sql.ExecContext(ctx, "DELETE FROM admins WHERE user_id = ?", uid)
	if err != nil {
		return false, fmt.Errorf("remove admin %d: %w", uid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove admin %d: %w", uid, err)
	}
	if err := d.Audit(ctx, actor, common.AuditRemoveAdmin, fmt.Sprint(uid), nil); err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListAdmins returns admin ids in ascending order. The lookup is audited.
func (d *DB) ListAdmins(ctx context.Context, actor int64) ([]int64, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT user_id FROM admins ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	// release the connection before auditing; :memory: has only one
	rows.Close()

	if err := d.Audit(ctx, actor, common.AuditListAdmins, "", nil); err != nil {
		return nil, err
	}
	return ids, nil
}

// Audit stores an audit record. An actor of 0 and an empty target are stored
// as NULL; details are JSON-encoded.
func (d *DB) Audit(ctx context.Context, actor int64, action, target string, details map[string]any) error {
	var detailsText sql.NullString
	if len(details) > 0 {
		data, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		detailsText = sql.NullString{String: string(data), Valid: true}
	}

	ts := d.now().In(d.loc)
	res, err := d.sql.ExecContext(ctx,
		"INSERT INTO audit_logs(ts, user_id, action, target, details) VALUES (?, ?, ?, ?, ?)",
		ts.Unix(), nullInt(actor), action, nullString(target), detailsText)
	if err != nil {
		return fmt.Errorf("insert audit %s: %w", action, err)
	}

	id, _ := res.LastInsertId()
	rec := AuditRecord{ID: id, TS: time.Unix(ts.Unix(), 0).In(d.loc), Action: action, Details: detailsText.String}
	if actor != 0 {
		a := actor
		rec.UserID = &a
	}
	if target != "" {
		tg := target
		rec.Target = &tg
	}

	d.mu.RLock()
	listeners := append([]func(AuditRecord){}, d.listeners...)
	d.mu.RUnlock()
	for _, fn := range listeners {
		fn(rec)
	}
	return nil
}

// AuditLog returns the newest records first.
func (d *DB) AuditLog(ctx context.Context, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx,
		"SELECT id, ts, user_id, action, target, details FROM audit_logs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			rec     AuditRecord
			ts      int64
			userID  sql.NullInt64
			target  sql.NullString
			details sql.NullString
		)
		if err := rows.Scan(&rec.ID, &ts, &userID, &rec.Action, &target, &details); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		rec.TS = time.Unix(ts, 0).In(d.loc)
		if userID.Valid {
			v := userID.Int64
			rec.UserID = &v
		}
		if target.Valid {
			v := target.String
			rec.Target = &v
		}
		rec.Details = details.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
