package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/QingMing-Bot/clore-ops-bot/internal/domain"
)

const historyColumns = `id,dispatch_id,instance_id,host,port,auth_method,bulk,command,exit_code,failure,error_text,started_at,finished_at,duration_ms`

type HistoryRepo struct{ db *sql.DB }

func NewHistoryRepo(db *sql.DB) *HistoryRepo { return &HistoryRepo{db: db} }

// EnsureSchema 建表（幂等）
func (r *HistoryRepo) EnsureSchema() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS exec_audit(
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        dispatch_id TEXT,
        instance_id INTEGER,
        host TEXT,
        port INTEGER,
        auth_method TEXT,
        bulk INTEGER,
        command TEXT,
        exit_code INTEGER,
        failure TEXT,
        error_text TEXT,
        started_at TIMESTAMP,
        finished_at TIMESTAMP,
        duration_ms INTEGER)`)
	if err != nil {
		return fmt.Errorf("create exec_audit: %w", err)
	}
	_, err = r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_exec_audit_started ON exec_audit(started_at)`)
	return err
}

func (r *HistoryRepo) Insert(h *domain.ExecHistory) error {
	now := time.Now()
	if h.StartedAt.IsZero() {
		h.StartedAt = now
	}
	if h.FinishedAt.IsZero() {
		h.FinishedAt = now
	}
	res, err := r.db.Exec(`INSERT INTO exec_audit(dispatch_id,instance_id,host,port,auth_method,bulk,command,exit_code,failure,error_text,started_at,finished_at,duration_ms)
        VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`, h.DispatchID, h.InstanceID, h.Host, h.Port, h.AuthMethod, h.Bulk, h.Command, h.ExitCode, h.Failure, h.ErrorText, h.StartedAt, h.FinishedAt, h.DurationMs)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	h.ID = id
	return nil
}

// ListFiltered 支持按 host 与 command 关键字过滤 (模糊匹配)。传空表示忽略该条件。
func (r *HistoryRepo) ListFiltered(limit int, host, cmdLike string) ([]domain.ExecHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	where := ""
	args := []any{}
	if host != "" {
		where += " AND host LIKE ?"
		args = append(args, "%"+host+"%")
	}
	if cmdLike != "" {
		where += " AND command LIKE ?"
		args = append(args, "%"+cmdLike+"%")
	}
	q := `SELECT ` + historyColumns + ` FROM exec_audit WHERE 1=1` + where + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []domain.ExecHistory
	for rows.Next() {
		var h domain.ExecHistory
		if err := rows.Scan(&h.ID, &h.DispatchID, &h.InstanceID, &h.Host, &h.Port, &h.AuthMethod, &h.Bulk, &h.Command, &h.ExitCode, &h.Failure, &h.ErrorText, &h.StartedAt, &h.FinishedAt, &h.DurationMs); err != nil {
			return nil, err
		}
		list = append(list, h)
	}
	return list, rows.Err()
}

// Cleanup 根据保留天数与最大行数裁剪
func (r *HistoryRepo) Cleanup(retentionDays, maxRows int) error {
	if retentionDays > 0 {
		cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
		if _, err := r.db.Exec(`DELETE FROM exec_audit WHERE started_at < ?`, cutoff); err != nil {
			return fmt.Errorf("cleanup by age: %w", err)
		}
	}
	if maxRows > 0 {
		// 删除超过 maxRows 的最旧行
		if _, err := r.db.Exec(`DELETE FROM exec_audit WHERE id IN (SELECT id FROM exec_audit ORDER BY id DESC LIMIT -1 OFFSET ?)`, maxRows); err != nil {
			return fmt.Errorf("cleanup by rows: %w", err)
		}
	}
	return nil
}
