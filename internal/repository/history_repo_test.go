package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/QingMing-Bot/clore-ops-bot/internal/domain"
	_ "modernc.org/sqlite"
)

func openMemHistory(t *testing.T) *HistoryRepo {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	// :memory: 每个连接一份独立数据库
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	repo := NewHistoryRepo(db)
	if err := repo.EnsureSchema(); err != nil {
		t.Fatal(err)
	}
	if err := repo.EnsureSchema(); err != nil {
		t.Fatalf("schema not idempotent: %v", err)
	}
	return repo
}

func TestHistoryRepo_InsertAndFilter(t *testing.T) {
	repo := openMemHistory(t)
	rows := []domain.ExecHistory{
		{DispatchID: "d1", InstanceID: 42, Host: "n1.clore.ai", Port: 40022, AuthMethod: "public_key", Command: "uptime", Failure: "none"},
		{DispatchID: "d2", InstanceID: 43, Host: "n2.clore.ai", Port: 22, AuthMethod: "public_key", Bulk: true, Command: "df -h", Failure: "none", ExitCode: 1},
		{DispatchID: "d2", InstanceID: 44, Host: "n3.clore.ai", Port: 22, AuthMethod: "public_key", Bulk: true, Command: "df -h", Failure: "unknown", ErrorText: "timeout"},
	}
	for i := range rows {
		if err := repo.Insert(&rows[i]); err != nil {
			t.Fatal(err)
		}
		if rows[i].ID == 0 {
			t.Fatalf("id not assigned")
		}
	}

	all, err := repo.ListFiltered(10, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(all))
	}
	if all[0].InstanceID != 44 {
		t.Fatalf("expected newest first, got %d", all[0].InstanceID)
	}
	if !all[0].Bulk || all[0].ErrorText != "timeout" || all[0].Failure != "unknown" {
		t.Fatalf("fields not round-tripped: %+v", all[0])
	}

	byHost, err := repo.ListFiltered(10, "n1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(byHost) != 1 || byHost[0].Command != "uptime" {
		t.Fatalf("host filter: %+v", byHost)
	}
	byCmd, err := repo.ListFiltered(10, "", "df")
	if err != nil {
		t.Fatal(err)
	}
	if len(byCmd) != 2 {
		t.Fatalf("cmd filter: got %d", len(byCmd))
	}
}

func TestHistoryRepo_Cleanup(t *testing.T) {
	repo := openMemHistory(t)
	now := time.Now()
	for i := 0; i < 5; i++ {
		h := domain.ExecHistory{InstanceID: 1, Host: "1.1.1.1", Command: "cmd", StartedAt: now.Add(-time.Duration(i) * 24 * time.Hour), FinishedAt: now.Add(-time.Duration(i) * 24 * time.Hour)}
		if err := repo.Insert(&h); err != nil {
			t.Fatal(err)
		}
	}
	// 只保留最近 2 天
	if err := repo.Cleanup(2, 0); err != nil {
		t.Fatalf("cleanup err: %v", err)
	}
	rows, err := repo.ListFiltered(10, "", "")
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if now.Sub(r.StartedAt) > 48*time.Hour {
			t.Fatalf("row older than retention remains: %v", r.StartedAt)
		}
	}
	if err := repo.Cleanup(0, 1); err != nil {
		t.Fatalf("cleanup rows err: %v", err)
	}
	rows, err = repo.ListFiltered(10, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row remained, got %d", len(rows))
	}
}

func TestHistoryRepo_ViaInterface(t *testing.T) {
	var repo HistoryRepoIface = openMemHistory(t)
	old := time.Now().Add(-72 * time.Hour)
	for _, h := range []domain.ExecHistory{
		{InstanceID: 1, Command: "uptime", Failure: "none", StartedAt: old, FinishedAt: old},
		{InstanceID: 2, Command: "uptime", Failure: "connection"},
	} {
		if err := repo.Insert(&h); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.Cleanup(1, 0); err != nil {
		t.Fatal(err)
	}
	rows, err := repo.ListFiltered(10, "", "uptime")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].InstanceID != 2 || rows[0].Failure != "connection" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}
