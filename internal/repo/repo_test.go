package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"updock/internal/db"
	"updock/internal/domain"
	"updock/internal/migrate"
	"updock/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetMaxOpenConns(1)
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, conn
}

func intent(id, createdAt string, criteria domain.Criteria, enabled bool) domain.Intent {
	return domain.Intent{ID: id, Enabled: enabled, Criteria: criteria, CreatedAt: createdAt}
}

func TestInsertIntentRejectsInvalidCriteria(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	bad := domain.Criteria{Kind: domain.CriteriaImageRepo, ImageRepo: "nginx", ContainerName: "web"}
	err := r.InsertIntent(ctx, intent("i1", "2026-08-01T00:00:00Z", bad, false))
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	empty := domain.Criteria{Kind: domain.CriteriaContainerName}
	if err := r.InsertIntent(ctx, intent("i2", "2026-08-01T00:00:00Z", empty, false)); err == nil {
		t.Fatal("expected empty container name to be rejected")
	}
}

func TestIntentRoundTrip(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	c, _ := domain.NewStackServiceCriteria("media", "plex")
	in := intent("i1", "2026-08-01T00:00:00Z", c, true)
	in.Description = "keep plex fresh"
	if err := r.InsertIntent(ctx, in); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := r.GetIntent(ctx, "i1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != in {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, in)
	}

	if _, err := r.GetIntent(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListEnabledIntentsOrder(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	c1, _ := domain.NewImageRepoCriteria("nginx")
	c2, _ := domain.NewContainerNameCriteria("web")
	c3, _ := domain.NewImageRepoCriteria("redis")
	must(t, r.InsertIntent(ctx, intent("newer", "2026-08-02T00:00:00Z", c1, true)))
	must(t, r.InsertIntent(ctx, intent("older", "2026-08-01T00:00:00Z", c2, true)))
	must(t, r.InsertIntent(ctx, intent("off", "2026-08-01T12:00:00Z", c3, false)))

	items, err := r.ListEnabledIntents(ctx)
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(items) != 2 || items[0].ID != "older" || items[1].ID != "newer" {
		t.Fatalf("wrong order or content: %+v", items)
	}
}

func TestSetEnabledAndDelete(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()

	c, _ := domain.NewContainerNameCriteria("web")
	must(t, r.InsertIntent(ctx, intent("i1", "2026-08-01T00:00:00Z", c, false)))

	inTx(t, conn, func(tx *sql.Tx) error { return r.SetIntentEnabled(ctx, tx, "i1", true) })
	got, _ := r.GetIntent(ctx, "i1")
	if !got.Enabled {
		t.Fatal("intent should be enabled")
	}

	inTx(t, conn, func(tx *sql.Tx) error { return r.DeleteIntent(ctx, tx, "i1") })
	if _, err := r.GetIntent(ctx, "i1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	tx, _ := conn.BeginTx(ctx, nil)
	defer tx.Rollback()
	if err := r.SetIntentEnabled(ctx, tx, "missing", true); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("toggle on missing intent: got %v", err)
	}
	if err := r.DeleteIntent(ctx, tx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("delete on missing intent: got %v", err)
	}
}

func upgrade(id, container, endpoint, status string, durationMs int64) domain.UpgradeRecord {
	return domain.UpgradeRecord{
		ID:            id,
		ContainerID:   "cid-" + id,
		ContainerName: container,
		EndpointName:  endpoint,
		OldVersion:    "1.0",
		NewVersion:    "1.1",
		Status:        status,
		StartedAt:     "2026-08-01T00:00:00Z",
		EndedAt:       "2026-08-01T00:01:00Z",
		DurationMs:    durationMs,
	}
}

func appendUpgrade(t *testing.T, r repo.Repo, conn *sql.DB, rec domain.UpgradeRecord) {
	t.Helper()
	inTx(t, conn, func(tx *sql.Tx) error { return r.AppendUpgrade(context.Background(), tx, rec) })
}

func TestLedgerInsertionOrderAndFilters(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()

	appendUpgrade(t, r, conn, upgrade("u1", "plex", "local", domain.UpgradeSuccess, 10000))
	appendUpgrade(t, r, conn, upgrade("u2", "web", "remote", domain.UpgradeFailed, 0))
	appendUpgrade(t, r, conn, upgrade("u3", "plex", "local", domain.UpgradeSuccess, 20000))

	all, err := r.ListUpgrades(ctx, repo.HistoryFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != "u1" || all[2].ID != "u3" {
		t.Fatalf("insertion order broken: %+v", all)
	}

	byName, _ := r.ListUpgrades(ctx, repo.HistoryFilters{ContainerName: "plex"})
	if len(byName) != 2 {
		t.Fatalf("container filter returned %d rows, want 2", len(byName))
	}
	byStatus, _ := r.ListUpgrades(ctx, repo.HistoryFilters{Status: domain.UpgradeFailed})
	if len(byStatus) != 1 || byStatus[0].ID != "u2" {
		t.Fatalf("status filter wrong: %+v", byStatus)
	}
	byEndpoint, _ := r.ListUpgrades(ctx, repo.HistoryFilters{Endpoints: domain.NewEndpointSet("remote")})
	if len(byEndpoint) != 1 || byEndpoint[0].ID != "u2" {
		t.Fatalf("endpoint filter wrong: %+v", byEndpoint)
	}
	paged, _ := r.ListUpgrades(ctx, repo.HistoryFilters{Limit: 1, Offset: 1})
	if len(paged) != 1 || paged[0].ID != "u2" {
		t.Fatalf("pagination wrong: %+v", paged)
	}
}

func TestLedgerIsAppendOnly(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()

	appendUpgrade(t, r, conn, upgrade("u1", "plex", "local", domain.UpgradeSuccess, 10000))
	first, err := r.GetUpgrade(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	for i := 0; i < 5; i++ {
		appendUpgrade(t, r, conn, upgrade(fmt.Sprintf("more-%d", i), "web", "local", domain.UpgradeSuccess, 1000))
	}

	again, err := r.GetUpgrade(ctx, "u1")
	if err != nil {
		t.Fatalf("get after appends: %v", err)
	}
	if again != first {
		t.Fatalf("record changed across reads:\n got %+v\nwant %+v", again, first)
	}
	all, _ := r.ListUpgrades(ctx, repo.HistoryFilters{})
	if len(all) != 6 {
		t.Fatalf("rows went missing: %d, want 6", len(all))
	}
}

func TestStatsUpgrades(t *testing.T) {
	r, conn := newTestRepo(t)
	ctx := context.Background()

	appendUpgrade(t, r, conn, upgrade("u1", "a", "local", domain.UpgradeSuccess, 10000))
	appendUpgrade(t, r, conn, upgrade("u2", "b", "local", domain.UpgradeSuccess, 20000))
	appendUpgrade(t, r, conn, upgrade("u3", "c", "local", domain.UpgradeFailed, 90000))

	s, err := r.StatsUpgrades(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.Total != 3 || s.SuccessCount != 2 || s.FailedCount != 1 {
		t.Fatalf("counts wrong: %+v", s)
	}
	if s.AvgDurationMs != 40000 {
		t.Fatalf("avg duration = %v, want 40000", s.AvgDurationMs)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func inTx(t *testing.T, conn *sql.DB, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := conn.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatalf("tx op: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}
