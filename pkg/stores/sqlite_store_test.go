package stores

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/openfroyo/lxd-inventory/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

// testRun builds a finished run with the given hostnames, all in lxd_containers.
func testRun(id string, started time.Time, hostnames ...string) *engine.Run {
	inv := &engine.Inventory{
		Hostvars: map[string]*engine.ResolvedHost{},
		Groups:   map[string][]string{},
	}
	for _, h := range hostnames {
		inv.Hostvars[h] = &engine.ResolvedHost{
			Name:        h,
			Hostname:    h,
			Type:        engine.InstanceTypeContainer,
			Status:      "Running",
			Profiles:    []string{"default"},
			Project:     "default",
			Endpoint:    "lab",
			EndpointURL: "https://lab:8443",
			AnsibleHost: "10.0.0.1",
			IPs:         []string{"10.0.0.1"},
		}
		inv.Groups[engine.GroupAll] = append(inv.Groups[engine.GroupAll], h)
		inv.Groups["lxd_containers"] = append(inv.Groups["lxd_containers"], h)
	}

	return &engine.Run{
		ID:         id,
		Status:     engine.RunStatusSucceeded,
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
		Endpoints:  []string{"lab"},
		Discovered: len(hostnames) + 1,
		Included:   len(hostnames),
		Inventory:  inv,
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	// Migrating twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}

	store, _ := NewSQLiteStore(Config{Path: "unused.db"})
	if err := store.HealthCheck(context.Background()); err == nil {
		t.Error("health check should fail before Init")
	}
	if err := store.Migrate(context.Background()); err == nil {
		t.Error("migrate should fail before Init")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "run_hosts"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestRecordAndGetRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := testRun("run-1", started, "web1", "db1")
	run.Errors = 1
	run.Status = engine.RunStatusPartial

	if err := store.RecordRun(ctx, run, "/etc/lxd-inventory/config.yml"); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != engine.RunStatusPartial || got.Hosts != 2 || got.Included != 2 || got.Discovered != 3 || got.Errors != 1 {
		t.Errorf("run = %+v", got)
	}
	if !got.StartedAt.Equal(started) || got.Duration() != 2*time.Second {
		t.Errorf("times = %v .. %v", got.StartedAt, got.FinishedAt)
	}
	if !slices.Equal(got.Endpoints, []string{"lab"}) || got.ConfigPath != "/etc/lxd-inventory/config.yml" {
		t.Errorf("run = %+v", got)
	}

	hosts, err := store.ListRunHosts(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListRunHosts() error = %v", err)
	}
	if len(hosts) != 2 || hosts[0].Hostname != "db1" || hosts[1].Hostname != "web1" {
		t.Fatalf("hosts = %+v", hosts)
	}
	h := hosts[1]
	if h.AnsibleHost == nil || *h.AnsibleHost != "10.0.0.1" {
		t.Errorf("ansible_host = %v", h.AnsibleHost)
	}
	if !slices.Equal(h.Groups, []string{engine.GroupAll, "lxd_containers"}) {
		t.Errorf("groups = %v", h.Groups)
	}
	if h.Hostvars == "" || h.Type != engine.InstanceTypeContainer || h.Endpoint != "lab" {
		t.Errorf("host = %+v", h)
	}
}

func TestRecordRunRejectsUnfinished(t *testing.T) {
	store := setupTestStore(t)

	run := testRun("run-1", time.Now())
	run.Status = engine.RunStatusRunning
	if err := store.RecordRun(context.Background(), run, ""); err == nil {
		t.Error("expected error for running run")
	}
	if err := store.RecordRun(context.Background(), nil, ""); err == nil {
		t.Error("expected error for nil run")
	}
}

func TestRecordRunDuplicate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := testRun("run-1", time.Now(), "web1")
	if err := store.RecordRun(ctx, run, ""); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}
	if err := store.RecordRun(ctx, run, ""); err == nil {
		t.Error("expected error for duplicate run id")
	}

	hosts, err := store.ListRunHosts(ctx, "run-1")
	if err != nil || len(hosts) != 1 {
		t.Errorf("failed insert should roll back, hosts = %d, %v", len(hosts), err)
	}
}

func TestRecordRunWithoutAddress(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := testRun("run-1", time.Now(), "stopped1")
	run.Inventory.Hostvars["stopped1"].AnsibleHost = ""
	if err := store.RecordRun(ctx, run, ""); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}

	hosts, err := store.ListRunHosts(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListRunHosts() error = %v", err)
	}
	if hosts[0].AnsibleHost != nil {
		t.Errorf("ansible_host = %v, want nil", *hosts[0].AnsibleHost)
	}
}

func TestListRunsAndLatest(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.LatestRun(ctx); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("LatestRun() on empty store = %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		if err := store.RecordRun(ctx, testRun(id, base.Add(time.Duration(i)*time.Minute), "web1"), ""); err != nil {
			t.Fatalf("RecordRun(%s) error = %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Errorf("runs = %v", runIDs(runs))
	}

	runs, err = store.ListRuns(ctx, 10, 2)
	if err != nil || len(runs) != 1 || runs[0].ID != "run-a" {
		t.Errorf("offset page = %v, %v", runIDs(runs), err)
	}

	latest, err := store.LatestRun(ctx)
	if err != nil || latest.ID != "run-c" {
		t.Errorf("LatestRun() = %v, %v", latest, err)
	}
}

func TestDeleteAndPruneRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c", "run-d"} {
		if err := store.RecordRun(ctx, testRun(id, base.Add(time.Duration(i)*time.Minute), "web1"), ""); err != nil {
			t.Fatalf("RecordRun(%s) error = %v", id, err)
		}
	}

	if err := store.DeleteRun(ctx, "run-d"); err != nil {
		t.Fatalf("DeleteRun() error = %v", err)
	}
	if err := store.DeleteRun(ctx, "run-d"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("second DeleteRun() = %v", err)
	}
	hosts, err := store.ListRunHosts(ctx, "run-d")
	if err != nil || len(hosts) != 0 {
		t.Errorf("hosts of deleted run = %d, %v", len(hosts), err)
	}

	pruned, err := store.PruneRuns(ctx, 1)
	if err != nil {
		t.Fatalf("PruneRuns() error = %v", err)
	}
	if pruned != 2 {
		t.Errorf("pruned = %d, want 2", pruned)
	}

	runs, _ := store.ListRuns(ctx, 10, 0)
	if len(runs) != 1 || runs[0].ID != "run-c" {
		t.Errorf("remaining = %v", runIDs(runs))
	}

	if _, err := store.PruneRuns(ctx, -1); err == nil {
		t.Error("expected error for negative keep")
	}
}

func TestDiffRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.RecordRun(ctx, testRun("before", base, "web1", "web2", "db1"), ""); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}
	if err := store.RecordRun(ctx, testRun("after", base.Add(time.Minute), "web1", "db1", "cache1"), ""); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}

	diff, err := store.DiffRuns(ctx, "before", "after")
	if err != nil {
		t.Fatalf("DiffRuns() error = %v", err)
	}
	if !slices.Equal(diff.Added, []string{"cache1"}) || !slices.Equal(diff.Removed, []string{"web2"}) {
		t.Errorf("diff = %+v", diff)
	}
	if diff.Empty() {
		t.Error("diff should not be empty")
	}

	same, err := store.DiffRuns(ctx, "after", "after")
	if err != nil || !same.Empty() {
		t.Errorf("self diff = %+v, %v", same, err)
	}

	if _, err := store.DiffRuns(ctx, "before", "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("DiffRuns() with unknown run = %v", err)
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.GetRun(context.Background(), "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun() = %v, want ErrRunNotFound", err)
	}
}

func runIDs(runs []*RunRecord) []string {
	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	return ids
}
