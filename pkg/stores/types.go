package stores

import (
	"context"
	"time"

	"github.com/openfroyo/lxd-inventory/pkg/engine"
)

// RunRecord is a persisted inventory run.
type RunRecord struct {
	ID         string           `json:"id"`
	Status     engine.RunStatus `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Endpoints  []string         `json:"endpoints"`
	Discovered int              `json:"discovered"`
	Included   int              `json:"included"`
	Hosts      int              `json:"hosts"`
	Errors     int              `json:"errors"`
	ConfigPath string           `json:"config_path,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Duration returns how long the run took.
func (r *RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// HostRecord is one host of a persisted inventory.
type HostRecord struct {
	RunID       string   `json:"run_id"`
	Hostname    string   `json:"hostname"`
	Name        string   `json:"lxd_name"`
	Project     string   `json:"lxd_project"`
	Endpoint    string   `json:"lxd_endpoint"`
	Status      string   `json:"lxd_status"`
	Type        string   `json:"lxd_type"`
	AnsibleHost *string  `json:"ansible_host,omitempty"`
	Groups      []string `json:"groups"`

	// Hostvars is the JSON encoding of the host's variables.
	Hostvars string `json:"hostvars"`
}

// HostDiff lists the hostnames that differ between two runs.
type HostDiff struct {
	From    string   `json:"from"`
	To      string   `json:"to"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// Empty reports whether both runs produced the same hostnames.
func (d *HostDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Store defines the interface for the run history.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	RecordRun(ctx context.Context, run *engine.Run, configPath string) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	LatestRun(ctx context.Context) (*RunRecord, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error)
	DeleteRun(ctx context.Context, id string) error
	PruneRuns(ctx context.Context, keep int) (int64, error)

	// Host operations
	ListRunHosts(ctx context.Context, runID string) ([]*HostRecord, error)
	DiffRuns(ctx context.Context, from, to string) (*HostDiff, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
