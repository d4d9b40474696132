package scheduler

import (
	"testing"
	"time"

	"github.com/gasmesh/gateway/internal/config"
)

// TestNewSkipsDisabledJobs confirms an empty cron expression disables a
// job instead of registering it with a zero-value schedule, since
// gocron.CronJob rejects an empty crontab string.
func TestNewSkipsDisabledJobs(t *testing.T) {
	cfg := config.ScheduleConfig{}

	s, err := New(cfg, nil, nil, nil, 0)
	if err != nil {
		t.Fatalf("New() with all jobs disabled returned error: %v", err)
	}
	if s == nil {
		t.Fatal("New() returned nil Scheduler")
	}
	if n := len(s.cron.Jobs()); n != 0 {
		t.Fatalf("New() with all jobs disabled registered %d jobs, want 0", n)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown() returned error: %v", err)
	}
}

// TestNewRegistersHealthSnapshotOnly exercises the partial-config path:
// only one of the three jobs enabled.
func TestNewRegistersHealthSnapshotOnly(t *testing.T) {
	cfg := config.ScheduleConfig{HealthSnapshotCron: "*/5 * * * *"}

	s, err := New(cfg, nil, nil, nil, 0)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	defer s.Shutdown()
}

// TestNewRejectsMalformedCron confirms a malformed cron expression
// surfaces as an error from New rather than panicking at Start.
func TestNewRejectsMalformedCron(t *testing.T) {
	cfg := config.ScheduleConfig{RetentionSweepCron: "not a cron expression"}

	_, err := New(cfg, nil, nil, nil, 24*time.Hour)
	if err == nil {
		t.Fatal("expected an error for a malformed cron expression, got nil")
	}
}

// TestRetentionSweepSkippedWithoutPositiveRetention confirms the
// retention job is not registered when the retention window is zero,
// even if its cron string is set — a zero window would delete
// everything on every tick.
func TestRetentionSweepSkippedWithoutPositiveRetention(t *testing.T) {
	cfg := config.ScheduleConfig{RetentionSweepCron: "0 4 * * *"}

	s, err := New(cfg, nil, nil, nil, 0)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	defer s.Shutdown()
	if n := len(s.cron.Jobs()); n != 0 {
		t.Fatalf("retention sweep registered with zero retention: %d jobs, want 0", n)
	}
}
