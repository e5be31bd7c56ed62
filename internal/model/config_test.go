package model

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultAppConfig(), cfg)
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultAppConfig()
	cfg.Scheduler.DueSoonDays = 5
	cfg.Scheduler.BusinessHours.Enabled = true
	cfg.Server.Addr = ":9090"
	require.NoError(t, SaveConfig(path, cfg))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Scheduler.DueSoonDays)
	assert.True(t, got.Scheduler.BusinessHours.Enabled)
	assert.Equal(t, ":9090", got.Server.Addr)
	assert.Equal(t, 32, got.Stream.BufferSize)
}

func TestLoader_EnvAndFlagOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("TRACKER_SERVER_ADDR", ":7001")
	t.Setenv("TRACKER_SCHEDULER_DUE_SOON_DAYS", "7")

	l, err := NewLoader(path, nil)
	require.NoError(t, err)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, ":7001", cfg.Server.Addr)
	assert.Equal(t, 7, cfg.Scheduler.DueSoonDays)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("addr", "", "")
	fs.String("db", "", "")
	require.NoError(t, fs.Parse([]string{"--addr", ":7002"}))

	l, err = NewLoader(path, fs)
	require.NoError(t, err)
	cfg, err = l.Load()
	require.NoError(t, err)
	assert.Equal(t, ":7002", cfg.Server.Addr)
	assert.Equal(t, DefaultDatabasePath(), cfg.Database.Path)
}

func TestSchedulerConfig_Location(t *testing.T) {
	assert.Equal(t, time.UTC, SchedulerConfig{}.Location())
	assert.Equal(t, time.UTC, SchedulerConfig{Timezone: "Not/AZone"}.Location())
	assert.Equal(t, "UTC", SchedulerConfig{Timezone: "UTC"}.Location().String())
}

func TestMetadataRoundTrip(t *testing.T) {
	m := Metadata{"daysPastDue": 3, "dueDate": "2026-04-01"}
	v, err := m.Value()
	require.NoError(t, err)

	var got Metadata
	require.NoError(t, got.Scan(v))
	days, ok := got.Int("daysPastDue")
	require.True(t, ok)
	assert.Equal(t, 3, days)

	_, ok = got.Int("dueDate")
	assert.False(t, ok)

	var empty Metadata
	require.NoError(t, empty.Scan(nil))
	assert.Nil(t, empty)
	assert.Error(t, empty.Scan(42))
}

func TestNotificationTypeValid(t *testing.T) {
	for _, typ := range NotificationTypes {
		assert.True(t, typ.Valid(), typ)
	}
	assert.False(t, NotificationType("TASK_DELETED").Valid())
	assert.Equal(t, "TASK_OVERDUE:t1:u1", DedupKey(NotificationTaskOverdue, "t1", "u1"))
}
