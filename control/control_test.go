package control

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, WriteModeReadiness, cfg.Server.WriteMode)
	assert.Equal(t, 5*time.Second, cfg.Delivery.AckTimeout)
	assert.Equal(t, 3, cfg.Delivery.MaxRetries)
	assert.Equal(t, time.Second, cfg.Delivery.ScanInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Pipeline.PollInterval)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 5432, cfg.Store.Postgres.Port)
	assert.Equal(t, map[time.Duration]int{time.Second: 10, time.Minute: 60}, cfg.Server.AcceptRates())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: "127.0.0.1:9999"
  write_mode: pool
delivery:
  ack_timeout: 2s
store:
  driver: memory
`), 0o600))
	t.Setenv("HIOCHAT_DELIVERY_MAX_RETRIES", "7")

	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, WriteModePool, cfg.Server.WriteMode)
	assert.Equal(t, 2*time.Second, cfg.Delivery.AckTimeout)
	assert.Equal(t, 7, cfg.Delivery.MaxRetries)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  write_mode: turbo\n"), 0o600))
	_, err := Load(path, zerolog.Nop())
	assert.ErrorContains(t, err, "write_mode")
}

func TestReloadNotifiesListeners(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o600))
	l := NewLoader(path, zerolog.Nop())
	_, err := l.Load()
	require.NoError(t, err)

	var got []string
	l.OnReload(func(c Config) { got = append(got, c.Log.Level) })

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))
	require.NoError(t, l.v.ReadInConfig())
	l.reload(path)
	assert.Equal(t, []string{"debug"}, got)
	assert.Equal(t, "debug", l.Current().Log.Level)

	// An invalid edit keeps the previous config.
	require.NoError(t, os.WriteFile(path, []byte("server:\n  write_mode: turbo\n"), 0o600))
	require.NoError(t, l.v.ReadInConfig())
	l.reload(path)
	assert.Len(t, got, 1)
	assert.Equal(t, "debug", l.Current().Log.Level)
}

func TestMetricsRegistry(t *testing.T) {
	mr := NewMetricsRegistry()
	assert.True(t, mr.Updated().IsZero())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				mr.Inc("frames")
			}
		}()
	}
	wg.Wait()
	mr.Add("bytes", 42)
	mr.Set("mode", "readiness")

	assert.EqualValues(t, 800, mr.Counter("frames"))
	snap := mr.GetSnapshot()
	assert.EqualValues(t, 42, snap["bytes"])
	assert.Equal(t, "readiness", snap["mode"])
	assert.False(t, mr.Updated().IsZero())
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	dp.RegisterProbe("queue.depth", func() any { return 3 })
	assert.Contains(t, dp.Names(), "platform.cpus")
	state := dp.DumpState()
	assert.Equal(t, 3, state["queue.depth"])
	assert.Positive(t, state["platform.cpus"])
}

func TestDefaultIsValid(t *testing.T) {
	t.Setenv("HIOCHAT_SERVER_ADDR", ":1")
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "lobby", cfg.Server.AutoJoinRoom)
}
