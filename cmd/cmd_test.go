package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"emperror.dev/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northstar-wraith/wraith/config"
	"github.com/northstar-wraith/wraith/dispatch"
	"github.com/northstar-wraith/wraith/server"
)

type fakeSupervisor struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSupervisor) call(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeSupervisor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSupervisor) Reload(context.Context) (server.ReloadResult, error) {
	f.call("reload")
	return server.ReloadResult{}, nil
}

func (f *fakeSupervisor) Restart(_ context.Context, name string) error {
	f.call("restart " + name)
	return nil
}

func (f *fakeSupervisor) RestartAll(context.Context) error {
	f.call("restartall")
	return nil
}

func (f *fakeSupervisor) StopOld(context.Context) ([]string, error) {
	f.call("stopold")
	return nil, nil
}

func (f *fakeSupervisor) StopAll(context.Context) error {
	f.call("stopall")
	return nil
}

func (f *fakeSupervisor) StopWraith(context.Context) (server.RestoreRecord, error) {
	f.call("stopwraith")
	return server.RestoreRecord{}, nil
}

func (f *fakeSupervisor) Servers() []server.Snapshot {
	return nil
}

func TestRunConsole(t *testing.T) {
	sup := &fakeSupervisor{}
	in := strings.NewReader("version\n\n  restart alpha  \nstopall\nreload\n")
	var out bytes.Buffer

	runConsole(context.Background(), dispatch.New(sup, nil), in, &out)

	assert.Equal(t, []string{"restart alpha", "stopall"}, sup.Calls())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "< wraith "))
	assert.Equal(t, "< Restarted alpha", lines[1])
	assert.Equal(t, "< Stopped all servers", lines[2])
}

func TestFindConfiguration(t *testing.T) {
	t.Run("environment variable wins", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "custom.yaml")
		t.Setenv("WRAITH_CONFIG", p)

		found, err := FindConfiguration()
		require.NoError(t, err)
		assert.Equal(t, p, found)
	})

	t.Run("working directory", func(t *testing.T) {
		t.Setenv("WRAITH_CONFIG", "")
		dir := t.TempDir()
		chdir(t, dir)

		_, err := FindConfiguration()
		assert.True(t, errors.Is(err, os.ErrNotExist))

		require.NoError(t, os.WriteFile(filepath.Join(dir, "wraith.yml"), []byte("servers: {}\n"), 0o600))
		found, err := FindConfiguration()
		require.NoError(t, err)
		assert.Equal(t, "wraith.yml", filepath.Base(found))

		require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultLocation), nil, 0o600))
		found, err = FindConfiguration()
		require.NoError(t, err)
		assert.Equal(t, config.DefaultLocation, filepath.Base(found))
	})

	t.Run("directories are skipped", func(t *testing.T) {
		t.Setenv("WRAITH_CONFIG", "")
		dir := t.TempDir()
		chdir(t, dir)
		require.NoError(t, os.Mkdir(filepath.Join(dir, config.DefaultLocation), 0o755))

		_, err := FindConfiguration()
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(wd)
	})
}

type countingReloader struct {
	n atomic.Int32
}

func (r *countingReloader) Reload(context.Context) (server.ReloadResult, error) {
	r.n.Add(1)
	return server.ReloadResult{}, nil
}

func TestWatchConfiguration(t *testing.T) {
	old := watchDebounce
	watchDebounce = 20 * time.Millisecond
	t.Cleanup(func() { watchDebounce = old })

	dir := t.TempDir()
	p := filepath.Join(dir, "wraith.toml")
	require.NoError(t, os.WriteFile(p, []byte("poll_seconds = 5\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	r := &countingReloader{}
	done := make(chan error, 1)
	go func() {
		done <- watchConfiguration(ctx, p, r)
	}()

	// Other files in the directory are ignored.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o600))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), r.n.Load())

	assert.Eventually(t, func() bool {
		_ = os.WriteFile(p, []byte("poll_seconds = 2\n"), 0o600)
		return r.n.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWriteDiagnostics(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "wraith.toml")
	require.NoError(t, os.WriteFile(p, []byte(`
[api]
token = "s3cret"

[servers.alpha]
password = "hunter2"
`), 0o600))
	c, err := config.FromFile(p)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(c.LogPath(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(c.LogPath(), "wraith.log"), []byte("one\ntwo\nthree\n"), 0o600))

	old := diagnosticsArgs
	t.Cleanup(func() { diagnosticsArgs = old })
	diagnosticsArgs.IncludeSecrets = false
	diagnosticsArgs.IncludeLogs = true
	diagnosticsArgs.LogLines = 2

	var out bytes.Buffer
	writeDiagnostics(context.Background(), &out, c, nil)
	s := out.String()

	assert.Contains(t, s, "alpha")
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, "s3cret")
	assert.Contains(t, s, "{redacted}")
	assert.NotContains(t, s, "\none\n")
	assert.Contains(t, s, "two\nthree\n")
	assert.Contains(t, s, "Restore Record")

	t.Run("configuration errors are reported", func(t *testing.T) {
		var out bytes.Buffer
		writeDiagnostics(context.Background(), &out, nil, errors.New("no such file"))

		assert.Contains(t, out.String(), "Failed to load configuration: no such file")
	})
}
