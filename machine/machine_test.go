package machine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	assert.Equal(t, []string{"local", "local_nompi", "nics_kraken"}, c.Names())

	for _, name := range c.Names() {
		p, err := c.Get(name)
		require.NoError(t, err)
		require.NoError(t, p.validate())

		text, err := p.TemplateText()
		require.NoError(t, err, name)
		assert.Contains(t, text, "${PAR_FILE}")
	}

	kraken, err := c.Get("nics_kraken")
	require.NoError(t, err)
	assert.Equal(t, StrategyBatch, kraken.Strategy)
	assert.Equal(t, "qsub nics_kraken.run", kraken.CommandLine())

	_, err = c.Get("summit")
	require.ErrorIs(t, err, ErrUnknownMachine)
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "machines.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
machines:
  nics_kraken:
    overrides:
      ACCOUNT: TG-AST090040
  cluster:
    script: cluster.run
    template: /etc/simrun/cluster.run
    command: sbatch --parsable
    strategy: batch
    cancel: scancel
`), 0644))

	c, err := LoadCatalog(file)
	require.NoError(t, err)
	assert.Equal(t, []string{"cluster", "local", "local_nompi", "nics_kraken"}, c.Names())

	kraken, err := c.Get("nics_kraken")
	require.NoError(t, err)
	assert.Equal(t, "qsub", kraken.Command)
	assert.Equal(t, "qdel", kraken.Cancel)
	assert.Equal(t, map[string]string{"ACCOUNT": "TG-AST090040"}, kraken.Overrides)

	cluster, err := c.Get("cluster")
	require.NoError(t, err)
	assert.Equal(t, "cluster", cluster.Name)
	assert.Equal(t, []string{"sbatch", "--parsable", "cluster.run"}, cluster.Argv())
	assert.Equal(t, StrategyBatch, cluster.Strategy)
}

func TestLoadCatalog_Missing(t *testing.T) {
	c, err := LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalog(), c)
}

func TestLoadCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "syntax", body: "machines: [1, 2"},
		{name: "no script", body: "machines:\n  x:\n    command: bash\n"},
		{name: "no command", body: "machines:\n  x:\n    script: x.run\n"},
		{name: "bad strategy", body: "machines:\n  x:\n    script: x.run\n    command: bash\n    strategy: cloud\n"},
		{name: "batch without cancel", body: "machines:\n  x:\n    script: x.run\n    command: qsub\n    strategy: batch\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := filepath.Join(t.TempDir(), "machines.yaml")
			require.NoError(t, os.WriteFile(file, []byte(tt.body), 0644))
			_, err := LoadCatalog(file)
			require.Error(t, err)
		})
	}
}

func TestTemplateText_File(t *testing.T) {
	file := filepath.Join(t.TempDir(), "custom.run")
	require.NoError(t, os.WriteFile(file, []byte("run ${TEST_NAME}\n"), 0644))

	p := Profile{Name: "custom", Script: "custom.run", Command: "bash", Template: file}
	text, err := p.TemplateText()
	require.NoError(t, err)
	assert.Equal(t, "run ${TEST_NAME}\n", text)

	p.Template = ""
	_, err = p.TemplateText()
	require.Error(t, err)
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0755))
}

func waitExited(t *testing.T, h Handle) {
	t.Helper()
	require.Eventually(t, func() bool {
		done, _ := h.Exited()
		return done
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLocalLauncher(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "ok.run", "echo started\ntouch "+CompletionMarker+"\n")

	p := Profile{Name: "test", Script: "ok.run", Command: "sh", Strategy: StrategyLocal}
	h, err := NewLauncher(zerolog.Nop(), p).Launch(context.Background(), dir)
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID())

	waitExited(t, h)
	assert.FileExists(t, filepath.Join(dir, CompletionMarker))

	out, err := os.ReadFile(filepath.Join(dir, LaunchLog))
	require.NoError(t, err)
	assert.Equal(t, "started\n", string(out))
}

func TestLocalLauncher_ExitStatus(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "fail.run", "exit 3\n")

	p := Profile{Name: "test", Script: "fail.run", Command: "sh", Strategy: StrategyLocal}
	h, err := NewLauncher(zerolog.Nop(), p).Launch(context.Background(), dir)
	require.NoError(t, err)

	waitExited(t, h)
	_, err = h.Exited()
	require.Error(t, err)
}

func TestLocalLauncher_Terminate(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "slow.run", "sleep 60\ntouch "+CompletionMarker+"\n")

	p := Profile{Name: "test", Script: "slow.run", Command: "sh", Strategy: StrategyLocal}
	h, err := NewLauncher(zerolog.Nop(), p).Launch(context.Background(), dir)
	require.NoError(t, err)

	done, _ := h.Exited()
	require.False(t, done)

	require.NoError(t, h.Terminate())
	waitExited(t, h)
	assert.NoFileExists(t, filepath.Join(dir, CompletionMarker))

	// signalling a finished group is not an error
	require.NoError(t, h.Terminate())
}

func TestBatchLauncher(t *testing.T) {
	dir := t.TempDir()
	bin := t.TempDir()
	writeScript(t, bin, "submit", "#!/bin/sh\necho \"4242.sdb some banner\"\n")
	writeScript(t, bin, "cancel", "#!/bin/sh\necho \"$1\" > "+filepath.Join(dir, "cancelled")+"\n")
	writeScript(t, dir, "job.run", "true\n")

	p := Profile{
		Name:     "queue",
		Script:   "job.run",
		Command:  filepath.Join(bin, "submit"),
		Strategy: StrategyBatch,
		Cancel:   filepath.Join(bin, "cancel"),
	}
	h, err := NewLauncher(zerolog.Nop(), p).Launch(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "4242.sdb", h.ID())

	done, err := h.Exited()
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, h.Terminate())
	cancelled, err := os.ReadFile(filepath.Join(dir, "cancelled"))
	require.NoError(t, err)
	assert.Equal(t, "4242.sdb\n", string(cancelled))

	require.NoError(t, os.WriteFile(filepath.Join(dir, CompletionMarker), nil, 0644))
	done, err = h.Exited()
	require.NoError(t, err)
	assert.True(t, done)
}

func TestBatchLauncher_StatusGone(t *testing.T) {
	dir := t.TempDir()
	bin := t.TempDir()
	writeScript(t, bin, "submit", "#!/bin/sh\necho 7\n")
	writeScript(t, bin, "status", "#!/bin/sh\nexit 1\n")

	p := Profile{
		Name:     "queue",
		Script:   "job.run",
		Command:  filepath.Join(bin, "submit"),
		Strategy: StrategyBatch,
		Cancel:   "true",
		Status:   filepath.Join(bin, "status"),
	}
	h, err := NewLauncher(zerolog.Nop(), p).Launch(context.Background(), dir)
	require.NoError(t, err)

	done, err := h.Exited()
	require.NoError(t, err)
	assert.True(t, done)
}

func TestBatchLauncher_SubmitFails(t *testing.T) {
	dir := t.TempDir()
	bin := t.TempDir()
	writeScript(t, bin, "submit", "#!/bin/sh\necho 'queue closed' >&2\nexit 2\n")

	p := Profile{Name: "queue", Script: "job.run", Command: filepath.Join(bin, "submit"), Strategy: StrategyBatch, Cancel: "true"}
	_, err := NewLauncher(zerolog.Nop(), p).Launch(context.Background(), dir)
	require.ErrorContains(t, err, "queue closed")
}
