package cmd

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-hybrid/internal/buildinfo"
	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/myaudio"
)

func loadTestSettings(t *testing.T) *conf.Settings {
	t.Helper()
	dir := t.TempDir()
	config := "model:\n  dir: " + filepath.Join(dir, "models") + "\n" +
		"store:\n  backend: badger\n  badger:\n    inmemory: true\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0o600))

	settings, err := conf.Load(path)
	require.NoError(t, err)
	return settings
}

func stereoFile(t *testing.T) string {
	t.Helper()
	const rate = 48000
	n := 3 * rate
	left := make([]float32, n)
	right := make([]float32, n)
	for i := range n {
		left[i] = float32(0.5 * math.Sin(2*math.Pi*1000*float64(i)/rate))
		right[i] = float32(0.5 * math.Sin(2*math.Pi*1000*float64(i-7)/rate))
	}
	path := filepath.Join(t.TempDir(), "stereo.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, myaudio.WriteWAV(f, [][]float32{left, right}, rate, 16))
	require.NoError(t, f.Close())
	return path
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := RootCommand(loadTestSettings(t), buildinfo.New("v0.1.0", "2024-05-01"))

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"analyze", "bearing", "queue", "sync", "model", "realtime"} {
		assert.Contains(t, names, want)
	}
	assert.Contains(t, root.Version, "v0.1.0")
}

func TestFlagsOverrideSettings(t *testing.T) {
	settings := loadTestSettings(t)
	root := RootCommand(settings, buildinfo.New("dev", ""))
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{
		"--min-confidence", "0.6",
		"--prefer-server",
		"--latitude", "60.17",
		"bearing", filepath.Join(t.TempDir(), "missing.wav"),
	})

	require.Error(t, root.Execute(), "input file does not exist")
	assert.InDelta(t, 0.6, settings.Engine.MinConfidence, 1e-9)
	assert.True(t, settings.Engine.PreferServer)
	assert.True(t, settings.Location.Enabled)
	assert.InDelta(t, 60.17, settings.Location.Latitude, 1e-9)
}

func TestInvalidFlagValuesAreRejected(t *testing.T) {
	settings := loadTestSettings(t)
	root := RootCommand(settings, buildinfo.New("dev", ""))
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--min-confidence", "2", "queue"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minConfidence")
}

func TestBearingCommandPrintsTable(t *testing.T) {
	root := RootCommand(loadTestSettings(t), buildinfo.New("dev", ""))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"bearing", stereoFile(t)})

	require.NoError(t, root.Execute())
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Begin Time (s)"))
	assert.True(t, strings.HasPrefix(lines[1], "0.0\t3.0\t-"), "left capsule leads: %q", lines[1])
}

func TestQueueCommandOnEmptyStore(t *testing.T) {
	root := RootCommand(loadTestSettings(t), buildinfo.New("dev", ""))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"queue", "-o", "json"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "[]", strings.TrimSpace(out.String()))
}
