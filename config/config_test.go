package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/perfshard/model"
)

func TestParse(t *testing.T) {
	input := `
version: 1
steps:
  speedometer:
    cmd: "run_benchmark speedometer --output-dir {{.OutputDir}}"
    device_affinity: 1
    timeout: 600
    archive_output_dir: true
  blink_perf:
    cmd: run_benchmark blink_perf
`
	units, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, units, 2)

	assert.Equal(t, "blink_perf", units[0].Name)
	assert.False(t, units[0].HasAffinity())
	assert.Zero(t, units[0].Timeout)

	assert.Equal(t, "speedometer", units[1].Name)
	require.True(t, units[1].HasAffinity())
	assert.Equal(t, 1, *units[1].Affinity)
	assert.Equal(t, 10*time.Minute, units[1].Timeout)
	assert.True(t, units[1].ArchiveOutput)
}

func TestParseJSON(t *testing.T) {
	input := `{"version": 1, "steps": {"a": {"cmd": "true", "device_affinity": 0}}}`

	units, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, 0, *units[0].Affinity)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "empty",
			input: "",
			want:  "empty configuration",
		},
		{
			name:  "missing version",
			input: "steps:\n  a:\n    cmd: \"true\"\n",
			want:  "missing version",
		},
		{
			name:  "version mismatch",
			input: "version: 2\nsteps:\n  a:\n    cmd: \"true\"\n",
			want:  "unsupported version 2",
		},
		{
			name:  "no steps",
			input: "version: 1\nsteps: {}\n",
			want:  "no steps defined",
		},
		{
			name:  "missing cmd",
			input: "version: 1\nsteps:\n  a:\n    timeout: 5\n",
			want:  `step "a" has no cmd`,
		},
		{
			name:  "negative affinity",
			input: "version: 1\nsteps:\n  a:\n    cmd: \"true\"\n    device_affinity: -1\n",
			want:  "negative device_affinity",
		},
		{
			name:  "unknown field",
			input: "version: 1\nsteps:\n  a:\n    cmd: \"true\"\n    retries: 2\n",
			want:  "malformed configuration",
		},
		{
			name:  "bad template",
			input: "version: 1\nsteps:\n  a:\n    cmd: \"run {{.OutputDir\"\n",
			want:  "invalid cmd template",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			require.Error(t, err)

			var cfgErr *model.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %T", err)
			assert.Contains(t, cfgErr.Reason, tt.want)
		})
	}
}

func TestLoadFlaky(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flaky.json")
	require.NoError(t, os.WriteFile(path, []byte(`["a", "b"]`), 0644))

	flaky, err := LoadFlaky(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true, "b": true}, flaky)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	var cfgErr *model.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
}

func TestLoadExample(t *testing.T) {
	units, err := Load(filepath.Join("..", "examples", "benchmarks.yaml"))
	require.NoError(t, err)
	require.Len(t, units, 5)

	names := make([]string, len(units))
	for i, u := range units {
		names[i] = u.Name
	}
	assert.Equal(t, []string{"branch-prediction", "data-layout", "false-sharing", "unit-tests", "vet"}, names)

	assert.True(t, units[0].ArchiveOutput)
	assert.Equal(t, 900*time.Second, units[0].Timeout)
	require.True(t, units[3].HasAffinity())
	assert.Equal(t, 0, *units[3].Affinity)
}
