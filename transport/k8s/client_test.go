package k8s

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPodReady(t *testing.T) {
	tests := []struct {
		name string
		json string
		want bool
	}{
		{
			name: "running and ready",
			json: `{"status":{"phase":"Running","containerStatuses":[{"name":"bench","ready":true}]}}`,
			want: true,
		},
		{
			name: "container not ready",
			json: `{"status":{"phase":"Running","containerStatuses":[{"name":"bench","ready":false}]}}`,
			want: false,
		},
		{
			name: "pending",
			json: `{"status":{"phase":"Pending"}}`,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pod Pod
			require.NoError(t, json.Unmarshal([]byte(tt.json), &pod))
			assert.Equal(t, tt.want, pod.Ready())
		})
	}
}

func TestExecArgs(t *testing.T) {
	tr := NewPodTransport(zerolog.Nop(), New("lab", "perf"), "runner-0", "bench")

	assert.Equal(t, []string{
		"--context", "lab", "-n", "perf",
		"exec", "runner-0", "-c", "bench", "--", "sh", "-c", "echo hi",
	}, tr.execArgs("echo hi"))
	assert.Equal(t, "k8s:lab/perf/runner-0", tr.Name())
}
