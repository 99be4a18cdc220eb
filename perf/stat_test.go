package perf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	tests := []struct {
		name    string
		opts    StatOptions
		command string
		want    string
	}{
		{
			name:    "disabled",
			command: "run_benchmark --story 'a b'",
			want:    "run_benchmark --story 'a b'",
		},
		{
			name:    "events",
			opts:    StatOptions{Events: []string{"cycles", " instructions "}},
			command: "./bench -n 3",
			want:    "perf stat -e cycles -e instructions -- sh -c './bench -n 3'",
		},
		{
			name:    "detail with csv",
			opts:    StatOptions{Detail: true, CSV: ","},
			command: "true",
			want:    "perf stat -d -x , -- sh -c true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Wrap(tt.opts, tt.command))
		})
	}
}
