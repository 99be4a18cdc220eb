package partition

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/perfshard/model"
)

func unit(name string, affinity ...int) *model.TestUnit {
	u := &model.TestUnit{Name: name, Command: "true"}
	if len(affinity) > 0 {
		u.Affinity = &affinity[0]
	}
	return u
}

func names(buckets [][]*model.TestUnit) [][]string {
	out := make([][]string, len(buckets))
	for i, b := range buckets {
		out[i] = []string{}
		for _, u := range b {
			out[i] = append(out[i], u.Name)
		}
	}
	return out
}

func TestPartitionAffinity(t *testing.T) {
	p := Partitioner{Configured: 2, Logger: zerolog.Nop()}

	buckets, err := p.Partition([]*model.TestUnit{
		unit("c", 1),
		unit("a", 0),
		unit("b", 0),
	}, 2)
	require.NoError(t, err)

	want := [][]string{{"a", "b"}, {"c"}}
	if diff := cmp.Diff(want, names(buckets)); diff != "" {
		t.Errorf("Partition() mismatch (-want +got):\n%s", diff)
	}
}

func TestPartitionDeterministic(t *testing.T) {
	p := Partitioner{Configured: 4, Logger: zerolog.Nop()}

	var units []*model.TestUnit
	for i := 0; i < 40; i++ {
		if i%5 == 0 {
			units = append(units, unit(fmt.Sprintf("unit-%02d", i), i%4))
		} else {
			units = append(units, unit(fmt.Sprintf("unit-%02d", i)))
		}
	}

	first, err := p.Partition(units, 4)
	require.NoError(t, err)

	shuffled := append([]*model.TestUnit(nil), units...)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	second, err := p.Partition(shuffled, 4)
	require.NoError(t, err)

	if diff := cmp.Diff(names(first), names(second)); diff != "" {
		t.Errorf("Partition() not stable across input order (-first +second):\n%s", diff)
	}

	total := 0
	for _, b := range first {
		total += len(b)
	}
	assert.Equal(t, len(units), total)
}

func TestPartitionErrors(t *testing.T) {
	tests := []struct {
		name       string
		units      []*model.TestUnit
		n          int
		configured int
	}{
		{name: "no units", units: nil, n: 2, configured: 2},
		{name: "no resources", units: []*model.TestUnit{unit("a")}, n: 0, configured: 2},
		{name: "affinity beyond configured", units: []*model.TestUnit{unit("a", 3)}, n: 2, configured: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Partitioner{Configured: tt.configured, Logger: zerolog.Nop()}
			_, err := p.Partition(tt.units, tt.n)

			var cfgErr *model.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
		})
	}
}

func TestPartitionWrapsLostResource(t *testing.T) {
	p := Partitioner{Configured: 3, Logger: zerolog.Nop()}

	buckets, err := p.Partition([]*model.TestUnit{unit("a", 2), unit("b", 0)}, 2)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {}}, names(buckets))
}

func TestHashStable(t *testing.T) {
	for _, name := range []string{"a", "speedometer", "blink_perf.layout"} {
		idx := Hash(name, 7)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 7)
		assert.Equal(t, idx, Hash(name, 7))
	}
}

func TestContiguous(t *testing.T) {
	units := []*model.TestUnit{unit("e"), unit("d"), unit("c"), unit("b"), unit("a")}

	var got [][]string
	for i := 0; i < 2; i++ {
		span, err := Contiguous(units, i, 2)
		require.NoError(t, err)
		got = append(got, names([][]*model.TestUnit{span})[0])
	}
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d", "e"}}, got)

	_, err := Contiguous(units, 2, 2)
	require.Error(t, err)
}
