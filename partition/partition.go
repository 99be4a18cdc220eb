// Package partition groups test units into buckets so that repeated runs
// with the same resource count reproduce the same assignment.
package partition

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/perfgo/perfshard/model"
)

// Partitioner splits units into one bucket per healthy resource.
type Partitioner struct {
	// Configured is the number of resources named for the run, healthy or
	// not. Affinity keys at or beyond it can never be served.
	Configured int
	Logger     zerolog.Logger
}

// Partition returns n buckets. Units sharing an affinity key land in the
// same bucket; other units go to the bucket given by a hash of their name.
// Each bucket lists its units in name order, which is the execution order.
func (p Partitioner) Partition(units []*model.TestUnit, n int) ([][]*model.TestUnit, error) {
	if len(units) == 0 {
		return nil, invalid("no runnable units")
	}
	if n <= 0 {
		return nil, invalid("no healthy resources to run %d units", len(units))
	}
	configured := p.Configured
	if configured < n {
		configured = n
	}

	sorted := append([]*model.TestUnit(nil), units...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	buckets := make([][]*model.TestUnit, n)
	for _, u := range sorted {
		var idx int
		if u.HasAffinity() {
			key := *u.Affinity
			if key >= configured {
				return nil, invalid("unit %q has device_affinity %d but only %d resources are configured", u.Name, key, configured)
			}
			idx = key % n
			if idx != key {
				p.Logger.Warn().
					Str("unit", u.Name).
					Int("affinity", key).
					Int("bucket", idx).
					Msg("Affinity bucket has no healthy resource, wrapping")
			}
		} else {
			idx = Hash(u.Name, n)
		}
		buckets[idx] = append(buckets[idx], u)
	}

	return buckets, nil
}

// Hash maps a unit name to a bucket index in [0, n). The index only depends
// on the name, so it does not change with the order units are listed in.
func Hash(name string, n int) int {
	sum := sha256.Sum256([]byte(name))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(n))
}

// Contiguous returns the index-th of total contiguous spans of units sorted
// by name. It lets one invocation run a slice of a larger configuration.
func Contiguous(units []*model.TestUnit, index, total int) ([]*model.TestUnit, error) {
	if total <= 0 || index < 0 || index >= total {
		return nil, invalid("shard index %d out of range for %d total shards", index, total)
	}

	sorted := append([]*model.TestUnit(nil), units...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	start := len(sorted) * index / total
	end := len(sorted) * (index + 1) / total
	return sorted[start:end], nil
}

func invalid(format string, args ...any) error {
	return errors.WithStack(&model.ConfigurationError{Reason: fmt.Sprintf(format, args...)})
}
