package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudget(t *testing.T) {
	tests := []struct {
		name        string
		expected    int
		retries     int
		ratio       float64
		maxFailures int
		failures    int
		want        bool
	}{
		// min tolerated = 2*3 = 6, max tolerated = round(100*3*0.1) = 30
		{name: "below minimum", expected: 100, retries: 2, ratio: 0.1, failures: 6, want: false},
		{name: "below ratio", expected: 100, retries: 2, ratio: 0.1, failures: 29, want: false},
		{name: "ratio reached", expected: 100, retries: 2, ratio: 0.1, failures: 30, want: true},
		// max tolerated = round(10*1*0.1) = 1, but min tolerated = 2 wins
		{name: "small run keeps minimum", expected: 10, retries: 0, ratio: 0.1, failures: 2, want: false},
		{name: "small run past minimum", expected: 10, retries: 0, ratio: 0.1, failures: 3, want: true},
		// cap lowers both bounds
		{name: "absolute cap", expected: 100, retries: 2, maxFailures: 4, failures: 4, want: false},
		{name: "absolute cap exceeded", expected: 100, retries: 2, maxFailures: 4, failures: 5, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBudget(tt.expected, tt.retries, DefaultMinFailures, tt.ratio, tt.maxFailures)
			require.NoError(t, err)
			require.NotNil(t, b)

			for i := 0; i < tt.failures; i++ {
				b.Observe(false)
			}
			b.Observe(true)
			assert.Equal(t, tt.want, b.Stop())
		})
	}
}

func TestBudgetSticky(t *testing.T) {
	b, err := NewBudget(1, 0, 0, 0, 1)
	require.NoError(t, err)

	b.Observe(false)
	b.Observe(false)
	require.True(t, b.Stop())
	assert.True(t, b.Stop())
}

func TestBudgetDisabled(t *testing.T) {
	b, err := NewBudget(10, 2, DefaultMinFailures, 0, 0)
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.False(t, b.Stop())
	assert.Equal(t, "unlimited", b.String())

	_, err = NewBudget(10, 2, DefaultMinFailures, 1.5, 0)
	require.Error(t, err)
}
