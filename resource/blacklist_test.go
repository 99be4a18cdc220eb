package resource

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlacklistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "blacklist.json")

	b, err := LoadBlacklist(path)
	require.NoError(t, err)
	assert.Empty(t, b.Identities())

	good := NewLocalWorker(zerolog.Nop(), 0, t.TempDir())
	bad := NewLocalWorker(zerolog.Nop(), 1, t.TempDir())
	bad.Blacklist()

	b.Collect([]Resource{good, bad})
	require.NoError(t, b.Save())

	again, err := LoadBlacklist(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"local:1"}, again.Identities())

	fresh := []Resource{
		NewLocalWorker(zerolog.Nop(), 0, t.TempDir()),
		NewLocalWorker(zerolog.Nop(), 1, t.TempDir()),
	}
	assert.Equal(t, 1, again.Apply(fresh))
	assert.Equal(t, StateOnline, fresh[0].State())
	assert.Equal(t, StateBlacklisted, fresh[1].State())
}

func TestBlacklistWithoutPath(t *testing.T) {
	b, err := LoadBlacklist("")
	require.NoError(t, err)
	b.Add("adb:emulator-5554")
	require.NoError(t, b.Save())
	assert.True(t, b.Contains("adb:emulator-5554"))
}
