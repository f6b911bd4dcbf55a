package catalog

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScanner struct {
	live []Endpoint
}

func (f fakeScanner) LiveEndpoints() []Endpoint { return f.live }

func TestFromScannerDropsDeadList(t *testing.T) {
	live := []Endpoint{{IP: net.ParseIP("8.8.8.8"), RoundTrip: 5 * time.Millisecond}}
	c := FromScanner(fakeScanner{live: live})
	assert.Equal(t, live, c.Live)
	assert.Empty(t, c.Dead)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "catalog-*.json")
	require.NoError(t, err)
	path := f.Name()
	f.Close()

	c := &Catalog{
		Live: []Endpoint{
			{IP: net.ParseIP("8.8.8.8").To4(), RoundTrip: 12 * time.Millisecond, Small: false},
			{IP: net.ParseIP("1.1.1.1").To4(), RoundTrip: 9 * time.Millisecond, Small: true},
		},
		Dead: []net.IP{net.ParseIP("203.0.113.5").To4()},
	}
	require.NoError(t, c.Save(path))

	loaded := Load(path)
	assert.Equal(t, c.Live, loaded.Live)
	assert.Equal(t, c.Dead, loaded.Dead)

	// Saving and loading again must be stable (spec.md §8 "Catalog save
	// then load then save then load yields equal objects").
	require.NoError(t, loaded.Save(path))
	reloaded := Load(path)
	assert.Equal(t, loaded.Live, reloaded.Live)
	assert.Equal(t, loaded.Dead, reloaded.Dead)
}

func TestLoadMissingFileYieldsEmptyCatalog(t *testing.T) {
	c := Load("/nonexistent/path/does-not-exist.json")
	assert.Empty(t, c.Live)
	assert.Empty(t, c.Dead)
}

func TestLoadCorruptFileYieldsEmptyCatalog(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "catalog-*.json")
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json")
	require.NoError(t, err)
	f.Close()

	c := Load(f.Name())
	assert.Empty(t, c.Live)
	assert.Empty(t, c.Dead)
}

func TestLen(t *testing.T) {
	c := &Catalog{Live: []Endpoint{{}, {}, {}}}
	assert.Equal(t, 3, c.Len())
}
