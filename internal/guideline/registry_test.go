package guideline

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, size int) *Registry {
	t.Helper()
	r, err := NewRegistry("testdata", size, nil)
	require.NoError(t, err)
	return r
}

func TestRegistry_LoadCachesByContent(t *testing.T) {
	r := newTestRegistry(t, 4)

	first, err := r.Load("statin")
	require.NoError(t, err)
	second, err := r.Load(filepath.Join("testdata", "statin.yaml"))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, CacheStats{Hits: 1, Misses: 1, Size: 1}, r.Stats())

	// A copy with identical bytes under a different name shares the entry.
	data, err := os.ReadFile(filepath.Join("testdata", "statin.yaml"))
	require.NoError(t, err)
	copyPath := filepath.Join(t.TempDir(), "copy.yml")
	require.NoError(t, os.WriteFile(copyPath, data, 0o644))

	third, err := r.Load(copyPath)
	require.NoError(t, err)
	assert.Same(t, first, third)
}

func TestRegistry_InvalidNotCached(t *testing.T) {
	r := newTestRegistry(t, 4)

	_, err := r.Load("invalid")
	require.Error(t, err)
	_, err = r.Load("invalid.yaml")
	require.Error(t, err)

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, int64(2), r.Stats().Misses)
}

func TestRegistry_Eviction(t *testing.T) {
	r := newTestRegistry(t, 1)

	_, err := r.Parse([]byte(minimal("one")))
	require.NoError(t, err)
	_, err = r.Parse([]byte(minimal("two")))
	require.NoError(t, err)

	assert.Equal(t, 1, r.Len())
}

func TestRegistry_NotFound(t *testing.T) {
	r := newTestRegistry(t, 2)

	_, err := r.Load("missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "missing in testdata")

	_, err = NewRegistry("testdata", 0, nil)
	assert.Error(t, err)
}

func TestRegistry_List(t *testing.T) {
	r := newTestRegistry(t, 4)

	summaries, err := r.List()
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, filepath.Join("testdata", "invalid.yaml"), summaries[0].Path)
	assert.Empty(t, summaries[0].Identifier)
	assert.Contains(t, summaries[0].Error, "guideline broken is invalid")

	assert.Equal(t, "statin-primary-prevention", summaries[1].Identifier)
	assert.Empty(t, summaries[1].Error)
}

func TestRegistry_ConcurrentParse(t *testing.T) {
	r := newTestRegistry(t, 4)
	data := []byte(minimal("shared"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := r.Parse(data)
			assert.NoError(t, err)
			assert.Equal(t, "shared", g.Identifier)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, r.Len())
	stats := r.Stats()
	assert.Equal(t, int64(16), stats.Hits+stats.Misses)
}

func minimal(id string) string {
	return `
CPG: {identifier: ` + id + `, title: Minimal}
variables:
  - id: age
eligibility:
  - id: adult
    expression: "$age >= 18"
assessments:
  - id: senior
    expression: "$age >= 65"
recommendations:
  - id: note
    type: display
`
}
