package guideline

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/concord-cpg-engine/internal/domain"
)

// ErrNotFound is returned when a guideline name resolves to no file.
var ErrNotFound = errors.New("guideline not found")

// Summary describes one guideline file found in the registry directory.
type Summary struct {
	Path       string `json:"path"`
	Identifier string `json:"identifier,omitempty"`
	Title      string `json:"title,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// Registry parses guidelines once per distinct document content. Parsed guidelines are
// immutable, so a cached entry is shared across concurrent evaluations.
type Registry struct {
	dir    string
	cache  *lru.Cache[string, *domain.Guideline]
	logger *logrus.Logger

	statsMu sync.Mutex
	stats   CacheStats
}

// NewRegistry creates a registry rooted at dir holding at most size parsed guidelines.
func NewRegistry(dir string, size int, logger *logrus.Logger) (*Registry, error) {
	cache, err := lru.New[string, *domain.Guideline](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create guideline cache: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Registry{dir: dir, cache: cache, logger: logger}, nil
}

// Dir returns the directory names are resolved against.
func (r *Registry) Dir() string {
	return r.dir
}

// Parse returns the guideline for data, using the cached copy when the same content
// was parsed before. Invalid documents are never cached.
func (r *Registry) Parse(data []byte) (*domain.Guideline, error) {
	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])

	if g, ok := r.cache.Get(key); ok {
		r.record(true)
		return g, nil
	}
	r.record(false)

	g, err := Parse(data)
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, g)
	r.logger.WithFields(logrus.Fields{
		"guideline": g.Identifier,
		"digest":    key[:12],
	}).Debug("Cached parsed guideline")
	return g, nil
}

// Load reads a guideline by path. Relative names that do not exist as given are
// looked up in the registry directory, with .yaml, .yml and .json tried in turn.
func (r *Registry) Load(name string) (*domain.Guideline, error) {
	path, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read guideline: %w", err)
	}
	g, err := r.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

func (r *Registry) resolve(name string) (string, error) {
	if _, err := os.Stat(name); err == nil {
		return name, nil
	}
	if filepath.IsAbs(name) || r.dir == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	candidates := []string{filepath.Join(r.dir, name)}
	if filepath.Ext(name) == "" {
		for _, ext := range []string{".yaml", ".yml", ".json"} {
			candidates = append(candidates, filepath.Join(r.dir, name+ext))
		}
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", ErrNotFound, name, r.dir)
}

// List parses every guideline document in the registry directory. Files that fail
// to parse are listed with their error.
func (r *Registry) List() ([]Summary, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list guidelines: %w", err)
	}

	var out []Summary
	for _, e := range entries {
		if e.IsDir() || !isGuidelineFile(e.Name()) {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		s := Summary{Path: path}
		if g, err := r.Load(path); err != nil {
			s.Error = err.Error()
		} else {
			s.Identifier = g.Identifier
			s.Title = g.Title
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Len returns the number of cached guidelines.
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Stats returns a snapshot of cache statistics.
func (r *Registry) Stats() CacheStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	s := r.stats
	s.Size = r.cache.Len()
	return s
}

func (r *Registry) record(hit bool) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	if hit {
		r.stats.Hits++
	} else {
		r.stats.Misses++
	}
}

func isGuidelineFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
