package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/tanq16/splitwire/internal/utils"
)

// ErrManifestUnavailable is returned when the manifest document cannot
// be fetched or parsed. Recoverable: the memo is cleared so the next
// request retries.
var ErrManifestUnavailable = errors.New("manifest unavailable")

// Loader owns the memoized manifest table. Only one load may be in
// flight at a time; concurrent callers await the same pending load. A
// failed load clears the memo so the next call retries lazily.
type Loader struct {
	client  utils.HTTPDoer
	origin  string
	version string

	mu      sync.Mutex
	table   *Table
	pending chan struct{}
	loadErr error
}

func NewLoader(client utils.HTTPDoer, origin, version string) *Loader {
	return &Loader{
		client:  client,
		origin:  strings.TrimSuffix(origin, "/"),
		version: version,
	}
}

// Loaded reports whether a manifest table is currently memoized.
func (l *Loader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.table != nil
}

// Invalidate clears the memoized table so the next Ensure reloads.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.table = nil
}

// Ensure returns the memoized table, loading it if needed. The first
// caller performs the fetch; everyone else waits on the same load.
func (l *Loader) Ensure(ctx context.Context) (*Table, error) {
	l.mu.Lock()
	if l.table != nil {
		table := l.table
		l.mu.Unlock()
		return table, nil
	}
	if l.pending != nil {
		wait := l.pending
		l.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		l.mu.Lock()
		table, err := l.table, l.loadErr
		l.mu.Unlock()
		if table == nil {
			if err == nil {
				err = ErrManifestUnavailable
			}
			return nil, err
		}
		return table, nil
	}
	done := make(chan struct{})
	l.pending = done
	l.mu.Unlock()

	table, err := l.load(ctx)

	l.mu.Lock()
	l.table = table
	l.loadErr = err
	l.pending = nil
	l.mu.Unlock()
	close(done)

	if err != nil {
		return nil, err
	}
	return table, nil
}

func (l *Loader) load(ctx context.Context) (*Table, error) {
	manifestURL := utils.CacheBust(l.origin+"/"+utils.ManifestFile, l.version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestUnavailable, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrManifestUnavailable, resp.StatusCode)
	}
	var m Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestUnavailable, err)
	}
	return NewTable(&m), nil
}
