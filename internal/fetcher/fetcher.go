package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tanq16/splitwire/internal/manifest"
	"github.com/tanq16/splitwire/internal/progress"
	"github.com/tanq16/splitwire/internal/utils"
)

// ErrDownloadCancelled is returned when the caller cancels a
// reconstruction. The in-flight batch is allowed to settle but no
// further batches are issued and the terminal success tick is
// suppressed.
var ErrDownloadCancelled = errors.New("download cancelled")

// ErrManifestMismatch is returned when an asset's metadata document is
// unreadable or disagrees with the manifest entry.
var ErrManifestMismatch = errors.New("chunk metadata mismatch")

// ChunkFetchError aborts a whole reconstruction; partial buffers are
// discarded.
type ChunkFetchError struct {
	Index int
	Err   error
}

func (e *ChunkFetchError) Error() string {
	return fmt.Sprintf("chunk %d fetch failed: %v", e.Index, e.Err)
}

func (e *ChunkFetchError) Unwrap() error {
	return e.Err
}

type Config struct {
	Origin      string
	Version     string
	Concurrency int
	PartExt     string
}

// Fetcher retrieves all parts of a chunked asset with a bounded
// concurrency window and reassembles them in declared index order.
type Fetcher struct {
	client utils.HTTPDoer
	config Config
}

func New(client utils.HTTPDoer, config Config) *Fetcher {
	if config.Concurrency <= 0 {
		config.Concurrency = utils.DefaultConcurrency
	}
	if config.PartExt == "" {
		config.PartExt = "txt"
	}
	config.Origin = strings.TrimSuffix(config.Origin, "/")
	return &Fetcher{client: client, config: config}
}

// FetchMeta retrieves the metadata document co-located with an asset's
// parts. Unreadable metadata is a manifest mismatch.
func (f *Fetcher) FetchMeta(ctx context.Context, asset *manifest.Asset) (*manifest.ChunkMeta, error) {
	metaURL := utils.CacheBust(f.partBase(asset)+"/"+utils.MetaFile, f.config.Version)
	body, err := f.fetch(ctx, metaURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestMismatch, err)
	}
	var meta manifest.ChunkMeta
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestMismatch, err)
	}
	if meta.TotalChunks < 1 {
		return nil, fmt.Errorf("%w: declared %d chunks", ErrManifestMismatch, meta.TotalChunks)
	}
	if asset.Chunks != 0 && asset.Chunks != meta.TotalChunks {
		return nil, fmt.Errorf("%w: manifest declares %d chunks, metadata %d", ErrManifestMismatch, asset.Chunks, meta.TotalChunks)
	}
	return &meta, nil
}

// Reconstruct fetches every part of the asset in sequential batches of
// Concurrency requests, writes each result at its declared index and
// returns the reassembled bytes. onProgress may be nil.
func (f *Fetcher) Reconstruct(ctx context.Context, asset *manifest.Asset, onProgress progress.Callback) ([]byte, *manifest.ChunkMeta, error) {
	if ctx.Err() != nil {
		return nil, nil, ErrDownloadCancelled
	}
	meta, err := f.FetchMeta(ctx, asset)
	if err != nil {
		return nil, nil, err
	}

	tracker := progress.NewTracker(meta.FileName, meta.FileSize)
	parts := make([][]byte, meta.TotalChunks)
	k := f.config.Concurrency

	for start := 0; start < meta.TotalChunks; start += k {
		if ctx.Err() != nil {
			return nil, nil, ErrDownloadCancelled
		}
		end := min(start+k, meta.TotalChunks)
		batch := make([][]byte, end-start)
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				data, err := f.fetchPart(gctx, asset, i)
				if err != nil {
					return &ChunkFetchError{Index: i, Err: err}
				}
				batch[i-start] = data
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			if ctx.Err() != nil {
				return nil, nil, ErrDownloadCancelled
			}
			return nil, nil, err
		}
		for i := start; i < end; i++ {
			parts[i] = batch[i-start]
			if onProgress != nil {
				onProgress(tracker.Add(int64(len(parts[i]))))
			} else {
				tracker.Add(int64(len(parts[i])))
			}
		}
		if ctx.Err() != nil {
			return nil, nil, ErrDownloadCancelled
		}
	}

	var total int64
	for _, part := range parts {
		total += int64(len(part))
	}
	if total != meta.FileSize {
		return nil, nil, fmt.Errorf("%w: assembled %d bytes, metadata declares %d", ErrManifestMismatch, total, meta.FileSize)
	}

	assembled := make([]byte, 0, total)
	for _, part := range parts {
		assembled = append(assembled, part...)
	}
	if onProgress != nil {
		onProgress(tracker.Terminal())
	}
	return assembled, meta, nil
}

// FetchDirect streams a resource that has no manifest entry in one
// pass. The same terminal progress contract holds: exactly one
// complete=true tick on success.
func (f *Fetcher) FetchDirect(ctx context.Context, path string, onProgress progress.Callback) ([]byte, string, error) {
	resourceURL := utils.CacheBust(f.config.Origin+"/"+strings.TrimPrefix(path, "/"), f.config.Version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	tracker := progress.NewTracker(manifest.NormalizeKey(path), resp.ContentLength)
	var assembled []byte
	buffer := make([]byte, utils.DefaultBufferSize)
	for {
		if ctx.Err() != nil {
			return nil, "", ErrDownloadCancelled
		}
		n, err := resp.Body.Read(buffer)
		if n > 0 {
			assembled = append(assembled, buffer[:n]...)
			if onProgress != nil {
				onProgress(tracker.Add(int64(n)))
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, "", err
		}
	}
	if onProgress != nil {
		onProgress(tracker.Terminal())
	}
	return assembled, resp.Header.Get("Content-Type"), nil
}

func (f *Fetcher) partBase(asset *manifest.Asset) string {
	return f.config.Origin + "/" + strings.Trim(asset.ChunkedPath, "/")
}

func (f *Fetcher) fetchPart(ctx context.Context, asset *manifest.Asset, index int) ([]byte, error) {
	partURL := utils.CacheBust(fmt.Sprintf("%s/%s%d.%s", f.partBase(asset), utils.PartPrefix, index, f.config.PartExt), f.config.Version)
	return f.fetch(ctx, partURL)
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
