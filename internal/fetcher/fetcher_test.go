package fetcher_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/splitwire/internal/fetcher"
	"github.com/tanq16/splitwire/internal/manifest"
	"github.com/tanq16/splitwire/internal/progress"
	"github.com/tanq16/splitwire/internal/utils"
)

type partServer struct {
	*httptest.Server
	parts      [][]byte
	meta       manifest.ChunkMeta
	inFlight   atomic.Int32
	maxFlight  atomic.Int32
	failPart   int
	partDelays chan struct{}
}

// newPartServer serves meta.json and part_{i}.txt under /chunked/app.
// failPart < 0 means all parts succeed.
func newPartServer(t *testing.T, parts [][]byte, failPart int) *partServer {
	t.Helper()
	var size int64
	for _, p := range parts {
		size += int64(len(p))
	}
	ps := &partServer{
		parts:    parts,
		failPart: failPart,
		meta: manifest.ChunkMeta{
			TotalChunks: len(parts),
			FileName:    "app.js",
			FileSize:    size,
			MimeType:    "text/javascript",
		},
	}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chunked/app/"+utils.MetaFile {
			_ = json.NewEncoder(w).Encode(ps.meta)
			return
		}
		var index int
		if _, err := fmt.Sscanf(r.URL.Path, "/chunked/app/"+utils.PartPrefix+"%d.txt", &index); err != nil {
			http.NotFound(w, r)
			return
		}
		cur := ps.inFlight.Add(1)
		defer ps.inFlight.Add(-1)
		for {
			prev := ps.maxFlight.Load()
			if cur <= prev || ps.maxFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		if ps.partDelays != nil {
			<-ps.partDelays
		}
		if index == ps.failPart {
			http.Error(w, "gone", http.StatusBadGateway)
			return
		}
		_, _ = w.Write(ps.parts[index])
	}))
	return ps
}

func testAsset(chunks int) *manifest.Asset {
	return &manifest.Asset{
		OriginalPath: "/app.js",
		ChunkedPath:  "chunked/app",
		Type:         "js",
		Chunks:       chunks,
	}
}

func newFetcher(server *partServer, concurrency int) *fetcher.Fetcher {
	client := utils.NewSplitwireHTTPClient(utils.HTTPClientConfig{RetryMax: 1, RetryWait: time.Millisecond})
	return fetcher.New(client, fetcher.Config{
		Origin:      server.URL,
		Version:     "build-1",
		Concurrency: concurrency,
	})
}

func TestReconstructRoundTrip(t *testing.T) {
	parts := [][]byte{[]byte("const a"), []byte(" = 1;"), []byte("export default a;")}
	server := newPartServer(t, parts, -1)
	defer server.Close()

	var ticks []progress.Progress
	body, meta, err := newFetcher(server, 2).Reconstruct(context.Background(), testAsset(3), func(p progress.Progress) {
		ticks = append(ticks, p)
	})
	require.NoError(t, err)
	assert.Equal(t, bytes.Join(parts, nil), body)
	assert.Equal(t, "text/javascript", meta.MimeType)

	// One tick per part plus the terminal tick; percentage never drops.
	require.Len(t, ticks, len(parts)+1)
	last := 0
	for _, p := range ticks {
		assert.GreaterOrEqual(t, p.Percentage, last)
		last = p.Percentage
	}
	completes := 0
	for _, p := range ticks {
		if p.Complete {
			completes++
		}
	}
	assert.Equal(t, 1, completes)
	assert.True(t, ticks[len(ticks)-1].Complete)
	assert.Equal(t, 100, ticks[len(ticks)-1].Percentage)
}

func TestReconstructBoundsConcurrency(t *testing.T) {
	parts := make([][]byte, 5)
	for i := range parts {
		parts[i] = []byte(strings.Repeat("x", 32))
	}
	server := newPartServer(t, parts, -1)
	defer server.Close()

	// Hold every part request until all goroutines of a batch are in
	// flight, so maxFlight reflects true overlap.
	server.partDelays = make(chan struct{})
	go func() {
		for i := 0; i < len(parts); i++ {
			server.partDelays <- struct{}{}
		}
	}()

	_, _, err := newFetcher(server, 2).Reconstruct(context.Background(), testAsset(5), nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, server.maxFlight.Load(), int32(2), "no more than Concurrency parts may be outstanding")
}

func TestReconstructPartFailureAborts(t *testing.T) {
	parts := [][]byte{[]byte("aa"), []byte("bb"), []byte("cc")}
	server := newPartServer(t, parts, 1)
	defer server.Close()

	body, _, err := newFetcher(server, 3).Reconstruct(context.Background(), testAsset(3), nil)
	assert.Nil(t, body)
	var chunkErr *fetcher.ChunkFetchError
	require.ErrorAs(t, err, &chunkErr)
	assert.Equal(t, 1, chunkErr.Index)
}

func TestReconstructCancelled(t *testing.T) {
	parts := [][]byte{[]byte("aa"), []byte("bb")}
	server := newPartServer(t, parts, -1)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var completes atomic.Int32
	_, _, err := newFetcher(server, 2).Reconstruct(ctx, testAsset(2), func(p progress.Progress) {
		if p.Complete {
			completes.Add(1)
		}
	})
	require.ErrorIs(t, err, fetcher.ErrDownloadCancelled)
	assert.Zero(t, completes.Load(), "cancelled reconstruction must not emit a success tick")
}

func TestReconstructMetaMismatch(t *testing.T) {
	parts := [][]byte{[]byte("aa"), []byte("bb")}
	server := newPartServer(t, parts, -1)
	defer server.Close()

	// Manifest claims 3 chunks, metadata declares 2.
	_, _, err := newFetcher(server, 2).Reconstruct(context.Background(), testAsset(3), nil)
	require.ErrorIs(t, err, fetcher.ErrManifestMismatch)
}

func TestReconstructSizeMismatch(t *testing.T) {
	parts := [][]byte{[]byte("aa"), []byte("bb")}
	server := newPartServer(t, parts, -1)
	server.meta.FileSize = 99
	defer server.Close()

	_, _, err := newFetcher(server, 2).Reconstruct(context.Background(), testAsset(2), nil)
	require.ErrorIs(t, err, fetcher.ErrManifestMismatch)
}

func TestFetchDirect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/logo.png", r.URL.Path)
		assert.Equal(t, "build-1", r.URL.Query().Get("v"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("pngbytes"))
	}))
	defer server.Close()

	client := utils.NewSplitwireHTTPClient(utils.HTTPClientConfig{RetryMax: 1, RetryWait: time.Millisecond})
	f := fetcher.New(client, fetcher.Config{Origin: server.URL, Version: "build-1"})

	var ticks []progress.Progress
	body, mime, err := f.FetchDirect(context.Background(), "/images/logo.png", func(p progress.Progress) {
		ticks = append(ticks, p)
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("pngbytes"), body)
	assert.Equal(t, "image/png", mime)
	require.NotEmpty(t, ticks)
	assert.True(t, ticks[len(ticks)-1].Complete)
}
