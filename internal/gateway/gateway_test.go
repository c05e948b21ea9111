package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/splitwire/internal/blockdetect"
	"github.com/tanq16/splitwire/internal/gateway"
	"github.com/tanq16/splitwire/internal/manifest"
	"github.com/tanq16/splitwire/internal/utils"
)

// newOrigin serves a build with one chunked asset (/js/app.js in two
// parts) plus a root shell and plain pass-through content.
func newOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	parts := [][]byte{[]byte("const answer"), []byte(" = 42;")}
	mux := http.NewServeMux()
	mux.HandleFunc("/"+utils.ManifestFile, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(manifest.Manifest{
			Version: "build-2",
			Assets: []manifest.Asset{
				{OriginalPath: "/js/app.js", ChunkedPath: "chunked/app", Type: "js", Size: 18, Chunks: 2},
				{OriginalPath: "/js/broken.js", ChunkedPath: "chunked/broken", Type: "js", Size: 10, Chunks: 1},
			},
		})
	})
	mux.HandleFunc("/chunked/app/"+utils.MetaFile, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(manifest.ChunkMeta{
			TotalChunks: 2, FileName: "app.js", FileSize: 18, MimeType: "text/javascript",
		})
	})
	mux.HandleFunc("/chunked/app/"+utils.PartPrefix+"0.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(parts[0])
	})
	mux.HandleFunc("/chunked/app/"+utils.PartPrefix+"1.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(parts[1])
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			_, _ = w.Write([]byte("<html>application shell</html>"))
			return
		}
		_, _ = w.Write([]byte("origin:" + r.URL.Path))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newGateway(t *testing.T, origin string, detector *blockdetect.Detector) *gateway.Gateway {
	t.Helper()
	client := utils.NewSplitwireHTTPClient(utils.HTTPClientConfig{RetryMax: 1, RetryWait: time.Millisecond})
	return gateway.New(client, gateway.Config{
		Origin:  origin,
		Version: "build-2",
	}, detector, nil)
}

func get(g *gateway.Gateway, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)
	return rec
}

func TestLifecycleTransitions(t *testing.T) {
	origin := newOrigin(t)
	g := newGateway(t, origin.URL, nil)

	assert.Equal(t, gateway.StateUninstalled, g.State())
	g.Install(context.Background())
	assert.Equal(t, gateway.StateWaiting, g.State())

	// Re-install is a no-op past the first transition.
	g.Install(context.Background())
	assert.Equal(t, gateway.StateWaiting, g.State())

	g.Activate(context.Background())
	assert.Equal(t, gateway.StateActive, g.State())
	select {
	case <-g.Activated():
	default:
		t.Fatal("Activated channel must be closed once active")
	}

	// Activate is idempotent.
	g.Activate(context.Background())
	assert.Equal(t, gateway.StateActive, g.State())
}

func TestActivateFromUninstalledInstallsFirst(t *testing.T) {
	origin := newOrigin(t)
	g := newGateway(t, origin.URL, nil)

	g.Activate(context.Background())
	assert.Equal(t, gateway.StateActive, g.State())
}

func TestControlClaimsClients(t *testing.T) {
	origin := newOrigin(t)
	g := newGateway(t, origin.URL, nil)
	g.Install(context.Background())

	clientID := uuid.New()
	reply := g.Control(context.Background(), gateway.Message{Type: gateway.MsgPing, ClientID: clientID.String()})
	assert.Equal(t, "PONG", reply.Type)
	assert.Equal(t, "waiting", reply.State)
	assert.False(t, reply.Controlled)

	g.Control(context.Background(), gateway.Message{Type: gateway.MsgSkipWaiting, ClientID: clientID.String()})
	reply = g.Control(context.Background(), gateway.Message{Type: gateway.MsgPing, ClientID: clientID.String()})
	assert.Equal(t, "active", reply.State)
	assert.True(t, reply.Controlled, "activation claims every registered client")

	// A client that registers after activation stays uncontrolled until
	// an explicit claim.
	late := uuid.New()
	reply = g.Control(context.Background(), gateway.Message{Type: gateway.MsgPing, ClientID: late.String()})
	assert.False(t, reply.Controlled)
	g.Control(context.Background(), gateway.Message{Type: gateway.MsgClaimClients, ClientID: late.String()})
	reply = g.Control(context.Background(), gateway.Message{Type: gateway.MsgPing, ClientID: late.String()})
	assert.True(t, reply.Controlled)
}

func TestControlEndpoint(t *testing.T) {
	origin := newOrigin(t)
	g := newGateway(t, origin.URL, nil)
	g.Install(context.Background())

	body := strings.NewReader(`{"type":"PING","clientId":"` + uuid.NewString() + `"}`)
	req := httptest.NewRequest(http.MethodPost, gateway.ControlPath, body)
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var reply gateway.Reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "PONG", reply.Type)
	assert.Equal(t, "waiting", reply.State)

	rec = get(g, gateway.ControlPath, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req = httptest.NewRequest(http.MethodPost, gateway.ControlPath, strings.NewReader("{broken"))
	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeAssetReconstructs(t *testing.T) {
	origin := newOrigin(t)
	g := newGateway(t, origin.URL, nil)
	g.Activate(context.Background())

	rec := get(g, "/js/app.js?v=build-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "const answer = 42;", rec.Body.String())
	assert.Equal(t, "text/javascript", rec.Header().Get("Content-Type"))
	assert.Equal(t, "1", rec.Header().Get(utils.HeaderReconstructed))
	assert.Equal(t, "18", rec.Header().Get("Content-Length"))
}

func TestServeAssetMissForwards(t *testing.T) {
	origin := newOrigin(t)
	g := newGateway(t, origin.URL, nil)
	g.Activate(context.Background())

	rec := get(g, "/js/other.js", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "origin:/js/other.js", rec.Body.String())
	assert.Empty(t, rec.Header().Get(utils.HeaderReconstructed))
}

func TestReconstructionFailureFallsBack(t *testing.T) {
	origin := newOrigin(t)
	g := newGateway(t, origin.URL, nil)
	g.Activate(context.Background())

	// broken.js is in the manifest but its metadata document is not
	// served, so the gateway degrades to a pass-through.
	rec := get(g, "/js/broken.js", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "origin:/js/broken.js", rec.Body.String())
	assert.Empty(t, rec.Header().Get(utils.HeaderReconstructed))
}

func TestSelfAndChunkPathsForward(t *testing.T) {
	origin := newOrigin(t)
	g := newGateway(t, origin.URL, nil)
	g.Activate(context.Background())

	rec := get(g, "/"+utils.ManifestFile, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var m manifest.Manifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "build-2", m.Version)

	rec = get(g, "/chunked/app/"+utils.PartPrefix+"0.txt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "const answer", rec.Body.String())
	assert.Empty(t, rec.Header().Get(utils.HeaderReconstructed))
}

func TestTriggerDownloadServesShell(t *testing.T) {
	origin := newOrigin(t)
	g := newGateway(t, origin.URL, nil)
	g.Activate(context.Background())

	rec := get(g, "/files/report.zip", map[string]string{"Accept": "text/html"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>application shell</html>", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	// The same path without a navigation Accept header passes through.
	rec = get(g, "/files/report.zip", nil)
	assert.Equal(t, "origin:/files/report.zip", rec.Body.String())
}

func TestNavigationRedirectOnSubstitutedContent(t *testing.T) {
	origin := newOrigin(t)
	resolver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Status": 0,
			"Answer": []map[string]any{{
				"name": r.URL.Query().Get("name"), "type": 16,
				"data": `"[1, \"ABSENT-MARKER\", \"https://mirror.example/\"]"`,
			}},
		})
	}))
	defer resolver.Close()

	client := utils.NewSplitwireHTTPClient(utils.HTTPClientConfig{RetryMax: 1, RetryWait: time.Millisecond})
	detector := blockdetect.New(client, origin.URL, resolver.URL, blockdetect.State{
		Enabled:     true,
		BlockMarker: "ABSENT-MARKER",
	})
	g := newGateway(t, origin.URL, detector)
	g.Activate(context.Background())

	rec := get(g, "/", map[string]string{"Accept": "text/html"})
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://mirror.example/", rec.Header().Get("Location"))
}

func TestCrossOriginForwardsToRequestHost(t *testing.T) {
	origin := newOrigin(t)
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("third party"))
	}))
	defer other.Close()

	client := utils.NewSplitwireHTTPClient(utils.HTTPClientConfig{RetryMax: 1, RetryWait: time.Millisecond})
	g := gateway.New(client, gateway.Config{
		Origin:     origin.URL,
		Version:    "build-2",
		PublicHost: "app.example",
	}, nil, nil)
	g.Activate(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Host = strings.TrimPrefix(other.URL, "http://")
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "third party", rec.Body.String())
}
