package gateway

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tanq16/splitwire/internal/manifest"
	"github.com/tanq16/splitwire/internal/utils"
)

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// ServeHTTP classifies the request and answers with a reconstructed
// response, a redirect, the root document or a pass-through. An
// internal failure never breaks the navigation: every branch falls
// back to forwarding the original request.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == ControlPath {
		g.handleControl(w, r)
		return
	}
	if g.crossOrigin(r) {
		g.forward(w, r, requestScheme(r)+"://"+r.Host)
		return
	}
	path := r.URL.Path
	if g.selfPath(path) || g.chunkPath(path) {
		g.forward(w, r, g.config.Origin)
		return
	}
	if isNavigation(r) {
		if g.detector != nil {
			if redirect := g.detector.CheckNavigation(r.Context()); redirect != "" {
				g.log.Info().Str("redirect", redirect).Msg("Navigation redirected by block detection")
				http.Redirect(w, r, redirect, http.StatusFound)
				return
			}
		}
		if utils.TriggerExtension(path, g.config.TriggerExtensions) {
			// Serve the shell so the download can be offered in-UI
			// instead of streamed as a navigation.
			g.serveRootDocument(w, r)
			return
		}
	}
	g.serveAsset(w, r)
}

// crossOrigin reports whether the request targets a different host
// than the one this gateway fronts.
func (g *Gateway) crossOrigin(r *http.Request) bool {
	if g.config.PublicHost == "" || r.Host == "" {
		return false
	}
	return !strings.EqualFold(r.Host, g.config.PublicHost)
}

// selfPath matches the loader, the gateway script itself and the
// manifest document, which must never be intercepted (self-interception
// loop).
func (g *Gateway) selfPath(path string) bool {
	switch strings.TrimSuffix(path, "/") {
	case g.config.LoaderPath, g.config.GatewayScriptPath, "/" + utils.ManifestFile:
		return true
	}
	return false
}

// chunkPath matches the chunk storage namespace and per-asset metadata,
// both served directly from the origin.
func (g *Gateway) chunkPath(path string) bool {
	trimmed := strings.TrimPrefix(path, "/")
	if strings.HasPrefix(trimmed, strings.Trim(g.config.ChunkRoot, "/")+"/") {
		return true
	}
	return strings.HasSuffix(trimmed, "/"+utils.MetaFile)
}

func isNavigation(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// serveAsset resolves the path against the manifest and reconstructs a
// hit; everything else passes through to the origin unmodified.
func (g *Gateway) serveAsset(w http.ResponseWriter, r *http.Request) {
	table, err := g.loader.Ensure(r.Context())
	if err != nil {
		g.log.Debug().Err(err).Msg("Manifest unavailable, passing request through")
		g.forward(w, r, g.config.Origin)
		return
	}
	asset, ok := table.Lookup(r.URL.RequestURI())
	if !ok {
		g.forward(w, r, g.config.Origin)
		return
	}

	key := manifest.NormalizeKey(asset.OriginalPath)
	if g.store != nil {
		if body, mimeType, hit := g.store.Get(key); hit {
			g.writeReconstructed(w, mimeType, body)
			return
		}
	}

	body, meta, err := g.fetcher.Reconstruct(r.Context(), asset, nil)
	if err != nil {
		g.log.Warn().Err(err).Str("path", asset.OriginalPath).Msg("Reconstruction failed, passing request through")
		g.forward(w, r, g.config.Origin)
		return
	}
	if g.store != nil {
		if err := g.store.Put(key, meta.MimeType, body); err != nil {
			g.log.Debug().Err(err).Msg("Failed to cache reconstructed asset")
		}
	}
	g.writeReconstructed(w, meta.MimeType, body)
}

func (g *Gateway) writeReconstructed(w http.ResponseWriter, mimeType string, body []byte) {
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set(utils.HeaderReconstructed, "1")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		g.log.Debug().Err(err).Msg("Failed to write reconstructed response")
	}
}

// serveRootDocument answers a trigger-download navigation with the
// application shell fetched from the origin.
func (g *Gateway) serveRootDocument(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, g.config.Origin+"/", nil)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Warn().Err(err).Msg("Failed to fetch root document")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, resp.Body); err != nil {
		g.log.Debug().Err(err).Msg("Failed to stream root document")
	}
}

// forward relays the request to the target base URL unmodified, minus
// hop-by-hop headers.
func (g *Gateway) forward(w http.ResponseWriter, r *http.Request, targetBase string) {
	targetURL := strings.TrimSuffix(targetBase, "/") + r.URL.RequestURI()
	req, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("bad gateway: %v", err), http.StatusBadGateway)
		return
	}
	req.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Warn().Err(err).Str("target", targetURL).Msg("Pass-through request failed")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	for _, h := range hopHeaders {
		w.Header().Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		g.log.Debug().Err(err).Msg("Failed to stream pass-through response")
	}
}
