package gateway

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tanq16/splitwire/internal/blockdetect"
	"github.com/tanq16/splitwire/internal/fetcher"
	"github.com/tanq16/splitwire/internal/gateway/cache"
	"github.com/tanq16/splitwire/internal/manifest"
	"github.com/tanq16/splitwire/internal/utils"
)

// ControlPath is the reserved endpoint for the control-message
// protocol between page contexts and the gateway.
const ControlPath = "/__splitwire/control"

type Config struct {
	Origin            string
	Version           string
	PublicHost        string
	LoaderPath        string
	GatewayScriptPath string
	ChunkRoot         string
	TriggerExtensions []string
	Concurrency       int
	PartExt           string
}

// Gateway is the installable interception layer. It owns the manifest
// cache, classifies every request and answers with either a
// reconstructed response or a pass-through.
type Gateway struct {
	config   Config
	client   utils.HTTPDoer
	loader   *manifest.Loader
	fetcher  *fetcher.Fetcher
	detector *blockdetect.Detector
	store    *cache.Store
	log      zerolog.Logger

	mu        sync.Mutex
	state     State
	clients   map[uuid.UUID]bool
	activated chan struct{}
}

func New(client utils.HTTPDoer, config Config, detector *blockdetect.Detector, store *cache.Store) *Gateway {
	if config.LoaderPath == "" {
		config.LoaderPath = "/loader.js"
	}
	if config.GatewayScriptPath == "" {
		config.GatewayScriptPath = "/sw.js"
	}
	if config.ChunkRoot == "" {
		config.ChunkRoot = "chunked"
	}
	if len(config.TriggerExtensions) == 0 {
		config.TriggerExtensions = utils.DefaultTriggerExtensions
	}
	config.Origin = strings.TrimSuffix(config.Origin, "/")
	return &Gateway{
		config:   config,
		client:   client,
		loader:   manifest.NewLoader(client, config.Origin, config.Version),
		fetcher: fetcher.New(client, fetcher.Config{
			Origin:      config.Origin,
			Version:     config.Version,
			Concurrency: config.Concurrency,
			PartExt:     config.PartExt,
		}),
		detector:  detector,
		store:     store,
		log:       utils.GetLogger("gateway"),
		state:     StateUninstalled,
		clients:   make(map[uuid.UUID]bool),
		activated: make(chan struct{}),
	}
}

func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Activated is closed once the gateway reaches the active state.
func (g *Gateway) Activated() <-chan struct{} {
	return g.activated
}

// Install begins the manifest load but does not block installation on
// its completion: load failure is tolerated and retried lazily on the
// next request.
func (g *Gateway) Install(ctx context.Context) {
	g.mu.Lock()
	if g.state != StateUninstalled {
		g.mu.Unlock()
		return
	}
	g.state = StateInstalling
	g.mu.Unlock()

	go func() {
		if _, err := g.loader.Ensure(context.WithoutCancel(ctx)); err != nil {
			g.log.Warn().Err(err).Msg("Manifest preload failed, will retry lazily")
		} else {
			g.log.Debug().Msg("Manifest preloaded during install")
		}
	}()

	g.mu.Lock()
	g.state = StateWaiting
	g.mu.Unlock()
	g.log.Info().Str("version", g.config.Version).Msg("Gateway installed, waiting for activation")
}

// Activate takes ownership of all registered clients and purges every
// cached version except the current one.
func (g *Gateway) Activate(ctx context.Context) {
	g.mu.Lock()
	if g.state == StateActive {
		g.mu.Unlock()
		return
	}
	if g.state == StateUninstalled {
		g.mu.Unlock()
		g.Install(ctx)
		g.mu.Lock()
	}
	g.state = StateActive
	close(g.activated)
	g.mu.Unlock()

	if g.store != nil {
		if err := g.store.PurgeOtherVersions(); err != nil {
			g.log.Warn().Err(err).Msg("Failed to purge stale cache versions")
		}
	}
	g.claimClients()
	g.log.Info().Str("version", g.config.Version).Msg("Gateway active")
}

// RegisterClient records a page context. The client is uncontrolled
// until the gateway claims it.
func (g *Gateway) RegisterClient(id uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.clients[id]; !exists {
		g.clients[id] = false
	}
}

// Controls reports whether the gateway has claimed the given client.
func (g *Gateway) Controls(id uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clients[id]
}

func (g *Gateway) claimClients() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id := range g.clients {
		g.clients[id] = true
	}
}

// ManifestLoaded reports whether the manifest memo currently holds a
// table, for PING replies.
func (g *Gateway) ManifestLoaded() bool {
	return g.loader.Loaded()
}
