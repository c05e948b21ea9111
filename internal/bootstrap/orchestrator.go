package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tanq16/splitwire/internal/fetcher"
	"github.com/tanq16/splitwire/internal/gateway"
	"github.com/tanq16/splitwire/internal/manifest"
	"github.com/tanq16/splitwire/internal/progress"
	"github.com/tanq16/splitwire/internal/utils"
)

// ErrHandshakeTimeout is fatal to the current page: the orchestrator
// escalates to a full reload instead of a partially degraded state.
var ErrHandshakeTimeout = errors.New("control handshake timed out")

type Config struct {
	GatewayBase       string
	Origin            string
	Version           string
	Concurrency       int
	PartExt           string
	TriggerExtensions []string
	ClaimPollDelay    time.Duration
	PollInterval      time.Duration
	HandshakeTimeout  time.Duration
	RetryDelay        time.Duration
}

// Page describes the document the orchestrator boots: its referenced
// assets in declaration order and the path it was entered on.
type Page struct {
	EntryPath string
	Styles    []string
	Scripts   []string
}

// Orchestrator runs in the page context before any application code.
// It confirms the interception layer controls the page, then drives
// asset loading and the download-link interception flow.
type Orchestrator struct {
	registrar Registrar
	client    utils.HTTPDoer
	loader    *manifest.Loader
	fetcher   *fetcher.Fetcher
	reload    func()
	config    Config
	log       zerolog.Logger
}

func NewOrchestrator(registrar Registrar, client utils.HTTPDoer, config Config, reload func()) *Orchestrator {
	if config.ClaimPollDelay == 0 {
		config.ClaimPollDelay = 400 * time.Millisecond
	}
	if config.PollInterval == 0 {
		config.PollInterval = 200 * time.Millisecond
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 8 * time.Second
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 2 * time.Second
	}
	if len(config.TriggerExtensions) == 0 {
		config.TriggerExtensions = utils.DefaultTriggerExtensions
	}
	if reload == nil {
		reload = func() {}
	}
	return &Orchestrator{
		registrar: registrar,
		client:    client,
		loader:    manifest.NewLoader(client, config.Origin, config.Version),
		fetcher: fetcher.New(client, fetcher.Config{
			Origin:      config.Origin,
			Version:     config.Version,
			Concurrency: config.Concurrency,
			PartExt:     config.PartExt,
		}),
		reload: reload,
		config: config,
		log:    utils.GetLogger("bootstrap"),
	}
}

// EnsureControl confirms the gateway controls this page. If it already
// does, no registration call and no reload occurs. Otherwise it
// registers, drives the lifecycle with SKIP_WAITING and CLAIM_CLIENTS,
// and escalates to a hard reload when the handshake cannot complete in
// time.
func (o *Orchestrator) EnsureControl(ctx context.Context) error {
	if o.controlling(ctx) {
		o.log.Debug().Msg("Gateway already controlling, proceeding")
		return nil
	}
	if err := o.registrar.Register(ctx); err != nil {
		o.log.Error().Err(err).Msg("Registration failed, forcing reload")
		o.reload()
		return ErrHandshakeTimeout
	}

	deadline := time.NewTimer(o.config.HandshakeTimeout)
	defer deadline.Stop()

	for {
		reply, err := o.registrar.Send(ctx, gateway.Message{Type: gateway.MsgPing})
		if err == nil {
			switch reply.State {
			case gateway.StateActive.String():
				return o.claimAndPoll(ctx)
			case gateway.StateInstalling.String(), gateway.StateWaiting.String():
				// Force immediate activation instead of waiting on
				// ambient lifecycle timing.
				if _, err := o.registrar.Send(ctx, gateway.Message{Type: gateway.MsgSkipWaiting}); err != nil {
					o.log.Debug().Err(err).Msg("SKIP_WAITING send failed")
				}
			}
		}
		select {
		case <-deadline.C:
			o.log.Error().Msg("No controller appeared before handshake timeout, forcing reload")
			o.reload()
			return ErrHandshakeTimeout
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.config.PollInterval):
		}
	}
}

// claimAndPoll sends CLAIM_CLIENTS to an active worker and polls once
// after a short delay; an uncontrolled page after that forces a reload.
func (o *Orchestrator) claimAndPoll(ctx context.Context) error {
	if _, err := o.registrar.Send(ctx, gateway.Message{Type: gateway.MsgClaimClients}); err != nil {
		o.log.Debug().Err(err).Msg("CLAIM_CLIENTS send failed")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(o.config.ClaimPollDelay):
	}
	if o.controlling(ctx) {
		return nil
	}
	o.log.Error().Msg("Still uncontrolled after claim, forcing reload")
	o.reload()
	return ErrHandshakeTimeout
}

func (o *Orchestrator) controlling(ctx context.Context) bool {
	reply, err := o.registrar.Send(ctx, gateway.Message{Type: gateway.MsgPing})
	return err == nil && reply.Controlled
}

// Run performs the full bootstrap: control handshake, entry-path
// download handling, then styles in parallel and scripts strictly in
// declaration order. Stage failures are retried once and then escalate
// to a reload after a short delay.
func (o *Orchestrator) Run(ctx context.Context, page Page, onProgress progress.Callback) error {
	if err := o.EnsureControl(ctx); err != nil {
		return err
	}

	if displayPath, isDownload := o.EntryRedirect(page.EntryPath); isDownload {
		o.log.Info().Str("entry", page.EntryPath).Str("display", displayPath).Msg("Entry path triggers a download, replacing visible URL")
		if _, _, err := o.Download(ctx, page.EntryPath, onProgress); err != nil && !errors.Is(err, fetcher.ErrDownloadCancelled) {
			o.log.Warn().Err(err).Msg("Entry download failed")
		}
	}

	if err := o.LoadStyles(ctx, page.Styles); err != nil {
		return o.escalate(err)
	}
	if err := o.LoadScripts(ctx, page.Scripts); err != nil {
		return o.escalate(err)
	}
	return nil
}

func (o *Orchestrator) escalate(err error) error {
	o.log.Error().Err(err).Dur("delay", o.config.RetryDelay).Msg("Bootstrap stage failed, reloading")
	time.Sleep(o.config.RetryDelay)
	o.reload()
	return err
}

// LoadStyles fetches stylesheets through the gateway in parallel;
// ordering between styles does not matter.
func (o *Orchestrator) LoadStyles(ctx context.Context, hrefs []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, href := range hrefs {
		href := href
		g.Go(func() error {
			return o.loadAsset(gctx, href)
		})
	}
	return g.Wait()
}

// LoadScripts fetches scripts strictly sequentially, preserving
// declaration order: later scripts may depend on earlier ones.
func (o *Orchestrator) LoadScripts(ctx context.Context, srcs []string) error {
	for _, src := range srcs {
		if err := o.loadAsset(ctx, src); err != nil {
			return err
		}
	}
	return nil
}

// loadAsset fetches one resource through the gateway, cache-busted with
// the build version, retrying once on failure.
func (o *Orchestrator) loadAsset(ctx context.Context, assetPath string) error {
	err := o.fetchThroughGateway(ctx, assetPath)
	if err == nil {
		return nil
	}
	o.log.Warn().Err(err).Str("asset", assetPath).Msg("Asset load failed, retrying once")
	if err := o.fetchThroughGateway(ctx, assetPath); err != nil {
		return fmt.Errorf("failed to load %s: %w", assetPath, err)
	}
	return nil
}

func (o *Orchestrator) fetchThroughGateway(ctx context.Context, assetPath string) error {
	assetURL := utils.CacheBust(o.config.GatewayBase+"/"+manifest.NormalizeKey(assetPath), o.config.Version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// ShouldIntercept reports whether a link click should be turned into an
// in-UI download instead of a navigation.
func (o *Orchestrator) ShouldIntercept(href string) bool {
	return utils.TriggerExtension(href, o.config.TriggerExtensions)
}

// EntryRedirect maps a trigger-download entry path to the root path so
// the visible URL can be replaced before the download flow starts.
func (o *Orchestrator) EntryRedirect(entryPath string) (string, bool) {
	if entryPath == "" || !utils.TriggerExtension(entryPath, o.config.TriggerExtensions) {
		return entryPath, false
	}
	return "/", true
}

// Download drives the fetcher for a user-facing download: manifest hit
// reconstructs from parts, anything else streams the original resource
// in one pass. Cancellation arrives through ctx.
func (o *Orchestrator) Download(ctx context.Context, assetPath string, onProgress progress.Callback) ([]byte, string, error) {
	if table, err := o.loader.Ensure(ctx); err == nil {
		if asset, ok := table.Lookup(assetPath); ok {
			body, meta, err := o.fetcher.Reconstruct(ctx, asset, onProgress)
			if err != nil {
				return nil, "", err
			}
			return body, meta.FileName, nil
		}
	} else {
		o.log.Debug().Err(err).Msg("Manifest unavailable, streaming download directly")
	}
	body, _, err := o.fetcher.FetchDirect(ctx, assetPath, onProgress)
	if err != nil {
		return nil, "", err
	}
	return body, path.Base(manifest.NormalizeKey(assetPath)), nil
}
