package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tanq16/splitwire/internal/blockdetect"
	"github.com/tanq16/splitwire/internal/gateway"
	"github.com/tanq16/splitwire/internal/gateway/cache"
	"github.com/tanq16/splitwire/internal/output"
	"github.com/tanq16/splitwire/internal/utils"
)

var (
	serveListen      string
	serveConfig      string
	serveCachePath   string
	servePublicHost  string
	serveMarker      string
	serveRedirect    string
	serveDNSDomains  []string
	serveResolver    string
	serveTriggerExts []string
	serveConcurrency int
	servePartExt     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the interception gateway in front of an origin",
	Run: func(cmd *cobra.Command, args []string) {
		log := utils.GetLogger("serve")

		cfg := &utils.GatewayConfig{
			Listen:            serveListen,
			Origin:            origin,
			Version:           buildVersion,
			CachePath:         serveCachePath,
			Concurrency:       serveConcurrency,
			TriggerExtensions: serveTriggerExts,
			BlockMarker:       serveMarker,
			RedirectURL:       serveRedirect,
			DNSDomains:        serveDNSDomains,
			ResolverURL:       serveResolver,
		}
		if serveConfig != "" {
			fileCfg, err := utils.ReadGatewayConfig(serveConfig)
			if err != nil {
				output.PrintError("Failed to read gateway config")
				log.Fatal().Err(err).Msg("Bad config file")
			}
			cfg = fileCfg
			if cfg.Listen == "" {
				cfg.Listen = serveListen
			}
		}
		if cfg.Origin == "" {
			output.PrintError("No origin provided")
			log.Fatal().Msg("An origin base URL is required")
		}

		client := utils.NewSplitwireHTTPClient(httpClientConfig())

		var detector *blockdetect.Detector
		if cfg.BlockMarker != "" {
			detector = blockdetect.New(client, cfg.Origin, cfg.ResolverURL, blockdetect.State{
				Enabled:     true,
				BlockMarker: cfg.BlockMarker,
				RedirectURL: cfg.RedirectURL,
				DNSDomains:  cfg.DNSDomains,
			})
		}

		var store *cache.Store
		if cfg.CachePath != "" {
			var err error
			store, err = cache.Open(cfg.CachePath, cfg.Version)
			if err != nil {
				log.Warn().Err(err).Msg("Cache unavailable, serving without it")
			} else {
				defer store.Close()
			}
		}

		gw := gateway.New(client, gateway.Config{
			Origin:            cfg.Origin,
			Version:           cfg.Version,
			PublicHost:        servePublicHost,
			TriggerExtensions: cfg.TriggerExtensions,
			Concurrency:       cfg.Concurrency,
			PartExt:           servePartExt,
		}, detector, store)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		gw.Install(ctx)
		gw.Activate(ctx)

		server := &http.Server{
			Addr:    cfg.Listen,
			Handler: gw,
		}
		go func() {
			<-ctx.Done()
			log.Info().Msg("Shutting down gateway")
			_ = server.Shutdown(context.Background())
		}()

		log.Info().Str("listen", cfg.Listen).Str("origin", cfg.Origin).Msg("Gateway serving")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Gateway server failed")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", ":8199", "Address for the gateway to listen on")
	serveCmd.Flags().StringVarP(&serveConfig, "config", "c", "", "Path to YAML gateway config (overrides other flags)")
	serveCmd.Flags().StringVar(&serveCachePath, "cache", "", "Path to the version-qualified asset cache database")
	serveCmd.Flags().StringVar(&servePublicHost, "public-host", "", "Host the gateway fronts; other hosts pass through untouched")
	serveCmd.Flags().StringVar(&serveMarker, "marker", "", "Block marker expected in the served root document")
	serveCmd.Flags().StringVar(&serveRedirect, "redirect", "", "Initial mirror URL for block redirects")
	serveCmd.Flags().StringArrayVar(&serveDNSDomains, "dns", []string{}, "Failover DNS domains carrying TXT configuration; can be repeated")
	serveCmd.Flags().StringVar(&serveResolver, "resolver", "https://cloudflare-dns.com/dns-query", "DNS-over-HTTPS resolver URL")
	serveCmd.Flags().StringArrayVar(&serveTriggerExts, "trigger-ext", nil, "Path extensions that trigger in-UI downloads")
	serveCmd.Flags().IntVarP(&serveConcurrency, "connections", "n", utils.DefaultConcurrency, "Part requests issued per reconstruction batch")
	serveCmd.Flags().StringVar(&servePartExt, "part-ext", "txt", "File extension of stored chunk parts")
}
