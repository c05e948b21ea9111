package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tanq16/splitwire/internal/fetcher"
	"github.com/tanq16/splitwire/internal/manifest"
	"github.com/tanq16/splitwire/internal/output"
	"github.com/tanq16/splitwire/internal/progress"
	"github.com/tanq16/splitwire/internal/utils"
)

var (
	getOutput      string
	getListFile    string
	getWorkers     int
	getConcurrency int
	getPartExt     string
)

var getCmd = &cobra.Command{
	Use:   "get [asset paths]",
	Short: "Download assets, reassembling chunked ones from their parts",
	Args:  cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		log := utils.GetLogger("get")
		if origin == "" {
			output.PrintError("No origin provided")
			os.Exit(1)
		}
		if len(args) == 0 && getListFile == "" {
			output.PrintError("No asset path or list provided")
			os.Exit(1)
		}
		if getListFile != "" && len(args) > 0 {
			output.PrintError("Cannot specify asset arguments and --list together, choose one")
			os.Exit(1)
		}

		var entries []utils.AssetEntry
		if getListFile != "" {
			var err error
			entries, err = utils.ReadAssetList(getListFile)
			if err != nil {
				output.PrintError("Failed to read asset list file")
				os.Exit(1)
			}
		} else {
			for _, arg := range args {
				entries = append(entries, utils.AssetEntry{Path: arg, OutputPath: getOutput})
			}
		}

		client := utils.NewSplitwireHTTPClient(httpClientConfig())
		loader := manifest.NewLoader(client, origin, buildVersion)
		chunkFetcher := fetcher.New(client, fetcher.Config{
			Origin:      origin,
			Version:     buildVersion,
			Concurrency: getConcurrency,
			PartExt:     getPartExt,
		})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mgr := output.NewManager()
		mgr.StartDisplay()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(getWorkers, 1))
		for _, entry := range entries {
			entry := entry
			g.Go(func() error {
				id := mgr.Register(entry.Path)
				body, name, err := downloadOne(gctx, loader, chunkFetcher, entry.Path, mgr.Callback(id))
				if err != nil {
					if errors.Is(err, fetcher.ErrDownloadCancelled) {
						mgr.Cancelled(id)
						return nil
					}
					mgr.ReportError(id, err)
					return nil
				}
				outPath := entry.OutputPath
				if outPath == "" {
					outPath = name
				}
				if _, err := os.Stat(outPath); err == nil {
					outPath = utils.RenewOutputPath(outPath)
				}
				if dir := filepath.Dir(outPath); dir != "." {
					if err := os.MkdirAll(dir, 0o755); err != nil {
						mgr.ReportError(id, err)
						return nil
					}
				}
				if err := os.WriteFile(outPath, body, 0o644); err != nil {
					mgr.ReportError(id, err)
					return nil
				}
				mgr.Complete(id, "Saved "+outPath)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			log.Debug().Err(err).Msg("Worker pool finished with error")
		}
		mgr.StopDisplay()
		if mgr.HasErrors() {
			output.PrintError("Encountered failed download(s)")
			os.Exit(1)
		}
	},
}

// downloadOne reconstructs a manifest hit from its parts; anything else
// streams the original resource directly.
func downloadOne(ctx context.Context, loader *manifest.Loader, chunkFetcher *fetcher.Fetcher, assetPath string, onProgress progress.Callback) ([]byte, string, error) {
	if table, err := loader.Ensure(ctx); err == nil {
		if asset, ok := table.Lookup(assetPath); ok {
			body, meta, err := chunkFetcher.Reconstruct(ctx, asset, onProgress)
			if err != nil {
				return nil, "", err
			}
			return body, meta.FileName, nil
		}
	}
	body, _, err := chunkFetcher.FetchDirect(ctx, assetPath, onProgress)
	if err != nil {
		return nil, "", err
	}
	return body, filepath.Base(manifest.NormalizeKey(assetPath)), nil
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "Output file path (inferred from metadata if not provided)")
	getCmd.Flags().StringVarP(&getListFile, "list", "L", "", "Path to YAML file of asset paths and output paths")
	getCmd.Flags().IntVarP(&getWorkers, "workers", "w", 1, "Number of assets to download in parallel")
	getCmd.Flags().IntVarP(&getConcurrency, "connections", "n", utils.DefaultConcurrency, "Part requests issued per reconstruction batch")
	getCmd.Flags().StringVar(&getPartExt, "part-ext", "txt", "File extension of stored chunk parts")
}
