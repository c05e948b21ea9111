package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tanq16/splitwire/internal/bootstrap"
	"github.com/tanq16/splitwire/internal/output"
	"github.com/tanq16/splitwire/internal/utils"
)

var (
	bootGateway string
	bootEntry   string
	bootStyles  []string
	bootScripts []string
)

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Run the page bootstrap against a running gateway",
	Run: func(cmd *cobra.Command, args []string) {
		log := utils.GetLogger("boot")
		if origin == "" || bootGateway == "" {
			output.PrintError("Both an origin and a gateway address are required")
			os.Exit(1)
		}
		client := utils.NewSplitwireHTTPClient(httpClientConfig())
		registrar := bootstrap.NewHTTPRegistrar(client, bootGateway, uuid.New())
		orch := bootstrap.NewOrchestrator(registrar, client, bootstrap.Config{
			GatewayBase: bootGateway,
			Origin:      origin,
			Version:     buildVersion,
		}, func() {
			log.Warn().Msg("Bootstrap requested a reload")
		})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mgr := output.NewManager()
		mgr.StartDisplay()
		id := mgr.Register(bootEntry)
		err := orch.Run(ctx, bootstrap.Page{
			EntryPath: bootEntry,
			Styles:    bootStyles,
			Scripts:   bootScripts,
		}, mgr.Callback(id))
		mgr.StopDisplay()
		if err != nil {
			output.PrintError("Bootstrap failed")
			os.Exit(1)
		}
		output.PrintSuccess("Bootstrap complete, page assets loaded through the gateway")
	},
}

func init() {
	rootCmd.AddCommand(bootCmd)
	bootCmd.Flags().StringVarP(&bootGateway, "gateway", "g", "", "Base URL of the running gateway")
	bootCmd.Flags().StringVar(&bootEntry, "entry", "/", "Path the page was entered on")
	bootCmd.Flags().StringArrayVar(&bootStyles, "style", nil, "Stylesheet paths to load in parallel; can be repeated")
	bootCmd.Flags().StringArrayVar(&bootScripts, "script", nil, "Script paths to load in declaration order; can be repeated")
}
