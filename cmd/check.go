package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tanq16/splitwire/internal/blockdetect"
	"github.com/tanq16/splitwire/internal/output"
	"github.com/tanq16/splitwire/internal/utils"
)

var (
	checkMarker   string
	checkDNS      []string
	checkResolver string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe the origin for in-transit tampering and print the detection state",
	Run: func(cmd *cobra.Command, args []string) {
		if origin == "" {
			output.PrintError("No origin provided")
			os.Exit(1)
		}
		if checkMarker == "" {
			output.PrintError("No block marker provided")
			os.Exit(1)
		}
		client := utils.NewSplitwireHTTPClient(httpClientConfig())
		detector := blockdetect.New(client, origin, checkResolver, blockdetect.State{
			Enabled:     true,
			BlockMarker: checkMarker,
			DNSDomains:  checkDNS,
		})
		redirect := detector.CheckNavigation(context.Background())
		state := detector.State()
		if redirect == "" && state.Enabled {
			output.PrintSuccess("Marker present, origin looks untampered")
		} else if redirect != "" {
			output.PrintWarning("Origin content substituted, mirror: " + redirect)
		} else {
			output.PrintError("Detection disabled: marker absent and every DNS domain failed")
		}
		output.PrintDetail(fmt.Sprintf("enabled=%v marker=%q redirect=%q domains=%v", state.Enabled, state.BlockMarker, state.RedirectURL, state.DNSDomains))
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkMarker, "marker", "", "Block marker expected in the root document")
	checkCmd.Flags().StringArrayVar(&checkDNS, "dns", []string{}, "Failover DNS domains carrying TXT configuration; can be repeated")
	checkCmd.Flags().StringVar(&checkResolver, "resolver", "https://cloudflare-dns.com/dns-query", "DNS-over-HTTPS resolver URL")
}
