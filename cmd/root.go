package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanq16/splitwire/internal/utils"
)

var (
	origin       string
	buildVersion string
	timeout      time.Duration
	kaTimeout    time.Duration
	userAgent    string
	proxyURL     string
	headers      []string
	debug        bool
)

var SplitwireVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "splitwire",
	Short:   "Splitwire delivers large static assets as small reassembled pieces",
	Version: SplitwireVersion,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func httpClientConfig() utils.HTTPClientConfig {
	return utils.HTTPClientConfig{
		Timeout:   timeout,
		KATimeout: kaTimeout,
		ProxyURL:  proxyURL,
		UserAgent: userAgent,
		Headers:   utils.ParseHeaderArgs(headers),
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&origin, "origin", "O", "", "Origin base URL hosting the manifest and chunk tree")
	rootCmd.PersistentFlags().StringVarP(&buildVersion, "release", "r", "", "Build version used for cache busting")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Connection timeout (eg. 5s, 10m)")
	rootCmd.PersistentFlags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}
