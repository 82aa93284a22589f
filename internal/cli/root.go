package cmd

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/rohmanhakim/media-pipeline/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile        string
	listenAddr     string
	originURL      string
	mediaHosts     []string
	writePrefixes  []string
	stablePrefixes []string
	dataDir        string
	cacheVersion   string
	flushInterval  time.Duration
	timeout        time.Duration
	userAgent      string
	randomSeed     int64
	preloadMargin  float64
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "media-pipeline",
	Short: "A local media relay daemon with adaptive loading and offline resilience.",
	Long: `media-pipeline is a relay daemon that fronts a remote application origin
for a bandwidth-sensitive media client. It adapts image quality and request
concurrency to the observed connection, serves a multi-tier response cache
with eviction, and defers failed writes into a durable replay queue so the
client keeps working offline.

Requests that are not control endpoints are proxied to the origin through
the cache router; media placeholders and viewport signals drive prefetching
into the image cache.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile == "" && originURL == "" {
			fmt.Fprintf(os.Stderr, "Error: --origin-url is required. Please provide the application origin to relay.\n")
			cmd.Usage()
			os.Exit(1)
		}

		origin, err := parseOriginURL(originURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}

		cfg := InitConfig(origin)
		return runDaemon(cfg)
	},
}

// parseOriginURL converts the origin flag value to a url.URL. An empty
// value is allowed when a config file supplies the origin instead.
func parseOriginURL(urlStr string) (url.URL, error) {
	if urlStr == "" {
		return url.URL{}, nil
	}
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return url.URL{}, fmt.Errorf("error parsing origin URL %s: %w", urlStr, err)
	}
	return *parsedURL, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "config file path (e.g., /home/myuser/config.json)")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen-addr", "", "address the daemon listens on (e.g., :8080)")
	rootCmd.PersistentFlags().StringVar(&originURL, "origin-url", "", "application origin to relay (e.g., https://app.example.org)")
	rootCmd.PersistentFlags().StringArrayVar(&mediaHosts, "media-host", []string{}, "host served from the remote-media cache tier (can be repeated)")
	rootCmd.PersistentFlags().StringArrayVar(&writePrefixes, "write-prefix", []string{}, "path prefix that always goes network-first (can be repeated)")
	rootCmd.PersistentFlags().StringArrayVar(&stablePrefixes, "stable-prefix", []string{}, "path prefix served cache-first (can be repeated)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory for the cache and write queue databases")
	rootCmd.PersistentFlags().StringVar(&cacheVersion, "cache-version", "", "cache namespace version; other versions are dropped on startup")
	rootCmd.PersistentFlags().DurationVar(&flushInterval, "flush-interval", 0, "interval between deferred write replay passes")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "timeout for upstream HTTP requests")
	rootCmd.PersistentFlags().StringVar(&userAgent, "user-agent", "", "user agent string for HTTP requests")
	rootCmd.PersistentFlags().Int64Var(&randomSeed, "random-seed", 0, "seed for random number generation (0 for current time)")
	rootCmd.PersistentFlags().Float64Var(&preloadMargin, "preload-margin", 0, "distance past the viewport edge that triggers prefetch")
}

// InitConfig reads in config file and flag values if set.
// origin is mandatory unless a config file supplies it.
func InitConfig(origin url.URL) config.Config {
	cfg, err := InitConfigWithError(origin)
	if err != nil {
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// InitConfigWithError reads in config file and flag values if set, returning any errors.
// This makes it easier to test error cases.
func InitConfigWithError(origin url.URL) (config.Config, error) {
	if cfgFile != "" {
		fmt.Printf("Initializing config from file: %s\n", cfgFile)
		cfg, err := config.WithConfigFile(cfgFile)
		if err != nil {
			return cfg, fmt.Errorf("error initializing config from file: %w", err)
		}
		return cfg, nil
	}

	// Build config from CLI flags using the With... functions with method chaining
	configBuilder := config.WithDefault(origin)

	if listenAddr != "" {
		configBuilder = configBuilder.WithListenAddr(listenAddr)
	}

	if len(mediaHosts) > 0 {
		configBuilder = configBuilder.WithMediaHosts(mediaHosts)
	}

	if len(writePrefixes) > 0 {
		configBuilder = configBuilder.WithWritePrefixes(writePrefixes)
	}

	if len(stablePrefixes) > 0 {
		configBuilder = configBuilder.WithStablePrefixes(stablePrefixes)
	}

	if dataDir != "" {
		configBuilder = configBuilder.WithDataDir(dataDir)
	}

	if cacheVersion != "" {
		configBuilder = configBuilder.WithCacheVersion(cacheVersion)
	}

	if flushInterval > 0 {
		configBuilder = configBuilder.WithFlushInterval(flushInterval)
	}

	if timeout > 0 {
		configBuilder = configBuilder.WithTimeout(timeout)
	}

	if userAgent != "" {
		configBuilder = configBuilder.WithUserAgent(userAgent)
	}

	if randomSeed != 0 {
		configBuilder = configBuilder.WithRandomSeed(randomSeed)
	}

	if preloadMargin > 0 {
		configBuilder = configBuilder.WithPreloadMargin(preloadMargin)
	}

	cfg, err := configBuilder.Build()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func ResetFlags() {
	cfgFile = ""
	listenAddr = ""
	originURL = ""
	mediaHosts = []string{}
	writePrefixes = []string{}
	stablePrefixes = []string{}
	dataDir = ""
	cacheVersion = ""
	flushInterval = 0
	timeout = 0
	userAgent = ""
	randomSeed = 0
	preloadMargin = 0
}

// Test helper functions to set flag values from tests
func SetConfigFileForTest(path string) {
	cfgFile = path
}

func SetListenAddrForTest(addr string) {
	listenAddr = addr
}

func SetOriginURLForTest(origin string) {
	originURL = origin
}

func SetMediaHostsForTest(hosts []string) {
	mediaHosts = hosts
}

func SetWritePrefixesForTest(prefixes []string) {
	writePrefixes = prefixes
}

func SetStablePrefixesForTest(prefixes []string) {
	stablePrefixes = prefixes
}

func SetDataDirForTest(dir string) {
	dataDir = dir
}

func SetCacheVersionForTest(version string) {
	cacheVersion = version
}

func SetFlushIntervalForTest(interval time.Duration) {
	flushInterval = interval
}

func SetTimeoutForTest(t time.Duration) {
	timeout = t
}

func SetUserAgentForTest(agent string) {
	userAgent = agent
}

func SetRandomSeedForTest(seed int64) {
	randomSeed = seed
}

func SetPreloadMarginForTest(margin float64) {
	preloadMargin = margin
}
