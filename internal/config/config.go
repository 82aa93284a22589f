package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"
)

type Config struct {
	//===============
	// Serve
	//===============
	// Address the relay daemon listens on
	listenAddr string
	// Upstream application origin every non-media request is rewritten onto
	originURL url.URL

	//===============
	// Routing
	//===============
	// Hosts whose requests are treated as remote media and cached in the
	// remote-media tier. Matched exactly or as a parent domain suffix
	mediaHosts []string
	// URL path prefixes that must always hit the network first (writes, auth)
	writePrefixes []string
	// URL path prefixes whose responses rarely change and can be served
	// cache-first
	stablePrefixes []string

	//===============
	// Storage
	//===============
	// Directory holding the cache and write queue databases
	dataDir string
	// Cache schema version; buckets from other versions are dropped on open
	cacheVersion string
	// Per-tier entry limits. Zero means unbounded
	staticCacheLimit      int
	dynamicCacheLimit     int
	imageCacheLimit       int
	remoteMediaCacheLimit int
	// Freshness windows for the image tiers
	imageMaxAge       time.Duration
	remoteMediaMaxAge time.Duration

	//===============
	// Write queue
	//===============
	// How often the deferred write queue replays pending writes
	flushInterval time.Duration

	//===============
	// Politeness
	//===============
	// Minimum, fixed waiting time enforced between two retry attempts
	baseDelay time.Duration
	// Randomized variation added on top of the base delay.
	// Intentional randomness applied to timing.
	jitter time.Duration
	// Controls the random number generator
	randomSeed int64
	// maximum attempt during retry
	maxAttempt int
	// initial delay for backoff
	backoffInitialDuration time.Duration
	// multiplier during exponential backoff
	backoffMultiplier float64
	// capped maximum delay for backoff to stop exponential multiplication
	backoffMaxDuration time.Duration

	//===============
	// Fetch
	//===============
	// Maximum time of a single upstream fetch
	timeout time.Duration
	// User agent that will be used in the request header. In raw string
	userAgent string

	//===============
	// Visibility
	//===============
	// How far past the viewport edge, in logical pixels, a placeholder
	// counts as imminent
	preloadMargin float64
}

type configDTO struct {
	ListenAddr            string        `json:"listenAddr,omitempty"`
	OriginURL             string        `json:"originUrl,omitempty"`
	MediaHosts            []string      `json:"mediaHosts,omitempty"`
	WritePrefixes         []string      `json:"writePrefixes,omitempty"`
	StablePrefixes        []string      `json:"stablePrefixes,omitempty"`
	DataDir               string        `json:"dataDir,omitempty"`
	CacheVersion          string        `json:"cacheVersion,omitempty"`
	StaticCacheLimit      int           `json:"staticCacheLimit,omitempty"`
	DynamicCacheLimit     int           `json:"dynamicCacheLimit,omitempty"`
	ImageCacheLimit       int           `json:"imageCacheLimit,omitempty"`
	RemoteMediaCacheLimit int           `json:"remoteMediaCacheLimit,omitempty"`
	ImageMaxAge           time.Duration `json:"imageMaxAge,omitempty"`
	RemoteMediaMaxAge     time.Duration `json:"remoteMediaMaxAge,omitempty"`
	FlushInterval         time.Duration `json:"flushInterval,omitempty"`
	BaseDelay             time.Duration `json:"baseDelay,omitempty"`
	Jitter                time.Duration `json:"jitter,omitempty"`
	RandomSeed            int64         `json:"randomSeed,omitempty"`
	MaxAttempt            int           `json:"maxAttempt,omitempty"`
	BackoffInitialDur     time.Duration `json:"backoffInitialDuration,omitempty"`
	BackoffMultiplier     float64       `json:"backoffMultiplier,omitempty"`
	BackoffMaxDuration    time.Duration `json:"backoffMaxDuration,omitempty"`
	Timeout               time.Duration `json:"timeout,omitempty"`
	UserAgent             string        `json:"userAgent,omitempty"`
	PreloadMargin         float64       `json:"preloadMargin,omitempty"`
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	origin, err := url.Parse(dto.OriginURL)
	if err != nil {
		return Config{}, fmt.Errorf("%w: originUrl: %s", ErrInvalidConfig, err.Error())
	}

	cfg, err := WithDefault(*origin).Build()
	if err != nil {
		return Config{}, err
	}

	// Routing lists can be empty - always use DTO values when provided
	if len(dto.MediaHosts) > 0 {
		cfg.mediaHosts = dto.MediaHosts
	}
	if len(dto.WritePrefixes) > 0 {
		cfg.writePrefixes = dto.WritePrefixes
	}
	if len(dto.StablePrefixes) > 0 {
		cfg.stablePrefixes = dto.StablePrefixes
	}

	// For other fields, only override if non-zero value is provided
	if dto.ListenAddr != "" {
		cfg.listenAddr = dto.ListenAddr
	}
	if dto.DataDir != "" {
		cfg.dataDir = dto.DataDir
	}
	if dto.CacheVersion != "" {
		cfg.cacheVersion = dto.CacheVersion
	}
	if dto.StaticCacheLimit != 0 {
		cfg.staticCacheLimit = dto.StaticCacheLimit
	}
	if dto.DynamicCacheLimit != 0 {
		cfg.dynamicCacheLimit = dto.DynamicCacheLimit
	}
	if dto.ImageCacheLimit != 0 {
		cfg.imageCacheLimit = dto.ImageCacheLimit
	}
	if dto.RemoteMediaCacheLimit != 0 {
		cfg.remoteMediaCacheLimit = dto.RemoteMediaCacheLimit
	}
	if dto.ImageMaxAge != 0 {
		cfg.imageMaxAge = dto.ImageMaxAge
	}
	if dto.RemoteMediaMaxAge != 0 {
		cfg.remoteMediaMaxAge = dto.RemoteMediaMaxAge
	}
	if dto.FlushInterval != 0 {
		cfg.flushInterval = dto.FlushInterval
	}
	if dto.BaseDelay != 0 {
		cfg.baseDelay = dto.BaseDelay
	}
	if dto.Jitter != 0 {
		cfg.jitter = dto.Jitter
	}
	if dto.RandomSeed != 0 {
		cfg.randomSeed = dto.RandomSeed
	}
	if dto.MaxAttempt != 0 {
		cfg.maxAttempt = dto.MaxAttempt
	}
	if dto.BackoffInitialDur != 0 {
		cfg.backoffInitialDuration = dto.BackoffInitialDur
	}
	if dto.BackoffMultiplier != 0 {
		cfg.backoffMultiplier = dto.BackoffMultiplier
	}
	if dto.BackoffMaxDuration != 0 {
		cfg.backoffMaxDuration = dto.BackoffMaxDuration
	}
	if dto.Timeout != 0 {
		cfg.timeout = dto.Timeout
	}
	if dto.UserAgent != "" {
		cfg.userAgent = dto.UserAgent
	}
	if dto.PreloadMargin != 0 {
		cfg.preloadMargin = dto.PreloadMargin
	}

	return cfg, nil
}

func WithConfigFile(path string) (Config, error) {
	_, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	configContent, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}
	cfgDTO := configDTO{}

	err = json.Unmarshal(configContent, &cfgDTO)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	cfg, err := newConfigFromDTO(cfgDTO)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithDefault creates a new Config with the provided origin URL and default values for all other fields.
// originURL is mandatory and must have a host - an error will be returned from Build if it doesn't.
func WithDefault(originURL url.URL) *Config {
	defaultConfig := Config{
		listenAddr: ":8080",
		originURL:  originURL,
		mediaHosts: []string{},
		writePrefixes: []string{
			"/api/",
			"/auth/",
		},
		stablePrefixes: []string{
			"/courses/",
			"/lessons/",
		},
		dataDir:                "data",
		cacheVersion:           "v1",
		staticCacheLimit:       50,
		dynamicCacheLimit:      150,
		imageCacheLimit:        200,
		remoteMediaCacheLimit:  100,
		imageMaxAge:            24 * time.Hour,
		remoteMediaMaxAge:      time.Hour,
		flushInterval:          30 * time.Second,
		baseDelay:              200 * time.Millisecond,
		jitter:                 100 * time.Millisecond,
		randomSeed:             time.Now().UnixNano(),
		maxAttempt:             3,
		backoffInitialDuration: 100 * time.Millisecond,
		backoffMultiplier:      2.0,
		backoffMaxDuration:     10 * time.Second,
		timeout:                time.Second * 10,
		userAgent:              "media-pipeline/1.0",
		preloadMargin:          200,
	}
	return &defaultConfig
}

func (c *Config) WithListenAddr(addr string) *Config {
	c.listenAddr = addr
	return c
}

func (c *Config) WithOriginURL(origin url.URL) *Config {
	c.originURL = origin
	return c
}

func (c *Config) WithMediaHosts(hosts []string) *Config {
	c.mediaHosts = hosts
	return c
}

func (c *Config) WithWritePrefixes(prefixes []string) *Config {
	c.writePrefixes = prefixes
	return c
}

func (c *Config) WithStablePrefixes(prefixes []string) *Config {
	c.stablePrefixes = prefixes
	return c
}

func (c *Config) WithDataDir(dir string) *Config {
	c.dataDir = dir
	return c
}

func (c *Config) WithCacheVersion(version string) *Config {
	c.cacheVersion = version
	return c
}

func (c *Config) WithStaticCacheLimit(limit int) *Config {
	c.staticCacheLimit = limit
	return c
}

func (c *Config) WithDynamicCacheLimit(limit int) *Config {
	c.dynamicCacheLimit = limit
	return c
}

func (c *Config) WithImageCacheLimit(limit int) *Config {
	c.imageCacheLimit = limit
	return c
}

func (c *Config) WithRemoteMediaCacheLimit(limit int) *Config {
	c.remoteMediaCacheLimit = limit
	return c
}

func (c *Config) WithImageMaxAge(maxAge time.Duration) *Config {
	c.imageMaxAge = maxAge
	return c
}

func (c *Config) WithRemoteMediaMaxAge(maxAge time.Duration) *Config {
	c.remoteMediaMaxAge = maxAge
	return c
}

func (c *Config) WithFlushInterval(interval time.Duration) *Config {
	c.flushInterval = interval
	return c
}

func (c *Config) WithBaseDelay(delay time.Duration) *Config {
	c.baseDelay = delay
	return c
}

func (c *Config) WithJitter(jitter time.Duration) *Config {
	c.jitter = jitter
	return c
}

func (c *Config) WithRandomSeed(seed int64) *Config {
	c.randomSeed = seed
	return c
}

func (c *Config) WithMaxAttempt(attempts int) *Config {
	c.maxAttempt = attempts
	return c
}

func (c *Config) WithBackoffInitialDuration(duration time.Duration) *Config {
	c.backoffInitialDuration = duration
	return c
}

func (c *Config) WithBackoffMultiplier(multiplier float64) *Config {
	c.backoffMultiplier = multiplier
	return c
}

func (c *Config) WithBackoffMaxDuration(duration time.Duration) *Config {
	c.backoffMaxDuration = duration
	return c
}

func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.timeout = timeout
	return c
}

func (c *Config) WithUserAgent(agent string) *Config {
	c.userAgent = agent
	return c
}

func (c *Config) WithPreloadMargin(margin float64) *Config {
	c.preloadMargin = margin
	return c
}

func (c *Config) Build() (Config, error) {
	if c.originURL.Host == "" {
		return Config{}, fmt.Errorf("%w: originUrl must have a host", ErrInvalidConfig)
	}
	if c.originURL.Scheme != "http" && c.originURL.Scheme != "https" {
		return Config{}, fmt.Errorf("%w: originUrl scheme must be http or https", ErrInvalidConfig)
	}

	return *c, nil
}

func (c Config) ListenAddr() string {
	return c.listenAddr
}

func (c Config) OriginURL() url.URL {
	return c.originURL
}

func (c Config) MediaHosts() []string {
	hosts := make([]string, len(c.mediaHosts))
	copy(hosts, c.mediaHosts)
	return hosts
}

func (c Config) WritePrefixes() []string {
	prefixes := make([]string, len(c.writePrefixes))
	copy(prefixes, c.writePrefixes)
	return prefixes
}

func (c Config) StablePrefixes() []string {
	prefixes := make([]string, len(c.stablePrefixes))
	copy(prefixes, c.stablePrefixes)
	return prefixes
}

func (c Config) DataDir() string {
	return c.dataDir
}

func (c Config) CacheVersion() string {
	return c.cacheVersion
}

func (c Config) StaticCacheLimit() int {
	return c.staticCacheLimit
}

func (c Config) DynamicCacheLimit() int {
	return c.dynamicCacheLimit
}

func (c Config) ImageCacheLimit() int {
	return c.imageCacheLimit
}

func (c Config) RemoteMediaCacheLimit() int {
	return c.remoteMediaCacheLimit
}

func (c Config) ImageMaxAge() time.Duration {
	return c.imageMaxAge
}

func (c Config) RemoteMediaMaxAge() time.Duration {
	return c.remoteMediaMaxAge
}

func (c Config) FlushInterval() time.Duration {
	return c.flushInterval
}

func (c Config) BaseDelay() time.Duration {
	return c.baseDelay
}

func (c Config) Jitter() time.Duration {
	return c.jitter
}

func (c Config) RandomSeed() int64 {
	return c.randomSeed
}

func (c Config) MaxAttempt() int {
	return c.maxAttempt
}

func (c Config) BackoffInitialDuration() time.Duration {
	return c.backoffInitialDuration
}

func (c Config) BackoffMultiplier() float64 {
	return c.backoffMultiplier
}

func (c Config) BackoffMaxDuration() time.Duration {
	return c.backoffMaxDuration
}

func (c Config) Timeout() time.Duration {
	return c.timeout
}

func (c Config) UserAgent() string {
	return c.userAgent
}

func (c Config) PreloadMargin() float64 {
	return c.preloadMargin
}
