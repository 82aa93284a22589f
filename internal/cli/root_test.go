package cmd_test

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	cmd "github.com/rohmanhakim/media-pipeline/internal/cli"
	"github.com/rohmanhakim/media-pipeline/internal/config"
)

// defaultTestOrigin returns the origin URL used across these tests
func defaultTestOrigin() url.URL {
	return url.URL{Scheme: "https", Host: "app.example.org"}
}

// TestInitConfigNoFlags tests that initConfig returns a Config with default values when only the origin is provided
func TestInitConfigNoFlags(t *testing.T) {
	cmd.ResetFlags()

	cfg, err := cmd.InitConfigWithError(defaultTestOrigin())
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	defaultCfg, err := config.WithDefault(defaultTestOrigin()).Build()
	if err != nil {
		t.Errorf("should not have any error, got %v", err)
	}

	// Verify that the returned config matches the default config for non-overridden values
	if cfg.ListenAddr() != defaultCfg.ListenAddr() {
		t.Errorf("Expected ListenAddr %s, got %s", defaultCfg.ListenAddr(), cfg.ListenAddr())
	}
	if cfg.DataDir() != defaultCfg.DataDir() {
		t.Errorf("Expected DataDir %s, got %s", defaultCfg.DataDir(), cfg.DataDir())
	}
	if cfg.CacheVersion() != defaultCfg.CacheVersion() {
		t.Errorf("Expected CacheVersion %s, got %s", defaultCfg.CacheVersion(), cfg.CacheVersion())
	}
	if cfg.FlushInterval() != defaultCfg.FlushInterval() {
		t.Errorf("Expected FlushInterval %v, got %v", defaultCfg.FlushInterval(), cfg.FlushInterval())
	}
	if cfg.UserAgent() != defaultCfg.UserAgent() {
		t.Errorf("Expected UserAgent %s, got %s", defaultCfg.UserAgent(), cfg.UserAgent())
	}

	// Verify the origin is correctly set
	origin := cfg.OriginURL()
	if origin.String() != "https://app.example.org" {
		t.Errorf("Expected origin 'https://app.example.org', got '%s'", origin.String())
	}
}

// TestInitConfigWithEmptyOrigin tests that InitConfigWithError returns error when the origin is missing
func TestInitConfigWithEmptyOrigin(t *testing.T) {
	cmd.ResetFlags()

	_, err := cmd.InitConfigWithError(url.URL{})
	if err == nil {
		t.Fatal("Expected error for empty origin, got nil")
	}

	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got: %v", err)
	}
}

// TestInitConfigWithListenAddr tests that the listen-addr flag is properly applied
func TestInitConfigWithListenAddr(t *testing.T) {
	cmd.ResetFlags()
	cmd.SetListenAddrForTest(":9999")

	cfg, err := cmd.InitConfigWithError(defaultTestOrigin())
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	if cfg.ListenAddr() != ":9999" {
		t.Errorf("Expected ListenAddr ':9999', got '%s'", cfg.ListenAddr())
	}
}

// TestInitConfigWithRoutingFlags tests that media-host and prefix flags are properly applied
func TestInitConfigWithRoutingFlags(t *testing.T) {
	cmd.ResetFlags()
	cmd.SetMediaHostsForTest([]string{"cdn.example.org"})
	cmd.SetWritePrefixesForTest([]string{"/submit/"})
	cmd.SetStablePrefixesForTest([]string{"/catalog/"})

	cfg, err := cmd.InitConfigWithError(defaultTestOrigin())
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	if len(cfg.MediaHosts()) != 1 || cfg.MediaHosts()[0] != "cdn.example.org" {
		t.Errorf("Expected MediaHosts ['cdn.example.org'], got %v", cfg.MediaHosts())
	}
	if len(cfg.WritePrefixes()) != 1 || cfg.WritePrefixes()[0] != "/submit/" {
		t.Errorf("Expected WritePrefixes ['/submit/'], got %v", cfg.WritePrefixes())
	}
	if len(cfg.StablePrefixes()) != 1 || cfg.StablePrefixes()[0] != "/catalog/" {
		t.Errorf("Expected StablePrefixes ['/catalog/'], got %v", cfg.StablePrefixes())
	}
}

// TestInitConfigWithDurationFlags tests that duration flags are properly applied
func TestInitConfigWithDurationFlags(t *testing.T) {
	tests := []struct {
		name          string
		flushInterval time.Duration
		timeout       time.Duration
	}{
		{"Zero durations keep defaults", 0, 0},
		{"Explicit durations override", 5 * time.Second, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd.ResetFlags()
			cmd.SetFlushIntervalForTest(tt.flushInterval)
			cmd.SetTimeoutForTest(tt.timeout)

			cfg, err := cmd.InitConfigWithError(defaultTestOrigin())
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}

			defaultCfg, err := config.WithDefault(defaultTestOrigin()).Build()
			if err != nil {
				t.Errorf("should not have any error, got %v", err)
			}

			expectedFlush := tt.flushInterval
			if expectedFlush == 0 {
				expectedFlush = defaultCfg.FlushInterval()
			}
			expectedTimeout := tt.timeout
			if expectedTimeout == 0 {
				expectedTimeout = defaultCfg.Timeout()
			}

			if cfg.FlushInterval() != expectedFlush {
				t.Errorf("Expected FlushInterval %v, got %v", expectedFlush, cfg.FlushInterval())
			}
			if cfg.Timeout() != expectedTimeout {
				t.Errorf("Expected Timeout %v, got %v", expectedTimeout, cfg.Timeout())
			}
		})
	}
}

// TestInitConfigWithPreloadMargin tests that the preload-margin flag is properly applied
func TestInitConfigWithPreloadMargin(t *testing.T) {
	cmd.ResetFlags()
	cmd.SetPreloadMarginForTest(480)

	cfg, err := cmd.InitConfigWithError(defaultTestOrigin())
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	if cfg.PreloadMargin() != 480 {
		t.Errorf("Expected PreloadMargin 480, got %f", cfg.PreloadMargin())
	}
}

// TestInitConfigFromFile tests that a config file takes precedence over flag values
func TestInitConfigFromFile(t *testing.T) {
	cmd.ResetFlags()

	content := `{
		"listenAddr": ":4000",
		"originUrl": "https://other.example.org",
		"cacheVersion": "v9"
	}`
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cmd.SetConfigFileForTest(path)
	cmd.SetListenAddrForTest(":1111") // ignored: file config wins

	cfg, err := cmd.InitConfigWithError(url.URL{})
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	if cfg.ListenAddr() != ":4000" {
		t.Errorf("Expected ListenAddr ':4000', got '%s'", cfg.ListenAddr())
	}
	if cfg.OriginURL().Host != "other.example.org" {
		t.Errorf("Expected origin host 'other.example.org', got '%s'", cfg.OriginURL().Host)
	}
	if cfg.CacheVersion() != "v9" {
		t.Errorf("Expected CacheVersion 'v9', got '%s'", cfg.CacheVersion())
	}
}

// TestInitConfigFromMissingFile tests that a nonexistent config file surfaces the sentinel error
func TestInitConfigFromMissingFile(t *testing.T) {
	cmd.ResetFlags()
	cmd.SetConfigFileForTest(filepath.Join(t.TempDir(), "nope.json"))

	_, err := cmd.InitConfigWithError(defaultTestOrigin())
	if err == nil {
		t.Fatal("Expected error for missing config file, got nil")
	}
	if !errors.Is(err, config.ErrFileDoesNotExist) {
		t.Errorf("Expected ErrFileDoesNotExist, got: %v", err)
	}
}
