package config

import (
	"errors"
	"testing"
)

func TestDefaultsAreFastProfile(t *testing.T) {
	cfg, _, err := FromArgs([]string{"--source", "@maker"})
	if err != nil {
		t.Fatalf("FromArgs: %v", err)
	}

	if cfg.Mode != ModePaper {
		t.Errorf("default mode = %s, want paper", cfg.Mode)
	}
	if cfg.Profile != ProfileFast {
		t.Errorf("default profile = %s, want fast", cfg.Profile)
	}
	if cfg.RefreshDebounceMs != 250 {
		t.Errorf("refresh-debounce-ms = %d, want 250", cfg.RefreshDebounceMs)
	}
	if cfg.MaxParallel != 4 {
		t.Errorf("max-parallel = %d, want 4", cfg.MaxParallel)
	}
	if !cfg.BookHTTPFallback {
		t.Error("book-http-fallback should default to true")
	}
}

func TestTurboProfilePresets(t *testing.T) {
	cfg, _, err := FromArgs([]string{"--source", "@maker", "--profile", "turbo"})
	if err != nil {
		t.Fatalf("FromArgs: %v", err)
	}

	if cfg.RefreshDebounceMs != 80 {
		t.Errorf("turbo refresh-debounce-ms = %d, want 80", cfg.RefreshDebounceMs)
	}
	if cfg.MinAssetRefreshMs != 150 {
		t.Errorf("turbo min-asset-refresh-ms = %d, want 150", cfg.MinAssetRefreshMs)
	}
	if cfg.ActivityCacheMs != 150 {
		t.Errorf("turbo activity-cache-ms = %d, want 150", cfg.ActivityCacheMs)
	}
	if cfg.BookTTLMs != 800 {
		t.Errorf("turbo book-ttl-ms = %d, want 800", cfg.BookTTLMs)
	}
	if cfg.MaxParallel != 8 {
		t.Errorf("turbo max-parallel = %d, want 8", cfg.MaxParallel)
	}
	if cfg.BookHTTPFallback {
		t.Error("turbo should disable the HTTP book fallback")
	}
}

func TestExplicitFlagBeatsProfile(t *testing.T) {
	cfg, _, err := FromArgs([]string{
		"--source", "@maker",
		"--profile", "turbo",
		"--refresh-debounce-ms", "500",
	})
	if err != nil {
		t.Fatalf("FromArgs: %v", err)
	}

	if cfg.RefreshDebounceMs != 500 {
		t.Errorf("explicit refresh-debounce-ms = %d, want 500 over turbo's 80", cfg.RefreshDebounceMs)
	}
	// Untouched knobs still take the turbo preset.
	if cfg.MaxParallel != 8 {
		t.Errorf("max-parallel = %d, want turbo's 8", cfg.MaxParallel)
	}
}

func TestLiveFlagSelectsLiveMode(t *testing.T) {
	cfg, _, err := FromArgs([]string{"--source", "@maker", "--live"})
	if err != nil {
		t.Fatalf("FromArgs: %v", err)
	}
	if cfg.Mode != ModeLive {
		t.Errorf("mode = %s, want live", cfg.Mode)
	}

	// --paper wins when both are given.
	cfg, _, err = FromArgs([]string{"--source", "@maker", "--live", "--paper"})
	if err != nil {
		t.Fatalf("FromArgs: %v", err)
	}
	if cfg.Mode != ModePaper {
		t.Errorf("mode with both flags = %s, want paper", cfg.Mode)
	}
}

func TestUnknownFlagsIgnored(t *testing.T) {
	cfg, _, err := FromArgs([]string{"--source", "@maker", "--definitely-not-a-flag", "42"})
	if err != nil {
		t.Fatalf("unknown flag should be ignored, got %v", err)
	}
	if cfg.Source != "@maker" {
		t.Errorf("source = %q", cfg.Source)
	}
}

func TestOrphanValueFlagDropped(t *testing.T) {
	// --source is missing its value; the next token is a flag and must not
	// be swallowed as the value.
	cfg, _, err := FromArgs([]string{"--source", "--live"})
	if err != nil {
		t.Fatalf("FromArgs: %v", err)
	}
	if cfg.Source != "" {
		t.Errorf("source = %q, want empty", cfg.Source)
	}
	if cfg.Mode != ModeLive {
		t.Errorf("mode = %s, want live (the --live flag must survive)", cfg.Mode)
	}
}

func TestHelpRequested(t *testing.T) {
	_, usage, err := FromArgs([]string{"--help"})
	if !errors.Is(err, ErrHelp) {
		t.Fatalf("err = %v, want ErrHelp", err)
	}
	if usage == "" {
		t.Error("usage text should accompany ErrHelp")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, _, err := FromArgs([]string{"--source", "@maker"})
		if err != nil {
			t.Fatalf("FromArgs: %v", err)
		}
		return cfg
	}

	if err := base().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cfg := base()
	cfg.Source = ""
	if err := cfg.Validate(); err == nil {
		t.Error("missing source should fail validation")
	}

	cfg = base()
	cfg.SizeMode = SizePercent
	cfg.SourceBalanceUSDC = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero source balance should fail validation in percent mode")
	}

	cfg = base()
	cfg.SizeMode = SizeFixed
	cfg.FixedOrderUSDC = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero fixed notional should fail validation in fixed mode")
	}

	cfg = base()
	cfg.MinPrice = 0.99
	cfg.MaxPrice = 0.01
	if err := cfg.Validate(); err == nil {
		t.Error("inverted price band should fail validation")
	}

	cfg = base()
	cfg.MaxParallel = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero max-parallel should fail validation")
	}
}

func TestScale(t *testing.T) {
	cfg, _, err := FromArgs([]string{
		"--source", "@maker",
		"--my-balance-usdc", "100",
		"--source-balance-usdc", "20000",
	})
	if err != nil {
		t.Fatalf("FromArgs: %v", err)
	}
	if got := cfg.Scale(); got != 0.005 {
		t.Errorf("Scale() = %v, want 0.005", got)
	}
}
