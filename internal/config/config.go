// Package config defines all configuration for the copy trader.
// Config is parsed from CLI flags with sensitive or deploy-specific fields
// overridable via COPY_* environment variables. A latency profile (fast or
// turbo) supplies preset values for the tuning knobs; explicit flags always
// win over the profile because the profile is applied only to flags the
// operator did not set.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Mode selects between printing intents and placing real orders.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Profile bundles preset values for the latency knobs.
type Profile string

const (
	ProfileFast  Profile = "fast"
	ProfileTurbo Profile = "turbo"
)

// SizeMode selects the sizing rule for mirror orders.
type SizeMode string

const (
	SizePercent SizeMode = "percent"
	SizeFixed   SizeMode = "fixed"
)

// Endpoints holds the upstream service URLs. Defaults point at Polymarket
// production; tests override them with httptest servers.
type Endpoints struct {
	GammaBaseURL string // profile search
	DataBaseURL  string // activity feed
	CLOBBaseURL  string // order book probes
	WSMarketURL  string // market channel
}

// Config is the full runtime configuration. Field groups mirror the
// pipeline: identity, sizing, risk filters, latency knobs, execution.
type Config struct {
	Source  string  // @handle or 0x wallet to follow
	Mode    Mode    // paper or live
	Profile Profile // fast or turbo

	SizeMode          SizeMode
	MyBalanceUSDC     float64
	SourceBalanceUSDC float64
	FixedOrderUSDC    float64
	MaxOrderUSDC      float64 // hard cap per copied order, 0 = disabled

	MinPrice  float64
	MaxPrice  float64
	MaxLagMs  int64
	MaxSpread float64
	CrossTick float64

	BootstrapSeconds  int
	ReconcileSeconds  int
	TradeFetchLimit   int
	MaxParallel       int
	MinAssetRefreshMs int64
	RefreshDebounceMs int64
	ActivityCacheMs   int64
	BookHTTPFallback  bool
	BookTTLMs         int64

	BenchmarkSeconds int
	StatsEvery       int

	LiveExec     string // execution adapter, only "python-bridge" is implemented
	PythonBin    string
	BridgeScript string

	MetricsAddr string // optional Prometheus listener, empty = disabled
	LogFormat   string // text or json
	LogLevel    string

	Endpoints Endpoints
}

// turbo preset: tighter debounce and cooldown, more parallelism, WS-only
// books. Values only replace knobs the operator left at their defaults.
var turboPreset = map[string]string{
	"refresh-debounce-ms":  "80",
	"min-asset-refresh-ms": "150",
	"activity-cache-ms":    "150",
	"book-ttl-ms":          "800",
	"max-parallel":         "8",
	"book-http-fallback":   "false",
}

// ErrHelp is returned by FromArgs when --help/-h was requested. The caller
// prints usage and exits 0.
var ErrHelp = pflag.ErrHelp

// FromArgs parses CLI flags into a Config. Unknown flags are silently
// ignored, and a value-taking flag whose next token is itself a flag is
// treated as valueless (dropped) rather than swallowing the flag that
// follows it.
func FromArgs(args []string) (*Config, string, error) {
	fs := pflag.NewFlagSet("copytrader", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true

	cfg := &Config{}

	fs.StringVar(&cfg.Source, "source", "", "@pseudonym or 0x wallet to follow (required)")
	paper := fs.Bool("paper", false, "simulate only, print intents")
	live := fs.Bool("live", false, "place real orders via the execution adapter")
	profile := fs.String("profile", string(ProfileFast), "latency profile: fast or turbo")

	fs.StringVar((*string)(&cfg.SizeMode), "size-mode", string(SizePercent), "sizing rule: percent or fixed")
	fs.Float64Var(&cfg.MyBalanceUSDC, "my-balance-usdc", 100.0, "own balance reference for percent mode")
	fs.Float64Var(&cfg.SourceBalanceUSDC, "source-balance-usdc", 20000.0, "source balance reference for percent mode")
	fs.Float64Var(&cfg.FixedOrderUSDC, "fixed-order-usdc", 1.0, "fixed notional per order for fixed mode")
	fs.Float64Var(&cfg.MaxOrderUSDC, "max-order-usdc", 0, "hard cap USDC per copied order (0 = disabled)")

	fs.Float64Var(&cfg.MinPrice, "min-price", 0.01, "minimum accepted source price and order price floor")
	fs.Float64Var(&cfg.MaxPrice, "max-price", 0.99, "maximum accepted source price and order price ceiling")
	fs.Int64Var(&cfg.MaxLagMs, "max-lag-ms", 2000, "reject trades older than this at receipt")
	fs.Float64Var(&cfg.MaxSpread, "max-spread", 0.05, "reject when top-of-book spread exceeds this")
	fs.Float64Var(&cfg.CrossTick, "cross-tick", 0.01, "price increment past the opposite touch")

	fs.IntVar(&cfg.BootstrapSeconds, "bootstrap-seconds", 120, "historical window replayed once at startup")
	fs.IntVar(&cfg.ReconcileSeconds, "reconcile-seconds", 8, "period of the activity reconcile loop (min 2)")
	fs.IntVar(&cfg.TradeFetchLimit, "trade-fetch-limit", 50, "max items per WS-triggered activity pull")
	fs.IntVar(&cfg.MaxParallel, "max-parallel", 4, "ceiling on concurrent trade-processing tasks")
	fs.Int64Var(&cfg.MinAssetRefreshMs, "min-asset-refresh-ms", 400, "per-asset cooldown between WS refresh triggers")
	fs.Int64Var(&cfg.RefreshDebounceMs, "refresh-debounce-ms", 250, "debounce horizon coalescing refresh triggers")
	fs.Int64Var(&cfg.ActivityCacheMs, "activity-cache-ms", 300, "reuse the last activity payload within this window")
	fs.BoolVar(&cfg.BookHTTPFallback, "book-http-fallback", true, "probe the book over HTTP when the cache is stale")
	fs.Int64Var(&cfg.BookTTLMs, "book-ttl-ms", 1500, "book snapshot freshness horizon")

	fs.IntVar(&cfg.BenchmarkSeconds, "benchmark-seconds", 0, "self-stop after this many seconds (0 = run forever)")
	fs.IntVar(&cfg.StatsEvery, "stats-every", 20, "emit a latency percentile summary every N samples")

	fs.StringVar(&cfg.LiveExec, "live-exec", "python-bridge", "execution adapter for live mode")
	fs.StringVar(&cfg.PythonBin, "python-bin", "python3", "interpreter for the python bridge")
	fs.StringVar(&cfg.BridgeScript, "bridge-script", "scripts/place_order_once.py", "order placement script for the python bridge")

	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Prometheus listen address (empty = disabled)")
	fs.StringVar(&cfg.LogFormat, "log-format", "text", "log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "log level: debug, info, warn, error")

	fs.StringVar(&cfg.Endpoints.GammaBaseURL, "gamma-url", "https://gamma-api.polymarket.com", "Gamma API base URL")
	fs.StringVar(&cfg.Endpoints.DataBaseURL, "data-url", "https://data-api.polymarket.com", "Data API base URL")
	fs.StringVar(&cfg.Endpoints.CLOBBaseURL, "clob-url", "https://clob.polymarket.com", "CLOB API base URL")
	fs.StringVar(&cfg.Endpoints.WSMarketURL, "ws-url", "wss://ws-subscriptions-clob.polymarket.com/ws/market", "market WS URL")

	if err := fs.Parse(dropOrphanValues(fs, args)); err != nil {
		if err == pflag.ErrHelp {
			return nil, fs.FlagUsages(), ErrHelp
		}
		return nil, "", err
	}

	cfg.Mode = ModePaper
	if *live && !*paper {
		cfg.Mode = ModeLive
	}
	cfg.Profile = Profile(strings.ToLower(*profile))

	applyEnvOverrides(cfg)
	applyProfile(cfg, fs)

	return cfg, "", nil
}

// dropOrphanValues removes a value-taking flag token whose value slot is
// occupied by another flag, e.g. "--source --paper" drops "--source".
func dropOrphanValues(fs *pflag.FlagSet, args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "--") && !strings.Contains(a, "=") {
			name := strings.TrimPrefix(a, "--")
			if f := fs.Lookup(name); f != nil && f.Value.Type() != "bool" {
				if i+1 >= len(args) || strings.HasPrefix(args[i+1], "--") {
					continue // valueless; drop the flag token
				}
			}
		}
		out = append(out, a)
	}
	return out
}

// applyEnvOverrides layers COPY_* environment variables onto the parsed
// config. Only deploy-specific fields are overridable this way; tuning
// knobs go through flags and profiles.
func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("COPY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if s := v.GetString("source"); s != "" && cfg.Source == "" {
		cfg.Source = s
	}
	if s := v.GetString("live_exec"); s != "" {
		cfg.LiveExec = s
	}
	if s := v.GetString("python_bin"); s != "" {
		cfg.PythonBin = s
	}
	if s := v.GetString("bridge_script"); s != "" {
		cfg.BridgeScript = s
	}
	if s := v.GetString("metrics_addr"); s != "" {
		cfg.MetricsAddr = s
	}
}

// applyProfile overwrites latency knobs with the profile preset, skipping
// any flag the operator set explicitly. The fast profile is the flag
// defaults, so only turbo does work here.
func applyProfile(cfg *Config, fs *pflag.FlagSet) {
	if cfg.Profile != ProfileTurbo {
		cfg.Profile = ProfileFast
		return
	}
	for name, val := range turboPreset {
		if f := fs.Lookup(name); f != nil && !f.Changed {
			_ = f.Value.Set(val)
		}
	}
}

// Validate checks required fields and value ranges. Failures here are
// fatal at startup.
func (c *Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source is required (set --source or COPY_SOURCE)")
	}
	switch c.SizeMode {
	case SizePercent:
		if c.MyBalanceUSDC <= 0 || c.SourceBalanceUSDC <= 0 {
			return fmt.Errorf("my-balance-usdc and source-balance-usdc must be > 0 in percent mode")
		}
	case SizeFixed:
		if c.FixedOrderUSDC <= 0 {
			return fmt.Errorf("fixed-order-usdc must be > 0 in fixed mode")
		}
	default:
		return fmt.Errorf("size-mode must be percent or fixed, got %q", c.SizeMode)
	}
	if c.MaxOrderUSDC < 0 {
		return fmt.Errorf("max-order-usdc must be >= 0")
	}
	if c.MinPrice >= c.MaxPrice {
		return fmt.Errorf("min-price must be below max-price")
	}
	if c.MaxParallel <= 0 {
		return fmt.Errorf("max-parallel must be > 0")
	}
	return nil
}

// Scale returns the percent-mode sizing ratio.
func (c *Config) Scale() float64 {
	return c.MyBalanceUSDC / c.SourceBalanceUSDC
}
