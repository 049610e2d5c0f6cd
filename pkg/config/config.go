// Package config holds the full configuration surface of the deploy tool.
package config

import (
	"fmt"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/bidding"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/conftools"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/marketplace"
)

type Config struct {
	LogFormat                 string        `json:"log-format"`
	LogLevel                  string        `json:"log-level"`
	ManifestFile              string        `json:"manifest-file"`
	Variables                 []string      `json:"var"`
	StateDir                  string        `json:"state-dir"`
	MetricsListenAddr         string        `json:"metrics-listen-address"`
	MetricsPath               string        `json:"metrics-path"`
	OpenTelemetryCollectorURL string        `json:"otel-collector-endpoint"`
	MinBalance                uint64        `json:"min-balance"`
	LogTail                   int           `json:"log-tail"`
	BidInterval               time.Duration `json:"bid-interval"`
	BidWindow                 time.Duration `json:"bid-window"`

	CheckReady bool   `json:"check-ready"`
	Status     bool   `json:"status"`
	Close      bool   `json:"close"`
	Logs       bool   `json:"logs"`
	Shell      string `json:"shell"`
	DryRun     bool   `json:"dry-run"`

	Chain Chain       `json:"chain"`
	Bids  Preferences `json:"bids"`
}

// Chain configures the external marketplace CLI and the ledger identity.
type Chain struct {
	Binary         string   `json:"binary"`
	WalletName     string   `json:"wallet-name"`
	KeyringBackend string   `json:"keyring-backend"`
	ChainID        string   `json:"chain-id"`
	Nodes          []string `json:"nodes"`
	GasPrices      string   `json:"gas-prices"`
	GasAdjustment  string   `json:"gas-adjustment"`
}

// Preferences configures bid selection. The bonus maps are file-only
// settings; everything else also has a flag.
type Preferences struct {
	GPUOrder            []string       `json:"gpu-order"`
	OrganizationBonus   map[string]int `json:"organization-bonus"`
	CountryBonus        map[string]int `json:"country-bonus"`
	Blocklist           []string       `json:"blocklist"`
	RequirePreferredGPU bool           `json:"require-preferred-gpu"`
}

const (
	LogFormat                 = "log-format"
	LogLevel                  = "log-level"
	ManifestFile              = "manifest-file"
	Variables                 = "var"
	StateDir                  = "state-dir"
	MetricsListenAddr         = "metrics-listen-address"
	MetricsPath               = "metrics-path"
	OpenTelemetryCollectorURL = "otel-collector-endpoint"
	MinBalance                = "min-balance"
	LogTail                   = "log-tail"
	BidInterval               = "bid-interval"
	BidWindow                 = "bid-window"
	CheckReady                = "check-ready"
	Status                    = "status"
	Close                     = "close"
	Logs                      = "logs"
	Shell                     = "shell"
	DryRun                    = "dry-run"
	ChainBinary               = "chain.binary"
	ChainWalletName           = "chain.wallet-name"
	ChainKeyringBackend       = "chain.keyring-backend"
	ChainID                   = "chain.chain-id"
	ChainNodes                = "chain.nodes"
	ChainGasPrices            = "chain.gas-prices"
	ChainGasAdjustment        = "chain.gas-adjustment"
	BidsGPUOrder              = "bids.gpu-order"
	BidsBlocklist             = "bids.blocklist"
	BidsRequirePreferredGPU   = "bids.require-preferred-gpu"
)

// Initialize declares every flag and default. Call exactly once, before
// conftools.Load.
func Initialize() *Config {
	conftools.Initialize("iwb-akash-deploy")

	flag.String(LogFormat, "text", "Log format, either 'json' or 'text'.")
	flag.String(LogLevel, "info", "Logging verbosity level.")
	flag.String(ManifestFile, "", "SDL manifest file to deploy.")
	flag.StringSlice(Variables, []string{}, "Template variable in the form KEY=VALUE. Can be specified multiple times.")
	flag.String(StateDir, "", "Directory holding the active deployment record. Defaults to the home directory.")
	flag.String(MetricsListenAddr, "", "Serve metrics on this address. Empty disables the listener.")
	flag.String(MetricsPath, "/metrics", "Serve metrics on this endpoint.")
	flag.String(OpenTelemetryCollectorURL, "", "OpenTelemetry collector endpoint. Empty disables tracing.")
	flag.Uint64(MinBalance, 0, "Minimum wallet balance in uakt required before deploying. Zero uses the built-in floor.")
	flag.Int(LogTail, 200, "Number of service log lines to fetch when probing readiness.")
	flag.Duration(BidInterval, bidding.DefaultInterval, "Pause between bid queries.")
	flag.Duration(BidWindow, bidding.DefaultWindow, "How long to wait for bids before giving up.")

	flag.Bool(CheckReady, false, "Probe readiness of the active deployment once and exit.")
	flag.Bool(Status, false, "Report the active deployment's state and exit.")
	flag.Bool(Close, false, "Close the active deployment and exit.")
	flag.Bool(Logs, false, "Print recent service logs from the active deployment and exit.")
	flag.String(Shell, "", "Open an interactive shell into the named service of the active deployment.")
	flag.Bool(DryRun, false, "Validate configuration and wallet state without submitting any transaction.")

	flag.String(ChainBinary, "provider-services", "Marketplace CLI binary.")
	flag.String(ChainWalletName, "", "Name of the wallet key to act as.")
	flag.String(ChainKeyringBackend, "test", "Keyring backend holding the wallet key.")
	flag.String(ChainID, "akashnet-2", "Chain ID of the marketplace network.")
	flag.StringSlice(ChainNodes, []string{}, "RPC node URLs, fastest responder wins. Empty uses the CLI default.")
	flag.String(ChainGasPrices, "0.025uakt", "Gas price for transactions.")
	flag.String(ChainGasAdjustment, "1.75", "Gas estimate multiplier for transactions.")

	flag.StringSlice(BidsGPUOrder, []string{}, "GPU models in preference order, most preferred first. Empty uses the manifest's order.")
	flag.StringSlice(BidsBlocklist, []string{}, "Provider addresses to never lease from.")
	flag.Bool(BidsRequirePreferredGPU, false, "Reject bids whose GPU model is not in the preference list.")

	// The bonus tables have no flag form. They come from the config file,
	// with these defaults.
	viper.SetDefault("bids.organization-bonus", map[string]int{"overclock": 10})
	viper.SetDefault("bids.country-bonus", map[string]int{"US": 5, "CA": 5})

	return &Config{}
}

// Mode names the single operation an invocation performs.
type Mode string

const (
	ModeDeploy     Mode = "deploy"
	ModeCheckReady Mode = "check-ready"
	ModeStatus     Mode = "status"
	ModeClose      Mode = "close"
	ModeLogs       Mode = "logs"
	ModeShell      Mode = "shell"
	ModeDryRun     Mode = "dry-run"
)

// Mode returns the selected operation, or an error when flags select more
// than one.
func (cfg *Config) Mode() (Mode, error) {
	selected := make([]Mode, 0, 1)
	for mode, on := range map[Mode]bool{
		ModeCheckReady: cfg.CheckReady,
		ModeStatus:     cfg.Status,
		ModeClose:      cfg.Close,
		ModeLogs:       cfg.Logs,
		ModeShell:      cfg.Shell != "",
		ModeDryRun:     cfg.DryRun,
	} {
		if on {
			selected = append(selected, mode)
		}
	}

	switch len(selected) {
	case 0:
		return ModeDeploy, nil
	case 1:
		return selected[0], nil
	default:
		return "", fmt.Errorf("flags select %d operations, pick one", len(selected))
	}
}

func (cfg *Config) Validate() error {
	mode, err := cfg.Mode()
	if err != nil {
		return err
	}

	if (mode == ModeDeploy || mode == ModeDryRun) && cfg.ManifestFile == "" {
		return fmt.Errorf("--%s is required", ManifestFile)
	}
	if cfg.Chain.WalletName == "" {
		return fmt.Errorf("--%s is required", ChainWalletName)
	}
	if cfg.BidInterval <= 0 || cfg.BidWindow <= 0 {
		return fmt.Errorf("bid interval and window must be positive")
	}

	return cfg.Preferences().Validate()
}

// Preferences assembles the bid selection preferences.
func (cfg *Config) Preferences() bidding.Preferences {
	return bidding.Preferences{
		GPUOrder:            cfg.Bids.GPUOrder,
		OrganizationBonus:   cfg.Bids.OrganizationBonus,
		CountryBonus:        cfg.Bids.CountryBonus,
		Blocklist:           cfg.Bids.Blocklist,
		RequirePreferredGPU: cfg.Bids.RequirePreferredGPU,
	}
}

// CLIConfig assembles the marketplace CLI settings.
func (cfg *Config) CLIConfig() marketplace.CLIConfig {
	return marketplace.CLIConfig{
		Binary:         cfg.Chain.Binary,
		WalletName:     cfg.Chain.WalletName,
		KeyringBackend: cfg.Chain.KeyringBackend,
		ChainID:        cfg.Chain.ChainID,
		Nodes:          cfg.Chain.Nodes,
		GasPrices:      cfg.Chain.GasPrices,
		GasAdjustment:  cfg.Chain.GasAdjustment,
	}
}
