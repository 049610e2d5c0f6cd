package main

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/bidding"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/config"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/conftools"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/logging"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/manifest"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/marketplace"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/metrics"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/orchestrator"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/readiness"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/reconcile"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/session"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/statestore"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/telemetry"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/version"
)

func main() {
	result, err := run()
	if result != nil {
		if werr := result.Write(os.Stdout); werr != nil {
			log.Errorf("write result: %s", werr)
		}
	}
	if err == nil {
		return
	}
	code := orchestrator.ErrorExitCode(err)
	if code == orchestrator.ExitInvocationFailure {
		flag.Usage()
	}
	if code != orchestrator.ExitSuccess {
		log.Errorf("fatal: %s", err)
	}
	os.Exit(int(code))
}

func run() (*orchestrator.Result, error) {
	// Configuration and context
	cfg := config.Initialize()
	err := conftools.Load(cfg)
	if err != nil {
		return nil, orchestrator.ErrorWrap(orchestrator.ExitInvocationFailure, orchestrator.KindInvocation, err)
	}
	ctx := context.Background()

	// Logging
	err = logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, orchestrator.ErrorWrap(orchestrator.ExitInvocationFailure, orchestrator.KindInvocation, err)
	}

	// Welcome
	log.Infof("iwb-akash-deploy %s", version.Version())
	ts, err := version.BuildTime()
	if err == nil {
		log.Infof("This version was built %s", ts.Local())
	}
	for _, line := range conftools.Format([]string{}) {
		log.Debug(line)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, orchestrator.ErrorWrap(orchestrator.ExitInvocationFailure, orchestrator.KindInvocation, err)
	}
	mode, err := cfg.Mode()
	if err != nil {
		return nil, orchestrator.ErrorWrap(orchestrator.ExitInvocationFailure, orchestrator.KindInvocation, err)
	}

	err = telemetry.New(ctx, "iwb-akash-deploy", cfg.OpenTelemetryCollectorURL)
	if err != nil {
		log.Warnf("Telemetry disabled: %s", err)
	}
	defer func() {
		if err := telemetry.Shutdown(ctx); err != nil {
			log.Warnf("Flush traces: %s", err)
		}
	}()
	metrics.Serve(cfg.MetricsListenAddr, cfg.MetricsPath)

	orc := build(ctx, cfg)

	var m *manifest.Manifest
	if mode == config.ModeDeploy || mode == config.ModeDryRun {
		m, err = manifest.Load(cfg.ManifestFile, manifest.VariablesFromSlice(cfg.Variables))
		if err != nil {
			return nil, orchestrator.ErrorWrap(orchestrator.ExitInvocationFailure, orchestrator.KindInvocation, err)
		}
	}

	ctx, span := telemetry.Tracer().Start(ctx, string(mode))
	defer span.End()

	switch mode {
	case config.ModeCheckReady:
		return orc.CheckReady(ctx)
	case config.ModeStatus:
		return orc.Status(ctx)
	case config.ModeClose:
		return orc.Close(ctx)
	case config.ModeLogs:
		return orc.Logs(ctx)
	case config.ModeShell:
		// Replaces the process on success.
		return nil, orc.Shell(cfg.Shell)
	case config.ModeDryRun:
		return orc.DryRun(ctx, m)
	default:
		return orc.Deploy(ctx, m)
	}
}

func build(ctx context.Context, cfg *config.Config) *orchestrator.Orchestrator {
	client := marketplace.NewCLIClient(cfg.CLIConfig())
	client.SelectNode(ctx)

	collector := &bidding.Collector{
		Ledger:   client,
		Interval: cfg.BidInterval,
		Window:   cfg.BidWindow,
	}

	return &orchestrator.Orchestrator{
		Ledger:    client,
		Provider:  client,
		Store:     statestore.New(cfg.StateDir),
		Guard:     &session.Guard{Ledger: client, MinBalance: cfg.MinBalance},
		Collector: collector,
		Engine: &reconcile.Engine{
			Ledger:       client,
			Bids:         collector,
			AgeThreshold: cfg.BidWindow,
		},
		Poller:      &readiness.Poller{Provider: client, LogTail: cfg.LogTail},
		Preferences: cfg.Preferences(),
	}
}
