// fcdiag is a terminal dashboard for the bench diagnostics agent: it
// starts test sessions, follows the live device stream, and renders the
// synchronized device table.
package main

import (
	"context"
	"flag"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/benchlab/fcdiag/pkg/agentapi"
	"github.com/benchlab/fcdiag/pkg/config"
	"github.com/benchlab/fcdiag/pkg/logger"
	"github.com/benchlab/fcdiag/pkg/reconcile"
	"github.com/benchlab/fcdiag/pkg/session"
	"github.com/benchlab/fcdiag/pkg/throughput"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to JSON config file")
		agentURL   = flag.String("agent", "http://127.0.0.1:8077", "agent control API base URL")
		profile    = flag.String("profile", "", "test profile")
		mode       = flag.String("mode", "", "test mode (normal|pro)")
		simulate   = flag.Bool("simulate", false, "request simulated devices")
		duration   = flag.Float64("duration", 0, "test duration in seconds")
		logLevel   = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	cfg := config.AppConfig{
		AgentURL: *agentURL,
		Logging:  logger.Config{Level: *logLevel, Output: "stderr"},
	}
	cfg.Session.Auto = true
	cfg.Session.EnforceWhitelist = true

	if *configPath != "" {
		if err := config.Load(context.Background(), *configPath, &cfg); err != nil {
			os.Stderr.WriteString(err.Error() + "\n")
			os.Exit(1)
		}
	}

	// Flags override file values when set explicitly.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "agent":
			cfg.AgentURL = *agentURL
		case "profile":
			cfg.Session.Profile = *profile
		case "mode":
			cfg.Session.Mode = *mode
		case "simulate":
			cfg.Session.Simulate = *simulate
		case "duration":
			cfg.Session.Duration = *duration
		case "log-level":
			cfg.Logging.Level = *logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	// Logs share the terminal with the TUI, so they go to stderr.
	cfg.Logging.Output = "stderr"

	log, err := logger.New(cfg.Logging)
	if err != nil {
		os.Stderr.WriteString("invalid log level: " + err.Error() + "\n")
		os.Exit(1)
	}

	api := agentapi.NewClient(cfg.AgentURL)
	store := reconcile.NewStore()
	meter := throughput.NewMeter()
	ctrl := session.NewController(api, store, meter, log)

	p := tea.NewProgram(initialModel(ctrl, store, meter, cfg.Session), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	// Leave no orphaned agent session behind.
	_ = ctrl.Stop(context.Background())
}
