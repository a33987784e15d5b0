package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/dockhand/dockhand/internal/command"
	"github.com/dockhand/dockhand/internal/compose"
	"github.com/dockhand/dockhand/internal/docker"
	"github.com/dockhand/dockhand/internal/events"
	"github.com/dockhand/dockhand/internal/infrastructure/config"
	"github.com/dockhand/dockhand/internal/infrastructure/logging"
	"github.com/dockhand/dockhand/internal/infrastructure/monitoring"
	"github.com/dockhand/dockhand/internal/monitor"
	"github.com/dockhand/dockhand/internal/supervisor"
	"github.com/dockhand/dockhand/internal/terminal"
	"github.com/dockhand/dockhand/internal/tui"
)

func main() {
	project := flag.String("project", "", "compose project name (overrides DOCKHAND_PROJECT)")
	dir := flag.String("dir", "", "project directory (overrides DOCKHAND_PROJECT_DIR)")
	initSvcs := flag.String("init", "", "comma-separated services; generate docker-compose.yml and exit")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *project != "" {
		cfg.Docker.Project = *project
	}
	if *dir != "" {
		cfg.Docker.ProjectDir = *dir
	}

	if *initSvcs != "" {
		if err := generateCompose(cfg, *initSvcs); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// generateCompose writes a fresh docker-compose.yml for the named services.
func generateCompose(cfg *config.Config, list string) error {
	selected := make(map[string]compose.ServiceConfig)
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := compose.Lookup(name); !ok {
			return fmt.Errorf("unknown service %q (known: %s)", name, knownServices())
		}
		selected[name] = compose.ServiceConfig{Enabled: true}
	}
	path, err := compose.WriteFile(compose.Project{
		Name:     cfg.Docker.Project,
		Dir:      cfg.Docker.ProjectDir,
		Services: selected,
	})
	if err != nil {
		return err
	}
	fmt.Println("wrote", path)
	return nil
}

func knownServices() string {
	var names []string
	for _, info := range compose.Catalog() {
		names = append(names, info.Name)
	}
	return strings.Join(names, ", ")
}

func run(cfg *config.Config) error {
	// Logs go to stderr; stdout belongs to the TUI.
	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Sync()

	metrics := monitoring.NewMetrics()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(cfg.Metrics.Addr); err != nil {
				log.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	bus := events.NewBus(events.DefaultCapacity)
	sup := supervisor.New(log, metrics)
	runner := command.NewRunner(bus, sup, log, metrics)
	mgr := docker.NewManager(cfg.Docker, runner, bus, sup, log)
	broker := terminal.NewBroker(cfg.Terminal.Shell, bus, sup, log, metrics)
	mon := monitor.New(cfg.Monitor, cfg.Docker.Binary, sup, log, metrics)

	if err := mon.Start(); err != nil {
		log.Warn("stats monitor unavailable", zap.Error(err))
	}

	model := tui.New(bus, mgr, broker, mon, metrics)
	program := tea.NewProgram(model, tea.WithAltScreen())

	_, runErr := program.Run()

	// Workers first get their flags set and a cooperative nudge, then the
	// grace period, then SIGKILL. Every child is reaped before we return.
	if err := sup.ShutdownAll(cfg.Shutdown.Grace); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}

	if runErr != nil {
		return fmt.Errorf("tui: %w", runErr)
	}
	return nil
}
