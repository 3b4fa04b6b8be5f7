package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbellotti/testyard/internal/agent"
	"github.com/mbellotti/testyard/internal/db"
	"github.com/mbellotti/testyard/internal/executor"
	"github.com/mbellotti/testyard/internal/export"
	"github.com/mbellotti/testyard/internal/genai"
	"github.com/mbellotti/testyard/internal/notify"
	"github.com/mbellotti/testyard/internal/scheduler"
	"github.com/mbellotti/testyard/internal/server"
	"github.com/mbellotti/testyard/internal/stream"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Testyard API server",
		Long:  "Starts the HTTP API with SSE streaming, the execution engine, and the task scheduler. Stops gracefully on SIGINT/SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Testyard config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	gdb, err := db.Connect(cfg.Storage)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := executor.New(gdb, cfg.Executor)
	if err != nil {
		return err
	}

	generator, err := genai.NewFromConfig(cfg.Generator)
	if err != nil {
		return err
	}

	notifier, err := notify.NewFromConfig(cfg.Notify)
	if err != nil {
		return err
	}
	var schedNotifier scheduler.Notifier
	if notifier != nil {
		schedNotifier = notifier
		fmt.Fprintf(out, "Notifications enabled (%d senders)\n", notifier.Len())
	}

	sched, err := scheduler.New(scheduler.Opts{
		DB:       gdb,
		Engine:   engine,
		Notifier: schedNotifier,
		Config:   cfg.Scheduler,
	})
	if err != nil {
		return err
	}
	if cfg.Scheduler.Enabled {
		go sched.Run(ctx)
		fmt.Fprintf(out, "Scheduler running (tick %ds)\n", cfg.Scheduler.TickSeconds)
	}

	exporter, err := export.NewFromConfig(ctx, cfg.Export)
	if err != nil {
		return err
	}
	if exporter != nil {
		fmt.Fprintf(out, "Script export to github.com/%s/%s enabled\n", cfg.Export.Owner, cfg.Export.Repo)
	}

	sessions := stream.NewManager(stream.ManagerOpts{
		TTL: time.Duration(cfg.Server.SessionTTLMins) * time.Minute,
	})
	defer sessions.Stop()

	srv, err := server.New(server.Opts{
		DB:        gdb,
		Config:    cfg.Server,
		Sessions:  sessions,
		Engine:    engine,
		Scheduler: sched,
		Generator: generator,
		Exporter:  exporterOrNil(exporter),
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Testyard API listening on :%d\n", cfg.Server.Port)
	return srv.Start(ctx)
}

// exporterOrNil keeps a typed-nil *export.GitHub from sneaking into the
// server's Exporter interface.
func exporterOrNil(g *export.GitHub) agent.Exporter {
	if g == nil {
		return nil
	}
	return g
}
