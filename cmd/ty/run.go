package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbellotti/testyard/internal/agent"
	"github.com/mbellotti/testyard/internal/bus"
	"github.com/mbellotti/testyard/internal/db"
	"github.com/mbellotti/testyard/internal/executor"
	"github.com/mbellotti/testyard/internal/genai"
	"github.com/mbellotti/testyard/internal/models"
	"github.com/mbellotti/testyard/internal/stream"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		text       string
		file       string
		format     string
		andExecute bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate a test script from a requirement, printing progress",
		Long:  "Runs the full analysis and generation pipeline in-process and prints each progress event. With --execute the saved script is also run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, configPath, text, file, format, andExecute)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Testyard config file")
	cmd.Flags().StringVarP(&text, "text", "t", "", "requirement text to analyze")
	cmd.Flags().StringVarP(&file, "file", "f", "", "file with requirement text")
	cmd.Flags().StringVar(&format, "format", models.FormatPytest, "target script format (pytest, playwright, yaml)")
	cmd.Flags().BoolVar(&andExecute, "execute", false, "run the generated script after saving it")
	return cmd
}

func runPipeline(cmd *cobra.Command, configPath, text, file, format string, andExecute bool) error {
	out := cmd.OutOrStdout()

	if text == "" && file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		text = string(data)
	}
	if text == "" {
		return fmt.Errorf("--text or --file is required")
	}

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
	generator, err := genai.NewFromConfig(cfg.Generator)
	if err != nil {
		return err
	}

	sessionID, err := stream.GenerateSessionID()
	if err != nil {
		return err
	}
	channel := stream.NewChannel(0)

	gen, err := agent.NewGenerator(generator, channel)
	if err != nil {
		return err
	}
	saver, err := agent.NewSaver(gdb, nil, channel)
	if err != nil {
		return err
	}

	router := bus.NewRouter()
	router.Register(agent.TopicAnalysis, agent.NewAnalyzer(channel))
	router.Register(agent.TopicGeneration, gen)
	router.Register(agent.TopicStorage, saver)

	if andExecute {
		engine, err := executor.New(gdb, cfg.Executor)
		if err != nil {
			return err
		}
		execAgent, err := agent.NewExecutor(engine, channel)
		if err != nil {
			return err
		}
		router.Register(agent.TopicExecution, execAgent)
	}

	ctx := cmd.Context()
	rt, err := bus.NewRuntime(bus.RuntimeOpts{
		SessionID: sessionID,
		Router:    router,
		Sink:      channel,
	})
	if err != nil {
		return err
	}
	rt.Start(ctx)
	defer rt.Shutdown()

	if err := rt.Publish(bus.NewMessage(agent.TopicAnalysis, "cli", sessionID, agent.AnalysisRequest{
		Text:         text,
		TargetFormat: format,
		Execute:      andExecute,
	})); err != nil {
		return err
	}

	// Drain events until the final one.
	var final stream.Event
	for {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		ev, err := channel.Next(waitCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("pipeline did not finish: %w", err)
		}
		fmt.Fprintf(out, "[%s] %s: %s\n", ev.Region, ev.Source, ev.Content)
		if ev.IsFinal {
			final = ev
			break
		}
	}
	if final.Region == stream.RegionError {
		return fmt.Errorf("pipeline failed: %s", final.Content)
	}
	return nil
}
