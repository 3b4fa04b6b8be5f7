package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mbellotti/testyard/internal/db"
	"github.com/mbellotti/testyard/internal/executor"
	"github.com/mbellotti/testyard/internal/models"
)

func newExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Execution management commands",
	}

	cmd.AddCommand(newExecRunCmd())
	cmd.AddCommand(newExecListCmd())
	cmd.AddCommand(newExecShowCmd())
	return cmd
}

func newExecRunCmd() *cobra.Command {
	var (
		configPath string
		timeout    int
	)

	cmd := &cobra.Command{
		Use:   "run <script-id>",
		Short: "Run a stored script and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecRun(cmd, configPath, args[0], timeout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Testyard config file")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "timeout in seconds (0 uses the configured default)")
	return cmd
}

func runExecRun(cmd *cobra.Command, configPath, scriptID string, timeout int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	gdb, err := db.Connect(cfg.Storage)
	if err != nil {
		return err
	}

	var script models.Script
	if err := gdb.First(&script, "id = ?", scriptID).Error; err != nil {
		return fmt.Errorf("script not found: %s", scriptID)
	}

	engine, err := executor.New(gdb, cfg.Executor)
	if err != nil {
		return err
	}
	rec, err := engine.Execute(cmd.Context(), executor.Request{
		ScriptID:       script.ID,
		SessionID:      script.SessionID,
		TriggerType:    models.TriggerManual,
		Content:        script.Content,
		Format:         script.Format,
		TimeoutSeconds: timeout,
	})
	if err != nil {
		return err
	}
	printExecution(cmd.OutOrStdout(), rec)
	if rec.Status != models.ExecStatusCompleted {
		return fmt.Errorf("execution %s", rec.Status)
	}
	return nil
}

func newExecListCmd() *cobra.Command {
	var (
		configPath string
		scriptID   string
		status     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			gdb, err := db.Connect(cfg.Storage)
			if err != nil {
				return err
			}
			recs, err := executor.List(gdb, executor.Filter{
				ScriptID: scriptID,
				Status:   status,
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, rec := range recs {
				fmt.Fprintf(out, "%s  %-9s  %-9s  %s  %d/%d passed\n",
					rec.ID, rec.Status, rec.TriggerType,
					rec.StartTime.Format("2006-01-02 15:04:05"),
					rec.Passed, rec.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Testyard config file")
	cmd.Flags().StringVar(&scriptID, "script", "", "filter by script ID")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 20, "max rows")
	return cmd
}

func newExecShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show one execution in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			gdb, err := db.Connect(cfg.Storage)
			if err != nil {
				return err
			}
			rec, err := executor.Get(gdb, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printExecution(out, rec)
			if rec.Stdout != "" {
				fmt.Fprintf(out, "--- stdout ---\n%s\n", rec.Stdout)
			}
			if rec.Stderr != "" {
				fmt.Fprintf(out, "--- stderr ---\n%s\n", rec.Stderr)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Testyard config file")
	return cmd
}

// printExecution writes the one-line execution summary.
func printExecution(out io.Writer, rec *models.Execution) {
	fmt.Fprintf(out, "%s  %s  %dms  %d total, %d passed, %d failed, %d skipped\n",
		rec.ID, rec.Status, rec.DurationMs, rec.Total, rec.Passed, rec.Failed, rec.Skipped)
	if rec.ErrorMessage != "" {
		fmt.Fprintf(out, "error: %s\n", rec.ErrorMessage)
	}
}
