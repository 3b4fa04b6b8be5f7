package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/mbellotti/testyard/internal/config"
	"github.com/mbellotti/testyard/internal/db"
	"github.com/mbellotti/testyard/internal/executor"
	"github.com/mbellotti/testyard/internal/scheduler"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Scheduled task management commands",
	}

	cmd.AddCommand(newTaskCreateCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskPauseCmd())
	cmd.AddCommand(newTaskResumeCmd())
	cmd.AddCommand(newTaskDisableCmd())
	cmd.AddCommand(newTaskRunCmd())
	return cmd
}

// openScheduler builds a Scheduler for CLI task management. The run loop is
// not started; only the task store and the manual-run path are used.
func openScheduler(configPath string) (*scheduler.Scheduler, *gorm.DB, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	gdb, err := db.Connect(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	engine, err := executor.New(gdb, cfg.Executor)
	if err != nil {
		return nil, nil, err
	}
	sched, err := scheduler.New(scheduler.Opts{
		DB:     gdb,
		Engine: engine,
		Config: config.SchedulerConfig{TickSeconds: cfg.Scheduler.TickSeconds},
	})
	if err != nil {
		return nil, nil, err
	}
	return sched, gdb, nil
}

func newTaskCreateCmd() *cobra.Command {
	var (
		configPath    string
		name          string
		scheduleType  string
		cronExpr      string
		intervalSecs  int
		runAtRaw      string
		maxRetries    int
		retryInterval int
	)

	cmd := &cobra.Command{
		Use:   "create <script-id>",
		Short: "Create a scheduled task for a script",
		Long:  "Schedules a script on a cron expression, a fixed interval, or a single future time.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, _, err := openScheduler(configPath)
			if err != nil {
				return err
			}
			opts := scheduler.CreateTaskOpts{
				ScriptID:             args[0],
				Name:                 name,
				ScheduleType:         scheduleType,
				CronExpr:             cronExpr,
				IntervalSeconds:      intervalSecs,
				MaxRetries:           maxRetries,
				RetryIntervalSeconds: retryInterval,
			}
			if runAtRaw != "" {
				at, err := time.Parse(time.RFC3339, runAtRaw)
				if err != nil {
					return fmt.Errorf("parse --at: %w", err)
				}
				opts.RunAt = &at
			}
			task, err := sched.CreateTask(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s), next run %s\n",
				task.ID, task.ScheduleType, task.NextExecutionTime.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Testyard config file")
	cmd.Flags().StringVar(&name, "name", "", "task name (defaults to the script name)")
	cmd.Flags().StringVar(&scheduleType, "type", "interval", "schedule type: cron, interval, or once")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "5-field cron expression")
	cmd.Flags().IntVar(&intervalSecs, "interval", 0, "interval in seconds")
	cmd.Flags().StringVar(&runAtRaw, "at", "", "one-shot run time (RFC3339)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "retries after a failed run")
	cmd.Flags().IntVar(&retryInterval, "retry-interval", 60, "seconds between retries")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, _, err := openScheduler(configPath)
			if err != nil {
				return err
			}
			tasks, err := sched.ListTasks()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, task := range tasks {
				next := "-"
				if task.NextExecutionTime != nil {
					next = task.NextExecutionTime.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(out, "%s  %-8s  %-8s  next %s  %d runs (%d failed)  %s\n",
					task.ID, task.Status, task.ScheduleType, next,
					task.TotalExecutions, task.FailedExecutions, task.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Testyard config file")
	return cmd
}

func newTaskPauseCmd() *cobra.Command {
	return taskActionCmd("pause", "Pause a task", func(sched *scheduler.Scheduler, id string) error {
		return sched.PauseTask(id)
	})
}

func newTaskResumeCmd() *cobra.Command {
	return taskActionCmd("resume", "Resume a paused task", func(sched *scheduler.Scheduler, id string) error {
		return sched.ResumeTask(id)
	})
}

func newTaskDisableCmd() *cobra.Command {
	return taskActionCmd("disable", "Permanently disable a task", func(sched *scheduler.Scheduler, id string) error {
		return sched.DisableTask(id)
	})
}

func taskActionCmd(verb, short string, action func(*scheduler.Scheduler, string) error) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   verb + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, _, err := openScheduler(configPath)
			if err != nil {
				return err
			}
			if err := action(sched, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s %sd\n", args[0], verb)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Testyard config file")
	return cmd
}

func newTaskRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run <task-id>",
		Short: "Run a task immediately, outside its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, _, err := openScheduler(configPath)
			if err != nil {
				return err
			}
			rec, err := sched.ExecuteNow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("execution did not start")
			}
			printExecution(cmd.OutOrStdout(), rec)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Testyard config file")
	return cmd
}
