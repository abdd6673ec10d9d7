package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"

	"github.com/journeyhq/journey/pkg/cmd"
	"github.com/journeyhq/journey/pkg/dispatcher"
	"github.com/journeyhq/journey/pkg/log"
	"github.com/journeyhq/journey/pkg/scheduler"
)

func main() {
	logger := log.WithModule("journey-scheduler")

	command := &cli.Command{
		Name:                  "journey-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Resume due runs and fire recurring date triggers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the recurrence gate (optional)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "tick-schedule",
				Usage:   "Cron expression for the scheduling pass",
				Value:   "* * * * *",
				Sources: cli.EnvVars("TICK_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			cmd.SetupTracing(ctx, "journey-scheduler", logger)

			logger.InfoContext(ctx, "Initializing Journey Scheduler")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "scheduler", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			gate := cmd.NewRecurrenceGate(command.String("redis-url"), persistence, logger)

			d := dispatcher.NewDispatcher(persistence, eventBus, gate, logger)
			s := scheduler.NewScheduler(persistence, eventBus, d, logger)

			c := cron.New()

			_, err := c.AddFunc(command.String("tick-schedule"), func() {
				if err := s.Tick(ctx); err != nil {
					logger.ErrorContext(ctx, "Scheduling pass failed", "error", err)
				}
			})
			if err != nil {
				return err
			}

			c.Start()
			defer c.Stop()

			logger.InfoContext(ctx, "Scheduler started",
				"tick_schedule", command.String("tick-schedule"))

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			<-sigChan
			logger.InfoContext(ctx, "Shutting down scheduler...")

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
