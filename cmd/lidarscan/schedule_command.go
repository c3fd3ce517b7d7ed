package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/EPFL-ENAC/AddLidar/internal/logging"
	"github.com/EPFL-ENAC/AddLidar/internal/scanrun"
)

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	var flags scanFlags
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run scans on a fixed interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.configWith(flags.overrides(cmd))
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			runCtx, cancel := scanContext(cmd.Context())
			defer cancel()

			sched, err := scanrun.NewScheduler(logger)
			if err != nil {
				return err
			}
			run := func(tickCtx context.Context) (*scanrun.Result, error) {
				return scanrun.Run(tickCtx, cfg, scanrun.Options{
					DryRun:     flags.dryRun,
					ExportOnly: flags.exportOnly,
					Preview:    cmd.OutOrStdout(),
					Logger:     logger,
				})
			}
			if err := sched.Every(runCtx, every, run); err != nil {
				return err
			}
			sched.Start()
			<-runCtx.Done()
			logger.Info("scheduler shutting down", logging.String(logging.FieldEventType, "schedule_stopped"))
			return sched.Stop()
		},
	}
	flags.bind(cmd)
	cmd.Flags().DurationVar(&every, "every", 15*time.Minute, "Interval between scans")
	return cmd
}
