package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/EPFL-ENAC/AddLidar/internal/config"
	"github.com/EPFL-ENAC/AddLidar/internal/logging"
	"github.com/EPFL-ENAC/AddLidar/internal/services"
	"github.com/EPFL-ENAC/AddLidar/internal/stateapi"
	"github.com/EPFL-ENAC/AddLidar/internal/statedb"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string
	var stateDB string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local state database over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			var o config.Overrides
			if cmd.Flags().Changed("state-db") {
				o.StateDB = &stateDB
			}
			cfg, err := ctx.configWith(o)
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Paths.StateDB) == "" {
				return fmt.Errorf("%w: serve requires paths.state_db or --state-db", services.ErrConfiguration)
			}
			if cmd.Flags().Changed("bind") {
				cfg.Server.Bind = bind
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			logger, err := ctx.logger(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			db, err := statedb.Open(cfg.Paths.StateDB)
			if err != nil {
				return err
			}
			defer db.Close()

			runCtx, cancel := scanContext(cmd.Context())
			defer cancel()

			server := stateapi.NewServer(cfg.Server.Bind, db, logger)
			if err := server.Start(runCtx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Serving %s at http://%s%s\n", cfg.Paths.StateDB, server.Addr(), stateapi.MountPrefix)
			<-runCtx.Done()
			server.Stop()
			logger.Info("state api stopped", logging.String(logging.FieldEventType, "serve_stopped"))
			return nil
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (default from server.bind)")
	cmd.Flags().StringVar(&stateDB, "state-db", "", "SQLite state database path")
	return cmd
}
