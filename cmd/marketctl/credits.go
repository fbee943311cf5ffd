package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/shinyyama/leadmarket-backend/internal/config"
	"github.com/shinyyama/leadmarket-backend/internal/db"
	"github.com/shinyyama/leadmarket-backend/internal/idgen"
	"github.com/shinyyama/leadmarket-backend/internal/logger"
	"github.com/shinyyama/leadmarket-backend/internal/repository"
	"github.com/shinyyama/leadmarket-backend/internal/service"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func creditsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Manage workspace credit balances",
	}
	cmd.AddCommand(creditsGrantCmd())
	return cmd
}

func creditsGrantCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "grant [workspace-id] [amount]",
		Short: "Add credits to a workspace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			_ = godotenv.Load()
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			zlog, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
			if err != nil {
				return err
			}
			defer func() { _ = zlog.Sync() }()
			gdb, err := db.Connect(cfg)
			if err != nil {
				return fmt.Errorf("connect db: %w", err)
			}
			ids, err := idgen.New(cfg.SnowflakeNode)
			if err != nil {
				return err
			}
			credits := service.NewCreditService(repository.NewStore(gdb), ids, zlog)
			entry, err := credits.Grant(cmd.Context(), args[0], amount, note)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s; balance %s\n",
				entry.Amount.StringFixed(2), entry.WorkspaceID, entry.BalanceAfter.StringFixed(2))
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "granted via marketctl", "ledger note")
	return cmd
}
