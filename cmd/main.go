package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kittykatsky/Remittance/internal/config"
	"github.com/kittykatsky/Remittance/internal/ledger"
	"github.com/kittykatsky/Remittance/internal/node"
	"github.com/kittykatsky/Remittance/internal/storage"
	"github.com/kittykatsky/Remittance/internal/units"
)

var (
	cfgFile  string
	ledgerID string
	releaser string
	secret   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "remit",
		Short: "Remit: escrow ledger releasing funds against a secret before a deadline",
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to config file (default: configs/config.yaml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a ledger node with its REST API",
		RunE:  runServe,
	}

	puzzleCmd := &cobra.Command{
		Use:   "puzzle",
		Short: "Compute a remittance commitment offline",
		RunE:  runPuzzle,
	}
	puzzleCmd.Flags().StringVar(&ledgerID, "ledger", "", "Ledger identity (hex address)")
	puzzleCmd.Flags().StringVar(&releaser, "releaser", "", "Releaser identity (hex address)")
	puzzleCmd.Flags().StringVar(&secret, "secret", "", "Secret as text, or hex with a 0x prefix")
	_ = puzzleCmd.MarkFlagRequired("ledger")
	_ = puzzleCmd.MarkFlagRequired("releaser")

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the persisted ledger state",
		RunE:  runInspect,
	}

	rootCmd.AddCommand(serveCmd, puzzleCmd, inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	// Set up logger
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer logger.Sync()

	// Load config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	logger.Info("Starting remittance node", zap.String("backend", cfg.Storage.Backend))

	ctrl := node.NewController(cfg, logger)
	return ctrl.Run(context.Background())
}

func runPuzzle(cmd *cobra.Command, args []string) error {
	id, err := ledger.ParseAddress(ledgerID)
	if err != nil {
		return fmt.Errorf("--ledger: %w", err)
	}
	r, err := ledger.ParseAddress(releaser)
	if err != nil {
		return fmt.Errorf("--releaser: %w", err)
	}
	raw := []byte(secret)
	if strings.HasPrefix(secret, "0x") {
		if raw, err = hex.DecodeString(secret[2:]); err != nil {
			return fmt.Errorf("--secret: %w", err)
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), ledger.GeneratePuzzle(id, r, raw))
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	store, err := storage.Open(cfg.Storage, zap.NewNop())
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.Load()
	if err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("no ledger at %s", cfg.Storage.Path)
	}

	dec := cfg.Ledger.Decimals
	m := snap.Meta
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ledger    %s\n", m.ID)
	fmt.Fprintf(out, "owner     %s\n", m.Owner)
	fmt.Fprintf(out, "state     %s\n", m.State)
	fmt.Fprintf(out, "fee       %s\n", units.Format(m.Fee, dec))
	fmt.Fprintf(out, "fee pool  %s\n", units.Format(m.FeePool, dec))
	fmt.Fprintf(out, "held      %s\n", units.Format(m.Held, dec))
	fmt.Fprintf(out, "received  %s\n", units.Format(m.TotalReceived, dec))
	fmt.Fprintf(out, "paid      %s\n", units.Format(m.TotalPaid, dec))
	for c, d := range snap.Deposits {
		if d.Open() {
			fmt.Fprintf(out, "open      %s depositor=%s amount=%s deadline=%d\n",
				c, d.Depositor, units.Format(d.Amount, dec), d.Deadline)
		}
	}
	return nil
}
