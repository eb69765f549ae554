package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"RiskScanner/internal/app"
	"RiskScanner/internal/config"
	"RiskScanner/internal/httpapi"
	"RiskScanner/internal/logging"
	"RiskScanner/internal/usecase"
)

var (
	daysBack         int
	includeBOE       bool
	includeNews      bool
	includeRSS       bool
	includeFinancial bool

	rootCmd = &cobra.Command{
		Use:          "riskscanner",
		Short:        "Corporate risk assessment for underwriting",
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the watchlist scheduler",
		RunE:  runServe,
	}

	assessCmd = &cobra.Command{
		Use:   "assess [company]",
		Short: "Assess one company and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runAssess,
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Re-assess the configured watchlist on the scheduler interval",
		RunE:  runWatch,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), app.Version)
		},
	}
)

func init() {
	assessCmd.Flags().IntVar(&daysBack, "days", 7, "days back to search")
	assessCmd.Flags().BoolVar(&includeBOE, "boe", true, "search the official gazette")
	assessCmd.Flags().BoolVar(&includeNews, "news", true, "search NewsAPI")
	assessCmd.Flags().BoolVar(&includeRSS, "rss", true, "search RSS feeds")
	assessCmd.Flags().BoolVar(&includeFinancial, "financial", false, "include Yahoo Finance market data")

	rootCmd.AddCommand(serveCmd, assessCmd, watchCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads config and builds the application bound to a signal-aware context.
func bootstrap(cmd *cobra.Command) (context.Context, context.CancelFunc, *app.Application, error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		stop()
		logger.Error("application setup failed", "error", err)
		return nil, nil, nil, err
	}
	return ctx, stop, application, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop, application, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer stop()
	defer application.Close()

	return application.Serve(ctx)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop, application, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer stop()
	defer application.Close()

	return application.Watch(ctx)
}

func runAssess(cmd *cobra.Command, args []string) error {
	ctx, stop, application, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer stop()
	defer application.Close()

	assessment, err := application.Pipeline().Assess(ctx, usecase.SearchRequest{
		CompanyName:      args[0],
		DaysBack:         daysBack,
		IncludeBOE:       includeBOE,
		IncludeNews:      includeNews,
		IncludeRSS:       includeRSS,
		IncludeFinancial: includeFinancial,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(httpapi.RenderAssessment("", assessment))
}
