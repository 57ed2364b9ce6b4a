package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clearslip/clearslip/internal/calibrate"
)

var calibrateConcurrency int

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Rebuild customer patterns from verified payment history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := calibrateConcurrency
		if concurrency == 0 {
			concurrency = cfg.Calibrate.MaxConcurrentTenants
		}

		job := calibrate.NewPatternsJob(env.Store, env.Registry, env.Patterns, concurrency)
		summary, err := job.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Calibration complete: %d tenants, %d screenshots loaded, %d detected, %d extracted\n",
			summary.Tenants, summary.Loaded, summary.Detected, summary.Extracted)
		fmt.Printf("  %d customers, %d pattern docs upserted, %d skipped\n",
			summary.Customers, summary.Upserted, summary.Skipped)

		return nil
	},
}

func init() {
	calibrateCmd.Flags().IntVar(&calibrateConcurrency, "concurrency", 0, "max tenants processed in parallel (default from config)")
	rootCmd.AddCommand(calibrateCmd)
}
