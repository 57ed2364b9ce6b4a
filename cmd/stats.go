package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsDays int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print verification activity for a recent window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Engine.Stats(ctx, statsDays)
		if err != nil {
			return err
		}

		fmt.Printf("Last %d days: %d verifications (%d auto, %d manual)\n",
			stats.WindowDays, stats.TotalVerifications, stats.AutoVerified, stats.ManualActions)
		if stats.AvgConfidence != nil {
			fmt.Printf("Average confidence: %.2f\n", *stats.AvgConfidence)
		}
		for _, b := range stats.Breakdown {
			line := fmt.Sprintf("  %-16s %-14s %6d", b.Action, b.Method, b.Count)
			if b.AvgConfidence != nil {
				line += fmt.Sprintf("  avg %.2f", *b.AvgConfidence)
			}
			fmt.Println(line)
		}

		return nil
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsDays, "days", 0, "window in days (default from config)")
	rootCmd.AddCommand(statsCmd)
}
