package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clearslip/clearslip/internal/bank"
	"github.com/clearslip/clearslip/internal/calibrate"
)

var templatesMinSamples int

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage bank template catalogs",
}

var templatesValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Replay verified screenshots against the catalog and report hit rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		minSamples := templatesMinSamples
		if minSamples == 0 {
			minSamples = cfg.Verification.MinPatternCount
		}

		reports, err := calibrate.ValidateTemplates(ctx, env.Store, env.Registry, minSamples)
		if err != nil {
			return err
		}

		fmt.Printf("%-12s %8s %14s %12s %s\n", "BANK", "SAMPLES", "RECIPIENT", "ACCOUNT", "PROMOTABLE")
		for _, r := range reports {
			fmt.Printf("%-12s %8d %13.1f%% %11.1f%% %v\n",
				r.Code, r.Samples, r.RecipientRate*100, r.AccountRate*100, r.Promotable)
		}

		return nil
	},
}

var templatesPublishCmd = &cobra.Command{
	Use:   "publish <draft.yaml>",
	Short: "Validate a draft catalog and publish it to the configured path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Templates.CatalogPath == "" {
			return eris.New("templates: catalog path is not configured (CLEARSLIP_TEMPLATES_CATALOG_PATH)")
		}

		catalog, err := bank.LoadCatalog(args[0])
		if err != nil {
			return err
		}

		if err := bank.WriteCatalog(cfg.Templates.CatalogPath, catalog); err != nil {
			return err
		}

		zap.L().Info("catalog published",
			zap.String("path", cfg.Templates.CatalogPath),
			zap.Int("templates", len(catalog.Templates)),
		)
		return nil
	},
}

func init() {
	templatesValidateCmd.Flags().IntVar(&templatesMinSamples, "min-samples", 0, "sample threshold for promotion (default from config)")
	templatesCmd.AddCommand(templatesValidateCmd)
	templatesCmd.AddCommand(templatesPublishCmd)
	rootCmd.AddCommand(templatesCmd)
}
