// Command coactl inspects and renders certificates of analysis from the
// configured store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"coacore/internal/config"
	"coacore/internal/core"
	"coacore/internal/identity"
	"coacore/internal/refdata"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "coactl",
		Short:         "Inspect and render certificates of analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")

	root.AddCommand(newRenderCmd(&cfgPath))
	root.AddCommand(newValidateCmd(&cfgPath))
	root.AddCommand(newVocabCmd(&cfgPath))
	return root
}

func openService(cfgPath string) (*core.Service, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := core.NewZapLogger(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine())
	if err != nil {
		return nil, err
	}

	opts := []core.Option{
		core.WithLogger(logger),
		core.WithMetricsRecorder(core.NewExpvarMetricsRecorder("")),
	}
	if cfg.Identity.BaseURL != "" {
		opts = append(opts, core.WithIdentityVerifier(identity.NewHTTPVerifier(cfg.Identity.BaseURL, cfg.Identity.Token)))
	}
	if cfg.RefData.BaseURL != "" {
		opts = append(opts, core.WithReferenceData(refdata.NewHTTPSource(cfg.RefData.BaseURL)))
	}
	return core.NewService(store, opts...), nil
}

func newRenderCmd(cfgPath *string) *cobra.Command {
	var format string
	var outPath string

	cmd := &cobra.Command{
		Use:   "render <unit-id>",
		Short: "Compose and render a unit's certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(*cfgPath)
			if err != nil {
				return err
			}
			var payload []byte
			switch format {
			case "html":
				payload, err = svc.RenderHTML(cmd.Context(), args[0])
			case "text":
				payload, err = svc.RenderText(cmd.Context(), args[0])
			default:
				return fmt.Errorf("unknown format %q (want html or text)", format)
			}
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err = cmd.OutOrStdout().Write(payload)
				return err
			}
			return os.WriteFile(outPath, payload, 0o644)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: html or text")
	cmd.Flags().StringVar(&outPath, "out", "", "write output to file instead of stdout")
	return cmd
}

func newValidateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <unit-id>",
		Short: "Validate a unit's certificate against its registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(*cfgPath)
			if err != nil {
				return err
			}
			coa, unit, err := svc.GetCOA(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := svc.Validate(unit, coa); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "certificate for unit %s is valid (status %s)\n", unit.Code, coa.Status)
			return nil
		},
	}
}

func newVocabCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "vocab <name>",
		Short: "List terms of a controlled vocabulary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(*cfgPath)
			if err != nil {
				return err
			}
			terms, degraded, err := svc.Vocabulary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if degraded {
				fmt.Fprintln(cmd.OutOrStdout(), "(vocabulary unavailable; free-text entry)")
				return nil
			}
			for _, t := range terms {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}
