package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the resolved deployment plan and the artifacts it needs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			plan, err := cfg.Plan()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# network %s (chain %d), proxy %s\n", cfg.Network, cfg.ChainID, cfg.Proxy.Kind)
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(plan); err != nil {
				return fmt.Errorf("encode plan: %w", err)
			}
			if err := enc.Close(); err != nil {
				return fmt.Errorf("encode plan: %w", err)
			}
			fmt.Fprintln(out, "# artifacts:")
			for _, name := range proxyOptions(cfg.Proxy).Contracts(plan) {
				fmt.Fprintf(out, "#   %s\n", name)
			}
			return nil
		},
	}
}
