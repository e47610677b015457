package main

import (
	"github.com/spf13/cobra"

	"github.com/Bidon15/stakedeploy/internal/report"
)

func newPreflightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check the network, deployer balance, fees and artifacts without sending transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			resp, err := s.preflight(cmd.Context())
			if err != nil {
				return err
			}
			report.WriteChecks(cmd.OutOrStdout(), resp)
			if !resp.OK {
				return ErrPreflightFailed
			}
			return nil
		},
	}
}
