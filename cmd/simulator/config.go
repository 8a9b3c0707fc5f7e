package main

import (
	"github.com/spf13/cobra"
)

func newConfigCmd(sf *scenarioFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective scenario config as TOML",
		Long: `'config' resolves the config file and command line flags and prints the
result. The output can be fed back through --config-file-in.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := sf.load(cmd.Flags())
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			return cfg.Encode(cmd.OutOrStdout())
		},
	}
}
