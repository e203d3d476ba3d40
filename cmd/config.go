package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  "Prints the merged configuration (defaults, config.yaml, FACILITY_* environment) as YAML. The API key is redacted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		printable := *cfg
		if printable.Source.APIKey != "" {
			printable.Source.APIKey = "<redacted>"
		}

		out, err := yaml.Marshal(printable)
		if err != nil {
			return eris.Wrap(err, "marshal config")
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
