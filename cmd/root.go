package cmd

import (
	"github.com/spf13/cobra"

	"github.com/example/idassure/internal/config"
)

const (
	app = "idassure"
)

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:           app,
		Short:         "idassure verifies identities against enrolled faces and supporting documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a YAML config file (default is $"+config.EnvConfigFile+")")
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}
