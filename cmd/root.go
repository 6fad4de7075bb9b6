// Package cmd provides the command-line interface of aicdma.
package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/aicdma/config"
)

var (
	configPath string
	envFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "aicdma",
	Short: "aicdma drives DMA workloads on a simulated controller.",
	Long: `aicdma runs memory copies, scatter/gather and cyclic transfers ` +
		`through the DMA engine on top of a cycle-level model of the ` +
		`controller and reports what happened.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"YAML platform description")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env",
		"file with AICDMA_* overrides")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return cfg, err
	}

	level, _ := cfg.LogrusLevel()
	logrus.SetLevel(level)

	return cfg, nil
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
