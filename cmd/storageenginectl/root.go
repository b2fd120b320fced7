package main

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/blackdeer1524/storage-engine/src/pkg/config"
	"github.com/blackdeer1524/storage-engine/src/pkg/logging"
)

// env bundles the config/logger pair every subcommand needs, built once in
// the root command's PersistentPreRunE and threaded down through the
// subcommand closures rather than a package global.
type env struct {
	cfg    config.EngineConfig
	logger logging.Logger
	fs     afero.Fs
}

func newRootCmd() *cobra.Command {
	var dotEnvPath string

	var e env
	root := &cobra.Command{
		Use:   "storageenginectl",
		Short: "Operate on a storage engine data/log file pair",
		Long: "storageenginectl drives the storage engine's recovery routine and inspects\n" +
			"its on-disk pages and log records outside of a test binary.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(dotEnvPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Environment)
			if err != nil {
				return err
			}
			e = env{cfg: cfg, logger: logger, fs: afero.NewOsFs()}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&dotEnvPath, "env-file", ".env",
		"optional dotenv file to load STORAGE_* settings from")

	root.AddCommand(newRecoverCmd(&e))
	root.AddCommand(newInspectCmd(&e))
	return root
}
