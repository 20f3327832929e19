package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nhle/scanrelay/internal/model"
)

var (
	// Set via -ldflags at build time.
	version = "dev"
	commit  = ""
)

func main() {
	if err := loadEnvFile(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnvFile exports the variables in path. A missing file is fine.
func loadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:          "scanrelay",
		Short:        "Relay scanned documents from an IMAP mailbox to a local directory",
		SilenceUsage: true,
		Version:      versionString(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(
		&opts.configPath, "config", "c", model.DefaultConfigPath(), "path to the config file",
	)

	rootCmd.AddCommand(
		newRunCmd(opts),
		newInitCmd(opts),
		newLoginCmd(opts),
		newScanCmd(),
		newHistoryCmd(opts),
	)

	return rootCmd
}

func versionString() string {
	if commit == "" {
		return version
	}
	return fmt.Sprintf("%s (%s)", version, commit)
}

// loadConfig reads the config file named by the --config flag.
func (o *rootOptions) loadConfig() (*model.AppConfig, error) {
	return model.LoadConfig(o.configPath)
}
