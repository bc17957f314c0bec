// Package cmd implements the contestguard command line.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "contestguard",
	Short: "Contest participation reconciler",
	Long: "contestguard checks roster members' public submission history against weekly and " +
		"biweekly contest windows and records the result in the roster sheet.",
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default .contestguard.yaml)")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
}

func initConfig() {
	envFile, _ := rootCmd.Flags().GetString("env-file")
	if err := loadEnvFile(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if cfgFile, _ := rootCmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".contestguard")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("CONTESTGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// It's fine if no config file is found; we use defaults.
	_ = viper.ReadInConfig()
}

// loadEnvFile exports the variables of a dotenv file without overriding
// ones already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}
