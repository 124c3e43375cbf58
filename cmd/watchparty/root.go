package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	serverAddress string
	displayName   string
)

const (
	serverAddressKey = "server_address"
	displayNameKey   = "display_name"
)

var rootCmd = &cobra.Command{
	Use:   "watchparty",
	Short: "Terminal client for watch-party rooms",
	Long: `watchparty is a terminal client for synchronized group video sessions.
Create a room, share its 6-character code, and chat while the host drives
playback for everyone.`,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.watchparty.yaml)")
	rootCmd.PersistentFlags().StringVarP(&serverAddress, "server", "s", "", "server base URL (e.g. http://localhost:8080)")
	rootCmd.PersistentFlags().StringVarP(&displayName, "name", "n", "", "display name shown to other participants")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".watchparty")
			viper.SetConfigType("yaml")
		}
	}

	viper.SetDefault(serverAddressKey, "http://localhost:8080")
	viper.SetDefault(displayNameKey, "guest")
	viper.SetEnvPrefix("WATCHPARTY")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}

	if serverAddress == "" {
		serverAddress = viper.GetString(serverAddressKey)
	}
	if displayName == "" {
		displayName = viper.GetString(displayNameKey)
	}
}
