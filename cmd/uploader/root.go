package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "uploader",
	Short: "Upload charter videos to the captain media pipeline",
	Long: "uploader prechecks local clips, trims them to the selected window, " +
		"puts them in object storage and registers them for normalization.",
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("api", "http://localhost:8080", "base URL of the captain API")
	rootCmd.PersistentFlags().String("token", "", "API bearer token (env CAPTAIN_TOKEN)")
	_ = viper.BindPFlag("CAPTAIN_API_URL", rootCmd.PersistentFlags().Lookup("api"))
	_ = viper.BindPFlag("CAPTAIN_TOKEN", rootCmd.PersistentFlags().Lookup("token"))
}

func initConfig() {
	viper.AutomaticEnv()
}
