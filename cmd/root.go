package cmd

import (
	"fmt"
	"os"

	"github.com/endorses/ymsgcat/cmd/classify"
	"github.com/endorses/ymsgcat/cmd/list"
	"github.com/endorses/ymsgcat/internal/pkg/logger"
	"github.com/endorses/ymsgcat/internal/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ymsgcat",
	Short: "ymsgcat finds Yahoo Messenger traffic",
	Long: `ymsgcat classifies captured traffic and reports Yahoo Messenger (YMSG) flows:
native YMSG framing, HTTP and proxy tunnels, web chat and the LAN video side channel.`,
	Version:           version.Get().String(),
	SilenceUsage:      true,
	PersistentPreRunE: configureLogging,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addSubCommandPalattes() {
	rootCmd.AddCommand(classify.ClassifyCmd)
	rootCmd.AddCommand(list.ListCmd)
}

func init() {
	cobra.OnInitialize(initConfig)

	logger.Initialize()

	addSubCommandPalattes()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ymsgcat.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	rootCmd.PersistentFlags().String("log-file", "", "write logs to a rotated file instead of stderr")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file"))

	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age_days", 28)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".ymsgcat")
	}

	viper.SetEnvPrefix("YMSGCAT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func configureLogging(cmd *cobra.Command, args []string) error {
	return logger.Configure(logger.Config{
		Level:      viper.GetString("log.level"),
		Format:     viper.GetString("log.format"),
		File:       viper.GetString("log.file"),
		MaxSizeMB:  viper.GetInt("log.max_size_mb"),
		MaxBackups: viper.GetInt("log.max_backups"),
		MaxAgeDays: viper.GetInt("log.max_age_days"),
	})
}
