// Package cmdutil provides shared utilities for CLI command implementations.
package cmdutil

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Lookup order for every helper: a flag set on the command line wins, then the config
// file or environment (viper key), then the flag's default value.

// GetStringConfig returns the effective string value for flag / key.
func GetStringConfig(cmd *cobra.Command, flag, key string) string {
	if !cmd.Flags().Changed(flag) && viper.IsSet(key) {
		return viper.GetString(key)
	}
	v, _ := cmd.Flags().GetString(flag)
	return v
}

// GetStringSliceConfig returns the effective string slice value for flag / key.
func GetStringSliceConfig(cmd *cobra.Command, flag, key string) []string {
	if !cmd.Flags().Changed(flag) && viper.IsSet(key) {
		return viper.GetStringSlice(key)
	}
	v, _ := cmd.Flags().GetStringSlice(flag)
	return v
}

// GetBoolConfig returns the effective bool value for flag / key.
func GetBoolConfig(cmd *cobra.Command, flag, key string) bool {
	if !cmd.Flags().Changed(flag) && viper.IsSet(key) {
		return viper.GetBool(key)
	}
	v, _ := cmd.Flags().GetBool(flag)
	return v
}

// GetIntConfig returns the effective int value for flag / key.
func GetIntConfig(cmd *cobra.Command, flag, key string) int {
	if !cmd.Flags().Changed(flag) && viper.IsSet(key) {
		return viper.GetInt(key)
	}
	v, _ := cmd.Flags().GetInt(flag)
	return v
}

// GetDurationConfig returns the effective duration value for flag / key.
// Config values accept Go duration strings ("30s", "5m").
func GetDurationConfig(cmd *cobra.Command, flag, key string) time.Duration {
	if !cmd.Flags().Changed(flag) && viper.IsSet(key) {
		return viper.GetDuration(key)
	}
	v, _ := cmd.Flags().GetDuration(flag)
	return v
}
