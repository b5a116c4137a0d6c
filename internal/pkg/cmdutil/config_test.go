package cmdutil

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "info", "")
	cmd.Flags().StringSlice("host-protocols", []string{"HTTP", "TLS"}, "")
	cmd.Flags().Bool("http-detection", true, "")
	cmd.Flags().Int("workers", 1, "")
	cmd.Flags().Duration("video-timeout", 30*time.Second, "")
	return cmd
}

func TestConfigPrecedence(t *testing.T) {
	t.Cleanup(viper.Reset)

	t.Run("defaults when nothing is set", func(t *testing.T) {
		viper.Reset()
		cmd := newTestCommand()
		assert.Equal(t, "info", GetStringConfig(cmd, "log-level", "log.level"))
		assert.Equal(t, []string{"HTTP", "TLS"}, GetStringSliceConfig(cmd, "host-protocols", "detector.ymsg.host_protocols"))
		assert.True(t, GetBoolConfig(cmd, "http-detection", "detector.ymsg.http_detection"))
		assert.Equal(t, 1, GetIntConfig(cmd, "workers", "workers"))
		assert.Equal(t, 30*time.Second, GetDurationConfig(cmd, "video-timeout", "detector.ymsg.video_timeout"))
	})

	t.Run("config overrides defaults", func(t *testing.T) {
		viper.Reset()
		viper.Set("log.level", "debug")
		viper.Set("detector.ymsg.host_protocols", []string{"HTTP"})
		viper.Set("detector.ymsg.http_detection", false)
		viper.Set("workers", 4)
		viper.Set("detector.ymsg.video_timeout", "45s")

		cmd := newTestCommand()
		assert.Equal(t, "debug", GetStringConfig(cmd, "log-level", "log.level"))
		assert.Equal(t, []string{"HTTP"}, GetStringSliceConfig(cmd, "host-protocols", "detector.ymsg.host_protocols"))
		assert.False(t, GetBoolConfig(cmd, "http-detection", "detector.ymsg.http_detection"))
		assert.Equal(t, 4, GetIntConfig(cmd, "workers", "workers"))
		assert.Equal(t, 45*time.Second, GetDurationConfig(cmd, "video-timeout", "detector.ymsg.video_timeout"))
	})

	t.Run("explicit flags override config", func(t *testing.T) {
		viper.Reset()
		viper.Set("log.level", "debug")
		viper.Set("detector.ymsg.video_timeout", "45s")

		cmd := newTestCommand()
		require.NoError(t, cmd.Flags().Set("log-level", "warn"))
		require.NoError(t, cmd.Flags().Set("video-timeout", "5s"))
		assert.Equal(t, "warn", GetStringConfig(cmd, "log-level", "log.level"))
		assert.Equal(t, 5*time.Second, GetDurationConfig(cmd, "video-timeout", "detector.ymsg.video_timeout"))
	})
}
