package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duplexproto/channel/config"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, config.Default().Validate())
}

func TestValidateAggregatesAllViolations(t *testing.T) {
	c := config.Default()
	c.ListenAddr = ""
	c.ReceiveBufferSize = 0
	c.QueueCapacity = -1
	c.MaxPackageLength = -1
	c.LogFormat = "xml"
	c.LogLevel = "verbose"

	err := c.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"listen_addr", "receive_buffer_size", "queue_capacity", "max_package_length", "log_format", "log_level"} {
		assert.Contains(t, msg, want)
	}
}

func TestParseFlagsOverridesDefaults(t *testing.T) {
	c, err := config.ParseFlags([]string{"-listen-addr", ":9999", "-log-format", "json"})
	require.NoError(t, err)
	assert.Equal(t, ":9999", c.ListenAddr)
	assert.Equal(t, "json", c.LogFormat)
	require.NoError(t, c.Validate())
}
