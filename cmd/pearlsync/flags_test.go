package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/pearlsync/pkg/config"
)

func newFlagCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addBrokerFlags(cmd)
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestApplyBrokerFlags(t *testing.T) {
	t.Run("only given flags override", func(t *testing.T) {
		cmd := newFlagCmd(t, "--server", "broker.example.com", "--tls=false", "--port", "1883")
		cfg := config.NewConfig()

		require.NoError(t, applyBrokerFlags(cmd, cfg))

		assert.Equal(t, "broker.example.com", cfg.Connection.ServerAddress)
		assert.False(t, cfg.Connection.UseTLS)
		assert.Equal(t, 1883, cfg.Connection.Port)
		assert.Equal(t, config.DefaultTopic, cfg.Connection.Topic)
		assert.Equal(t, map[string]string{
			config.KeyServerAddress: "broker.example.com",
			config.KeyEnableSSL:     "false",
			config.KeyPort:          "1883",
		}, cfg.Overrides)
	})

	t.Run("no flags leaves config untouched", func(t *testing.T) {
		cmd := newFlagCmd(t)
		cfg := config.NewConfig()

		require.NoError(t, applyBrokerFlags(cmd, cfg))

		assert.Empty(t, cfg.Overrides)
		assert.Equal(t, config.DefaultConnection(), cfg.Connection)
	})

	t.Run("secret and topic", func(t *testing.T) {
		cmd := newFlagCmd(t, "--secret", "s3cret", "--topic", "clips")
		cfg := config.NewConfig()

		require.NoError(t, applyBrokerFlags(cmd, cfg))

		assert.Equal(t, "s3cret", cfg.Connection.Secret)
		assert.Equal(t, "clips", cfg.Connection.Topic)
	})
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{addr: ":9464"},
		{addr: "127.0.0.1:9464"},
		{addr: "localhost:0"},
		{addr: "[::1]:9464"},
		{addr: "", wantErr: true},
		{addr: "localhost", wantErr: true},
		{addr: "host:port", wantErr: true},
		{addr: "host:70000", wantErr: true},
		{addr: "bad host:80", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			err := validateAddress(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
