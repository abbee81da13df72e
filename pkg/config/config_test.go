package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	assert.NotEmpty(t, cfg.DeviceID)
	assert.Equal(t, DefaultPort, cfg.Connection.Port)
	assert.True(t, cfg.Connection.UseTLS)
	assert.Equal(t, "clipboard", cfg.Connection.Topic)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.DedupeWindow)
	assert.Equal(t, 50, cfg.HistorySize)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Empty(t, cfg.Overrides)
}

func TestGenerateDeviceID(t *testing.T) {
	id := GenerateDeviceID()
	assert.Regexp(t, regexp.MustCompile(`^.+-[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, GenerateDeviceID())
}

func TestConnectionValidate(t *testing.T) {
	valid := func() Connection {
		c := DefaultConnection()
		c.ServerAddress = "broker.example.com"
		c.Secret = "s3cr3t"
		return c
	}

	tests := []struct {
		name   string
		mutate func(c *Connection)
		errMsg string
	}{
		{name: "valid", mutate: func(c *Connection) {}},
		{name: "missing address", mutate: func(c *Connection) { c.ServerAddress = "" }, errMsg: "server address is required"},
		{name: "address with scheme", mutate: func(c *Connection) { c.ServerAddress = "tcp://host" }, errMsg: "bare host name"},
		{name: "missing secret", mutate: func(c *Connection) { c.Secret = "" }, errMsg: "secret key is required"},
		{name: "missing topic", mutate: func(c *Connection) { c.Topic = "" }, errMsg: "topic is required"},
		{name: "wildcard topic", mutate: func(c *Connection) { c.Topic = "clip/#" }, errMsg: "wildcards"},
		{name: "bad port", mutate: func(c *Connection) { c.Port = 70000 }, errMsg: "invalid port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("nil", func(t *testing.T) {
		var c *Connection
		assert.ErrorIs(t, c.Validate(), ErrConfiguration)
	})
}

func TestConnectionURL(t *testing.T) {
	c := DefaultConnection()
	c.ServerAddress = "broker.example.com"
	assert.Equal(t, "ssl://broker.example.com:8883", c.URL())

	c.UseTLS = false
	c.Port = 1883
	assert.Equal(t, "tcp://broker.example.com:1883", c.URL())
}

func TestConnectionSetGet(t *testing.T) {
	c := DefaultConnection()

	for key, value := range map[string]string{
		KeyServerAddress:      "mqtt.local",
		KeyPort:               "1883",
		KeyEnableSSL:          "false",
		KeyUsername:           "alice",
		KeyPassword:           "pw",
		KeySecretKey:          "s3cr3t",
		KeyTopic:              "team",
		KeyCAFile:             "/etc/ca.pem",
		KeyInsecureSkipVerify: "true",
	} {
		require.NoError(t, c.Set(key, value), key)
		got, err := c.Get(key)
		require.NoError(t, err)
		assert.Equal(t, value, got, key)
	}

	assert.Equal(t, 1883, c.Port)
	assert.False(t, c.UseTLS)
	assert.True(t, c.InsecureSkipVerify)

	assert.ErrorIs(t, c.Set(KeyPort, "abc"), ErrConfiguration)
	assert.ErrorIs(t, c.Set(KeyEnableSSL, "maybe"), ErrConfiguration)
	assert.ErrorIs(t, c.Set("bogus", "x"), ErrConfiguration)
	_, err := c.Get("bogus")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestConfigValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, NewConfig().Validate())
	})

	t.Run("missing device id", func(t *testing.T) {
		cfg := NewConfig()
		cfg.DeviceID = ""
		assert.ErrorIs(t, cfg.Validate(), ErrConfiguration)
	})

	t.Run("bad log format", func(t *testing.T) {
		cfg := NewConfig()
		cfg.LogFormat = "xml"
		assert.ErrorIs(t, cfg.Validate(), ErrConfiguration)
	})

	t.Run("negative dedupe window", func(t *testing.T) {
		cfg := NewConfig()
		cfg.DedupeWindow = -time.Second
		assert.ErrorIs(t, cfg.Validate(), ErrConfiguration)
	})
}

func TestSecretFileHandling(t *testing.T) {
	t.Run("secret from file with whitespace", func(t *testing.T) {
		secretFile := filepath.Join(t.TempDir(), "secret.txt")
		require.NoError(t, os.WriteFile(secretFile, []byte("  from-file  \n"), 0o600))

		cfg := NewConfig()
		cfg.SecretFile = secretFile
		require.NoError(t, cfg.Validate())

		assert.Equal(t, "from-file", cfg.Connection.Secret)
		assert.Equal(t, "from-file", cfg.Overrides[KeySecretKey])
	})

	t.Run("both secret and file", func(t *testing.T) {
		secretFile := filepath.Join(t.TempDir(), "secret.txt")
		require.NoError(t, os.WriteFile(secretFile, []byte("x"), 0o600))

		cfg := NewConfig()
		require.NoError(t, cfg.Override(KeySecretKey, "inline"))
		cfg.SecretFile = secretFile

		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrConfiguration)
		assert.Contains(t, err.Error(), "cannot specify both")
	})

	t.Run("missing file", func(t *testing.T) {
		cfg := NewConfig()
		cfg.SecretFile = filepath.Join(t.TempDir(), "nope")
		assert.Error(t, cfg.Validate())
	})
}

func TestLoadFile(t *testing.T) {
	yamlDoc := `
device_id: desk
broker:
  server: mqtt.example.com
  port: 1883
  tls: false
  topic: shared
  secret: s3cr3t
poll_interval: 250ms
dedupe_window: 10s
history_size: 5
log_level: debug
`
	tomlDoc := `
device_id = "desk"
poll_interval = "250ms"
dedupe_window = "10s"
history_size = 5
log_level = "debug"

[broker]
server = "mqtt.example.com"
port = 1883
tls = false
topic = "shared"
secret = "s3cr3t"
`

	for name, doc := range map[string]string{"config.yaml": yamlDoc, "config.toml": tomlDoc} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

			cfg := NewConfig()
			require.NoError(t, cfg.LoadFile(path, false))

			assert.Equal(t, "desk", cfg.DeviceID)
			assert.Equal(t, "mqtt.example.com", cfg.Connection.ServerAddress)
			assert.Equal(t, 1883, cfg.Connection.Port)
			assert.False(t, cfg.Connection.UseTLS)
			assert.Equal(t, "shared", cfg.Connection.Topic)
			assert.Equal(t, "s3cr3t", cfg.Connection.Secret)
			assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
			assert.Equal(t, 10*time.Second, cfg.DedupeWindow)
			assert.Equal(t, 5, cfg.HistorySize)
			assert.Equal(t, "debug", cfg.LogLevel)

			// Only keys present in the file become overrides.
			assert.Len(t, cfg.Overrides, 5)
			assert.NotContains(t, cfg.Overrides, KeyUsername)
		})
	}

	t.Run("missing optional file", func(t *testing.T) {
		cfg := NewConfig()
		assert.NoError(t, cfg.LoadFile(filepath.Join(t.TempDir(), "none.yaml"), true))
	})

	t.Run("missing required file", func(t *testing.T) {
		cfg := NewConfig()
		assert.Error(t, cfg.LoadFile(filepath.Join(t.TempDir(), "none.yaml"), false))
	})

	t.Run("bad duration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("poll_interval: soon\n"), 0o600))
		assert.ErrorIs(t, NewConfig().LoadFile(path, false), ErrConfiguration)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.ini")
		require.NoError(t, os.WriteFile(path, []byte("x=1"), 0o600))
		assert.ErrorIs(t, NewConfig().LoadFile(path, false), ErrConfiguration)
	})
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PEARLSYNC_SERVER", "env.example.com")
	t.Setenv("PEARLSYNC_PORT", "1884")
	t.Setenv("PEARLSYNC_TLS", "false")
	t.Setenv("PEARLSYNC_SECRET", "env-secret")
	t.Setenv("PEARLSYNC_DEVICE_ID", "env-device")
	t.Setenv("PEARLSYNC_POLL_INTERVAL", "1s")
	t.Setenv("PEARLSYNC_DEDUPE_WINDOW", "45s")
	t.Setenv("PEARLSYNC_HISTORY_SIZE", "7")
	t.Setenv("PEARLSYNC_VERBOSE", "true")
	t.Setenv("PEARLSYNC_LOG_FORMAT", "JSON")

	cfg := NewConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "env.example.com", cfg.Connection.ServerAddress)
	assert.Equal(t, 1884, cfg.Connection.Port)
	assert.False(t, cfg.Connection.UseTLS)
	assert.Equal(t, "env-secret", cfg.Connection.Secret)
	assert.Equal(t, "env-device", cfg.DeviceID)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 45*time.Second, cfg.DedupeWindow)
	assert.Equal(t, 7, cfg.HistorySize)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "env.example.com", cfg.Overrides[KeyServerAddress])
}

func TestLoadFromEnvRejectsInvalidValues(t *testing.T) {
	t.Setenv("PEARLSYNC_PORT", "abc")
	t.Setenv("PEARLSYNC_TLS", "maybe")
	t.Setenv("PEARLSYNC_DEDUPE_WINDOW", "soon")
	t.Setenv("PEARLSYNC_TOPIC", "clips")

	cfg := NewConfig()
	err := cfg.LoadFromEnv()

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "PEARLSYNC_PORT")
	assert.Contains(t, err.Error(), "PEARLSYNC_TLS")
	assert.Contains(t, err.Error(), "PEARLSYNC_DEDUPE_WINDOW")

	// Invalid values keep the existing settings; valid ones still apply.
	assert.Equal(t, DefaultPort, cfg.Connection.Port)
	assert.True(t, cfg.Connection.UseTLS)
	assert.Equal(t, 30*time.Second, cfg.DedupeWindow)
	assert.Equal(t, "clips", cfg.Connection.Topic)
	assert.NotContains(t, cfg.Overrides, KeyPort)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PEARLSYNC_TOPIC=from-dotenv\n"), 0o600))

	// godotenv sets variables directly; restore afterwards.
	t.Setenv("PEARLSYNC_TOPIC", "")
	require.NoError(t, os.Unsetenv("PEARLSYNC_TOPIC"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-dotenv", os.Getenv("PEARLSYNC_TOPIC"))

	cfg := NewConfig()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, "from-dotenv", cfg.Connection.Topic)

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}

func TestConfigString(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Override(KeySecretKey, "super-secret"))
	require.NoError(t, cfg.Override(KeyPassword, "hunter2"))
	cfg.Connection.ServerAddress = "broker"

	s := cfg.String()
	assert.NotContains(t, s, "super-secret")
	assert.NotContains(t, s, "hunter2")
	assert.Contains(t, s, "[hidden]")
	assert.True(t, strings.Contains(s, "ssl://broker:8883"))

	assert.Contains(t, DefaultConnection().String(), "[not set]")
}
