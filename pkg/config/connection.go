package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrConfiguration indicates missing or malformed connection settings.
// Callers check it with errors.Is; the wrapped message names the field.
var ErrConfiguration = errors.New("configuration error")

// Setting keys shared by the settings store, config files and the
// "settings set" command.
const (
	KeyServerAddress      = "serverAddress"
	KeyPort               = "port"
	KeyEnableSSL          = "enableSSL"
	KeyUsername           = "username"
	KeyPassword           = "password"
	KeySecretKey          = "secretKey"
	KeyTopic              = "topic"
	KeyCAFile             = "caFile"
	KeyInsecureSkipVerify = "insecureSkipVerify"
)

// Keys lists every connection setting key in display order.
func Keys() []string {
	return []string{
		KeyServerAddress,
		KeyPort,
		KeyEnableSSL,
		KeyUsername,
		KeyPassword,
		KeySecretKey,
		KeyTopic,
		KeyCAFile,
		KeyInsecureSkipVerify,
	}
}

// IsSensitive reports whether the value stored under key must not be shown.
func IsSensitive(key string) bool {
	return key == KeyPassword || key == KeySecretKey
}

// Connection defaults.
const (
	DefaultPort  = 8883
	DefaultTopic = "clipboard"
)

// Connection holds the broker parameters for one sync session. The engine
// treats it as a read-only value and re-reads it on every start.
type Connection struct {
	ServerAddress      string
	Port               int
	UseTLS             bool
	Username           string
	Password           string
	Topic              string
	Secret             string
	CAFile             string
	InsecureSkipVerify bool
}

// DefaultConnection returns the connection defaults: TLS on port 8883 and
// the "clipboard" topic. Address and secret have no default.
func DefaultConnection() Connection {
	return Connection{
		Port:   DefaultPort,
		UseTLS: true,
		Topic:  DefaultTopic,
	}
}

// Validate checks the fields required before a connection attempt.
func (c *Connection) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: no connection settings", ErrConfiguration)
	}
	if strings.TrimSpace(c.ServerAddress) == "" {
		return fmt.Errorf("%w: server address is required", ErrConfiguration)
	}
	if strings.ContainsAny(c.ServerAddress, "/ ") {
		return fmt.Errorf("%w: server address %q must be a bare host name", ErrConfiguration, c.ServerAddress)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrConfiguration, c.Port)
	}
	if c.Topic == "" {
		return fmt.Errorf("%w: topic is required", ErrConfiguration)
	}
	if strings.ContainsAny(c.Topic, "#+") {
		return fmt.Errorf("%w: topic %q must not contain wildcards", ErrConfiguration, c.Topic)
	}
	if c.Secret == "" {
		return fmt.Errorf("%w: secret key is required", ErrConfiguration)
	}
	return nil
}

// Scheme returns "ssl" when TLS is enabled and "tcp" otherwise.
func (c *Connection) Scheme() string {
	if c.UseTLS {
		return "ssl"
	}
	return "tcp"
}

// Addr returns host:port.
func (c *Connection) Addr() string {
	return net.JoinHostPort(c.ServerAddress, strconv.Itoa(c.Port))
}

// URL returns the broker URL, for example ssl://broker.example.com:8883.
func (c *Connection) URL() string {
	return c.Scheme() + "://" + c.Addr()
}

// Set assigns the setting named key from its string form.
func (c *Connection) Set(key, value string) error {
	switch key {
	case KeyServerAddress:
		c.ServerAddress = strings.TrimSpace(value)
	case KeyPort:
		port, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: invalid port %q", ErrConfiguration, value)
		}
		c.Port = port
	case KeyEnableSSL:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: invalid %s value %q", ErrConfiguration, key, value)
		}
		c.UseTLS = b
	case KeyUsername:
		c.Username = value
	case KeyPassword:
		c.Password = value
	case KeySecretKey:
		c.Secret = value
	case KeyTopic:
		c.Topic = strings.TrimSpace(value)
	case KeyCAFile:
		c.CAFile = strings.TrimSpace(value)
	case KeyInsecureSkipVerify:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: invalid %s value %q", ErrConfiguration, key, value)
		}
		c.InsecureSkipVerify = b
	default:
		return fmt.Errorf("%w: unknown setting %q", ErrConfiguration, key)
	}
	return nil
}

// Get returns the string form of the setting named key.
func (c *Connection) Get(key string) (string, error) {
	switch key {
	case KeyServerAddress:
		return c.ServerAddress, nil
	case KeyPort:
		return strconv.Itoa(c.Port), nil
	case KeyEnableSSL:
		return strconv.FormatBool(c.UseTLS), nil
	case KeyUsername:
		return c.Username, nil
	case KeyPassword:
		return c.Password, nil
	case KeySecretKey:
		return c.Secret, nil
	case KeyTopic:
		return c.Topic, nil
	case KeyCAFile:
		return c.CAFile, nil
	case KeyInsecureSkipVerify:
		return strconv.FormatBool(c.InsecureSkipVerify), nil
	default:
		return "", fmt.Errorf("%w: unknown setting %q", ErrConfiguration, key)
	}
}

// String returns the connection with the password and secret redacted.
func (c Connection) String() string {
	return fmt.Sprintf(
		"Connection{URL: %s, Username: %s, Password: %s, Topic: %s, Secret: %s}",
		c.URL(), c.Username, redact(c.Password), c.Topic, redact(c.Secret),
	)
}

func redact(s string) string {
	if s == "" {
		return "[not set]"
	}
	return "[hidden]"
}
