// Package main - flags.go maps daemon flags onto broker settings.
//
// Broker flags are only applied when given explicitly, so a value stored
// with "pearlsync settings set" is not masked by a flag default. Given
// flags are recorded as overrides and win over the settings store.
package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/pearlsync/pkg/config"
)

type flagKind int

const (
	stringFlag flagKind = iota
	intFlag
	boolFlag
)

// brokerFlag binds a command-line flag to a connection setting key.
type brokerFlag struct {
	name  string
	key   string
	kind  flagKind
	usage string
}

var brokerFlags = []brokerFlag{
	{"server", config.KeyServerAddress, stringFlag, "Broker host name"},
	{"port", config.KeyPort, intFlag, "Broker port (default 8883)"},
	{"tls", config.KeyEnableSSL, boolFlag, "Connect with TLS (default true)"},
	{"username", config.KeyUsername, stringFlag, "Broker user name"},
	{"password", config.KeyPassword, stringFlag, "Broker password"},
	{"topic", config.KeyTopic, stringFlag, "Topic shared by all devices (default \"clipboard\")"},
	{"secret", config.KeySecretKey, stringFlag, "Shared secret used to derive the encryption key"},
	{"ca-file", config.KeyCAFile, stringFlag, "PEM bundle used to verify the broker certificate"},
	{"insecure-skip-verify", config.KeyInsecureSkipVerify, boolFlag, "Skip broker certificate verification"},
}

// addBrokerFlags registers the broker flags on cmd.
func addBrokerFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	for _, f := range brokerFlags {
		switch f.kind {
		case intFlag:
			fs.Int(f.name, 0, f.usage)
		case boolFlag:
			fs.Bool(f.name, false, f.usage)
		default:
			fs.String(f.name, "", f.usage)
		}
	}
}

// applyBrokerFlags records every broker flag given on the command line as
// an override in cfg.
func applyBrokerFlags(cmd *cobra.Command, cfg *config.Config) error {
	fs := cmd.Flags()
	for _, f := range brokerFlags {
		if !fs.Changed(f.name) {
			continue
		}
		value := fs.Lookup(f.name).Value.String()
		if err := cfg.Override(f.key, value); err != nil {
			return fmt.Errorf("--%s: %w", f.name, err)
		}
	}
	return nil
}

// validateAddress performs basic validation on listen addresses.
func validateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("empty address")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("address should be in format host:port or :port")
	}
	if strings.ContainsAny(host, " /") {
		return fmt.Errorf("invalid host %q", host)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}

	return nil
}
