// Package config loads and validates node settings.
package config

import (
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/dedis/dissent/crypto"
	"github.com/dedis/dissent/identity"
	"github.com/dedis/dissent/identity/auth"
)

// Round type names accepted in the round_type option.
const (
	RoundTypeNull     = "null"
	RoundTypeTolerant = "tolerant"
)

// Settings is the node configuration.
type Settings struct {
	RemoteEndpoints   []string `mapstructure:"remote_endpoints"`
	LocalEndpoints    []string `mapstructure:"local_endpoints"`
	LocalNodes        int      `mapstructure:"local_nodes"`
	Auth              string   `mapstructure:"auth"`
	RoundType         string   `mapstructure:"round_type"`
	Log               string   `mapstructure:"log"`
	LocalId           string   `mapstructure:"local_id"`
	ServerIds         []string `mapstructure:"server_ids"`
	PathToPrivateKeys string   `mapstructure:"path_to_private_keys"`
	PathToPublicKeys  string   `mapstructure:"path_to_public_keys"`
	SubgroupPolicy    string   `mapstructure:"subgroup_policy"`
}

// Defaults returns the settings used when a key is absent.
func Defaults() Settings {
	return Settings{
		LocalNodes:     1,
		Auth:           auth.NameNull,
		RoundType:      RoundTypeNull,
		SubgroupPolicy: identity.CompleteGroup.String(),
	}
}

// Load reads settings from the file at path.
func Load(path string) (Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := Defaults()
	v.SetDefault("local_nodes", defaults.LocalNodes)
	v.SetDefault("auth", defaults.Auth)
	v.SetDefault("round_type", defaults.RoundType)
	v.SetDefault("subgroup_policy", defaults.SubgroupPolicy)

	if err := v.ReadInConfig(); err != nil {
		return Settings{}, errors.Wrap(err, "cannot read configuration")
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, errors.Wrap(err, "cannot decode configuration")
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate aggregates every configuration fault.
func (s Settings) Validate() error {
	var result *multierror.Error

	if s.LocalNodes < 1 {
		result = multierror.Append(result, errors.Errorf("local_nodes must be >= 1, got %d", s.LocalNodes))
	}

	switch s.Auth {
	case auth.NameNull, auth.NameTwoPhaseNull, auth.NameLRS, auth.NamePreExchangedKey:
	default:
		result = multierror.Append(result, errors.Errorf("unknown auth scheme %q", s.Auth))
	}

	switch s.RoundType {
	case RoundTypeNull, RoundTypeTolerant:
	default:
		result = multierror.Append(result, errors.Errorf("unknown round type %q", s.RoundType))
	}

	if _, err := identity.ParseSubgroupPolicy(s.SubgroupPolicy); err != nil {
		result = multierror.Append(result, err)
	}

	if s.LocalId != "" {
		if _, err := crypto.IdFromString(s.LocalId); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "local_id"))
		}
	}
	for _, sid := range s.ServerIds {
		if _, err := crypto.IdFromString(sid); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "server_ids entry %q", sid))
		}
	}

	if s.PathToPrivateKeys != "" {
		if _, err := os.Stat(s.PathToPrivateKeys); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "path_to_private_keys"))
		}
	}
	if s.PathToPublicKeys != "" {
		if _, err := os.Stat(s.PathToPublicKeys); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "path_to_public_keys"))
		}
	}

	return result.ErrorOrNil()
}

// ApplyLog routes the shared logger to the configured sink: "stderr",
// "stdout", the empty string for the default, or a file path.
func (s Settings) ApplyLog() error {
	switch s.Log {
	case "", "stderr", "stdout":
		// go-log writes to stderr by default; stdout selection rides the
		// environment the logging library reads at setup
		if s.Log == "stdout" {
			os.Setenv("GOLOG_OUTPUT", "stdout")
		}
	default:
		os.Setenv("GOLOG_FILE", s.Log)
		os.Setenv("GOLOG_OUTPUT", "file")
	}
	return nil
}
