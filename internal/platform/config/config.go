// Copyright (c) 2026 Gatehouse. All rights reserved.

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components (DB, Redis, OAuth clients) via constructors.
  - Zero Hidden State: No global variables are used to store config.

A missing provider credential is a startup-time fatal configuration error,
never a per-request one.
*/
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// # Configuration Schema

// OAuthProvider holds the registered client credentials for one identity provider.
type OAuthProvider struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Config holds all runtime configuration for the Gatehouse SSO server.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// Relational Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// MigrationPath is the filesystem path to the SQL migrations directory.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`

	// Key-Value Store (Redis) — volatile CSRF state stash
	RedisURL string `env:"REDIS_URL,required"`

	// Microsoft 365 OAuth2 application registration
	MicrosoftClientID     string `env:"MICROSOFT_CLIENT_ID,required"`
	MicrosoftClientSecret string `env:"MICROSOFT_CLIENT_SECRET,required"`
	MicrosoftRedirectURI  string `env:"MICROSOFT_REDIRECT_URI,required"`

	// GitHub OAuth2 application registration
	GitHubClientID     string `env:"GITHUB_CLIENT_ID,required"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET,required"`
	GitHubRedirectURI  string `env:"GITHUB_REDIRECT_URI,required"`

	// Cross-Origin Resource Sharing
	ExtraOrigins string `env:"EXTRA_ORIGINS"`
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct.
func Load() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// Use the 'env' package to map environment variables to struct fields.
	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	return cfg, nil
}

// Microsoft returns the Microsoft 365 provider registration.
func (c *Config) Microsoft() OAuthProvider {
	return OAuthProvider{
		ClientID:     c.MicrosoftClientID,
		ClientSecret: c.MicrosoftClientSecret,
		RedirectURI:  c.MicrosoftRedirectURI,
	}
}

// GitHub returns the GitHub provider registration.
func (c *Config) GitHub() OAuthProvider {
	return OAuthProvider{
		ClientID:     c.GitHubClientID,
		ClientSecret: c.GitHubClientSecret,
		RedirectURI:  c.GitHubRedirectURI,
	}
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
