// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the discord-oidc command-line application.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TastyPi/discord-oidc/pkg/authserver"
	servercrypto "github.com/TastyPi/discord-oidc/pkg/authserver/server/crypto"
	"github.com/TastyPi/discord-oidc/pkg/config"
	"github.com/TastyPi/discord-oidc/pkg/logger"
	"github.com/TastyPi/discord-oidc/pkg/versions"
)

// shutdownTimeout bounds how long in-flight requests may take to drain.
const shutdownTimeout = 10 * time.Second

// NewRootCmd creates a new root command for the discord-oidc CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "discord-oidc",
		DisableAutoGenTag: true,
		Short:             "OpenID Connect provider that signs users in with Discord",
		Long: `discord-oidc is an OpenID Connect provider for applications that only speak OIDC.
Users authenticate with their Discord account; relying parties receive an ID token
whose subject is the Discord user id, and can read the user's profile and guild
memberships from the userinfo endpoint.`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
	}

	// Add persistent flags
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	if err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the configuration file (env DISCORD_OIDC_CONFIG)")
	err = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	if err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	// Add subcommands
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newIssueTokenCmd())

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the OIDC provider",
		Long: `Start the OIDC provider.

The configuration file is read from --config, DISCORD_OIDC_CONFIG or
discord-oidc/config.yaml in the XDG config directories. The server
listens on --listen, DISCORD_OIDC_LISTEN or :3000 and drains in-flight requests
for up to 10 seconds on SIGINT or SIGTERM.`,
		RunE: runServe,
	}
	cmd.Flags().String("listen", "", "Address to listen on (env DISCORD_OIDC_LISTEN, default :3000)")
	if err := viper.BindPFlag("listen", cmd.Flags().Lookup("listen")); err != nil {
		logger.Errorf("Error binding listen flag: %v", err)
	}
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Validate the configuration file and print a summary.

Unknown keys, missing required fields, unreadable secret files and
malformed URLs are all reported.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := config.LoadEnv()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(env)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, "Configuration is valid")
			_, _ = fmt.Fprintf(out, "  URL: %s\n", cfg.URL)
			_, _ = fmt.Fprintf(out, "  Clients: %d\n", len(cfg.Clients))
			for _, c := range cfg.Clients {
				_, _ = fmt.Fprintf(out, "    - %s (%d redirect URIs)\n", c.ClientID, len(c.RedirectURIs))
			}
			_, _ = fmt.Fprintf(out, "  Discord application: %s\n", cfg.Discord.ClientID)
			_, _ = fmt.Fprintf(out, "  Storage: %s\n", cfg.Storage.Type)
			if cfg.SigningKeyFile == "" {
				_, _ = fmt.Fprintln(out, "  Signing key: ephemeral")
			} else {
				_, _ = fmt.Fprintf(out, "  Signing key: %s\n", cfg.SigningKeyFile)
			}
			if t := cfg.Telemetry; t.Endpoint != "" {
				_, _ = fmt.Fprintf(out, "  Telemetry: %s (tracing %t, metrics %t)\n", t.Endpoint, t.Tracing(), t.Metrics())
			}
			if cfg.Telemetry.PrometheusMetrics {
				_, _ = fmt.Fprintln(out, "  Prometheus: /metrics")
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			info := versions.GetVersionInfo()
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Version:    %s\n", info.Version)
			_, _ = fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			_, _ = fmt.Fprintf(out, "Built:      %s\n", info.BuildDate)
			_, _ = fmt.Fprintf(out, "Go version: %s\n", info.GoVersion)
			_, _ = fmt.Fprintf(out, "Platform:   %s\n", info.Platform)
		},
	}
}

// defaultConfigPath finds discord-oidc/config.yaml in the XDG config
// directories. It can be replaced in tests.
var defaultConfigPath = func() (string, error) {
	return xdg.SearchConfigFile(filepath.Join("discord-oidc", "config.yaml"))
}

// loadConfig resolves the config path from the flag, the environment or the
// XDG config directories, in that order, and loads it.
func loadConfig(env *config.Env) (*config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		path = env.ConfigPath
	}
	if path == "" {
		found, err := defaultConfigPath()
		if err != nil {
			logger.Debugf("no configuration in XDG config directories: %v", err)
			return nil, errors.New("no configuration file specified, use --config or DISCORD_OIDC_CONFIG")
		}
		path = found
	}

	logger.Debugf("Loading configuration from: %s", path)
	return config.Load(path)
}

func listenAddr(env *config.Env) string {
	if addr := viper.GetString("listen"); addr != "" {
		return addr
	}
	if env.ListenAddr != "" {
		return env.ListenAddr
	}
	return config.DefaultListenAddr
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(env)
	if err != nil {
		return err
	}

	var opts []authserver.Option
	secret, err := servercrypto.LoadHMACSecret(env.HMACSecretFile)
	if err != nil {
		return err
	}
	if secret != nil {
		opts = append(opts, authserver.WithHMACSecret(secret))
	}

	srv, err := authserver.New(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Warnw("failed to close server", "error", err.Error())
		}
	}()

	httpServer := &http.Server{
		Addr:              listenAddr(env),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(ctx, httpServer, srv.Issuer())
}

// serve runs httpServer until ctx is cancelled, then shuts it down gracefully.
func serve(ctx context.Context, httpServer *http.Server, issuer string) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infow("listening", "addr", httpServer.Addr, "issuer", issuer)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
