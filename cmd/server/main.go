package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Tyrowin/wsecho/internal/logging"
	"github.com/Tyrowin/wsecho/internal/server"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "echo-server:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:           "echo-server",
		Short:         "Run the WebSocket echo server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return errors.Wrap(v.BindPFlags(cmd.Flags()), "bind flags")
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, configFile)
			if err != nil {
				return err
			}

			logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return server.New(cfg, server.WithLogger(logger)).ListenAndServe(ctx)
		},
	}

	d := server.DefaultConfig()
	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "Config file (yaml, toml or json)")
	flags.String(server.KeyHost, d.Host, "Host to listen on")
	flags.IntP(server.KeyPort, "p", d.Port, "Port to listen on")
	flags.StringSlice(server.KeyAllowedOrigins, d.AllowedOrigins, "Allowed Origin headers, * for any")
	flags.Int64(server.KeyMaxMessageSize, d.MaxMessageSize, "Maximum incoming message size in bytes, 0 for no limit")
	flags.Duration(server.KeyPingInterval, d.Keepalive.PingInterval, "Keepalive ping interval, 0 to disable")
	flags.Duration(server.KeyPongTimeout, d.Keepalive.PongTimeout, "Time to wait for a pong before dropping the connection")
	flags.Duration(server.KeyWriteTimeout, d.WriteTimeout, "Deadline for each outgoing frame")
	flags.Duration(server.KeyShutdownTimeout, d.ShutdownTimeout, "Time to wait for connections to close on shutdown")
	flags.String(server.KeyLogLevel, d.LogLevel, "Log level (trace, debug, info, warn, error)")
	flags.String(server.KeyLogFormat, d.LogFormat, "Log format (console, json)")

	server.SetDefaults(v)
	server.BindEnv(v)

	return cmd
}

// loadConfig layers .env, the optional config file, ECHO_* variables and
// flags, in increasing order of precedence.
func loadConfig(v *viper.Viper, configFile string) (server.Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return server.Config{}, errors.Wrap(err, "load .env")
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return server.Config{}, errors.Wrapf(err, "read config %s", configFile)
		}
	}

	return server.LoadConfig(v)
}
