package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/wsecho/internal/logging"
	"github.com/Tyrowin/wsecho/internal/relay"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "echo-client:", err)
		os.Exit(1)
	}
}

type clientSettings struct {
	url       string
	origin    string
	timeout   time.Duration
	logLevel  string
	logFormat string
}

func newRootCommand() *cobra.Command {
	s := clientSettings{}

	cmd := &cobra.Command{
		Use:           "echo-client [message...]",
		Short:         "Send messages to the echo server and print its replies",
		Long:          "Sends each argument as one message. Without arguments, every line read from stdin is sent.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(s.logLevel, s.logFormat, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var opts []relay.Option
			if s.origin != "" {
				opts = append(opts, relay.WithOrigin(s.origin))
			}
			client, err := relay.Dial(ctx, s.url, opts...)
			if err != nil {
				return err
			}
			defer func() {
				if err := client.Close(); err != nil {
					logger.Debug().Err(err).Msg("error closing connection")
				}
			}()
			logger.Debug().Str("url", s.url).Msg("connected")

			lines := args
			if len(lines) == 0 {
				lines, err = readLines(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}
			return sendAll(ctx, client, lines, s.timeout, cmd.OutOrStdout(), logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&s.url, "url", "u", relay.DefaultURL, "Echo server address")
	flags.StringVar(&s.origin, "origin", "", "Origin header to send during the handshake")
	flags.DurationVarP(&s.timeout, "timeout", "t", 5*time.Second, "Time to wait for each reply")
	flags.StringVar(&s.logLevel, "log-level", "warn", "Log level")
	flags.StringVar(&s.logFormat, "log-format", logging.FormatConsole, "Log format (console, json)")

	return cmd
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read stdin")
	}
	return lines, nil
}

// sendAll sends every line and prints the reply before sending the next one.
func sendAll(ctx context.Context, client *relay.Client, lines []string, timeout time.Duration, out io.Writer, logger zerolog.Logger) error {
	for _, line := range lines {
		replyCtx, cancel := context.WithTimeout(ctx, timeout)
		reply, err := client.Roundtrip(replyCtx, line)
		cancel()
		if err != nil {
			return errors.Wrapf(err, "message %q", line)
		}
		logger.Debug().Str("sent", line).Msg("reply received")
		if _, err := fmt.Fprintln(out, reply); err != nil {
			return errors.Wrap(err, "write reply")
		}
	}
	return nil
}
