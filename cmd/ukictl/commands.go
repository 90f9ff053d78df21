package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"uki-gateway/internal/chat"
	"uki-gateway/internal/client"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

type rootOptions struct {
	server  string
	timeout time.Duration
}

func (o *rootOptions) client() *client.Client {
	return client.New(o.server, o.timeout)
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:     "ukictl",
		Short:   "Talk to a running uki gateway",
		Version: version,
		Long: `A command-line client for the uki gateway. Sends chat messages and
prints the streamed reply, or turns text into speech and saves the mp3.`,
		Example: `  # Check the gateway is up
  $ ukictl health

  # One message, streamed to the terminal
  $ ukictl chat "今天天气怎么样"

  # Interactive conversation, history kept for the session
  $ ukictl chat

  # Save speech to a file
  $ ukictl say "早上好" -o morning.mp3`,
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&opts.server, "server", "s", envOr("UKI_SERVER", "http://localhost:8000"), "gateway base URL")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall request timeout")

	rootCmd.AddCommand(newChatCmd(opts))
	rootCmd.AddCommand(newSayCmd(opts))
	rootCmd.AddCommand(newHealthCmd(opts))

	return rootCmd
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var emoji bool

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "send a message and stream the reply",
		Long: `Send a message to uki and print the reply as it streams in.

Without a message, reads one message per line from stdin and keeps the
conversation history until EOF.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			out := cmd.OutOrStdout()

			send := func(message string, history []chat.Message) (string, error) {
				reply, err := c.ChatStream(cmd.Context(), message, history, emoji, func(chunk string) {
					fmt.Fprint(out, chunk)
				})
				fmt.Fprintln(out)
				return reply, err
			}

			if len(args) > 0 {
				_, err := send(strings.Join(args, " "), nil)
				return err
			}

			var history []chat.Message
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				message := strings.TrimSpace(scanner.Text())
				if message == "" {
					continue
				}
				reply, err := send(message, history)
				if err != nil {
					return err
				}
				history = append(history,
					chat.Message{Role: chat.RoleUser, Content: message},
					chat.Message{Role: chat.RoleAssistant, Content: reply},
				)
			}
			return scanner.Err()
		},
	}

	cmd.Flags().BoolVar(&emoji, "emoji", false, "let uki end replies with an emoji tag")
	return cmd
}

func newSayCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "say <text>",
		Short: "synthesize speech and save it as mp3",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			audio, err := opts.client().Speak(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, audio, 0o644); err != nil {
				return fmt.Errorf("could not write audio: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d bytes to %s\n", len(audio), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "speech.mp3", "file to write the audio to")
	return cmd
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "check that the gateway is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := opts.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s\n", msg)
			return nil
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
