package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MegaGrindStone/chatstream/internal/api"
	"github.com/MegaGrindStone/chatstream/internal/chat"
	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/MegaGrindStone/chatstream/internal/store"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	envFile    string
	baseURL    string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "chat",
		Short: "Terminal client for the chat service",
		Long: `chat talks to a chat service: it manages conversations and streams
assistant replies to the terminal as they are generated.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath(), "config file path")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "env file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "url", "", "chat service URL, overrides config and "+baseURLEnv)
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		newListCmd(opts),
		newNewCmd(opts),
		newRemoveCmd(opts),
		newShowCmd(opts),
		newSendCmd(opts),
	)
	return rootCmd
}

// newSession builds a session from the layered configuration.
func (o *rootOptions) newSession(cmd *cobra.Command) (*chat.Session, error) {
	cfg, err := loadConfig(o.configPath, o.envFile)
	if err != nil {
		return nil, err
	}
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}

	level, err := cfg.logLevel()
	if err != nil {
		return nil, err
	}
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	client := api.NewClient(cfg.BaseURL, api.NewHTTPClient(), logger)
	return chat.NewSession(client, store.New(), cfg.sessionOptions(), logger), nil
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List conversations, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := opts.newSession(cmd)
			if err != nil {
				return err
			}
			if err := sess.FetchChats(cmd.Context()); err != nil {
				return errors.New(sess.Store().Flags().Error)
			}
			printChats(cmd.OutOrStdout(), sess.Store().Chats())
			return nil
		},
	}
}

func newNewCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "new [title]",
		Short: "Create a conversation and print its ID",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := opts.newSession(cmd)
			if err != nil {
				return err
			}
			var title string
			if len(args) == 1 {
				title = args[0]
			}
			c, err := sess.CreateChat(cmd.Context(), title)
			if err != nil {
				return errors.New(sess.Store().Flags().Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.ID)
			return nil
		},
	}
}

func newRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <chat-id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := opts.newSession(cmd)
			if err != nil {
				return err
			}
			if err := sess.DeleteChat(cmd.Context(), args[0]); err != nil {
				return errors.New(sess.Store().Flags().Error)
			}
			return nil
		},
	}
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <chat-id>",
		Short: "Print the transcript of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := opts.newSession(cmd)
			if err != nil {
				return err
			}
			if err := sess.FetchChat(cmd.Context(), args[0]); err != nil {
				return errors.New(sess.Store().Flags().Error)
			}
			current, _ := sess.Store().Current()
			printTranscript(cmd.OutOrStdout(), current, sess.Store().Messages())
			return nil
		},
	}
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	var newChat bool

	cmd := &cobra.Command{
		Use:   "send [chat-id] <message>",
		Short: "Send a message and stream the reply",
		Long: `send appends a message to a conversation and prints the assistant reply
while it streams. With --new the message starts a new conversation, whose
ID is printed first.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if newChat {
				return cobra.MinimumNArgs(1)(cmd, args)
			}
			return cobra.MinimumNArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := opts.newSession(cmd)
			if err != nil {
				return err
			}

			var chatID string
			if newChat {
				c, err := sess.CreateChat(cmd.Context(), "")
				if err != nil {
					return errors.New(sess.Store().Flags().Error)
				}
				chatID = c.ID
				fmt.Fprintln(cmd.OutOrStdout(), chatID)
			} else {
				chatID, args = args[0], args[1:]
			}

			content := strings.Join(args, " ")
			if strings.TrimSpace(content) == "" {
				return errors.New("message is empty")
			}

			printer := &replyPrinter{w: cmd.OutOrStdout()}
			unsubscribe := sess.Store().Subscribe(printer.observe)
			var outcome models.Flags
			unwatch := sess.Store().Subscribe(func(s store.Snapshot) {
				if s.Flags.Phase == models.PhaseCompleted || s.Flags.Phase == models.PhaseFailed {
					outcome = s.Flags
				}
			})

			sess.Send(cmd.Context(), chatID, content)

			unwatch()
			unsubscribe()
			printer.finish()

			if outcome.Phase == models.PhaseFailed {
				return errors.New(outcome.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&newChat, "new", "n", false, "start a new conversation")
	return cmd
}
