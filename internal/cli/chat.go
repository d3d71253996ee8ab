package cli

import (
	"errors"
	"os"

	"github.com/raphaelgruber/threadchat/internal/session"
	"github.com/raphaelgruber/threadchat/internal/tui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var errNotTerminal = errors.New("chat needs an interactive terminal; use 'threadchat ask' instead")

var chatThread string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the terminal chat",
	Long: `Open the terminal chat with a sidebar of threads.

Keys:
  enter     send the message
  tab       move between input and thread list
  ctrl+n    start a new thread
  pgup/dn   scroll the transcript
  esc       quit

Examples:
  threadchat chat
  threadchat chat --thread 7f9c...`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatThread, "thread", "", "resume this thread")
}

func runChat(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return errNotTerminal
	}

	ctx := cmd.Context()
	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	ui := tui.NewUI()
	sess := session.New(a.Store, a.Engine, ui,
		session.WithLogger(logger),
		session.WithMetrics(a.Metrics),
		session.WithTitleLen(cfg.TitleMaxLen),
	)
	return tui.Run(ctx, sess, ui, chatThread)
}
