package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/raphaelgruber/threadchat/internal/llm"
	"github.com/raphaelgruber/threadchat/internal/models"
	"github.com/raphaelgruber/threadchat/internal/session"
	"github.com/spf13/cobra"
)

var (
	askThread string
	askServer string
	askRemote bool
	askRender bool
)

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send one message and print the streamed reply",
	Long: `Send one message to a thread and stream the assistant's reply to stdout.

Without --thread a new thread is started. The thread id is printed to stderr
so the conversation can be continued. Threads only outlive the process with
the sqlite or surrealdb store, or when talking to a server.

Examples:
  threadchat ask "What is the capital of France?"
  threadchat ask --thread 7f9c... "And of Italy?"
  threadchat ask --remote "Hello"
  threadchat ask --server http://chat.local:8484 --render "Show me a table"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askThread, "thread", "t", "", "continue this thread")
	askCmd.Flags().StringVar(&askServer, "server", "", "send through a threadchat server at this URL")
	askCmd.Flags().BoolVar(&askRemote, "remote", false, "send through the configured threadchat server")
	askCmd.Flags().BoolVarP(&askRender, "render", "r", false, "render the reply as Markdown once complete")
}

func runAsk(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	ctx := cmd.Context()
	ui := newStreamUI(cmd.OutOrStdout(), askRender)

	var reply models.Message
	var err error
	if askRemote || askServer != "" {
		reply, err = serverClient(askServer).Ask(ctx, askThread, text, ui.write)
	} else {
		reply, err = askLocal(cmd, text, ui)
	}
	if err != nil {
		if errors.Is(err, llm.ErrFatalAPI) {
			return fmt.Errorf("%w (check your provider credentials)", err)
		}
		return err
	}

	if err := ui.finish(reply.Content); err != nil {
		return err
	}
	color.New(color.FgHiBlack).Fprintf(cmd.ErrOrStderr(), "thread %s\n", reply.ThreadID)
	return nil
}

func askLocal(cmd *cobra.Command, text string, ui *streamUI) (models.Message, error) {
	ctx := cmd.Context()
	a, err := getApp(ctx)
	if err != nil {
		return models.Message{}, err
	}

	sess := session.New(a.Store, a.Engine, ui,
		session.WithLogger(logger),
		session.WithMetrics(a.Metrics),
		session.WithTitleLen(cfg.TitleMaxLen),
	)
	if err := sess.Start(ctx, askThread); err != nil {
		return models.Message{}, err
	}
	return sess.Send(ctx, text)
}
