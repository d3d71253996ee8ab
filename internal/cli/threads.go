package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/raphaelgruber/threadchat/internal/export"
	"github.com/raphaelgruber/threadchat/internal/models"
	"github.com/spf13/cobra"
)

const listTitleWidth = 48

var errNoIndex = errors.New("the configured store keeps no thread index")

var (
	threadsServer string
	threadsRemote bool

	showRaw bool

	exportFormat string
	exportOutput string
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List, show and export threads",
	Long: `Inspect stored threads.

Reads the configured store directly, or a threadchat server with --remote
or --server.`,
}

var threadsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List threads, newest first",
	Args:    cobra.NoArgs,
	RunE:    runThreadsList,
}

var threadsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a thread's transcript",
	Long: `Print a thread's transcript as Markdown. On a terminal the Markdown is
rendered unless --raw is given.

Examples:
  threadchat threads show 7f9c...
  threadchat threads show 7f9c... --raw > chat.md`,
	Args: cobra.ExactArgs(1),
	RunE: runThreadsShow,
}

var threadsExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a thread to Markdown, JSON or HTML",
	Long: `Export a thread with all its messages.

Examples:
  threadchat threads export 7f9c...
  threadchat threads export 7f9c... --format json
  threadchat threads export 7f9c... --format html -o chat.html`,
	Args: cobra.ExactArgs(1),
	RunE: runThreadsExport,
}

func init() {
	threadsCmd.PersistentFlags().StringVar(&threadsServer, "server", "", "read from a threadchat server at this URL")
	threadsCmd.PersistentFlags().BoolVar(&threadsRemote, "remote", false, "read from the configured threadchat server")

	threadsShowCmd.Flags().BoolVar(&showRaw, "raw", false, "print Markdown source")

	threadsExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "md", "output format: md, json or html")
	threadsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")

	threadsCmd.AddCommand(threadsListCmd)
	threadsCmd.AddCommand(threadsShowCmd)
	threadsCmd.AddCommand(threadsExportCmd)
}

func remoteThreads() bool {
	return threadsRemote || threadsServer != ""
}

func runThreadsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var threads []models.Thread
	if remoteThreads() {
		var err error
		threads, err = serverClient(threadsServer).ListThreads(ctx)
		if err != nil {
			return fmt.Errorf("list threads: %w", err)
		}
	} else {
		a, err := getApp(ctx)
		if err != nil {
			return err
		}
		idx := a.Index()
		if idx == nil {
			return errNoIndex
		}
		threads, err = idx.ListThreads(ctx)
		if err != nil {
			return fmt.Errorf("list threads: %w", err)
		}
	}

	printThreads(cmd.OutOrStdout(), threads)
	return nil
}

func printThreads(w io.Writer, threads []models.Thread) {
	if len(threads) == 0 {
		fmt.Fprintln(w, "No threads yet.")
		return
	}

	idColor := color.New(color.FgCyan)
	for _, t := range threads {
		idColor.Fprintf(w, "%-36s", t.ID)
		fmt.Fprintf(w, "  %s  %s\n",
			runewidth.FillRight(runewidth.Truncate(t.Title, listTitleWidth, "…"), listTitleWidth),
			t.UpdatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	fmt.Fprintf(w, "\n%d thread(s)\n", len(threads))
}

// loadThread returns a thread and its messages from the server or the store.
func loadThread(ctx context.Context, id string) (models.Thread, []models.Message, error) {
	if remoteThreads() {
		doc, err := serverClient(threadsServer).GetThread(ctx, id)
		if err != nil {
			return models.Thread{}, nil, err
		}
		return doc.Thread, doc.Messages, nil
	}

	a, err := getApp(ctx)
	if err != nil {
		return models.Thread{}, nil, err
	}
	idx := a.Index()
	if idx == nil {
		return models.Thread{}, nil, errNoIndex
	}

	thread, err := idx.GetThread(ctx, id)
	if err != nil {
		return models.Thread{}, nil, err
	}
	msgs, err := a.Store.Load(ctx, id)
	if err != nil {
		return models.Thread{}, nil, fmt.Errorf("load history: %w", err)
	}
	return thread, msgs, nil
}

func runThreadsShow(cmd *cobra.Command, args []string) error {
	thread, msgs, err := loadThread(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := export.Markdown(thread, msgs)
	if !showRaw && isTerminal() {
		if rendered, err := renderMarkdown(out, terminalWidth()); err == nil {
			out = rendered
		}
	}
	_, err = io.WriteString(cmd.OutOrStdout(), out)
	return err
}

func runThreadsExport(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if remoteThreads() {
		data, err := serverClient(threadsServer).ExportThread(cmd.Context(), args[0], format)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	thread, msgs, err := loadThread(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := export.Write(w, format, thread, msgs); err != nil {
		return fmt.Errorf("export thread: %w", err)
	}
	if exportOutput != "" {
		color.New(color.FgGreen).Fprintf(cmd.ErrOrStderr(), "Exported %d message(s) to %s\n", len(msgs), exportOutput)
	}
	return nil
}
