package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"chatmux/internal/conversations"
)

var (
	convSearch       string
	convExportFormat string
	convExportOut    string
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "List, show, rename, delete or export stored conversations",
	Long: `Manage the stored conversation history.

Subcommands:
  list     List conversations, most recent first (default)
  show     Print every message of a conversation
  rename   Give a conversation a new title
  delete   Remove a conversation
  export   Write a conversation as Markdown or plain text

Examples:
  chatmux conversations
  chatmux conversations list --search go
  chatmux conversations show 1718000000000
  chatmux conversations export 1718000000000 --format text --out ./exports`,
	RunE: runConversationsList,
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	Args:  cobra.NoArgs,
	RunE:  runConversationsList,
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsShow,
}

var conversationsRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Rename a conversation",
	Args:  cobra.ExactArgs(2),
	RunE:  runConversationsRename,
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsDelete,
}

var conversationsExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a conversation to a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsExport,
}

func init() {
	conversationsCmd.Flags().StringVarP(&convSearch, "search", "s", "", "only titles containing this text")
	conversationsListCmd.Flags().StringVarP(&convSearch, "search", "s", "", "only titles containing this text")
	conversationsExportCmd.Flags().StringVarP(&convExportFormat, "format", "f", "markdown", "markdown, text or pdf")
	conversationsExportCmd.Flags().StringVarP(&convExportOut, "out", "o", ".", "directory to write the file to")

	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsRenameCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)
	conversationsCmd.AddCommand(conversationsExportCmd)
}

func runConversationsList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	records, err := app.Conversations.Search(cmd.Context(), convSearch)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No conversations found.")
		return nil
	}

	fmt.Fprintf(out, "Conversations (%d):\n\n", len(records))
	for _, r := range records {
		fmt.Fprintf(out, "- %s  %s  (%d messages, %s)\n", r.ID, r.Title, len(r.Messages), r.LastModified.Local().Format(time.DateTime))
	}
	return nil
}

func runConversationsShow(cmd *cobra.Command, args []string) error {
	rec, ok, err := app.Conversations.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", conversations.ErrNotFound, args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), conversations.RenderText(rec))
	return nil
}

func runConversationsRename(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if _, ok, err := app.Conversations.Get(ctx, args[0]); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s", conversations.ErrNotFound, args[0])
	}
	rec, err := app.Conversations.Rename(ctx, args[0], args[1], nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", rec.ID, rec.Title)
	return nil
}

func runConversationsDelete(cmd *cobra.Command, args []string) error {
	removed, err := app.Chat.Delete(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: %s", conversations.ErrNotFound, args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}

func runConversationsExport(cmd *cobra.Command, args []string) error {
	format, err := conversations.ParseFormat(convExportFormat)
	if err != nil {
		return err
	}
	exp, err := app.Conversations.Export(cmd.Context(), args[0], format)
	if errors.Is(err, conversations.ErrNotImplemented) {
		return fmt.Errorf("%s export is not available yet", format)
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(convExportOut, 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	path := filepath.Join(convExportOut, exp.Filename)
	if err := os.WriteFile(path, []byte(exp.Body), 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", path)
	return nil
}
