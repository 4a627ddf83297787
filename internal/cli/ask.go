package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chatmux/internal/providers"
)

var (
	askProvider     string
	askModel        string
	askSearch       bool
	askThink        bool
	askConversation string
)

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send one message and print the answer",
	Long: `Send a message to the selected provider and print the answer. The
exchange is stored like any other conversation.

Provider and model flags apply to this call only; use "chatmux settings set"
to change the saved selection.

Examples:
  chatmux ask "What is a goroutine?"
  chatmux ask --provider ollama --model qwen3:14b "hello"
  chatmux ask --search "latest Go release"
  chatmux ask --conversation 1718000000000 "and then?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askProvider, "provider", "p", "", "provider for this call (qwen, deepseek, kimi, ollama)")
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "model for this call")
	askCmd.Flags().BoolVarP(&askSearch, "search", "s", false, "ask the provider to search the web")
	askCmd.Flags().BoolVarP(&askThink, "think", "t", false, "show the thinking sequence first")
	askCmd.Flags().StringVarP(&askConversation, "conversation", "c", "", "continue a stored conversation")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	if askProvider != "" {
		id, err := providers.ParseProviderID(askProvider)
		if err != nil {
			return err
		}
		app.Dispatcher.SelectProvider(id)
	}
	if askModel != "" {
		app.Dispatcher.SetModel(askModel)
	}
	if askConversation != "" {
		if _, err := app.Chat.Open(ctx, askConversation); err != nil {
			return fmt.Errorf("open conversation %s: %w", askConversation, err)
		}
	}

	app.Chat.EnableWebSearch(askSearch)
	app.Chat.EnableThinking(askThink)

	reply, err := app.Chat.Submit(ctx, strings.Join(args, " "), func(step string) {
		fmt.Fprintln(errOut, step)
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out, reply.Content)
	fmt.Fprintf(errOut, "\n(conversation %s)\n", app.Chat.Current().ID)
	return nil
}
