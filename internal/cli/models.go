package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"chatmux/internal/providers"
)

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List the models each provider accepts",
	Long: `List the declared models per provider. The first model of each list is
the one used when the selected model is not declared for the provider.

Examples:
  chatmux models
  chatmux models ollama`,
	Args: cobra.MaximumNArgs(1),
	RunE: runModels,
}

func runModels(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ids := providers.All
	if len(args) == 1 {
		id, err := providers.ParseProviderID(args[0])
		if err != nil {
			return err
		}
		ids = []providers.ProviderID{id}
	}

	selected := app.Dispatcher.Snapshot()
	for _, id := range ids {
		mark := ""
		if id == selected.Provider {
			mark = " [selected]"
		}
		fmt.Fprintf(out, "%s (%s)%s\n", id.DisplayName(), id, mark)
		for i, m := range app.Dispatcher.ListSupportedModels(id) {
			suffix := ""
			if i == 0 {
				suffix = " (default)"
			}
			if id == selected.Provider && m == selected.Model {
				suffix += " *"
			}
			fmt.Fprintf(out, "  - %s%s\n", m, suffix)
		}
	}
	return nil
}
