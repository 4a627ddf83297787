package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"chatmux/internal/providers"
	"chatmux/internal/settings"
)

var (
	setProvider     string
	setAPIKey       string
	setBaseURL      string
	setLocalBaseURL string
	setModel        string
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the saved provider settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings with the API key redacted",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change and save settings",
	Long: `Change one or more settings and save them. Flags that are not given keep
their current value.

Examples:
  chatmux settings set --provider deepseek --api-key sk-...
  chatmux settings set --provider ollama --local-base-url http://gpu-box:11434 --model qwen3:14b`,
	Args: cobra.NoArgs,
	RunE: runSettingsSet,
}

func init() {
	settingsSetCmd.Flags().StringVar(&setProvider, "provider", "", "qwen, deepseek, kimi or ollama")
	settingsSetCmd.Flags().StringVar(&setAPIKey, "api-key", "", "API key for remote providers")
	settingsSetCmd.Flags().StringVar(&setBaseURL, "base-url", "", "endpoint override for remote providers")
	settingsSetCmd.Flags().StringVar(&setLocalBaseURL, "local-base-url", "", "address of the local Ollama service")
	settingsSetCmd.Flags().StringVar(&setModel, "model", "", "model name")

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	printSettings(cmd, settings.FromDispatcher(app.Dispatcher).Redacted())
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	next := settings.FromDispatcher(app.Dispatcher)
	flags := cmd.Flags()

	if flags.Changed("provider") {
		id, err := providers.ParseProviderID(setProvider)
		if err != nil {
			return err
		}
		next.SelectedProvider = id
	}
	if flags.Changed("api-key") {
		next.APIKey = setAPIKey
	}
	if flags.Changed("base-url") {
		next.BaseURL = setBaseURL
	}
	if flags.Changed("local-base-url") {
		next.LocalBaseURL = setLocalBaseURL
	}
	if flags.Changed("model") {
		next.SelectedModel = setModel
	}

	if err := app.Settings.Save(cmd.Context(), next); err != nil {
		return err
	}
	settings.Apply(app.Dispatcher, next)
	printSettings(cmd, next.Redacted())
	return nil
}

func printSettings(cmd *cobra.Command, s settings.Settings) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "provider:       %s\n", s.SelectedProvider)
	fmt.Fprintf(out, "model:          %s\n", s.SelectedModel)
	fmt.Fprintf(out, "api key:        %s\n", s.APIKey)
	fmt.Fprintf(out, "base url:       %s\n", s.BaseURL)
	fmt.Fprintf(out, "local base url: %s\n", s.LocalBaseURL)
}
