package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/codeloom-ai/codeloom/internal/provider"
)

var modelsVerbose bool

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List available models",
	Long: `List all models from configured providers.

Examples:
  codeloom models              # List all models
  codeloom models anthropic    # List only Anthropic models
  codeloom models --verbose    # Include pricing`,
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().BoolVarP(&modelsVerbose, "verbose", "v", false, "Include metadata like costs")
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	registry, err := provider.InitializeProviders(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}

	models := registry.AllModels()
	if len(args) > 0 {
		adapter, err := registry.Get(args[0])
		if err != nil {
			return err
		}
		models = adapter.Models()
	}

	if len(models) == 0 {
		fmt.Println("No models available. Configure a provider API key first.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if modelsVerbose {
		fmt.Fprintln(w, "MODEL\tPROVIDER\tCONTEXT\tMAX OUTPUT\tIN $/M\tOUT $/M")
		for _, m := range models {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.2f\t%.2f\n",
				m.ID, m.ProviderID, m.ContextLength, m.MaxOutputTokens, m.InputPrice, m.OutputPrice)
		}
	} else {
		fmt.Fprintln(w, "MODEL\tPROVIDER")
		for _, m := range models {
			fmt.Fprintf(w, "%s\t%s\n", m.ID, m.ProviderID)
		}
	}
	return w.Flush()
}
