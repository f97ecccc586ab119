package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codeloom-ai/codeloom/internal/engine"
	"github.com/codeloom-ai/codeloom/internal/event"
	"github.com/codeloom-ai/codeloom/internal/provider"
	"github.com/codeloom-ai/codeloom/internal/session"
	"github.com/codeloom-ai/codeloom/pkg/types"
)

var (
	runModel  string
	runSystem string
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Send one prompt and stream the response",
	Long: `Send a single prompt through the engine and stream the model's
response to stdout.

Examples:
  codeloom run "explain this error"
  codeloom run -m anthropic/claude-sonnet-4-20250514 "refactor plan"`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model in provider/model form")
	runCmd.Flags().StringVarP(&runSystem, "system", "s", "", "System prompt")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	registry, err := provider.InitializeProviders(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}

	modelRef := runModel
	if modelRef == "" {
		modelRef = cfg.Model
	}

	opts := types.Options{}
	if modelRef != "" {
		opts.Provider, opts.Model = provider.ParseModelString(modelRef)
	}

	bus := event.NewBus()
	defer bus.Close()

	eng := engine.New(registry, cfg.Engine, bus)
	defer eng.CancelAll()

	sess, err := session.New(eng, nil, opts, cfg.Engine.MaxIterations, bus)
	if err != nil {
		return err
	}
	if runSystem != "" {
		sess.SetSystemPrompt(runSystem)
	}

	done := make(chan error, 1)
	sess.Send(context.Background(), args[0],
		func(delta string) {
			fmt.Print(delta)
		},
		func(text string, err error) {
			fmt.Println()
			done <- err
		},
	)

	if err := <-done; err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
