package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ignite/convoflow/internal/intent"
	"github.com/ignite/convoflow/internal/orchestrator"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [message]",
	Short: "Classify a message and detect conversion signals offline",
	Long: `Runs the keyword intent rules and the conversion signal detector on a
message without calling any model provider. With --goal the argument is read
as a campaign goal and matched to a campaign category instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

var classifyGoal bool

func init() {
	classifyCmd.Flags().BoolVar(&classifyGoal, "goal", false, "Treat the argument as a campaign goal")
}

func runClassify(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	var out any
	if classifyGoal {
		out = orchestrator.MatchGoal(text)
	} else {
		out = map[string]any{
			"intent": intent.Classify(text),
			"signal": orchestrator.DetectConversionSignal(text),
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	return nil
}
