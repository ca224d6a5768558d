package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"paklaw.com/paklaw-assist/internal/retrieval"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the offline corpus",
		Long:  "Look a question up in the local corpus without contacting the hosted model.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
	RootCmd.AddCommand(cmd)
}

type askResult struct {
	Question string  `json:"question"`
	Matched  bool    `json:"matched"`
	Topic    string  `json:"topic,omitempty"`
	Score    float64 `json:"score"`
	Answer   string  `json:"answer"`
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	question := strings.Join(args, " ")
	result := askResult{Question: question, Answer: retrieval.NotAvailableMessage}
	if m, ok := a.Responder.Lookup(question); ok {
		result.Matched = true
		result.Topic = m.Entry.Topic
		result.Score = m.Score
		result.Answer = m.Entry.Details
	}

	out := cmd.OutOrStdout()
	if formatFlag == "json" {
		return printJSON(out, result)
	}
	if result.Matched {
		fmt.Fprintf(out, "%s (score %.2f)\n\n", result.Topic, result.Score)
	}
	fmt.Fprintln(out, result.Answer)
	return nil
}
