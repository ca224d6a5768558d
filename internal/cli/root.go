// Package cli implements the paklaw terminal commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"paklaw.com/paklaw-assist/internal/app"
	"paklaw.com/paklaw-assist/internal/config"
	"paklaw.com/paklaw-assist/internal/logging"
)

var (
	corpusFlag string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "paklaw",
	Short:         "Pakistani legal guidance assistant",
	Long:          "Procedural guidance on Pakistani legal and government processes. Answers from a hosted model when online and from a local corpus otherwise.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&corpusFlag, "corpus", "c", "", "Offline corpus file (default: $CORPUS_PATH or data/legal_corpus.csv)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "text", "Output format: json or text")
}

// Execute runs the root command and reports errors on stderr.
func Execute() int {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func loadApp(ctx context.Context) (*app.App, error) {
	cfg := config.LoadConfig()
	if corpusFlag != "" {
		cfg.CorpusPath = corpusFlag
	}
	logging.InitWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	return app.New(ctx, cfg)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
