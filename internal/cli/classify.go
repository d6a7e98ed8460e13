package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "classify [transcript]",
		Short: "Show topical spans and candidate fields of a transcript",
		Long:  "Run the segmenter and rule-based classifier on a transcript without touching the store.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runClassify,
	}

	cmd.Flags().String("lexicon", "", "YAML lexicon overriding the built-in one")

	RootCmd.AddCommand(cmd)
}

func runClassify(cmd *cobra.Command, args []string) {
	var path string
	if len(args) > 0 {
		path = args[0]
	}
	t, err := loadTranscript(path)
	if err != nil {
		exitErr("read transcript", err)
	}
	cl, err := newClassifier(cmd)
	if err != nil {
		exitErr("load lexicon", err)
	}

	cands := cl.Classify(t)
	if formatFlag != "text" {
		printJSON(cands)
		return
	}
	for _, sp := range cands.Spans {
		fmt.Printf("[%s] turns %d-%d\n", sp.Category, sp.Start, sp.End-1)
		for _, turn := range t[sp.Start:sp.End] {
			fmt.Printf("  %s: %s\n", turn.Speaker, turn.Utterance)
		}
	}
}
