package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/clinical-summary/internal/model"
	"github.com/rcliao/clinical-summary/internal/retriever"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Assemble the history window for an encounter",
		Long: "Rank a patient's history against a transcript and greedily pack it into the " +
			"retrieval budget. Without a transcript, entries are ranked by recency and category only.",
		Run: runContext,
	}

	cmd.Flags().StringP("patient", "p", "", "Patient id (required)")
	cmd.Flags().StringP("transcript", "t", "", "Transcript file (JSON turns or Doctor:/Patient: lines)")
	cmd.Flags().String("date", "", "Reference date YYYY-MM-DD (default: today)")
	cmd.Flags().String("condition", "", "Keep only entries mentioning this condition")
	cmd.Flags().Int("max-entries", -1, "Override retrieval.max_entries")
	cmd.Flags().Int("max-chars", -1, "Override retrieval.max_chars")

	cmd.MarkFlagRequired("patient")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	patient, _ := cmd.Flags().GetString("patient")
	transcriptPath, _ := cmd.Flags().GetString("transcript")
	date, _ := cmd.Flags().GetString("date")
	condition, _ := cmd.Flags().GetString("condition")
	maxEntries, _ := cmd.Flags().GetInt("max-entries")
	maxChars, _ := cmd.Flags().GetInt("max-chars")

	if maxEntries >= 0 {
		cfg.Retrieval.MaxEntries = maxEntries
	}
	if maxChars >= 0 {
		cfg.Retrieval.MaxChars = maxChars
	}

	req := retriever.Request{PatientID: patient, ReferenceDate: model.DateOf(time.Now()), Condition: condition}
	if date != "" {
		d, err := model.ParseDate(date)
		if err != nil {
			exitErr("context", err)
		}
		req.ReferenceDate = d
	}
	if transcriptPath != "" {
		t, err := loadTranscript(transcriptPath)
		if err != nil {
			exitErr("read transcript", err)
		}
		req.Keywords = retriever.Keywords(t)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	r, err := newRetriever(s)
	if err != nil {
		exitErr("context", err)
	}
	w, err := r.Retrieve(cmd.Context(), req)
	if err != nil {
		exitErr("context", err)
	}

	if formatFlag == "text" {
		fmt.Print(w.Format())
		return
	}
	printJSON(w)
}

func loadTranscript(path string) (model.Transcript, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	return model.DecodeTranscript(data)
}
