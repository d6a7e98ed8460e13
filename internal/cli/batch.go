package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/clinical-summary/internal/model"
	"github.com/rcliao/clinical-summary/internal/pipeline"
)

func init() {
	cmd := &cobra.Command{
		Use:   "batch [file]",
		Short: "Summarize many encounters concurrently",
		Long: "Summarize a JSON array of {patient_id, date, transcript} encounters (file or stdin) " +
			"on pipeline.workers goroutines. A failed encounter is reported and does not stop the others.",
		Args: cobra.MaximumNArgs(1),
		Run:  runBatch,
	}

	addPipelineFlags(cmd)

	RootCmd.AddCommand(cmd)
}

type batchOutput struct {
	Index     int                      `json:"index"`
	PatientID string                   `json:"patient_id"`
	OK        bool                     `json:"ok"`
	Summary   *model.StructuredSummary `json:"summary,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

func runBatch(cmd *cobra.Command, args []string) {
	persist, _ := cmd.Flags().GetBool("persist")

	var path string
	if len(args) > 0 {
		path = args[0]
	}
	data, err := readInput(path)
	if err != nil {
		exitErr("read input", err)
	}
	var encs []pipeline.Encounter
	if err := json.Unmarshal(data, &encs); err != nil {
		exitErr("parse json", err)
	}
	for i := range encs {
		encs[i].Persist = encs[i].Persist || persist
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	p, reg, err := newPipeline(cmd, s)
	if err != nil {
		exitErr("batch", err)
	}

	failed := 0
	out := make([]batchOutput, 0, len(encs))
	for _, r := range p.ProcessBatch(cmd.Context(), encs) {
		o := batchOutput{Index: r.Index, PatientID: encs[r.Index].PatientID, OK: r.Err == nil}
		if r.Err != nil {
			o.Error = r.Err.Error()
			failed++
		} else {
			o.Summary = r.Result.Summary
		}
		out = append(out, o)
	}
	printJSON(out)
	dumpMetrics(cmd, reg)

	if failed > 0 {
		exitErr("batch", fmt.Errorf("%d of %d encounters failed", failed, len(encs)))
	}
}
