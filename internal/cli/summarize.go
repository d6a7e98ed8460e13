package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/clinical-summary/internal/model"
	"github.com/rcliao/clinical-summary/internal/pipeline"
	"github.com/rcliao/clinical-summary/internal/summary"
)

func init() {
	cmd := &cobra.Command{
		Use:   "summarize [transcript]",
		Short: "Summarize an encounter transcript",
		Long: "Summarize a transcript (file or stdin) for a patient into the 13 canonical fields, " +
			"merged with the patient's history. With --persist the summary is appended to the " +
			"timeline once it has been built.",
		Args: cobra.MaximumNArgs(1),
		Run:  runSummarize,
	}

	cmd.Flags().StringP("patient", "p", "", "Patient id (required)")
	cmd.Flags().String("date", "", "Encounter date YYYY-MM-DD")
	cmd.Flags().Bool("verbose", false, "Include the context window and candidates in JSON output")
	addPipelineFlags(cmd)

	cmd.MarkFlagRequired("patient")

	RootCmd.AddCommand(cmd)
}

func runSummarize(cmd *cobra.Command, args []string) {
	patient, _ := cmd.Flags().GetString("patient")
	date, _ := cmd.Flags().GetString("date")
	persist, _ := cmd.Flags().GetBool("persist")
	verbose, _ := cmd.Flags().GetBool("verbose")

	var path string
	if len(args) > 0 {
		path = args[0]
	}
	t, err := loadTranscript(path)
	if err != nil {
		exitErr("read transcript", err)
	}

	enc := pipeline.Encounter{PatientID: patient, Transcript: t, Persist: persist}
	if date != "" {
		if enc.Date, err = model.ParseDate(date); err != nil {
			exitErr("summarize", err)
		}
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	p, reg, err := newPipeline(cmd, s)
	if err != nil {
		exitErr("summarize", err)
	}
	res, err := p.Process(cmd.Context(), enc)
	dumpMetrics(cmd, reg)
	if err != nil {
		exitErr("summarize", err)
	}

	if verbose && formatFlag == "json" {
		printJSON(res)
		return
	}
	printSummary(res.Summary)
}

func printSummary(s *model.StructuredSummary) {
	switch formatFlag {
	case "text":
		fmt.Print(summary.Render(s))
	case "markdown", "md":
		fmt.Print(summary.RenderMarkdown(s))
	case "html":
		html, err := summary.RenderHTML(s)
		if err != nil {
			exitErr("render", err)
		}
		fmt.Print(html)
	default:
		printJSON(s)
	}
}
