package cli

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rcliao/clinical-summary/internal/classifier"
	"github.com/rcliao/clinical-summary/internal/drafting"
	"github.com/rcliao/clinical-summary/internal/metrics"
	"github.com/rcliao/clinical-summary/internal/pipeline"
	"github.com/rcliao/clinical-summary/internal/retriever"
	"github.com/rcliao/clinical-summary/internal/store"
)

// addPipelineFlags registers the flags shared by summarize and batch.
func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().String("lexicon", "", "YAML lexicon overriding the built-in one")
	cmd.Flags().Duration("timeout", 0, "Drafting deadline (default: drafting.timeout from config)")
	cmd.Flags().Bool("persist", false, "Append the summary to the patient's timeline")
	cmd.Flags().Bool("metrics", false, "Write pipeline metrics to stderr in Prometheus text format")
}

func newClassifier(cmd *cobra.Command) (*classifier.Classifier, error) {
	path, _ := cmd.Flags().GetString("lexicon")
	if path == "" {
		path = cfg.Lexicon.Path
	}
	lex, err := classifier.LoadLexicon(path)
	if err != nil {
		return nil, err
	}
	return classifier.New(lex)
}

func newRetriever(s store.Store) (*retriever.Retriever, error) {
	return retriever.New(s, cfg.Retrieval, logger, nil)
}

// newPipeline wires a pipeline over s from the loaded config and the
// command's flags. Metrics go to the returned private registry.
func newPipeline(cmd *cobra.Command, s store.Store) (*pipeline.Pipeline, *prometheus.Registry, error) {
	cl, err := newClassifier(cmd)
	if err != nil {
		return nil, nil, err
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r, err := retriever.New(s, cfg.Retrieval, logger, m)
	if err != nil {
		return nil, nil, err
	}
	d, err := drafting.NewFromConfig(cfg.Drafting)
	if err != nil {
		return nil, nil, err
	}

	timeout := cfg.Drafting.Timeout
	if t, _ := cmd.Flags().GetDuration("timeout"); t > 0 {
		timeout = t
	}
	return pipeline.New(s, r, cl, d, logger, m, pipeline.Options{
		DraftTimeout: timeout,
		Workers:      cfg.Pipeline.Workers,
		Now:          time.Now,
	}), reg, nil
}

// dumpMetrics writes the registry to stderr when --metrics is set.
func dumpMetrics(cmd *cobra.Command, reg *prometheus.Registry) {
	if on, _ := cmd.Flags().GetBool("metrics"); !on {
		return
	}
	if err := metrics.WriteText(os.Stderr, reg); err != nil {
		exitErr("write metrics", err)
	}
}
