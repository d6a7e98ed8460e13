package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/clinical-summary/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the authoritative entry of a category",
		Long:  "Show the most recent entry of a category for a patient, skipping entries that a later entry supersedes.",
		Run:   runLatest,
	}

	cmd.Flags().StringP("patient", "p", "", "Patient id (required)")
	cmd.Flags().String("category", "", "Category (required)")

	cmd.MarkFlagRequired("patient")
	cmd.MarkFlagRequired("category")

	RootCmd.AddCommand(cmd)
}

func runLatest(cmd *cobra.Command, args []string) {
	patient, _ := cmd.Flags().GetString("patient")
	category, _ := cmd.Flags().GetString("category")

	cat, err := model.ParseCategory(category)
	if err != nil {
		exitErr("latest", err)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	e, err := s.Latest(cmd.Context(), patient, cat)
	if err != nil {
		exitErr("latest", err)
	}

	printJSON(e)
}
