package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/clinical-summary/internal/model"
	"github.com/rcliao/clinical-summary/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List a patient's record entries, newest first",
		Run:   runHistory,
	}

	cmd.Flags().StringP("patient", "p", "", "Patient id (required)")
	cmd.Flags().String("category", "", "Filter by categories (comma-separated)")
	cmd.Flags().String("from", "", "Earliest date YYYY-MM-DD")
	cmd.Flags().String("to", "", "Latest date YYYY-MM-DD")
	cmd.Flags().IntP("limit", "l", 0, "Max results (0 = all)")

	cmd.MarkFlagRequired("patient")

	RootCmd.AddCommand(cmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	patient, _ := cmd.Flags().GetString("patient")
	categories, _ := cmd.Flags().GetString("category")
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	limit, _ := cmd.Flags().GetInt("limit")

	params := store.QueryParams{PatientID: patient, Limit: limit}
	for _, c := range splitList(categories) {
		cat, err := model.ParseCategory(c)
		if err != nil {
			exitErr("history", err)
		}
		params.Categories = append(params.Categories, cat)
	}
	var err error
	if from != "" {
		if params.From, err = model.ParseDate(from); err != nil {
			exitErr("history", err)
		}
	}
	if to != "" {
		if params.To, err = model.ParseDate(to); err != nil {
			exitErr("history", err)
		}
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if formatFlag == "text" {
		for e, err := range s.Query(cmd.Context(), params) {
			if err != nil {
				exitErr("history", err)
			}
			fmt.Printf("%s [%s] %s\n  %s\n", e.Date, e.Category, e.ID, e.Text)
		}
		return
	}

	entries, err := store.Collect(s.Query(cmd.Context(), params))
	if err != nil {
		exitErr("history", err)
	}
	if entries == nil {
		entries = []model.RecordEntry{}
	}
	printJSON(entries)
}
