package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/clinical-summary/internal/model"
	"github.com/rcliao/clinical-summary/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search record entries by keyword",
		Long:  "Search entry text for stemmed keywords, ranked by overlap with the query.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().StringP("patient", "p", "", "Filter by patient id")
	cmd.Flags().String("category", "", "Filter by categories (comma-separated)")
	cmd.Flags().IntP("limit", "l", 20, "Max results")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	patient, _ := cmd.Flags().GetString("patient")
	categories, _ := cmd.Flags().GetString("category")
	limit, _ := cmd.Flags().GetInt("limit")

	params := store.SearchParams{
		PatientID: patient,
		Query:     strings.Join(args, " "),
		Limit:     limit,
	}
	for _, c := range splitList(categories) {
		cat, err := model.ParseCategory(c)
		if err != nil {
			exitErr("search", err)
		}
		params.Categories = append(params.Categories, cat)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	results, err := store.Search(cmd.Context(), s, params)
	if err != nil {
		exitErr("search", err)
	}

	if len(results) == 0 {
		fmt.Println("[]")
		return
	}
	printJSON(results)
}
