package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/clinical-summary/internal/model"
	"github.com/rcliao/clinical-summary/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "append [text]",
		Short: "Append a record entry to a patient's timeline",
		Long: "Append a record entry. Text can be a positional arg or piped via stdin. Entries are " +
			"immutable; correct one by appending a new entry with --supersedes.",
		Run: runAppend,
	}

	cmd.Flags().StringP("patient", "p", "", "Patient id (required)")
	cmd.Flags().String("category", "other", "Category: "+categoryList())
	cmd.Flags().String("date", "", "Entry date YYYY-MM-DD (required)")
	cmd.Flags().String("supersedes", "", "Id of the entry this one corrects")

	cmd.MarkFlagRequired("patient")
	cmd.MarkFlagRequired("date")

	RootCmd.AddCommand(cmd)
}

func runAppend(cmd *cobra.Command, args []string) {
	patient, _ := cmd.Flags().GetString("patient")
	category, _ := cmd.Flags().GetString("category")
	date, _ := cmd.Flags().GetString("date")
	supersedes, _ := cmd.Flags().GetString("supersedes")

	// Get text: positional arg first, then check stdin
	var text string
	if len(args) > 0 {
		text = strings.Join(args, " ")
	} else if stdinPiped() {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		text = string(b)
	}

	if strings.TrimSpace(text) == "" {
		exitErr("append", fmt.Errorf("text is required (positional arg or stdin)"))
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	e, err := s.Append(cmd.Context(), store.AppendParams{
		PatientID:  patient,
		Text:       strings.TrimSpace(text),
		Category:   category,
		Date:       date,
		Supersedes: supersedes,
	})
	if err != nil {
		exitErr("append", err)
	}

	printJSON(e)
}

func categoryList() string {
	names := make([]string, len(model.Categories))
	for i, c := range model.Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
