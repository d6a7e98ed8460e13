package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/clinical-summary/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export record entries as JSON",
		Long:  "Export record entries oldest first, in the format import reads. Filter by patient with -p.",
		Run:   runExport,
	}

	cmd.Flags().StringP("patient", "p", "", "Filter by patient id")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	patient, _ := cmd.Flags().GetString("patient")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	records, err := store.ExportAll(cmd.Context(), s, patient)
	if err != nil {
		exitErr("export", err)
	}

	printJSON(records)
}
