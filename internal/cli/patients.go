package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "patients",
		Short: "List patients with at least one entry",
		Run:   runPatients,
	}

	RootCmd.AddCommand(cmd)
}

func runPatients(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	ids, err := s.Patients(cmd.Context())
	if err != nil {
		exitErr("list patients", err)
	}

	if formatFlag == "text" {
		for _, id := range ids {
			fmt.Println(id)
		}
		return
	}
	if ids == nil {
		ids = []string{}
	}
	printJSON(ids)
}
