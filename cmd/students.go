package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var studentsCmd = &cobra.Command{
	Use:   "students",
	Short: "List students with stored face records",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newLocalService(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		ids := svc.Students()
		if len(ids) == 0 {
			fmt.Println("No enrolled students.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "STUDENT ID")
		fmt.Fprintln(w, "----------")
		for _, id := range ids {
			fmt.Fprintln(w, id)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(studentsCmd)
}
