package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:   "remove <studentId>",
	Short: "Erase a student's stored face record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newLocalService(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if err := svc.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed face record for %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}
