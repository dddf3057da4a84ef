package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <studentId> <image>",
	Short: "Register a student's face from a captured photo",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newLocalService(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := svc.Register(cmd.Context(), args[0], args[1], nil)
		if err != nil {
			return err
		}

		fmt.Printf("Enrolled %s (embedding length %d, confidence %.3f, %dms)\n",
			args[0], len(result.Embedding), result.Confidence, result.ProcessingTimeMs)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enrollCmd)
}
