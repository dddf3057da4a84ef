package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/facegate/internal/facestore"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <studentId> <image>",
	Short: "Verify a captured photo against a student's stored face",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newLocalService(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		outcome, err := svc.Verify(cmd.Context(), args[0], args[1], nil)
		if errors.Is(err, facestore.ErrNotFound) {
			return fmt.Errorf("no stored face for %s; run enroll first", args[0])
		}
		if err != nil {
			return err
		}

		status := "REJECTED"
		if outcome.Success {
			status = "VERIFIED"
		}
		fmt.Printf("%s  score=%.4f  confidence=%.3f  (%dms)\n%s\n",
			status, outcome.Score, outcome.Confidence, outcome.ProcessingTimeMs, outcome.Message)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
