package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show model and service status",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newLocalService(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		info := svc.ModelInfo()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintf(w, "State:\t%s\n", info.State)
		fmt.Fprintf(w, "Model type:\t%s\n", info.ModelType)
		fmt.Fprintf(w, "Loaded:\t%t\n", info.Loaded)
		fmt.Fprintf(w, "Real model:\t%t\n", info.Real)
		fmt.Fprintf(w, "Input shape:\t%dx%dx%d\n", info.InputShape[0], info.InputShape[1], info.InputShape[2])
		fmt.Fprintf(w, "Embedding dim:\t%d\n", info.Dim)
		fmt.Fprintf(w, "Stored faces:\t%d\n", info.StoredFaces)
		fmt.Fprintf(w, "Metric:\t%s\n", cfg.Metric)
		fmt.Fprintf(w, "Threshold:\t%g\n", cfg.Threshold)
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
