package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-annotator/models"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the YOLOv8 variants",
	Long: `List every YOLOv8 task and size combination with the file stem expected in
the model directory. Variants without box output cannot be used for annotation.`,
	Example: `  annotator models`,
	Args:    cobra.NoArgs,
	RunE:    runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VARIANT\tSIZE\tFILE\tSUPPORTED")
	for _, v := range models.Variants() {
		supported := "yes"
		if !v.Supported {
			supported = "no"
		}
		fmt.Fprintf(w, "%s/%s\t%s\t%s.onnx\t%s\n", v.Variant.Task, v.Variant.Size, v.SizeName, v.Stem, supported)
	}
	return w.Flush()
}
