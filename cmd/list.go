package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/attendant/internal/types"
	"github.com/andresmejia3/attendant/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered guests",
	Run: func(cmd *cobra.Command, args []string) {
		faces, err := DB.LoadAll(cmd.Context())
		if err != nil {
			utils.Die("Failed to list guests", err, nil)
		}
		printFaces(os.Stdout, faces)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func printFaces(out io.Writer, faces []types.RegisteredFace) {
	if len(faces) == 0 {
		fmt.Fprintln(out, "No guests registered.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tGUESTS\tDIM\tREGISTERED")
	fmt.Fprintln(w, "----\t------\t---\t----------")

	for _, f := range faces {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", f.Name, f.GuestCount, len(f.Embedding), f.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
