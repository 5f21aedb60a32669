package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/andresmejia3/attendant/internal/utils"
	"github.com/spf13/cobra"
)

var removeYes bool

var removeCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a registered guest",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		if !removeYes && !confirm(bufio.NewReader(os.Stdin), fmt.Sprintf("⚠️  Remove guest '%s'?", name)) {
			return
		}

		found, err := DB.Delete(cmd.Context(), name)
		if err != nil {
			utils.Die("Failed to remove guest", err, nil)
		}
		if !found {
			fmt.Printf("No guest named '%s'.\n", name)
			return
		}
		fmt.Printf("🗑️  Removed '%s'\n", name)
	},
}

func init() {
	removeCmd.Flags().BoolVarP(&removeYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(removeCmd)
}
