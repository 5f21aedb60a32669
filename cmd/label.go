package cmd

import (
	"fmt"

	"github.com/andresmejia3/attendant/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label <name> <new_name>",
	Short: "Rename a registered guest",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		oldName, newName := args[0], args[1]

		found, err := DB.Rename(cmd.Context(), oldName, newName)
		if err != nil {
			utils.Die("Failed to rename guest", err, nil)
		}
		if !found {
			fmt.Printf("No guest named '%s'.\n", oldName)
			return
		}
		fmt.Printf("✅ Guest '%s' labeled as '%s'\n", oldName, newName)
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}
