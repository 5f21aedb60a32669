package cmd

import (
	"fmt"

	"github.com/andresmejia3/attendant/internal/utils"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the number of registered guests and the total party size",
	Run: func(cmd *cobra.Command, args []string) {
		count, guests, err := DB.Stats(cmd.Context())
		if err != nil {
			utils.Die("Failed to read registry stats", err, nil)
		}
		fmt.Printf("📊 Registered guests: %d\n", count)
		fmt.Printf("👥 Total party size:  %d\n", guests)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
