package cmd

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/andresmejia3/attendant/internal/types"
	"github.com/andresmejia3/attendant/internal/utils"
	"github.com/spf13/cobra"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	enrollGuests int
	enrollImage  string
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <name>",
	Short: "Register a guest from an image file or a camera capture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name := args[0]

		sup, release, err := newSupervisor(Cfg, DB, Log)
		if err != nil {
			utils.ShowError("Failed to build pipeline", err, nil)
			return err
		}
		defer release()

		if enrollImage != "" {
			frame, err := loadImageFrame(enrollImage)
			if err != nil {
				utils.ShowError("Failed to read image", err, nil)
				return err
			}
			err = sup.Enroll(ctx, name, enrollGuests, frame)
			reportEnroll(os.Stdout, name, enrollGuests, err)
			return err
		}

		fmt.Fprintln(os.Stderr, "📸 Capturing from camera...")
		err = sup.EnrollFromCamera(ctx, name, enrollGuests)
		reportEnroll(os.Stdout, name, enrollGuests, err)
		return err
	},
}

func init() {
	enrollCmd.Flags().IntVarP(&enrollGuests, "guests", "g", 1, "Party size for this guest")
	enrollCmd.Flags().StringVarP(&enrollImage, "image", "i", "", "Enroll from this image instead of the camera (jpeg, png, webp, bmp)")
	rootCmd.AddCommand(enrollCmd)
}

// loadImageFrame decodes an image file into an RGBA frame.
func loadImageFrame(path string) (types.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Frame{}, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return types.Frame{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return types.FrameFromImage(img), nil
}
