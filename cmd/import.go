package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andresmejia3/attendant/internal/types"
	"github.com/andresmejia3/attendant/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var importExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".bmp": true}

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Bulk-enroll guests from a directory of photos named <name>[_<guests>].jpg",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		files, err := importFiles(args[0])
		if err != nil {
			utils.ShowError("Failed to read import directory", err, nil)
			return err
		}
		if len(files) == 0 {
			fmt.Println("No images found.")
			return nil
		}

		sup, release, err := newSupervisor(Cfg, DB, Log)
		if err != nil {
			utils.ShowError("Failed to build pipeline", err, nil)
			return err
		}
		defer release()

		bar := progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("📥 Importing guests"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)

		var tally importTally
		for _, path := range files {
			if ctx.Err() != nil {
				break
			}
			name, guests := parseImportName(filepath.Base(path))
			frame, err := loadImageFrame(path)
			if err == nil {
				err = sup.Enroll(ctx, name, guests, frame)
			}
			if err != nil {
				Log.Debug("import skipped", zap.String("file", path), zap.Error(err))
			}
			tally.add(err)
			bar.Add(1)
		}
		bar.Finish()
		fmt.Fprintln(os.Stderr)

		fmt.Printf("✅ %d enrolled, %d duplicates, %d without a single face, %d failed\n",
			tally.enrolled, tally.duplicates, tally.noFace, tally.failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

type importTally struct {
	enrolled, duplicates, noFace, failed int
}

func (t *importTally) add(err error) {
	switch {
	case err == nil:
		t.enrolled++
	case errors.Is(err, types.ErrAlreadyRegistered):
		t.duplicates++
	case errors.Is(err, types.ErrNoFaceDetected), errors.Is(err, types.ErrAmbiguousFaceCount):
		t.noFace++
	default:
		t.failed++
	}
}

// importFiles lists the images directly inside dir, sorted by name.
func importFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !importExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// parseImportName maps "Alice_Smith_3.jpg" to ("Alice Smith", 3).
// Without a trailing count the party size is 1.
func parseImportName(file string) (string, int) {
	stem := strings.TrimSuffix(file, filepath.Ext(file))
	parts := strings.Split(stem, "_")
	guests := 1
	if len(parts) > 1 {
		if n, err := strconv.Atoi(parts[len(parts)-1]); err == nil && n >= 0 {
			guests = n
			parts = parts[:len(parts)-1]
		}
	}
	return strings.TrimSpace(strings.Join(parts, " ")), guests
}
