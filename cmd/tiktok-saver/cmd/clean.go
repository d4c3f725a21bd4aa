package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().BoolP("torrents", "t", false, "Also remove *.torrent files")
	cleanCmd.Flags().BoolP("magnets", "m", false, "Also remove *-magnet.txt files")
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove temporary (.tmp) files from the save directory",
	Long: `Recursively scans the configured SavePath and removes files left behind by
interrupted saves (*.tmp). Optionally removes *.torrent and *-magnet.txt files as well.`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

// cleanResult counts what a clean pass removed.
type cleanResult struct {
	Tmp, Torrents, Magnets int
	Failed                 int
}

func (r cleanResult) String() string {
	var parts []string
	if r.Tmp > 0 {
		parts = append(parts, fmt.Sprintf("%d .tmp file(s)", r.Tmp))
	}
	if r.Torrents > 0 {
		parts = append(parts, fmt.Sprintf("%d .torrent file(s)", r.Torrents))
	}
	if r.Magnets > 0 {
		parts = append(parts, fmt.Sprintf("%d -magnet.txt file(s)", r.Magnets))
	}
	summary := "Clean complete. Removed: "
	if len(parts) > 0 {
		summary += strings.Join(parts, ", ")
	} else {
		summary += "0 files"
	}
	if r.Failed > 0 {
		summary += fmt.Sprintf(". Failed to remove %d file(s).", r.Failed)
	}
	return summary
}

func runClean(cmd *cobra.Command, args []string) error {
	savePath := globalConfig.SavePath
	cleanTorrents, _ := cmd.Flags().GetBool("torrents")
	cleanMagnets, _ := cmd.Flags().GetBool("magnets")

	if savePath == "" {
		return fmt.Errorf("SavePath is not configured, cannot determine where to clean")
	}
	info, err := os.Stat(savePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("SavePath directory does not exist: %s", savePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing SavePath %q: %w", savePath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("SavePath is not a directory: %s", savePath)
	}

	logLine := fmt.Sprintf("Scanning for .tmp files in %s", savePath)
	if cleanTorrents {
		logLine += " (and *.torrent files)"
	}
	if cleanMagnets {
		logLine += " (and *-magnet.txt files)"
	}
	log.Info(logLine + "...")

	result, walkErr := cleanDir(savePath, cleanTorrents, cleanMagnets)
	if walkErr != nil {
		log.Errorf("Error during directory walk of %q: %v", savePath, walkErr)
	}
	log.Info(result.String())

	if result.Failed > 0 {
		return fmt.Errorf("failed to remove %d file(s)", result.Failed)
	}
	return walkErr
}

// cleanDir removes leftover files below root.
func cleanDir(root string, torrents, magnets bool) (cleanResult, error) {
	var result cleanResult
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warnf("Error accessing path %q during scan: %v", path, err)
			return nil
		}
		if info.IsDir() {
			return nil
		}

		lowerName := strings.ToLower(info.Name())
		var counter *int
		switch {
		case strings.HasSuffix(lowerName, ".tmp"):
			counter = &result.Tmp
		case torrents && strings.HasSuffix(lowerName, ".torrent"):
			counter = &result.Torrents
		case magnets && strings.HasSuffix(lowerName, "-magnet.txt"):
			counter = &result.Magnets
		default:
			return nil
		}

		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				log.Warnf("Attempted to remove %q, but it was already gone.", path)
			} else {
				log.Errorf("Failed to remove %q: %v", path, err)
				result.Failed++
			}
			return nil
		}
		log.Infof("Removed %s", path)
		*counter++
		return nil
	})
	return result, err
}
