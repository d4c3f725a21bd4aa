package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// videoExtensions are the saved files the torrent command picks up.
var videoExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".mov":  true,
	".m4v":  true,
}

type torrentJob struct {
	SourcePath     string
	Trackers       []string
	OutputDir      string
	Overwrite      bool
	GenerateMagnet bool
}

func torrentWorker(id int, jobs <-chan torrentJob, wg *sync.WaitGroup, successCounter *atomic.Int64, failureCounter *atomic.Int64) {
	defer wg.Done()
	log.Debugf("Torrent Worker %d starting", id)
	for job := range jobs {
		logEntry := log.WithField("file", job.SourcePath)
		if err := generateTorrentFile(job); err != nil {
			logEntry.WithError(err).Errorf("Worker %d: Failed to generate torrent", id)
			failureCounter.Add(1)
			continue
		}
		logEntry.Debugf("Worker %d: Generated torrent", id)
		successCounter.Add(1)
	}
	log.Debugf("Torrent Worker %d finished", id)
}

var (
	torrentFiles        []string
	announceURLs        []string
	torrentOutputDir    string
	overwriteTorrents   bool
	generateMagnetLinks bool
)

var torrentCmd = &cobra.Command{
	Use:   "torrent",
	Short: "Generate .torrent files for saved videos",
	Long: `Generates BitTorrent metainfo (.torrent) files for videos saved by the
'download' command, one torrent per video. You must specify tracker announce URLs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(announceURLs) == 0 {
			return errors.New("at least one --announce URL is required")
		}
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			log.Warnf("Invalid concurrency value %d, defaulting to 4", concurrency)
			concurrency = 4
		}

		sources := torrentFiles
		if len(sources) == 0 {
			if globalConfig.SavePath == "" {
				return errors.New("save path is not configured (--save-path or config file)")
			}
			found, err := findSavedVideos(globalConfig.SavePath)
			if err != nil {
				return fmt.Errorf("error scanning %s: %w", globalConfig.SavePath, err)
			}
			sources = found
		}
		if len(sources) == 0 {
			log.Info("No saved videos found.")
			return nil
		}

		log.Infof("Generating torrents for %d videos using %d workers...", len(sources), concurrency)

		jobs := make(chan torrentJob, concurrency)
		var wg sync.WaitGroup
		var successCounter, failureCounter atomic.Int64
		for i := 1; i <= concurrency; i++ {
			wg.Add(1)
			go torrentWorker(i, jobs, &wg, &successCounter, &failureCounter)
		}
		for _, src := range sources {
			jobs <- torrentJob{
				SourcePath:     src,
				Trackers:       announceURLs,
				OutputDir:      torrentOutputDir,
				Overwrite:      overwriteTorrents,
				GenerateMagnet: generateMagnetLinks,
			}
		}
		close(jobs)
		wg.Wait()

		failCount := failureCounter.Load()
		log.Infof("Torrent generation complete. Success: %d, Failed: %d", successCounter.Load(), failCount)
		if failCount > 0 {
			return fmt.Errorf("%d torrents failed to generate", failCount)
		}
		return nil
	},
}

// findSavedVideos lists video files directly inside dir.
func findSavedVideos(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var videos []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if videoExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			videos = append(videos, filepath.Join(dir, e.Name()))
		}
	}
	return videos, nil
}

// torrentPath is where the .torrent for source goes.
func torrentPath(source, outputDir string) string {
	name := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source)) + ".torrent"
	if outputDir != "" {
		return filepath.Join(outputDir, name)
	}
	return filepath.Join(filepath.Dir(source), name)
}

// generateTorrentFile writes a single-file torrent for job.SourcePath and
// optionally a matching magnet link file.
func generateTorrentFile(job torrentJob) error {
	stat, err := os.Stat(job.SourcePath)
	if err != nil {
		return fmt.Errorf("error stating source path %s: %w", job.SourcePath, err)
	}
	if stat.IsDir() {
		return fmt.Errorf("source path is a directory: %s", job.SourcePath)
	}

	if job.OutputDir != "" {
		if err := os.MkdirAll(job.OutputDir, 0755); err != nil {
			return fmt.Errorf("error creating output directory %s: %w", job.OutputDir, err)
		}
	}
	outPath := torrentPath(job.SourcePath, job.OutputDir)

	if _, err := os.Stat(outPath); err == nil {
		if !job.Overwrite {
			log.WithField("path", outPath).Info("Skipping existing torrent file (use --overwrite to replace)")
			return nil
		}
		log.WithField("path", outPath).Warn("Overwriting existing torrent file")
	}

	mi := metainfo.MetaInfo{
		AnnounceList: make([][]string, len(job.Trackers)),
	}
	for i, tracker := range job.Trackers {
		mi.AnnounceList[i] = []string{tracker}
	}
	if len(job.Trackers) > 0 {
		mi.Announce = job.Trackers[0]
	}
	mi.CreatedBy = "tiktok-saver"

	const pieceLength = 256 * 1024
	info := metainfo.Info{PieceLength: pieceLength}
	if err := info.BuildFromFilePath(job.SourcePath); err != nil {
		return fmt.Errorf("error building torrent info from path %s: %w", job.SourcePath, err)
	}
	mi.InfoBytes, err = bencode.Marshal(info)
	if err != nil {
		return fmt.Errorf("error marshaling torrent info: %w", err)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("error creating torrent file %s: %w", outPath, err)
	}
	defer f.Close()
	if err := mi.Write(f); err != nil {
		return fmt.Errorf("error writing torrent file %s: %w", outPath, err)
	}
	log.WithField("path", outPath).Info("Generated torrent file")

	if job.GenerateMagnet {
		magnetURI := magnetLink(mi.HashInfoBytes().HexString(), stat.Name(), job.Trackers)
		magnetOutPath := strings.TrimSuffix(outPath, ".torrent") + "-magnet.txt"
		if err := os.WriteFile(magnetOutPath, []byte(magnetURI), 0644); err != nil {
			// The torrent itself is fine; a missing magnet file is not fatal.
			log.WithError(err).WithField("path", magnetOutPath).Error("Failed to write magnet link file")
		} else {
			log.WithField("path", magnetOutPath).Info("Generated magnet link file")
		}
	}
	return nil
}

func magnetLink(infoHash, displayName string, trackers []string) string {
	parts := []string{
		"magnet:?xt=urn:btih:" + infoHash,
		"dn=" + url.QueryEscape(displayName),
	}
	for _, tracker := range trackers {
		parts = append(parts, "tr="+url.QueryEscape(tracker))
	}
	return strings.Join(parts, "&")
}

func init() {
	rootCmd.AddCommand(torrentCmd)

	torrentCmd.Flags().StringSliceVar(&announceURLs, "announce", []string{}, "Tracker announce URL (repeatable)")
	torrentCmd.Flags().StringSliceVar(&torrentFiles, "file", []string{}, "Specific video file(s) to generate torrents for. Default: every video in SavePath.")
	torrentCmd.Flags().StringVarP(&torrentOutputDir, "output-dir", "o", "", "Directory to save generated .torrent files (default: next to each video)")
	torrentCmd.Flags().BoolVarP(&overwriteTorrents, "overwrite", "f", false, "Overwrite existing .torrent files")
	torrentCmd.Flags().BoolVar(&generateMagnetLinks, "magnet-links", false, "Generate a -magnet.txt file alongside each .torrent file")
	torrentCmd.Flags().IntP("concurrency", "c", 4, "Number of concurrent torrent generation workers")
}
