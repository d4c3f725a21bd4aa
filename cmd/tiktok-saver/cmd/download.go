package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/M0usa391/video-saver-tik-tok/internal/api"
	"github.com/M0usa391/video-saver-tik-tok/internal/controller"
	"github.com/M0usa391/video-saver-tik-tok/internal/downloader"
	"github.com/M0usa391/video-saver-tik-tok/internal/helpers"
	"github.com/M0usa391/video-saver-tik-tok/internal/models"
	"github.com/M0usa391/video-saver-tik-tok/internal/preview"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const progressBarWidth = 30

var downloadCmd = &cobra.Command{
	Use:   "download URL",
	Short: "Resolve a TikTok link and fetch the video",
	Long: `Sends the link to the resolve service, retrying once on server or
connection errors. On success the video is fetched and saved to SavePath,
or, when it cannot be fetched, the direct download link is printed.
Press Ctrl+C to cancel.`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().String("endpoint", "", "Resolve service URL (overrides config)")
	downloadCmd.Flags().Int("retries", 0, "Additional attempts after a server or connection error (overrides config)")
	downloadCmd.Flags().Int("timeout", 0, "Per-attempt timeout in seconds (overrides config)")
	downloadCmd.Flags().Bool("preview", false, "Serve the fetched video on the preview address until interrupted")
	downloadCmd.Flags().Bool("no-save", false, "Do not write the fetched video to SavePath")
	downloadCmd.Flags().Bool("no-history", false, "Do not record this download in the history")

	viper.BindPFlag("download.endpoint", downloadCmd.Flags().Lookup("endpoint"))
	viper.BindPFlag("download.retries", downloadCmd.Flags().Lookup("retries"))
	viper.BindPFlag("download.timeout", downloadCmd.Flags().Lookup("timeout"))
	viper.BindPFlag("download.preview", downloadCmd.Flags().Lookup("preview"))
	viper.BindPFlag("download.no_save", downloadCmd.Flags().Lookup("no-save"))
	viper.BindPFlag("download.no_history", downloadCmd.Flags().Lookup("no-history"))
}

// applyDownloadFlags copies explicitly set download flags over cfg.
func applyDownloadFlags(cmd *cobra.Command, cfg *models.Config) {
	if cmd.Flags().Changed("endpoint") {
		if endpoint := viper.GetString("download.endpoint"); endpoint != "" {
			cfg.Endpoint = endpoint
		}
	}
	if cmd.Flags().Changed("retries") {
		if retries := viper.GetInt("download.retries"); retries >= 0 {
			cfg.MaxRetries = retries
		} else {
			log.Warnf("--retries %d is negative, keeping %d", retries, cfg.MaxRetries)
		}
	}
	if cmd.Flags().Changed("timeout") {
		if timeout := viper.GetInt("download.timeout"); timeout > 0 {
			cfg.TimeoutSec = timeout
		} else {
			log.Warnf("--timeout %d is not positive, keeping %d", timeout, cfg.TimeoutSec)
		}
	}
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg := globalConfig
	applyDownloadFlags(cmd, &cfg)
	servePreview := viper.GetBool("download.preview")
	noSave := viper.GetBool("download.no_save")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	httpClient := &http.Client{Transport: globalHttpTransport}
	registry := downloader.NewRegistry("http://" + cfg.PreviewAddr)
	fetcher := downloader.NewDownloader(httpClient, registry, cfg.MaxPreviewBytes,
		time.Duration(cfg.AcquireTimeoutSec)*time.Second)

	var previewServer *preview.Server
	if servePreview {
		srv, err := preview.Start(cfg.PreviewAddr, registry)
		if err != nil {
			return fmt.Errorf("error starting preview server: %w", err)
		}
		previewServer = srv
		registry.SetBaseURL(srv.BaseURL())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("Error stopping preview server")
			}
		}()
	}

	opts := []controller.Option{controller.WithAcquirer(fetcher)}
	if !viper.GetBool("download.no_history") {
		session, err := openHistory(cfg)
		if err != nil {
			log.WithError(err).Warn("History unavailable, this download will not be recorded")
		} else {
			defer session.Close()
			opts = append(opts, controller.WithRecorder(session.Store))
		}
	}

	writer := uilive.New()
	writer.Out = cmd.OutOrStdout()
	writer.Start()
	renderer := &progressRenderer{out: writer, maxRetries: cfg.MaxRetries}
	opts = append(opts, controller.WithObserver(renderer.Render))

	client := api.NewClient(cfg.Endpoint, httpClient)
	ctrl := controller.New(client, controller.OptionsFromConfig(cfg), opts...)
	outcome := ctrl.Submit(ctx, models.DownloadRequest{SourceURL: strings.TrimSpace(args[0])})
	writer.Stop()

	if !outcome.Succeeded() {
		return outcome.Err
	}
	if outcome.Artifact == nil {
		return nil
	}

	out := cmd.OutOrStdout()
	artifact := *outcome.Artifact
	defer fetcher.Release(artifact)

	if artifact.Kind == models.ArtifactLink {
		fmt.Fprintf(out, "Direct link: %s\n", artifact.RemoteURL)
		return nil
	}

	fmt.Fprintf(out, "Fetched %s (%s, %s)\n", artifact.Filename, helpers.BytesToSize(artifact.Size), artifact.ContentType)
	if !noSave {
		path, err := fetcher.Save(artifact, cfg.SavePath)
		if err != nil {
			log.WithError(err).Error("Failed to save video")
			fmt.Fprintf(out, "Direct link: %s\n", artifact.RemoteURL)
		} else {
			fmt.Fprintf(out, "Saved to %s\n", path)
		}
	}

	if previewServer != nil {
		fmt.Fprintf(out, "Preview: %s (Ctrl+C to stop)\n", artifact.LocalURL)
		<-ctx.Done()
	}
	return nil
}

// liveWriter is the part of *uilive.Writer the renderer needs.
type liveWriter interface {
	io.Writer
	Newline() io.Writer
}

// progressRenderer projects controller updates onto a live terminal writer.
type progressRenderer struct {
	out        liveWriter
	maxRetries int
}

// Render is the controller observer.
func (r *progressRenderer) Render(u models.Update) {
	switch u.Kind {
	case models.NotifyProgress:
		fmt.Fprintln(r.out, progressLine(u.State, r.maxRetries))
	case models.NotifySuccess:
		fmt.Fprintln(r.out, progressLine(u.State, r.maxRetries))
		fmt.Fprintln(r.out.Newline(), u.Message)
	default:
		line := u.Message
		if line == "" && u.Err != nil {
			line = u.Err.Error()
		}
		fmt.Fprintln(r.out.Newline(), noticePrefix(u.Kind)+line)
		if u.Err != nil {
			log.WithError(u.Err).Debugf("Controller reported %s", u.Kind)
		}
	}
}

func noticePrefix(kind models.NotificationKind) string {
	switch kind {
	case models.NotifyRetry, models.NotifyFallback:
		return "[warn] "
	case models.NotifyValidation, models.NotifyTimeout, models.NotifyFailure:
		return "[error] "
	default:
		return ""
	}
}

// progressLine renders "[#####-----]  42% attempt 1/2".
func progressLine(state models.AttemptState, maxRetries int) string {
	pct := state.Progress
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * progressBarWidth)
	bar := strings.Repeat("#", filled) + strings.Repeat("-", progressBarWidth-filled)
	return fmt.Sprintf("[%s] %3.0f%% attempt %d/%d", bar, pct, state.AttemptNumber+1, maxRetries+1)
}
