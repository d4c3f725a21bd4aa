package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/M0usa391/video-saver-tik-tok/internal/helpers"
	"github.com/M0usa391/video-saver-tik-tok/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Downloader Errors
var (
	ErrHttpStatus  = errors.New("unexpected HTTP status code")
	ErrHttpRequest = errors.New("HTTP request creation/execution error")
	ErrTooLarge    = errors.New("media exceeds the preview size limit")
	ErrFileSystem  = errors.New("filesystem error")
	ErrNotBlob     = errors.New("artifact holds no local data")
)

// Downloader turns a resolved download URL into a locally usable artifact.
type Downloader struct {
	client   *http.Client
	registry *Registry
	maxBytes int64
	timeout  time.Duration
}

// NewDownloader creates a Downloader that keeps at most maxBytes of a
// single media body in memory and gives up on a fetch after timeout.
// Zero disables either limit.
func NewDownloader(client *http.Client, registry *Registry, maxBytes int64, timeout time.Duration) *Downloader {
	if client == nil {
		client = &http.Client{}
	}
	return &Downloader{
		client:   client,
		registry: registry,
		maxBytes: maxBytes,
		timeout:  timeout,
	}
}

// Acquire fetches the media behind result.DownloadURL into the registry.
// Any fetch problem yields a link artifact pointing at the remote URL
// instead; Acquire never fails.
func (d *Downloader) Acquire(ctx context.Context, result models.RemoteResult) models.Artifact {
	filename := result.Filename
	if filename == "" {
		filename = models.DefaultFilename
	}

	blob, err := d.fetch(ctx, result.DownloadURL, filename)
	if err != nil {
		log.WithError(err).WithField("url", result.DownloadURL).Info("Falling back to the remote link")
		return models.Artifact{
			Kind:           models.ArtifactLink,
			RemoteURL:      result.DownloadURL,
			Filename:       filename,
			FallbackReason: err.Error(),
		}
	}

	handle := d.registry.Put(blob)
	log.Debugf("Registered %s (%s) as %s", blob.Filename, helpers.BytesToSize(uint64(len(blob.Data))), handle)
	return models.Artifact{
		Kind:        models.ArtifactBlob,
		Handle:      handle,
		LocalURL:    d.registry.URL(handle),
		RemoteURL:   result.DownloadURL,
		Filename:    blob.Filename,
		ContentType: blob.ContentType,
		Size:        uint64(len(blob.Data)),
		Checksum:    helpers.Checksum(blob.Data),
	}
}

// Release frees the memory behind a blob artifact. Link artifacts are ignored.
func (d *Downloader) Release(artifact models.Artifact) {
	if artifact.Kind != models.ArtifactBlob {
		return
	}
	if !d.registry.Release(artifact.Handle) {
		log.Debugf("Blob %s already released", artifact.Handle)
	}
}

func (d *Downloader) fetch(ctx context.Context, url string, filename string) (Blob, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Blob{}, fmt.Errorf("%w: creating request for %s: %w", ErrHttpRequest, url, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Blob{}, fmt.Errorf("%w: performing request for %s: %w", ErrHttpRequest, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Blob{}, fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, resp.StatusCode, url)
	}
	if d.maxBytes > 0 && resp.ContentLength > d.maxBytes {
		return Blob{}, fmt.Errorf("%w: %s announced", ErrTooLarge, helpers.BytesToSize(uint64(resp.ContentLength)))
	}

	body := io.Reader(resp.Body)
	if d.maxBytes > 0 {
		body = io.LimitReader(resp.Body, d.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return Blob{}, fmt.Errorf("%w: reading body from %s: %w", ErrHttpRequest, url, err)
	}
	if d.maxBytes > 0 && int64(len(data)) > d.maxBytes {
		return Blob{}, fmt.Errorf("%w: body larger than %s", ErrTooLarge, helpers.BytesToSize(uint64(d.maxBytes)))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = http.DetectContentType(data)
	}

	return Blob{
		Data:        data,
		ContentType: contentType,
		Filename:    dispositionFilename(resp.Header.Get("Content-Disposition"), filename),
	}, nil
}

// dispositionFilename prefers the filename from a Content-Disposition header.
func dispositionFilename(contentDisposition string, fallback string) string {
	if contentDisposition == "" {
		return fallback
	}
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		log.WithError(err).Debugf("Could not parse Content-Disposition header: %s", contentDisposition)
		return fallback
	}
	if name := params["filename"]; name != "" {
		return name
	}
	return fallback
}

// Save writes a blob artifact into dir through a temporary file and returns
// the final path. An existing file with the same checksum is reused.
func (d *Downloader) Save(artifact models.Artifact, dir string) (string, error) {
	if artifact.Kind != models.ArtifactBlob {
		return "", ErrNotBlob
	}
	blob, ok := d.registry.Get(artifact.Handle)
	if !ok {
		return "", fmt.Errorf("%w: blob %s was released", ErrNotBlob, artifact.Handle)
	}

	if !helpers.CheckAndMakeDir(dir) {
		return "", fmt.Errorf("%w: failed to create target directory %s", ErrFileSystem, dir)
	}

	finalPath := filepath.Join(dir, helpers.SafeFilename(blob.Filename, models.DefaultFilename))
	if !insideDir(finalPath, dir) {
		return "", fmt.Errorf("%w: filename %q escapes %s", ErrFileSystem, blob.Filename, dir)
	}
	if info, err := os.Stat(finalPath); err == nil {
		if info.Mode().IsRegular() && helpers.VerifyFileChecksum(finalPath, artifact.Checksum) {
			log.Infof("Identical file already saved at %s", finalPath)
			return finalPath, nil
		}
		finalPath = uniquePath(finalPath)
	}

	tempFile, err := os.CreateTemp(dir, filepath.Base(finalPath)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: creating temporary file in %s: %w", ErrFileSystem, dir, err)
	}
	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil && !os.IsNotExist(removeErr) {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s", tempFile.Name())
			}
		}
	}()

	counter := &helpers.CounterWriter{Writer: tempFile}
	if _, err := counter.Write(blob.Data); err != nil {
		tempFile.Close()
		return "", fmt.Errorf("%w: writing temporary file %s: %w", ErrFileSystem, tempFile.Name(), err)
	}
	if err := tempFile.Close(); err != nil {
		return "", fmt.Errorf("%w: closing temp file %s: %w", ErrFileSystem, tempFile.Name(), err)
	}
	if err := os.Rename(tempFile.Name(), finalPath); err != nil {
		return "", fmt.Errorf("%w: renaming %s to %s: %w", ErrFileSystem, tempFile.Name(), finalPath, err)
	}
	shouldCleanupTemp = false

	log.Infof("Saved %s (%s)", finalPath, helpers.BytesToSize(counter.Total))
	return finalPath, nil
}

// insideDir reports whether path names an entry directly inside dir.
func insideDir(path, dir string) bool {
	return filepath.Dir(path) == filepath.Clean(dir)
}

// uniquePath appends -1, -2, ... before the extension until the path is free.
func uniquePath(path string) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
