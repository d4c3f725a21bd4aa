package api

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// LoggingTransport wraps an http.RoundTripper to log request and response details.
type LoggingTransport struct {
	Transport http.RoundTripper
	logFile   *os.File
	mu        sync.Mutex
	writer    *bufio.Writer
}

// NewLoggingTransport opens logFilePath for appending and wraps transport.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", logFilePath, err)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &LoggingTransport{
		Transport: transport,
		logFile:   f,
		writer:    bufio.NewWriter(f),
	}, nil
}

// RoundTrip performs the request and records it. JSON and text bodies are
// logged in full, media bodies only by their headers.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	startTime := time.Now()

	reqDump, dumpErr := httputil.DumpRequestOut(req, true)
	resp, err := t.Transport.RoundTrip(req)
	duration := time.Since(startTime)

	var entry strings.Builder
	if dumpErr != nil {
		log.WithError(dumpErr).Debug("Failed to dump API request for logging")
		fmt.Fprintf(&entry, "--- Request (%s) ---\n%s %s\n", startTime.Format(time.RFC3339), req.Method, req.URL)
	} else {
		fmt.Fprintf(&entry, "--- Request (%s) ---\n%s\n", startTime.Format(time.RFC3339), reqDump)
	}

	if err != nil {
		fmt.Fprintf(&entry, "--- Response Error (Duration: %v) ---\n%s\n", duration, err)
	} else {
		contentType := resp.Header.Get("Content-Type")
		headerDump, _ := httputil.DumpResponse(resp, false)
		fmt.Fprintf(&entry, "--- Response (Duration: %v) ---\n%s", duration, headerDump)

		if isTextual(contentType) {
			bodyBytes, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			if readErr != nil {
				// The caller will see the same failure on its read.
				fmt.Fprintf(&entry, "(body read failed: %v)\n", readErr)
			} else {
				fmt.Fprintf(&entry, "--- Response Body (%s) ---\n%s\n", contentType, bodyBytes)
			}
		} else {
			fmt.Fprintf(&entry, "(body of type %q not logged)\n", contentType)
		}
	}

	t.writeLog(entry.String())
	return resp, err
}

func isTextual(contentType string) bool {
	return strings.HasPrefix(contentType, "application/json") || strings.HasPrefix(contentType, "text/")
}

func (t *LoggingTransport) writeLog(logString string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.writer.WriteString(logString + "\n"); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to API log file: %v\n", err)
		return
	}
	if err := t.writer.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error flushing API log file: %v\n", err)
	}
}

// Close flushes and closes the underlying log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	errFlush := t.writer.Flush()
	errClose := t.logFile.Close()
	if errFlush != nil {
		return fmt.Errorf("failed to flush API log buffer: %w", errFlush)
	}
	return errClose
}
