package helpers

import (
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// Checksum returns the lowercase hex BLAKE3-256 digest of data.
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyFileChecksum reports whether the file at path hashes to expected
// (hex, case-insensitive).
func VerifyFileChecksum(path string, expected string) bool {
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warnf("Error opening %s for checksum", path)
		}
		return false
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		log.WithError(err).Warnf("Error hashing %s", path)
		return false
	}
	calculated := hex.EncodeToString(hasher.Sum(nil))
	return strings.EqualFold(calculated, strings.TrimSpace(expected))
}

// CounterWriter tracks the number of bytes written to the underlying writer.
type CounterWriter struct {
	Total  uint64
	Writer io.Writer
}

// Write implements the io.Writer interface for CounterWriter.
func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += uint64(n)
	return n, err
}

// BytesToSize converts a byte count into a human-readable string (KB, MB, GB, etc.).
func BytesToSize(bytes uint64) string {
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	if bytes == 0 {
		return "0B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	return fmt.Sprintf("%.2f%s", float64(bytes)/math.Pow(1024, float64(i)), sizes[i])
}

// ConvertToSlug converts a string into a filesystem-friendly slug.
func ConvertToSlug(str string) string {
	str = strings.ReplaceAll(str, " ", "_")
	str = strings.ReplaceAll(str, ":", "-")
	str = strings.ToLower(str)

	allowedChars := "0123456789abcdefghijklmnopqrstuvwxyz._-"

	var filtered strings.Builder
	for _, ch := range str {
		if strings.ContainsRune(allowedChars, ch) {
			filtered.WriteRune(ch)
		}
	}
	str = filtered.String()

	for strings.Contains(str, "--") {
		str = strings.ReplaceAll(str, "--", "-")
	}
	for strings.Contains(str, "__") {
		str = strings.ReplaceAll(str, "__", "_")
	}
	str = strings.ReplaceAll(str, "-_", "-")
	str = strings.ReplaceAll(str, "_-", "-")

	return strings.Trim(str, "_-")
}

// SafeFilename slugs the base of name while keeping its extension. Names
// that slug to nothing (titles in non-Latin scripts, for example) become
// fallback with the same extension.
func SafeFilename(name string, fallback string) string {
	stem := filepath.Base(name)
	ext := strings.ToLower(filepath.Ext(stem))
	if len(ext) < 2 || len(ext) > 8 || ConvertToSlug(ext) != ext {
		ext = ""
	} else {
		stem = strings.TrimSuffix(stem, filepath.Ext(stem))
	}
	base := ConvertToSlug(stem)
	if strings.Trim(base, ".") == "" {
		fbExt := filepath.Ext(fallback)
		base = strings.TrimSuffix(fallback, fbExt)
		if ext == "" {
			ext = fbExt
		}
	}
	return base + ext
}

// CheckAndMakeDir ensures a directory exists, creating it if necessary.
func CheckAndMakeDir(dir string) bool {
	if err := os.MkdirAll(dir, 0700); err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return false
	}
	return true
}
