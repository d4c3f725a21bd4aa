package index

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/M0usa391/video-saver-tik-tok/internal/helpers"
	"github.com/M0usa391/video-saver-tik-tok/internal/models"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

const defaultIndexPath = "history.bleve"

// Item is the indexed form of a history entry. Fields are searchable by
// their JSON names, e.g. '+name:cat' or 'sourceUrl:tiktok'.
type Item struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	SourceURL   string    `json:"sourceUrl"`
	DownloadURL string    `json:"downloadUrl"`
	CreatedAt   time.Time `json:"createdAt"`
	Position    int       `json:"position"` // Index in the history list at indexing time
}

// ItemID derives a stable document ID from an entry's creation time and
// source link.
func ItemID(entry models.HistoryEntry) string {
	return "h_" + strconv.FormatInt(entry.CreatedAt.UnixNano(), 10) + "_" + helpers.Checksum([]byte(entry.SourceURL))[:12]
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	idx, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Debugf("Creating new index at: %s", indexPath)
		idx, err = bleve.New(indexPath, bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("error creating index at %s: %w", indexPath, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("error opening index at %s: %w", indexPath, err)
	}
	return idx, nil
}

// HistoryIndex mirrors the history list into a Bleve index.
type HistoryIndex struct {
	idx bleve.Index
}

func NewHistoryIndex(idx bleve.Index) *HistoryIndex {
	return &HistoryIndex{idx: idx}
}

// Reindex makes the index contain exactly entries.
func (h *HistoryIndex) Reindex(entries []models.HistoryEntry) error {
	existing, err := h.allIDs()
	if err != nil {
		return err
	}

	batch := h.idx.NewBatch()
	keep := make(map[string]bool, len(entries))
	for pos, entry := range entries {
		id := ItemID(entry)
		if keep[id] {
			// Same link saved twice within one clock tick.
			id += "_" + strconv.Itoa(pos)
		}
		item := Item{
			ID:          id,
			Name:        entry.DisplayName,
			SourceURL:   entry.SourceURL,
			DownloadURL: entry.DownloadURL,
			CreatedAt:   entry.CreatedAt,
			Position:    pos,
		}
		keep[item.ID] = true
		if err := batch.Index(item.ID, item); err != nil {
			return fmt.Errorf("error indexing %s: %w", item.ID, err)
		}
	}
	for _, id := range existing {
		if !keep[id] {
			batch.Delete(id)
		}
	}

	if err := h.idx.Batch(batch); err != nil {
		return fmt.Errorf("error applying index batch: %w", err)
	}
	log.Debugf("History index updated: %d entries", len(entries))
	return nil
}

func (h *HistoryIndex) allIDs() ([]string, error) {
	count, err := h.idx.DocCount()
	if err != nil {
		return nil, fmt.Errorf("error counting indexed documents: %w", err)
	}
	if count == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	res, err := h.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("error listing indexed documents: %w", err)
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Search runs a query-string search and returns all stored fields of the hits.
func (h *HistoryIndex) Search(query string) (*bleve.SearchResult, error) {
	return SearchIndex(h.idx, query)
}

// Close closes the underlying index.
func (h *HistoryIndex) Close() error {
	return h.idx.Close()
}

// SearchIndex performs a search query against the index.
func SearchIndex(idx bleve.Index, query string) (*bleve.SearchResult, error) {
	searchRequest := bleve.NewSearchRequest(bleve.NewQueryStringQuery(query))
	searchRequest.Fields = []string{"*"}
	searchResults, err := idx.Search(searchRequest)
	if err != nil {
		return nil, err
	}
	return searchResults, nil
}

// DeleteIndex removes the index directory. Use with caution!
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Infof("Deleting index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}
