package cmd

import (
	"fmt"

	"github.com/M0usa391/video-saver-tik-tok/index"
	"github.com/M0usa391/video-saver-tik-tok/internal/database"
	"github.com/M0usa391/video-saver-tik-tok/internal/history"
	"github.com/M0usa391/video-saver-tik-tok/internal/models"

	log "github.com/sirupsen/logrus"
)

// historySession bundles the history store with the resources behind it.
type historySession struct {
	Store *history.Store
	Index *index.HistoryIndex
	db    *database.DB
}

// openHistory opens the database and search index named in cfg and loads the
// persisted history. A search index that cannot be opened is logged and
// skipped; the history itself still works.
func openHistory(cfg models.Config) (*historySession, error) {
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("error opening database at %s: %w", cfg.DatabasePath, err)
	}

	store := history.NewStore(db, database.ErrNotFound, cfg.HistoryCapacity)
	if err := store.Load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error loading history: %w", err)
	}

	s := &historySession{Store: store, db: db}

	idx, err := index.OpenOrCreateIndex(cfg.BleveIndexPath)
	if err != nil {
		log.WithError(err).Warn("History search index unavailable")
		return s, nil
	}
	s.Index = index.NewHistoryIndex(idx)
	// The index may lag behind if a previous run could not open it.
	if err := s.Index.Reindex(store.Entries()); err != nil {
		log.WithError(err).Warn("Failed to refresh history search index")
	}
	store.SetIndexer(s.Index)
	return s, nil
}

func (s *historySession) Close() {
	if s.Index != nil {
		if err := s.Index.Close(); err != nil {
			log.WithError(err).Warn("Error closing history search index")
		}
	}
	if err := s.db.Close(); err != nil {
		log.WithError(err).Warn("Error closing database")
	}
}
