package ics

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"coachcal/internal/config"
	appLog "coachcal/internal/log"
)

// Syncer refreshes the configured subscriptions: fetch, parse, import.
type Syncer struct {
	fetcher *Fetcher
	store   Store
	loc     *time.Location
	subs    []config.SubscriptionConfig

	// mu serializes Refresh; an import reads, then writes the store.
	mu sync.Mutex
	// imported holds the body hash of the last successful import per
	// subscription id.
	imported map[string][sha256.Size]byte
}

func NewSyncer(fetcher *Fetcher, store Store, loc *time.Location, subs []config.SubscriptionConfig) *Syncer {
	return &Syncer{
		fetcher:  fetcher,
		store:    store,
		loc:      loc,
		subs:     subs,
		imported: make(map[string][sha256.Size]byte),
	}
}

// Refresh imports every subscription once. A failing feed does not stop the
// others; all failures are joined into the returned error. Concurrent calls
// run one after the other.
func (s *Syncer) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, sub := range s.subs {
		if err := s.refreshOne(ctx, sub); err != nil {
			appLog.Error("ics subscription refresh failed", err, "id", sub.ID, "url", redactURL(sub.URL))
			errs = append(errs, fmt.Errorf("%s: %w", sub.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Syncer) refreshOne(ctx context.Context, sub config.SubscriptionConfig) error {
	src := Source{ID: sub.ID, URL: sub.URL}
	fetched, err := s.fetcher.FetchOne(ctx, src)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(fetched.Body)
	if last, ok := s.imported[sub.ID]; ok && last == sum {
		appLog.Debug("ics subscription unchanged", "id", sub.ID, "from_cache", fetched.FromCache)
		return nil
	}

	parsed, err := ParseICS(src, fetched.Body)
	if err != nil {
		return err
	}
	if _, err := Import(ctx, s.store, parsed, ImportConfig{
		Source:   src,
		UserID:   sub.UserID,
		Location: s.loc,
	}); err != nil {
		return err
	}
	s.imported[sub.ID] = sum
	return nil
}
