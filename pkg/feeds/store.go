// Package feeds ingests the normalized event stream and pushes it into the
// map composer. One websocket carries every domain; envelopes are typed and
// either replace a domain's collection or append to it.
package feeds

import (
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const seenTTL = 7 * 24 * time.Hour

// SeenStore remembers event ids across restarts so appended events are not
// re-delivered to the composer after a reconnect. Entries expire after a
// week; an id recycled later than that is treated as new, which only costs
// one redundant marker update.
type SeenStore struct {
	db    *badger.DB
	cache sync.Map
}

func OpenSeenStore(path string) (*SeenStore, error) {
	opts := badger.DefaultOptions(path)
	// Decrease logging verbosity
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &SeenStore{db: db}, nil
}

func (s *SeenStore) Close() error {
	return s.db.Close()
}

// Seen reports whether the id was marked before.
func (s *SeenStore) Seen(id string) (bool, error) {
	if _, ok := s.cache.Load(id); ok {
		return true, nil
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(id))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.cache.Store(id, struct{}{})
	return true, nil
}

// Mark records the ids as delivered.
func (s *SeenStore) Mark(ids []string) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, id := range ids {
		entry := badger.NewEntry([]byte(id), []byte{1}).WithTTL(seenTTL)
		if err := wb.SetEntry(entry); err != nil {
			return err
		}
		s.cache.Store(id, struct{}{})
	}
	return wb.Flush()
}
