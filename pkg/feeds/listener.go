package feeds

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/situroom/situmap/pkg/escalation"
	"github.com/situroom/situmap/pkg/mapengine"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second

	// maxPerDomain caps how many appended records accumulate per domain
	// before the oldest are dropped.
	maxPerDomain = 2000
)

type envelope struct {
	Type     string                  `json:"type"`
	Domain   string                  `json:"domain"`
	Records  []mapengine.EventRecord `json:"records"`
	Hotspots []mapengine.Hotspot     `json:"hotspots"`
	Items    []escalation.NewsItem   `json:"items"`
}

// Listener consumes one multiplexed event websocket and feeds the composer.
// Snapshot envelopes replace a domain wholesale; append envelopes accumulate
// into a capped rolling buffer, deduplicated against the seen store.
type Listener struct {
	url      string
	composer *mapengine.Composer
	seen     *SeenStore // optional
	logger   *slog.Logger

	mu      sync.Mutex
	buffers map[mapengine.Domain][]mapengine.EventRecord
}

func NewListener(url string, composer *mapengine.Composer, seen *SeenStore, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		url:      url,
		composer: composer,
		seen:     seen,
		logger:   logger,
		buffers:  make(map[mapengine.Domain][]mapengine.EventRecord),
	}
}

// Listen dials the feed and processes messages until the context is
// canceled, reconnecting with capped exponential backoff.
func (l *Listener) Listen(ctx context.Context) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		l.logger.Info("connecting to event feed", "url", l.url)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
		if err != nil {
			l.logger.Warn("feed dial failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff

		// The watcher unblocks the read on cancellation and exits with
		// this connection, so a flapping feed leaves no goroutines behind.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				close(done)
				conn.Close()
				if ctx.Err() != nil {
					return
				}
				l.logger.Warn("feed read failed, reconnecting", "error", err)
				break
			}
			l.handle(message)
		}
	}
}

// handle processes one raw envelope. Split out from the socket loop so the
// dispatch logic is testable without a server.
func (l *Listener) handle(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		l.logger.Warn("dropping malformed feed message", "error", err)
		return
	}

	switch env.Type {
	case "snapshot":
		domain := mapengine.Domain(env.Domain)
		records := assignIDs(env.Records)
		l.mu.Lock()
		l.buffers[domain] = records
		l.mu.Unlock()
		l.composer.SetData(domain, records)

	case "append":
		domain := mapengine.Domain(env.Domain)
		fresh := l.filterSeen(assignIDs(env.Records))
		if len(fresh) == 0 {
			return
		}
		l.mu.Lock()
		buf := append(l.buffers[domain], fresh...)
		if len(buf) > maxPerDomain {
			buf = buf[len(buf)-maxPerDomain:]
		}
		l.buffers[domain] = buf
		snapshot := make([]mapengine.EventRecord, len(buf))
		copy(snapshot, buf)
		l.mu.Unlock()
		l.composer.SetData(domain, snapshot)

	case "hotspots":
		l.composer.SetHotspots(env.Hotspots)

	case "news":
		l.composer.RefreshEscalation(env.Items)

	default:
		l.logger.Debug("ignoring feed message", "type", env.Type)
	}
}

// filterSeen drops ids the store already delivered and marks the rest.
func (l *Listener) filterSeen(records []mapengine.EventRecord) []mapengine.EventRecord {
	if l.seen == nil {
		return records
	}
	fresh := records[:0]
	var ids []string
	for _, rec := range records {
		seen, err := l.seen.Seen(rec.ID)
		if err != nil {
			l.logger.Warn("seen store read failed", "error", err)
		}
		if seen {
			continue
		}
		fresh = append(fresh, rec)
		ids = append(ids, rec.ID)
	}
	if len(ids) > 0 {
		if err := l.seen.Mark(ids); err != nil {
			l.logger.Warn("seen store write failed", "error", err)
		}
	}
	return fresh
}

// assignIDs fills in ids for feeds that omit them, so picking and
// deduplication always have a stable key.
func assignIDs(records []mapengine.EventRecord) []mapengine.EventRecord {
	for i := range records {
		if records[i].ID == "" {
			records[i].ID = uuid.NewString()
		}
	}
	return records
}
