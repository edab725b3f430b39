package status

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jakubmeysner/kobweb/internal/logging"
	"github.com/jakubmeysner/kobweb/internal/metrics"
)

const defaultPollInterval = 300 * time.Millisecond

// Feed streams the server globals to dev clients as server-sent events.
// Each tick writes a keepalive comment, then a "version" event and/or a
// "status" event when the corresponding global moved since the last
// transmission, then flushes. Write failures end the stream quietly; the
// client owns reconnection.
type Feed struct {
	globals  *Globals
	interval time.Duration
	metrics  *metrics.Metrics
}

// statusEvent is the wire form of a status transmission. A cleared status
// is sent as a null text so the client can dismiss its overlay.
type statusEvent struct {
	Text    *string `json:"text"`
	IsError bool    `json:"isError"`
}

// NewFeed creates a Feed polling at the standard 300ms interval.
func NewFeed(globals *Globals) *Feed {
	return &Feed{globals: globals, interval: defaultPollInterval}
}

// SetMetrics installs the client gauge. A nil Metrics keeps it a no-op.
func (f *Feed) SetMetrics(mt *metrics.Metrics) {
	f.metrics = mt
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	logging.Debug("status feed client connected", zap.String("remote", r.RemoteAddr))
	f.metrics.StatusFeedOpened()
	defer f.metrics.StatusFeedClosed()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	// Start from values no snapshot can hold so the first tick always
	// reports the current version.
	lastVersion := -1
	var lastStatus *Message
	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
			return
		}

		snap := f.globals.Snapshot()

		if snap.Version != lastVersion {
			if _, err := fmt.Fprintf(w, "event: version\ndata: %d\n\n", snap.Version); err != nil {
				return
			}
			lastVersion = snap.Version
		}

		if !sameStatus(snap.Status, lastStatus) {
			ev := statusEvent{}
			if snap.Status != nil {
				ev.Text = &snap.Status.Text
				ev.IsError = snap.Status.IsError
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", data); err != nil {
				return
			}
			lastStatus = snap.Status
		}

		flusher.Flush()
	}
}

func sameStatus(a, b *Message) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
