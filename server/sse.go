package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// handleSSE handles GET /events.
//
// On connect it replays the retained feed (or everything after
// Last-Event-ID on reconnection), then streams new entries as they arrive.
// Statistics entries are skipped unless ?stats=1 is given.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var fromSeq uint64
	if lastID := r.Header.Get("Last-Event-ID"); lastID != "" {
		if seq, err := strconv.ParseUint(lastID, 10, 64); err == nil {
			fromSeq = seq
		}
	}
	withStats := r.URL.Query().Get("stats") == "1"

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range s.ctrl.Feed().Subscribe(r.Context(), fromSeq) {
		if event.Type == FeedStatistics && !withStats {
			continue
		}
		if err := writeSSEEvent(w, flusher, event); err != nil {
			return // client disconnected
		}
	}
}

// writeSSEEvent formats and flushes a single SSE frame:
//
//	id: <seq>
//	event: <type>
//	data: <json>
//	(blank line)
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event FeedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n",
		event.Seq, event.Type, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
