package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sandeepkv93/clinic-survey-relay/internal/http/response"
	"github.com/sandeepkv93/clinic-survey-relay/internal/service"
)

// ChangesHandler streams collection-changed events to the clinic UI as
// server-sent events. Each event only says "refetch"; payloads are not
// pushed.
type ChangesHandler struct {
	notifier  *service.ChangeNotifier
	heartbeat time.Duration
}

func NewChangesHandler(notifier *service.ChangeNotifier, heartbeat time.Duration) *ChangesHandler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &ChangesHandler{notifier: notifier, heartbeat: heartbeat}
}

func (h *ChangesHandler) Stream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "streaming is not supported", nil)
		return
	}
	_ = rc.SetWriteDeadline(time.Time{})

	events, cancel := h.notifier.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	_ = rc.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
