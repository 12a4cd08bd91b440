package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Events streams committed authorization changes as Server-Sent Events.
// ?member_id= narrows the stream to one member.
func (a *API) Events(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}

	rc := http.NewResponseController(w)
	// The server write timeout would otherwise end the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	memberID := r.URL.Query().Get("member_id")
	ch := a.events.Subscribe(ctx)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	if err := rc.Flush(); err != nil {
		return
	}

	for event := range ch {
		if !event.Matches(memberID) {
			continue
		}
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("event: " + event.Type + "\ndata: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
