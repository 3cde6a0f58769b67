package httpapi

import (
	"encoding/json"
	"net/http"

	"chatcore.org/internal/message"
)

// handleMessageStream serves the room's live message window over
// Server-Sent Events. Each event carries the full opened window; the
// subscription coalesces, so a slow client sees the latest state rather
// than every intermediate change.
func (a *API) handleMessageStream(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	roomID := r.PathValue("id")
	if _, err := a.roomView(r.Context(), roomID, id.ID, id.IsAdmin()); err != nil {
		respondDomainError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan []message.Message, 1)
	dispose, err := a.messages.Watch(r.Context(), roomID, func(msgs []message.Message) {
		// Coalesce: replace any pending window with the latest one.
		for {
			select {
			case ch <- msgs:
				return
			default:
				select {
				case <-ch:
				default:
				}
			}
		}
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	defer dispose()

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msgs := <-ch:
			payload, err := json.Marshal(map[string]any{"messages": a.opened(msgs)})
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
