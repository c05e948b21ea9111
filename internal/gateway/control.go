package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

type MessageType string

const (
	MsgSkipWaiting    MessageType = "SKIP_WAITING"
	MsgReloadManifest MessageType = "RELOAD_MANIFEST"
	MsgClaimClients   MessageType = "CLAIM_CLIENTS"
	MsgPing           MessageType = "PING"
)

// Message is one control-channel message from a page context. Delivery
// is at-most-once per send and every message is idempotent to
// re-delivery.
type Message struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"clientId,omitempty"`
}

type Reply struct {
	Type           string `json:"type"`
	State          string `json:"state"`
	ManifestLoaded bool   `json:"manifestLoaded"`
	Controlled     bool   `json:"controlled"`
}

// Control applies one control message and returns the reply. These
// exist so the embedding page can drive lifecycle transitions
// deterministically instead of waiting on ambient timing.
func (g *Gateway) Control(ctx context.Context, msg Message) Reply {
	var clientID uuid.UUID
	if msg.ClientID != "" {
		if id, err := uuid.Parse(msg.ClientID); err == nil {
			clientID = id
			g.RegisterClient(id)
		}
	}
	switch msg.Type {
	case MsgSkipWaiting:
		g.Activate(ctx)
	case MsgReloadManifest:
		g.loader.Invalidate()
		go func() {
			if _, err := g.loader.Ensure(context.WithoutCancel(ctx)); err != nil {
				g.log.Warn().Err(err).Msg("Eager manifest reload failed")
			}
		}()
	case MsgClaimClients:
		g.claimClients()
	case MsgPing:
		// State and manifest status are attached to every reply below.
	}
	return Reply{
		Type:           "PONG",
		State:          g.State().String(),
		ManifestLoaded: g.ManifestLoaded(),
		Controlled:     clientID != uuid.Nil && g.Controls(clientID),
	}
}

func (g *Gateway) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "malformed control message", http.StatusBadRequest)
		return
	}
	reply := g.Control(r.Context(), msg)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		g.log.Debug().Err(err).Msg("Failed to write control reply")
	}
}
