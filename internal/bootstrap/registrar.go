package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/tanq16/splitwire/internal/gateway"
	"github.com/tanq16/splitwire/internal/utils"
)

// Registrar is the page context's view of the interception layer. The
// production implementation speaks the HTTP control channel; tests
// inject fakes to simulate lifecycle races.
type Registrar interface {
	Register(ctx context.Context) error
	Send(ctx context.Context, msg gateway.Message) (gateway.Reply, error)
}

// LocalRegistrar drives an in-process gateway, used when the page
// context and the gateway share a binary.
type LocalRegistrar struct {
	gw       *gateway.Gateway
	clientID uuid.UUID
}

func NewLocalRegistrar(gw *gateway.Gateway, clientID uuid.UUID) *LocalRegistrar {
	return &LocalRegistrar{gw: gw, clientID: clientID}
}

func (l *LocalRegistrar) Register(ctx context.Context) error {
	l.gw.RegisterClient(l.clientID)
	l.gw.Install(ctx)
	return nil
}

func (l *LocalRegistrar) Send(ctx context.Context, msg gateway.Message) (gateway.Reply, error) {
	if msg.ClientID == "" {
		msg.ClientID = l.clientID.String()
	}
	return l.gw.Control(ctx, msg), nil
}

// HTTPRegistrar speaks the control endpoint of an already-running
// gateway process.
type HTTPRegistrar struct {
	client   utils.HTTPDoer
	base     string
	clientID uuid.UUID
}

func NewHTTPRegistrar(client utils.HTTPDoer, gatewayBase string, clientID uuid.UUID) *HTTPRegistrar {
	return &HTTPRegistrar{client: client, base: gatewayBase, clientID: clientID}
}

// Register announces the client to the gateway. The gateway process is
// external, so registration is a first contact over the control
// channel.
func (h *HTTPRegistrar) Register(ctx context.Context) error {
	_, err := h.Send(ctx, gateway.Message{Type: gateway.MsgPing})
	return err
}

func (h *HTTPRegistrar) Send(ctx context.Context, msg gateway.Message) (gateway.Reply, error) {
	if msg.ClientID == "" {
		msg.ClientID = h.clientID.String()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return gateway.Reply{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+gateway.ControlPath, bytes.NewReader(payload))
	if err != nil {
		return gateway.Reply{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return gateway.Reply{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return gateway.Reply{}, fmt.Errorf("control channel returned status %d", resp.StatusCode)
	}
	var reply gateway.Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return gateway.Reply{}, err
	}
	return reply, nil
}
