package main

import (
	"context"
	"log/slog"

	"github.com/rlink-protocol/rlink-go/pkg/packet"
	"github.com/rlink-protocol/rlink-go/pkg/session"
)

// Methods answered by the agent itself.
const (
	methodPing = "ping"
	methodPong = "pong"
)

// envelopeHandler logs inbound envelopes and answers pings. Everything
// else belongs to the command layer, which is not part of the agent core.
type envelopeHandler struct {
	logger *slog.Logger
}

func newEnvelopeHandler(logger *slog.Logger) *envelopeHandler {
	return &envelopeHandler{logger: logger}
}

func (h *envelopeHandler) HandlePacket(ctx context.Context, s *session.Session, p packet.Packet) error {
	env, ok := p.(*packet.Envelope)
	if !ok {
		h.logger.Debug("packet", "type", p.Type(), "size", len(p.Payload()))
		return nil
	}
	h.logger.Debug("envelope",
		"kind", env.Kind,
		"method", env.Method,
		"request_id", env.RequestID,
		"size", len(env.Body))

	if env.Method != methodPing {
		return nil
	}
	reply := &packet.Envelope{
		Kind:      env.Kind,
		RequestID: env.RequestID,
		Method:    methodPong,
		Body:      env.Body,
	}
	return s.Transmit(ctx, reply, nil)
}
