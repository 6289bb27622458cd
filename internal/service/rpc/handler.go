// Package rpc is the message surface UI clients use to drive the proxy
// lifecycle, plus the cross-origin auth bridge.
package rpc

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"urproxy/internal/shared/logger"
	"urproxy/internal/shared/types"
)

var (
	ErrUnknownMessageType = errors.New("Unknown message type")
	ErrUnauthorizedOrigin = errors.New("Unauthorized origin")
	ErrNotConfigured      = errors.New("network service is not configured")
)

// ProxyController is the part of the lifecycle manager the RPC surface
// drives.
type ProxyController interface {
	Enable(ctx context.Context, cfg types.ProxyConfig) error
	Disable(ctx context.Context) error
	State() types.ProxyState
}

// Handler answers UI messages. Every outcome, failures included, is a
// types.Response.
type Handler struct {
	proxy     ProxyController
	connector *Connector
	log       zerolog.Logger
}

// NewHandler creates a handler. connector may be nil, in which case the
// network-service messages report ErrNotConfigured.
func NewHandler(proxy ProxyController, connector *Connector) *Handler {
	return &Handler{
		proxy:     proxy,
		connector: connector,
		log:       logger.WithComponent("RPC"),
	}
}

// Handle dispatches one message.
func (h *Handler) Handle(ctx context.Context, msg types.Message) types.Response {
	switch msg.Type {
	case types.MsgEnableVPN:
		if msg.Config == nil {
			return failure(errors.New("missing proxy config"))
		}
		if err := h.proxy.Enable(ctx, *msg.Config); err != nil {
			h.log.Error().Err(err).Msg("Failed to enable VPN.")
			return failure(err)
		}
		return types.Response{Success: true}

	case types.MsgDisableVPN:
		if err := h.proxy.Disable(ctx); err != nil {
			h.log.Error().Err(err).Msg("Failed to disable VPN.")
			return failure(err)
		}
		return types.Response{Success: true}

	case types.MsgGetVPNState:
		st := h.proxy.State()
		return types.Response{Success: true, State: &st}

	case types.MsgConnect:
		if h.connector == nil {
			return failure(ErrNotConfigured)
		}
		cfg, err := h.connector.Connect(ctx, msg.LocationID)
		if err != nil {
			h.log.Error().Err(err).Str("location", msg.LocationID).Msg("Connect failed.")
			return failure(err)
		}
		st := h.proxy.State()
		return types.Response{Success: true, State: &st, Data: map[string]string{"host": cfg.Host}}

	case types.MsgDisconnect:
		if h.connector == nil {
			return failure(ErrNotConfigured)
		}
		if err := h.connector.Disconnect(ctx); err != nil {
			return failure(err)
		}
		return types.Response{Success: true}

	case types.MsgGetLocations:
		if h.connector == nil {
			return failure(ErrNotConfigured)
		}
		locs, err := h.connector.Locations(ctx, msg.Query)
		if err != nil {
			return failure(err)
		}
		return types.Response{Success: true, Data: locs}

	default:
		h.log.Warn().Str("type", msg.Type).Msg("Unknown message type.")
		return failure(ErrUnknownMessageType)
	}
}

func failure(err error) types.Response {
	return types.Response{Success: false, Error: err.Error()}
}
