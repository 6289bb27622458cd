package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"urproxy/internal/sdk"
	"urproxy/internal/shared/logger"
	"urproxy/internal/shared/storage"
	"urproxy/internal/shared/types"
)

// NetworkAPI is the subset of the network service client Connector uses.
type NetworkAPI interface {
	AuthNetworkClient(ctx context.Context, jwt string, args sdk.AuthClientArgs) (*sdk.AuthClientResult, error)
	RemoveNetworkClient(ctx context.Context, jwt, clientID string) error
	FindLocations(ctx context.Context, jwt, query string) (*sdk.FindLocationsResult, error)
}

// Connector turns a stored network JWT into an enabled proxy: it asks the
// network service for a client-scoped grant and hands the resulting config
// to the lifecycle manager.
type Connector struct {
	api   NetworkAPI
	store storage.Store
	proxy ProxyController
	log   zerolog.Logger
}

func NewConnector(api NetworkAPI, store storage.Store, proxy ProxyController) *Connector {
	return &Connector{
		api:   api,
		store: store,
		proxy: proxy,
		log:   logger.WithComponent("RPC/Connector"),
	}
}

// Connect enables a proxy for locationID. An empty id reuses the last
// chosen location, if any.
func (c *Connector) Connect(ctx context.Context, locationID string) (*types.ProxyConfig, error) {
	jwt, err := c.get(ctx, storage.KeyJWT)
	if err != nil {
		return nil, err
	}
	if jwt == "" {
		return nil, sdk.ErrNoJWT
	}
	if locationID == "" {
		if locationID, err = c.get(ctx, storage.KeyConnectLocation); err != nil {
			return nil, err
		}
	}
	clientID, err := c.clientID(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.api.AuthNetworkClient(ctx, jwt, sdk.AuthClientArgs{
		Description: "urproxy",
		DeviceSpec:  sdk.DeviceSpec(clientID),
		ProxyConfig: &sdk.ProxyConfigReq{EnableHTTP: true, LocationID: locationID},
	})
	if err != nil {
		return nil, err
	}
	cfg, err := sdk.ProxyConfigFromAuth(*res.ProxyConfigResult)
	if err != nil {
		return nil, err
	}

	if err := c.proxy.Enable(ctx, cfg); err != nil {
		// the grant is useless without a live proxy
		if rmErr := c.api.RemoveNetworkClient(ctx, jwt, res.ClientID); rmErr != nil {
			c.log.Warn().Err(rmErr).Msg("Failed to remove unused network client.")
		}
		return nil, err
	}

	// Bookkeeping after the proxy is live; failures here do not undo it.
	for key, value := range map[string]string{
		storage.KeyConnectLocation: locationID,
		storage.KeyClientJWT:       res.ByClientJWT,
		storage.KeyNetworkClientID: res.ClientID,
	} {
		if value == "" {
			continue
		}
		if err := c.store.Set(ctx, key, value); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("Failed to persist connect bookkeeping.")
		}
	}
	c.log.Info().Str("location", locationID).Str("host", cfg.Host).Msg("Connected.")
	return &cfg, nil
}

// Disconnect disables the proxy, then revokes the network client. A failed
// revoke is logged only: the host is already direct.
func (c *Connector) Disconnect(ctx context.Context) error {
	if err := c.proxy.Disable(ctx); err != nil {
		return err
	}

	clientID, err := c.get(ctx, storage.KeyNetworkClientID)
	if err != nil || clientID == "" {
		return nil
	}
	jwt, _ := c.get(ctx, storage.KeyJWT)
	if err := c.api.RemoveNetworkClient(ctx, jwt, clientID); err != nil {
		c.log.Warn().Err(err).Str("client_id", clientID).Msg("Failed to remove network client.")
		return nil
	}
	for _, key := range []string{storage.KeyNetworkClientID, storage.KeyClientJWT} {
		if err := c.store.Remove(ctx, key); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("Failed to clear client bookkeeping.")
		}
	}
	return nil
}

// Locations queries the directory with the stored JWT.
func (c *Connector) Locations(ctx context.Context, query string) ([]sdk.Location, error) {
	jwt, err := c.get(ctx, storage.KeyJWT)
	if err != nil {
		return nil, err
	}
	res, err := c.api.FindLocations(ctx, jwt, query)
	if err != nil {
		return nil, err
	}
	return res.Locations, nil
}

// clientID returns the install's device id, creating it on first use.
func (c *Connector) clientID(ctx context.Context) (string, error) {
	id, err := c.get(ctx, storage.KeyClientID)
	if err != nil || id != "" {
		return id, err
	}
	id = uuid.New().String()
	if err := c.store.Set(ctx, storage.KeyClientID, id); err != nil {
		return "", fmt.Errorf("failed to persist client id: %w", err)
	}
	return id, nil
}

// get reads key, mapping a missing key to "".
func (c *Connector) get(ctx context.Context, key string) (string, error) {
	v, err := c.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	return v, err
}
