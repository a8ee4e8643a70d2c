// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent wraps the go-qbittorrent client with per-instance
// pooling, connection backoff, and tracker health classification.
package qbittorrent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"
)

// Client wraps a logged-in qbt.Client for one instance and tracks its
// health state.
type Client struct {
	*qbt.Client
	instanceID      int
	webAPIVersion   string
	supportsSetTags bool
	lastHealthCheck time.Time
	isHealthy       bool
	mu              sync.RWMutex
}

// minSetTagsVersion is the first Web API version with the setTags endpoint.
var minSetTagsVersion = semver.MustParse("2.11.4")

func NewClient(ctx context.Context, instanceID int, host, username, password string, opts ...ClientOption) (*Client, error) {
	cfg := qbt.Config{
		Host:     host,
		Username: username,
		Password: password,
		Timeout:  30,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	qbtClient := qbt.NewClient(cfg)

	if err := qbtClient.LoginCtx(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to qBittorrent instance: %w", err)
	}

	webAPIVersion, err := qbtClient.GetWebAPIVersionCtx(ctx)
	if err != nil {
		webAPIVersion = ""
	}

	supportsSetTags := false
	if webAPIVersion != "" {
		if v, err := semver.NewVersion(webAPIVersion); err == nil {
			supportsSetTags = !v.LessThan(minSetTagsVersion)
		}
	}

	client := &Client{
		Client:          qbtClient,
		instanceID:      instanceID,
		webAPIVersion:   webAPIVersion,
		supportsSetTags: supportsSetTags,
		lastHealthCheck: time.Now(),
		isHealthy:       true,
	}

	log.Debug().
		Int("instanceID", instanceID).
		Str("host", host).
		Str("webAPIVersion", webAPIVersion).
		Bool("supportsSetTags", supportsSetTags).
		Msg("qBittorrent client connected")

	return client, nil
}

// ClientOption adjusts the underlying qbt.Config before connecting.
type ClientOption func(*qbt.Config)

func WithBasicAuth(username, password string) ClientOption {
	return func(cfg *qbt.Config) {
		cfg.BasicUser = username
		cfg.BasicPass = password
	}
}

func WithTLSSkipVerify() ClientOption {
	return func(cfg *qbt.Config) {
		cfg.TLSSkipVerify = true
	}
}

func (c *Client) InstanceID() int {
	return c.instanceID
}

func (c *Client) WebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

// SupportsSetTags reports whether the instance can replace a torrent's
// tag set in one call instead of remove-then-add.
func (c *Client) SupportsSetTags() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsSetTags
}

func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isHealthy
}

func (c *Client) LastHealthCheck() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHealthCheck
}

// HealthCheck probes the Web API, re-authenticating once if the session
// expired.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.GetWebAPIVersionCtx(ctx); err != nil {
		if loginErr := c.LoginCtx(ctx); loginErr != nil {
			c.markHealth(false)
			return fmt.Errorf("health check failed: login error: %w", loginErr)
		}
		if _, err = c.GetWebAPIVersionCtx(ctx); err != nil {
			c.markHealth(false)
			return fmt.Errorf("health check failed: api error: %w", err)
		}
	}

	c.markHealth(true)
	return nil
}

func (c *Client) markHealth(healthy bool) {
	c.mu.Lock()
	c.isHealthy = healthy
	c.lastHealthCheck = time.Now()
	c.mu.Unlock()
}

// FreeSpace returns the free bytes on the instance's default save
// location, taken from the sync maindata server state.
func (c *Client) FreeSpace(ctx context.Context) (int64, error) {
	mainData, err := c.SyncMainDataCtx(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch free space: %w", err)
	}
	return mainData.ServerState.FreeSpaceOnDisk, nil
}
