// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrules/internal/models"
)

var ErrInstanceInBackoff = errors.New("instance is in connection backoff")

// failureInfo tracks consecutive connection failures for one instance.
type failureInfo struct {
	consecutiveFailures int
	lastFailure         time.Time
	nextRetry           time.Time
}

// ClientPool hands out one connected Client per instance, creating them
// on demand from stored credentials. Failed connections back off, with a
// much longer window when the failure looks like an IP ban or rate limit
// so repeated logins don't make it worse.
type ClientPool struct {
	instanceStore  *models.InstanceStore
	clients        map[int]*Client
	failureTracker map[int]*failureInfo
	mu             sync.RWMutex
}

func NewClientPool(instanceStore *models.InstanceStore) *ClientPool {
	return &ClientPool{
		instanceStore:  instanceStore,
		clients:        make(map[int]*Client),
		failureTracker: make(map[int]*failureInfo),
	}
}

// Peek returns the pooled client for the instance without connecting.
func (p *ClientPool) Peek(instanceID int) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	client, ok := p.clients[instanceID]
	return client, ok
}

// GetClient returns the pooled client for the instance, connecting if
// needed. Instances in backoff fail fast with ErrInstanceInBackoff.
func (p *ClientPool) GetClient(ctx context.Context, instanceID int) (*Client, error) {
	p.mu.RLock()
	client, ok := p.clients[instanceID]
	p.mu.RUnlock()
	if ok {
		return client, nil
	}

	if p.isInBackoff(instanceID) {
		return nil, errors.Wrapf(ErrInstanceInBackoff, "instance %d", instanceID)
	}

	client, err := p.connect(ctx, instanceID)
	if err != nil {
		p.trackFailure(instanceID, err)
		return nil, err
	}

	p.resetFailureTracking(instanceID)

	p.mu.Lock()
	// Another goroutine may have connected while we were logging in.
	if existing, ok := p.clients[instanceID]; ok {
		p.mu.Unlock()
		return existing, nil
	}
	p.clients[instanceID] = client
	p.mu.Unlock()

	return client, nil
}

func (p *ClientPool) connect(ctx context.Context, instanceID int) (*Client, error) {
	instance, err := p.instanceStore.Get(ctx, instanceID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load instance %d", instanceID)
	}

	password, basicPassword, err := p.instanceStore.Credentials(instance)
	if err != nil {
		return nil, err
	}

	var opts []ClientOption
	if instance.BasicUsername != nil && *instance.BasicUsername != "" {
		basicPass := ""
		if basicPassword != nil {
			basicPass = *basicPassword
		}
		opts = append(opts, WithBasicAuth(*instance.BasicUsername, basicPass))
	}
	if instance.TLSSkipVerify {
		opts = append(opts, WithTLSSkipVerify())
	}

	var client *Client
	err = retry.Do(
		func() error {
			var connErr error
			client, connErr = NewClient(ctx, instanceID, instance.Host, instance.Username, password, opts...)
			return connErr
		},
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// Retrying into a ban only extends it.
			return !p.isBanError(err)
		}),
	)
	if err != nil {
		return nil, err
	}

	if markErr := p.instanceStore.MarkConnected(ctx, instanceID, true); markErr != nil {
		log.Warn().Err(markErr).Int("instanceID", instanceID).Msg("failed to record connection time")
	}

	return client, nil
}

// RemoveClient drops the pooled client, forcing a reconnect on next use.
func (p *ClientPool) RemoveClient(instanceID int) {
	p.mu.Lock()
	delete(p.clients, instanceID)
	p.mu.Unlock()
}

func (p *ClientPool) Close() {
	p.mu.Lock()
	p.clients = make(map[int]*Client)
	p.failureTracker = make(map[int]*failureInfo)
	p.mu.Unlock()
}

// HealthCheckAll probes every pooled client, evicting the ones that fail
// so the next access reconnects.
func (p *ClientPool) HealthCheckAll(ctx context.Context) {
	p.mu.RLock()
	clients := make(map[int]*Client, len(p.clients))
	for id, client := range p.clients {
		clients[id] = client
	}
	p.mu.RUnlock()

	for id, client := range clients {
		if err := client.HealthCheck(ctx); err != nil {
			log.Warn().Err(err).Int("instanceID", id).Msg("instance health check failed, evicting client")
			p.RemoveClient(id)
			if markErr := p.instanceStore.MarkConnected(ctx, id, false); markErr != nil {
				log.Warn().Err(markErr).Int("instanceID", id).Msg("failed to record connection loss")
			}
		}
	}
}

// banPatterns are substrings of qBittorrent responses that indicate an
// IP ban or rate limit rather than a transient connection problem.
var banPatterns = []string{
	"ip is banned",
	"too many failed login attempts",
	"rate limit",
	"403",
	"forbidden",
}

func (p *ClientPool) isBanError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range banPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

const (
	shortBackoff   = 30 * time.Second
	banBackoff     = 5 * time.Minute
	maxBackoff     = 30 * time.Minute
	backoffPerFail = 30 * time.Second
)

func (p *ClientPool) trackFailure(instanceID int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := p.failureTracker[instanceID]
	if info == nil {
		info = &failureInfo{}
		p.failureTracker[instanceID] = info
	}
	info.consecutiveFailures++
	info.lastFailure = time.Now()

	backoff := shortBackoff + time.Duration(info.consecutiveFailures-1)*backoffPerFail
	if p.isBanError(err) {
		backoff = banBackoff * time.Duration(info.consecutiveFailures)
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	info.nextRetry = time.Now().Add(backoff)

	log.Warn().
		Err(err).
		Int("instanceID", instanceID).
		Int("consecutiveFailures", info.consecutiveFailures).
		Dur("backoff", backoff).
		Msg("connection failure, backing off")
}

func (p *ClientPool) isInBackoff(instanceID int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info, ok := p.failureTracker[instanceID]
	return ok && time.Now().Before(info.nextRetry)
}

func (p *ClientPool) resetFailureTracking(instanceID int) {
	p.mu.Lock()
	delete(p.failureTracker, instanceID)
	p.mu.Unlock()
}

// BackoffRemaining reports how long until the next connection attempt is
// allowed, zero when none is pending.
func (p *ClientPool) BackoffRemaining(instanceID int) time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info, ok := p.failureTracker[instanceID]
	if !ok {
		return 0
	}
	remaining := time.Until(info.nextRetry)
	if remaining < 0 {
		return 0
	}
	return remaining
}
