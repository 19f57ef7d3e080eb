// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package reconcile periodically pulls the authoritative conversation view
// from the remote indexer and merges it into the local store.
package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/efchatnet/ciphindex/backend/conversation"
	"github.com/efchatnet/ciphindex/backend/logging"
	"github.com/efchatnet/ciphindex/backend/metrics"
	"github.com/efchatnet/ciphindex/backend/models"
	"github.com/efchatnet/ciphindex/backend/protocol"
	"github.com/efchatnet/ciphindex/backend/storage"
)

const (
	DefaultInterval = 60 * time.Second
	DefaultTimeout  = 10 * time.Second
)

// ErrInFlight is returned when a run for the address is still going.
var ErrInFlight = errors.New("reconciliation already running for address")

// Source yields the authoritative conversations of an address.
type Source interface {
	ConversationsFor(ctx context.Context, address string) ([]models.Conversation, error)
}

type Config struct {
	Interval time.Duration
	// Timeout bounds one address run, remote fetch and persistence included.
	Timeout   time.Duration
	Addresses []string
}

// Summary counts what one pass over the tracked addresses did.
type Summary struct {
	Addresses int
	Changed   int
	Skipped   int
	Failed    int
}

type Loop struct {
	source  Source
	store   *conversation.Store
	persist storage.ConversationStore

	interval time.Duration
	timeout  time.Duration

	mu       sync.Mutex
	tracked  map[string]string
	inFlight map[string]bool
	// unsaved holds ids whose last write failed; they are written again
	// on the next pass even if the merge changed nothing.
	unsaved map[string]bool
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool

	wg       sync.WaitGroup
	stopOnce sync.Once

	log     logging.Logger
	metrics *metrics.Metrics
}

// New builds a loop. persist may be nil, in which case merged records stay
// in memory only.
func New(source Source, store *conversation.Store, persist storage.ConversationStore, cfg Config, log logging.Logger, m *metrics.Metrics) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		source:   source,
		store:    store,
		persist:  persist,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		tracked:  make(map[string]string),
		inFlight: make(map[string]bool),
		unsaved:  make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
		log:      logging.OrNop(log).With("component", "reconcile"),
		metrics:  m,
	}
	if l.interval <= 0 {
		l.interval = DefaultInterval
	}
	if l.timeout <= 0 {
		l.timeout = DefaultTimeout
	}
	for _, a := range cfg.Addresses {
		l.Track(a)
	}
	return l
}

// Track adds an address to every future pass. It reports whether the
// address was new.
func (l *Loop) Track(address string) bool {
	key := protocol.StripNetworkPrefix(address)
	if key == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tracked[key]; ok {
		return false
	}
	l.tracked[key] = protocol.NormalizeAddress(address)
	return true
}

func (l *Loop) Untrack(address string) {
	l.mu.Lock()
	delete(l.tracked, protocol.StripNetworkPrefix(address))
	l.mu.Unlock()
}

// Tracked lists the tracked addresses in sorted order.
func (l *Loop) Tracked() []string {
	l.mu.Lock()
	out := make([]string, 0, len(l.tracked))
	for _, a := range l.tracked {
		out = append(out, a)
	}
	l.mu.Unlock()
	sort.Strings(out)
	return out
}

// Start runs a bootstrap pass in the background and then one pass per
// interval until Stop is called or ctx ends. It returns immediately.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	loopCtx := l.ctx
	l.mu.Unlock()
	context.AfterFunc(ctx, l.cancel)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.log.Info(loopCtx, "reconciliation started", "interval", l.interval.String(), "addresses", len(l.Tracked()))
		l.dispatch(loopCtx, nil)

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.dispatch(loopCtx, nil)
			case <-loopCtx.Done():
				return
			}
		}
	}()
}

// Stop ends the loop, abandons in-flight fetches and waits for their
// goroutines. Store upserts are idempotent so nothing is left half done.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.cancel()
		l.mu.Unlock()
		l.wg.Wait()
		l.log.Info(context.Background(), "reconciliation stopped")
	})
}

// RunOnce reconciles every tracked address concurrently and waits for all
// of them.
func (l *Loop) RunOnce(ctx context.Context) Summary {
	var (
		mu  sync.Mutex
		sum Summary
		wg  sync.WaitGroup
	)
	l.dispatch(ctx, func(n int, err error) {
		mu.Lock()
		defer mu.Unlock()
		sum.Addresses++
		sum.Changed += n
		switch {
		case errors.Is(err, ErrInFlight):
			sum.Skipped++
		case err != nil:
			sum.Failed++
		}
	}, &wg)
	wg.Wait()
	return sum
}

// Kick reconciles a single address in the background.
func (l *Loop) Kick(address string) {
	l.mu.Lock()
	ctx := l.ctx
	l.mu.Unlock()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		_, _ = l.Reconcile(ctx, address)
	}()
}

// dispatch starts one goroutine per tracked address. Addresses never wait
// on each other; waiters are optional.
func (l *Loop) dispatch(ctx context.Context, done func(int, error), waiters ...*sync.WaitGroup) {
	for _, addr := range l.Tracked() {
		l.wg.Add(1)
		for _, w := range waiters {
			w.Add(1)
		}
		go func(addr string) {
			defer l.wg.Done()
			for _, w := range waiters {
				defer w.Done()
			}
			n, err := l.Reconcile(ctx, addr)
			if done != nil {
				done(n, err)
			}
		}(addr)
	}
}

// Reconcile pulls the remote view of address and merges it into the store,
// persisting every record that changed. It returns the number of changed
// records. A run for an address that is already in flight is skipped.
func (l *Loop) Reconcile(ctx context.Context, address string) (int, error) {
	key := protocol.StripNetworkPrefix(address)
	l.mu.Lock()
	if l.inFlight[key] {
		l.mu.Unlock()
		l.metrics.ObserveSkipped()
		return 0, ErrInFlight
	}
	l.inFlight[key] = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.inFlight, key)
		l.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	convs, err := l.source.ConversationsFor(ctx, address)
	if err != nil {
		l.metrics.ObserveReconcile("remote_error")
		l.log.Warn(ctx, "remote fetch failed", "address", address, "error", err)
		return 0, err
	}

	changed, persistFailed := 0, false
	for _, c := range convs {
		merged, ok, err := l.store.UpsertConversation(c)
		if err != nil {
			l.log.Warn(ctx, "remote conversation rejected", "address", address, "id", c.ID, "error", err)
			continue
		}
		if ok {
			changed++
		}
		if l.persist == nil || (!ok && !l.isUnsaved(merged.ID)) {
			continue
		}
		if err := l.persist.CreateConversation(ctx, merged); err != nil {
			persistFailed = true
			l.setUnsaved(merged.ID, true)
			l.log.Error(ctx, "persist conversation failed", "id", merged.ID, "error", err)
			continue
		}
		l.setUnsaved(merged.ID, false)
	}

	if persistFailed {
		l.metrics.ObserveReconcile("persist_error")
	} else {
		l.metrics.ObserveReconcile("ok")
	}
	if changed > 0 {
		l.log.Info(ctx, "reconciled address", "address", address, "changed", changed)
	}
	return changed, nil
}

func (l *Loop) isUnsaved(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unsaved[id]
}

func (l *Loop) setUnsaved(id string, unsaved bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if unsaved {
		l.unsaved[id] = true
	} else {
		delete(l.unsaved, id)
	}
}
