package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatpulse/internal/realtime"
)

type op struct {
	user    string
	online  bool
	refresh bool
}

// Source is the authoritative online set, normally the realtime engine.
type Source interface {
	Online() []realtime.Identity
	IsOnline(id realtime.Identity) bool
}

// Mirror is a realtime.PresenceObserver that replays transitions into a
// Store from a single worker, so engine transitions never wait on I/O.
type Mirror struct {
	store  Store
	node   string
	ttl    time.Duration
	source Source
	log    *zap.Logger

	ops      chan op
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMirror builds a mirror. Call Track before Start so the refresher
// knows whom to re-arm.
func NewMirror(store Store, node string, ttl time.Duration, queue int, log *zap.Logger) *Mirror {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if queue <= 0 {
		queue = 1024
	}
	return &Mirror{
		store: store,
		node:  node,
		ttl:   ttl,
		log:   log,
		ops:   make(chan op, queue),
		stop:  make(chan struct{}),
	}
}

// Track sets the source of truth the refresher re-arms from.
func (m *Mirror) Track(src Source) { m.source = src }

func (m *Mirror) Online(id realtime.Identity)  { m.enqueue(op{user: string(id), online: true}) }
func (m *Mirror) Offline(id realtime.Identity) { m.enqueue(op{user: string(id), online: false}) }

func (m *Mirror) enqueue(o op) {
	select {
	case m.ops <- o:
	default:
		m.log.Warn("presence mirror queue full, dropping write",
			zap.String("user", o.user), zap.Bool("online", o.online))
	}
}

// Start launches the writer and the TTL refresher.
func (m *Mirror) Start() {
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.writer()
	}()
	go func() {
		defer m.wg.Done()
		m.refresher()
	}()
}

// Stop drains queued writes and waits for both goroutines.
func (m *Mirror) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

func (m *Mirror) writer() {
	for {
		select {
		case o := <-m.ops:
			m.apply(o)
		case <-m.stop:
			for {
				select {
				case o := <-m.ops:
					m.apply(o)
				default:
					return
				}
			}
		}
	}
}

func (m *Mirror) apply(o op) {
	// a refresh snapshot may predate a later Offline
	if o.refresh && (m.source == nil || !m.source.IsOnline(realtime.Identity(o.user))) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var err error
	if o.online {
		err = m.store.SetOnline(ctx, o.user, m.node, m.ttl)
	} else {
		err = m.store.SetOffline(ctx, o.user)
	}
	if err != nil {
		m.log.Warn("presence mirror write failed",
			zap.String("user", o.user), zap.Bool("online", o.online), zap.Error(err))
	}
}

func (m *Mirror) refresher() {
	t := time.NewTicker(m.ttl / 2)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			if m.source == nil {
				continue
			}
			for _, id := range m.source.Online() {
				m.enqueue(op{user: string(id), online: true, refresh: true})
			}
		}
	}
}
