package realtime

import "go.uber.org/zap"

// PresenceObserver is told about per-identity transitions. Calls happen
// while the engine holds its lifecycle lock, so implementations must not
// block.
type PresenceObserver interface {
	Online(id Identity)
	Offline(id Identity)
}

// Presence is the only component that triggers a global broadcast.
type Presence struct {
	registry  *Registry
	router    *Router
	observers []PresenceObserver
	log       *zap.Logger
}

func NewPresence(registry *Registry, router *Router, log *zap.Logger, observers ...PresenceObserver) *Presence {
	return &Presence{registry: registry, router: router, observers: observers, log: log}
}

// wentOnline handles Offline->Online (fresh=true) and the Online->Online
// supersession (fresh=false).
func (p *Presence) wentOnline(id Identity, fresh bool) {
	if fresh {
		for _, o := range p.observers {
			o.Online(id)
		}
	}
	p.announce()
}

func (p *Presence) wentOffline(id Identity) {
	for _, o := range p.observers {
		o.Offline(id)
	}
	p.announce()
}

func (p *Presence) announce() {
	online := p.registry.OnlineIdentities()
	res, err := p.router.BroadcastGlobal(EventPresenceChanged, online)
	if err != nil {
		p.log.Error("presence broadcast", zap.Error(err))
		return
	}
	p.log.Debug("presence announced",
		zap.Int("online", len(online)),
		zap.Int("delivered", res.Delivered),
		zap.Int("failed", res.Failed))
}
