package realtime

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const removedFromGroupText = "You have been removed from the group"

// Engine is the single owner of presence and room state. Transport code
// reports connects, disconnects and room subscriptions; application code
// reports persisted messages and group changes.
type Engine struct {
	// serialises register, unregister+cascade, join and leave
	mu sync.Mutex

	registry *Registry
	rooms    *RoomIndex
	router   *Router
	presence *Presence
	log      *zap.Logger
}

func NewEngine(log *zap.Logger, observers ...PresenceObserver) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	registry := NewRegistry()
	rooms := NewRoomIndex()
	router := NewRouter(registry, rooms, log)
	return &Engine{
		registry: registry,
		rooms:    rooms,
		router:   router,
		presence: NewPresence(registry, router, log, observers...),
		log:      log,
	}
}

// OnConnect registers h as id's addressable connection. A previous
// connection for id is superseded: its room subscriptions are dropped and
// it is closed.
func (e *Engine) OnConnect(id Identity, h Handle) error {
	if !validID(string(id)) {
		return errors.Wrapf(ErrInvalidIdentity, "%q", id)
	}
	if h == nil {
		return ErrNilHandle
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, wasOnline := e.registry.Resolve(id)
	prev := e.registry.Register(id, h)
	if prev != nil {
		e.rooms.CascadeRemove(prev)
		e.log.Info("connection superseded",
			zap.String("identity", string(id)),
			zap.String("old", prev.ID()),
			zap.String("new", h.ID()))
		if err := prev.Close(); err != nil {
			e.log.Debug("close superseded connection", zap.String("conn", prev.ID()), zap.Error(err))
		}
	}
	e.log.Info("connected",
		zap.String("identity", string(id)),
		zap.String("conn", h.ID()),
		zap.Int("online", e.registry.Len()))
	e.presence.wentOnline(id, !wasOnline)
	return nil
}

// OnDisconnect unregisters h and removes it from every room it joined.
// Stale or repeated calls are no-ops.
func (e *Engine) OnDisconnect(h Handle) {
	if h == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.registry.Unregister(h)
	rooms := e.rooms.CascadeRemove(h)
	if !ok {
		e.log.Debug("stale disconnect ignored", zap.String("conn", h.ID()))
		return
	}
	e.log.Info("disconnected",
		zap.String("identity", string(id)),
		zap.String("conn", h.ID()),
		zap.Int("rooms", len(rooms)),
		zap.Int("online", e.registry.Len()))
	e.presence.wentOffline(id)
}

// JoinRoom subscribes id to room through h. Authorization is the caller's
// job. A join through a connection that is no longer id's current one is
// ignored.
func (e *Engine) JoinRoom(room RoomID, id Identity, h Handle) error {
	if err := validRoomAndIdentity(room, id); err != nil {
		return err
	}
	if h == nil {
		return ErrNilHandle
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if owner, ok := e.registry.Owner(h); !ok || owner != id {
		e.log.Debug("join from stale connection ignored",
			zap.String("room", string(room)),
			zap.String("identity", string(id)),
			zap.String("conn", h.ID()))
		return nil
	}
	e.rooms.Join(room, id, h)
	e.log.Debug("joined room", zap.String("room", string(room)), zap.String("identity", string(id)))
	return nil
}

func (e *Engine) LeaveRoom(room RoomID, id Identity) error {
	if err := validRoomAndIdentity(room, id); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rooms.Leave(room, id) {
		e.log.Debug("left room", zap.String("room", string(room)), zap.String("identity", string(id)))
	}
	return nil
}

// Online returns the current online set.
func (e *Engine) Online() []Identity { return e.registry.OnlineIdentities() }

// IsOnline reports whether id has a registered connection.
func (e *Engine) IsOnline(id Identity) bool {
	_, ok := e.registry.Resolve(id)
	return ok
}

// MembersOf returns the identities listening on room.
func (e *Engine) MembersOf(room RoomID) []Identity { return e.rooms.MembersOf(room) }

// NotifyDirectMessage pushes a persisted direct message to its recipient.
func (e *Engine) NotifyDirectMessage(recipient Identity, msg any) error {
	if !validID(string(recipient)) {
		return errors.Wrapf(ErrInvalidIdentity, "%q", recipient)
	}
	_, err := e.router.DeliverToIdentity(recipient, EventNewMessage, msg)
	return err
}

// NotifyGroupMessage pushes a persisted group message to the room's
// listeners, skipping the sender who already has it.
func (e *Engine) NotifyGroupMessage(room RoomID, msg any, sender Identity) error {
	if !validID(string(room)) {
		return errors.Wrapf(ErrInvalidRoom, "%q", room)
	}
	res, err := e.router.DeliverToRoom(room, EventNewGroupMessage, GroupMessage{GroupID: room, Message: msg}, sender)
	if err != nil {
		return err
	}
	e.log.Debug("group message fanned out",
		zap.String("room", string(room)),
		zap.Int("delivered", res.Delivered),
		zap.Int("failed", res.Failed))
	return nil
}

// NotifyGroupCreated tells every member about a new group.
func (e *Engine) NotifyGroupCreated(members []Identity, group any) error {
	return e.deliverEach(members, EventNewGroupChat, group)
}

// NotifyGroupUpdate tells every storage-level member about a changed group.
func (e *Engine) NotifyGroupUpdate(members []Identity, group any) error {
	return e.deliverEach(members, EventUpdateGroupChat, group)
}

// NotifyMemberAdded tells newly added members about the group.
func (e *Engine) NotifyMemberAdded(added []Identity, group any) error {
	return e.deliverEach(added, EventAddedToGroup, group)
}

// NotifyMemberRemoved drops removed from the room's live channel and tells
// it so.
func (e *Engine) NotifyMemberRemoved(room RoomID, removed Identity) error {
	if err := validRoomAndIdentity(room, removed); err != nil {
		return err
	}
	e.mu.Lock()
	e.rooms.Leave(room, removed)
	e.mu.Unlock()

	_, err := e.router.DeliverToIdentity(removed, EventRemovedFromGroup, RemovedFromGroup{
		GroupID: room,
		Message: removedFromGroupText,
	})
	return err
}

// RelayGroupMessage forwards a client-originated frame to the room when
// the sender is listening on it through h.
func (e *Engine) RelayGroupMessage(room RoomID, sender Identity, h Handle, message json.RawMessage) error {
	if err := validRoomAndIdentity(room, sender); err != nil {
		return err
	}
	if h == nil {
		return ErrNilHandle
	}
	if !e.rooms.Has(room, sender, h) {
		e.log.Debug("relay from non-member ignored",
			zap.String("room", string(room)),
			zap.String("identity", string(sender)))
		return nil
	}
	_, err := e.router.DeliverToRoom(room, EventReceiveGroupMessage, GroupMessage{GroupID: room, Message: message}, sender)
	return err
}

// Close closes every registered connection. Each connection's own
// disconnect path still runs.
func (e *Engine) Close() {
	handles := e.registry.Handles()
	for _, h := range handles {
		if err := h.Close(); err != nil {
			e.log.Debug("close on shutdown", zap.String("conn", h.ID()), zap.Error(err))
		}
	}
	e.log.Info("closed all connections", zap.Int("count", len(handles)))
}

func (e *Engine) deliverEach(ids []Identity, event string, payload any) error {
	for _, id := range ids {
		if !validID(string(id)) {
			return errors.Wrapf(ErrInvalidIdentity, "%q", id)
		}
	}
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return errors.Wrapf(ErrEncodePayload, "%s: %v", event, err)
	}
	var res Result
	for _, id := range ids {
		r := e.router.toIdentity(id, event, frame)
		res.Delivered += r.Delivered
		res.Failed += r.Failed
	}
	e.log.Debug("notified members",
		zap.String("event", event),
		zap.Int("targets", len(ids)),
		zap.Int("delivered", res.Delivered),
		zap.Int("failed", res.Failed))
	return nil
}

func validRoomAndIdentity(room RoomID, id Identity) error {
	if !validID(string(room)) {
		return errors.Wrapf(ErrInvalidRoom, "%q", room)
	}
	if !validID(string(id)) {
		return errors.Wrapf(ErrInvalidIdentity, "%q", id)
	}
	return nil
}
