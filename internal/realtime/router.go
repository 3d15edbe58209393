package realtime

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Result summarises one fan-out.
type Result struct {
	Delivered int
	Failed    int
}

// Router resolves delivery targets to live connections and pushes frames.
type Router struct {
	registry *Registry
	rooms    *RoomIndex
	log      *zap.Logger
}

func NewRouter(registry *Registry, rooms *RoomIndex, log *zap.Logger) *Router {
	return &Router{registry: registry, rooms: rooms, log: log}
}

// DeliverToIdentity pushes to id's connection. An offline identity is not
// an error: the recipient catches up from storage.
func (rt *Router) DeliverToIdentity(id Identity, event string, payload any) (Result, error) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return Result{}, errors.Wrapf(ErrEncodePayload, "%s: %v", event, err)
	}
	return rt.toIdentity(id, event, frame), nil
}

func (rt *Router) toIdentity(id Identity, event string, frame []byte) Result {
	h, ok := rt.registry.Resolve(id)
	if !ok {
		return Result{}
	}
	return rt.push(event, []Handle{h}, frame)
}

// DeliverToRoom pushes to every online member of room except exclude.
// Members are only reached through the connection they joined under.
func (rt *Router) DeliverToRoom(room RoomID, event string, payload any, exclude Identity) (Result, error) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return Result{}, errors.Wrapf(ErrEncodePayload, "%s: %v", event, err)
	}

	members := rt.rooms.members(room)
	targets := make([]Handle, 0, len(members))
	for _, m := range members {
		if exclude != "" && m.identity == exclude {
			continue
		}
		h, ok := rt.registry.Resolve(m.identity)
		if !ok || h.ID() != m.handleID {
			continue
		}
		targets = append(targets, h)
	}
	return rt.push(event, targets, frame), nil
}

// BroadcastGlobal pushes to every registered connection.
func (rt *Router) BroadcastGlobal(event string, payload any) (Result, error) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return Result{}, errors.Wrapf(ErrEncodePayload, "%s: %v", event, err)
	}
	return rt.push(event, rt.registry.Handles(), frame), nil
}

func (rt *Router) push(event string, targets []Handle, frame []byte) Result {
	var res Result
	for _, h := range targets {
		if err := h.Send(frame); err != nil {
			res.Failed++
			rt.log.Warn("push failed, closing connection",
				zap.String("event", event),
				zap.String("conn", h.ID()),
				zap.Error(err))
			if cerr := h.Close(); cerr != nil {
				rt.log.Debug("close after push failure", zap.String("conn", h.ID()), zap.Error(cerr))
			}
			continue
		}
		res.Delivered++
	}
	return res
}
