package realtime

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/pkg/errors"
)

type fakeHandle struct {
	id string

	mu     sync.Mutex
	frames []Envelope
	fail   bool
	closed int
}

func newFake(id string) *fakeHandle { return &fakeHandle{id: id} }

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Send(frame []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		return errors.New("transport broken")
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return err
	}
	h.frames = append(h.frames, env)
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	return nil
}

func (h *fakeHandle) setFail(v bool) {
	h.mu.Lock()
	h.fail = v
	h.mu.Unlock()
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) events(name string) []Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Envelope
	for _, e := range h.frames {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

func (h *fakeHandle) reset() {
	h.mu.Lock()
	h.frames = nil
	h.mu.Unlock()
}

// lastPresence decodes the most recent presenceChanged payload.
func lastPresence(t *testing.T, h *fakeHandle) []Identity {
	t.Helper()
	evs := h.events(EventPresenceChanged)
	if len(evs) == 0 {
		t.Fatalf("%s got no %s", h.id, EventPresenceChanged)
	}
	var ids []Identity
	if err := json.Unmarshal(evs[len(evs)-1].Data, &ids); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	return ids
}

func sameIdentities(got []Identity, want ...Identity) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
