package ws

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/codepad/padclient/internal/protocol"
)

type EventType int

const (
	EventOpen EventType = iota
	EventMessage
	EventError
	EventClose
)

func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	}
	return "unknown"
}

// Event is delivered to listeners. For message events Data holds the decoded
// protocol.Envelope, or the converter's result when one was registered.
// Close events carry the close code and, for abnormal closes, Err.
type Event struct {
	Type EventType
	Data any
	Err  error
	Code int
}

type Listener func(Event)

// PayloadConverter maps envelope content to the value a listener receives.
// Returning an error drops the frame for that listener only.
type PayloadConverter func(protocol.Content) (any, error)

type ListenOption func(*registration)

// WithSubChannel restricts a message listener to envelopes tagged for sub.
// An unknown sub-channel name matches nothing.
func WithSubChannel(sub protocol.SubChannel) ListenOption {
	return func(r *registration) {
		tag, ok := sub.Tag()
		if !ok {
			tag = protocol.Tag("?" + string(sub))
		}
		r.tag = tag
	}
}

// WithConverter transforms the envelope content before the listener sees it.
func WithConverter(fn PayloadConverter) ListenOption {
	return func(r *registration) {
		r.convert = fn
	}
}

type registration struct {
	id      uint64
	typ     EventType
	fn      Listener
	tag     protocol.Tag
	convert PayloadConverter
	removed atomic.Bool
}

// Subscription is the handle returned by AddEventListener. Unsubscribe is
// idempotent and safe on a nil handle.
type Subscription struct {
	reg *registration
	set *listenerSet
}

func (s *Subscription) Unsubscribe() {
	if s == nil || s.set == nil {
		return
	}
	s.set.remove(s.reg)
}

// Type reports the event type the subscription listens to.
func (s *Subscription) Type() EventType {
	return s.reg.typ
}

// listenerSet keeps listeners in registration order per event type, with
// constant-time removal by handle.
type listenerSet struct {
	mu     sync.Mutex
	nextID uint64
	lists  map[EventType]*list.List
	index  map[uint64]*list.Element
}

func newListenerSet() *listenerSet {
	return &listenerSet{
		lists: make(map[EventType]*list.List),
		index: make(map[uint64]*list.Element),
	}
}

func (s *listenerSet) add(reg *registration) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	reg.id = s.nextID
	l, ok := s.lists[reg.typ]
	if !ok {
		l = list.New()
		s.lists[reg.typ] = l
	}
	s.index[reg.id] = l.PushBack(reg)
	return &Subscription{reg: reg, set: s}
}

func (s *listenerSet) remove(reg *registration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.index[reg.id]
	if !ok {
		return
	}
	reg.removed.Store(true)
	s.lists[reg.typ].Remove(el)
	delete(s.index, reg.id)
}

// snapshot returns the listeners for typ at this instant. Listeners removed
// while the snapshot is being dispatched are skipped via their removed flag.
func (s *listenerSet) snapshot(typ EventType) []*registration {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lists[typ]
	if !ok || l.Len() == 0 {
		return nil
	}
	out := make([]*registration, 0, l.Len())
	for el := l.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*registration))
	}
	return out
}

func (s *listenerSet) removeType(typ EventType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lists[typ]
	if !ok {
		return
	}
	for el := l.Front(); el != nil; el = el.Next() {
		reg := el.Value.(*registration)
		reg.removed.Store(true)
		delete(s.index, reg.id)
	}
	l.Init()
}

func (s *listenerSet) removeAll() {
	for _, typ := range []EventType{EventOpen, EventMessage, EventError, EventClose} {
		s.removeType(typ)
	}
}

func (s *listenerSet) count(typ EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lists[typ]; ok {
		return l.Len()
	}
	return 0
}
