package ws

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// EndpointURL resolves uri against the page the client was served from. A
// path becomes a ws:// or wss:// URL on the page's host; "//host/path" gets
// the matching scheme; anything else is returned unchanged.
func EndpointURL(page *url.URL, uri string) string {
	scheme := "ws:"
	if page.Scheme == "https" || page.Scheme == "wss" {
		scheme = "wss:"
	}
	switch {
	case strings.HasPrefix(uri, "//"):
		return scheme + uri
	case strings.HasPrefix(uri, "/"):
		return scheme + "//" + page.Host + uri
	default:
		return uri
	}
}

// Service hands out the one live channel per client. It holds no state
// beyond that channel, so several services can coexist in a process.
type Service struct {
	page *url.URL
	opts Options

	mu      sync.Mutex
	current *Channel
}

// NewService builds a service whose endpoints resolve against baseURL.
func NewService(baseURL string, opts Options) (*Service, error) {
	page, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ws: parse base url: %w", err)
	}
	if page.Host == "" {
		return nil, fmt.Errorf("ws: base url %q has no host", baseURL)
	}
	return &Service{page: page, opts: opts}, nil
}

// Create returns the channel for roomKey. An existing channel for the same
// room is returned as is; one for another room yields a
// *DuplicateSessionError. Channels that are closing or have failed are
// replaced. New channels are not connected yet.
func (s *Service) Create(roomKey string) (*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.current; cur != nil && !cur.ending() {
		if cur.RoomKey() == roomKey {
			return cur, nil
		}
		return nil, &DuplicateSessionError{Active: cur.RoomKey(), Requested: roomKey}
	}

	ch := NewChannel(roomKey, s.Endpoint(roomKey), s.opts)
	// An error event is always followed by close; forgetting the channel on
	// either lets error observers create a fresh one for the same room.
	forget := func(Event) {
		s.mu.Lock()
		if s.current == ch {
			s.current = nil
		}
		s.mu.Unlock()
	}
	ch.AddEventListener(EventError, forget)
	ch.AddEventListener(EventClose, forget)
	s.current = ch
	return ch, nil
}

// Current returns the active channel, or nil.
func (s *Service) Current() *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Endpoint is the realtime URL for roomKey.
func (s *Service) Endpoint(roomKey string) string {
	return EndpointURL(s.page, "/realtime/"+url.PathEscape(roomKey))
}
