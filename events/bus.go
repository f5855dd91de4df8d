// Package events is the in-process broadcast channel between the session core and the
// rest of the application. Delivery is synchronous on the publisher's goroutine, so
// handlers must not block.
package events

import (
	"sync"

	"github.com/jrsteele09/alumni-session/sessions"
)

type Topic string

const (
	TopicTokenRefreshed Topic = "token-refreshed"
	TopicLogout         Topic = "auth-logout"
	TopicSessionChanged Topic = "session-changed"
)

type LogoutReason string

const (
	ReasonTokenExpired LogoutReason = "token_expired"
	ReasonManual       LogoutReason = "manual"
)

// TokenRefreshed is published after every successful refresh.
type TokenRefreshed struct {
	AccessToken string
}

// Logout is published whenever a session ends, forcibly or by the user.
type Logout struct {
	Reason LogoutReason
}

// SessionChanged is published when another tab switched or ended the shared session.
type SessionChanged struct {
	Type sessions.PersonaType
}

type Event struct {
	Topic   Topic
	Payload any
}

type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[Topic]map[int]func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Topic]map[int]func(Event))}
}

// Subscribe registers fn for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic Topic, fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]func(Event))
	}
	id := b.next
	b.next++
	b.subs[topic][id] = fn
	return func() {
		b.mu.Lock()
		delete(b.subs[topic], id)
		b.mu.Unlock()
	}
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.subs[e.Topic]))
	for _, fn := range b.subs[e.Topic] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(e)
	}
}

func (b *Bus) PublishTokenRefreshed(accessToken string) {
	b.Publish(Event{Topic: TopicTokenRefreshed, Payload: TokenRefreshed{AccessToken: accessToken}})
}

func (b *Bus) PublishLogout(reason LogoutReason) {
	b.Publish(Event{Topic: TopicLogout, Payload: Logout{Reason: reason}})
}

func (b *Bus) PublishSessionChanged(t sessions.PersonaType) {
	b.Publish(Event{Topic: TopicSessionChanged, Payload: SessionChanged{Type: t}})
}

func (b *Bus) OnTokenRefreshed(fn func(TokenRefreshed)) func() {
	return b.Subscribe(TopicTokenRefreshed, func(e Event) {
		if p, ok := e.Payload.(TokenRefreshed); ok {
			fn(p)
		}
	})
}

func (b *Bus) OnLogout(fn func(Logout)) func() {
	return b.Subscribe(TopicLogout, func(e Event) {
		if p, ok := e.Payload.(Logout); ok {
			fn(p)
		}
	})
}

func (b *Bus) OnSessionChanged(fn func(SessionChanged)) func() {
	return b.Subscribe(TopicSessionChanged, func(e Event) {
		if p, ok := e.Payload.(SessionChanged); ok {
			fn(p)
		}
	})
}
