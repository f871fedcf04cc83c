// Package bus provides the per-round mailbox that carries typed envelopes
// between agents. Envelopes are drained at most once; anything left at the
// end of a round is reported by Audit as a lost message.
package bus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/talgya/mini-economy/internal/agent"
)

// ErrPayloadType is returned when an envelope's payload is not the type its
// topic promises.
var ErrPayloadType = errors.New("payload does not match topic")

// Envelope is one message in flight.
type Envelope struct {
	ID      uuid.UUID `json:"id"`
	From    agent.ID  `json:"from"`
	To      agent.ID  `json:"to"`
	Round   uint64    `json:"round"`
	Payload Payload   `json:"payload"`
}

// Topic returns the payload's topic.
func (e Envelope) Topic() Topic { return e.Payload.Topic() }

// Message is a decoded envelope.
type Message[T Payload] struct {
	Envelope
	Body T
}

// LostMessage is an envelope nobody drained before the round closed.
type LostMessage struct {
	Round uint64   `json:"round"`
	ID    string   `json:"id"`
	From  agent.ID `json:"from"`
	To    agent.ID `json:"to"`
	Topic Topic    `json:"topic"`
}

// Stats counts traffic for the current round.
type Stats struct {
	Round   uint64 `json:"round"`
	Sent    int    `json:"sent"`
	Drained int    `json:"drained"`
	Queued  int    `json:"queued"`
}

type mailbox struct {
	to    agent.ID
	topic Topic
}

// Bus is the shared mailbox. It is the only state shared between agents.
type Bus struct {
	mu      sync.Mutex
	round   uint64
	queues  map[mailbox][]Envelope
	sent    int
	drained int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{queues: make(map[mailbox][]Envelope)}
}

// BeginRound stamps subsequent envelopes with round r and resets counters.
func (b *Bus) BeginRound(r uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.round = r
	b.sent = 0
	b.drained = 0
}

// Round returns the current round.
func (b *Bus) Round() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.round
}

// Send enqueues payload for to. It becomes visible the next time to drains
// the payload's topic.
func (b *Bus) Send(from, to agent.ID, p Payload) Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	env := Envelope{
		ID:      uuid.New(),
		From:    from,
		To:      to,
		Round:   b.round,
		Payload: p,
	}
	box := mailbox{to: to, topic: p.Topic()}
	b.queues[box] = append(b.queues[box], env)
	b.sent++
	return env
}

// Drain removes and returns every envelope addressed to to under topic, in
// arrival order.
func (b *Bus) Drain(to agent.ID, topic Topic) []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	box := mailbox{to: to, topic: topic}
	envs := b.queues[box]
	delete(b.queues, box)
	b.drained += len(envs)
	return envs
}

// Pending returns how many envelopes wait for to under topic.
func (b *Bus) Pending(to agent.ID, topic Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[mailbox{to: to, topic: topic}])
}

// Receive drains the topic of T for to and decodes each payload. Envelopes
// that fail to decode are reported in the joined error; the rest are still
// returned in arrival order.
func Receive[T Payload](b *Bus, to agent.ID) ([]Message[T], error) {
	var zero T
	envs := b.Drain(to, zero.Topic())
	out := make([]Message[T], 0, len(envs))
	var errs []error
	for _, env := range envs {
		body, ok := env.Payload.(T)
		if !ok {
			errs = append(errs, fmt.Errorf("%s from %s to %s: got %T: %w",
				env.Topic(), env.From, env.To, env.Payload, ErrPayloadType))
			continue
		}
		out = append(out, Message[T]{Envelope: env, Body: body})
	}
	return out, errors.Join(errs...)
}

// Audit returns every undrained envelope and clears the queues. Lost
// messages are reported, never retried.
func (b *Bus) Audit() []LostMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	var lost []LostMessage
	for box, envs := range b.queues {
		for _, env := range envs {
			lost = append(lost, LostMessage{
				Round: env.Round,
				ID:    env.ID.String(),
				From:  env.From,
				To:    box.to,
				Topic: box.topic,
			})
		}
	}
	b.queues = make(map[mailbox][]Envelope)
	return lost
}

// Stats returns the current round's counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	queued := 0
	for _, envs := range b.queues {
		queued += len(envs)
	}
	return Stats{Round: b.round, Sent: b.sent, Drained: b.drained, Queued: queued}
}
