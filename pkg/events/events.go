// Package events delivers engine events to subscribers once the state change
// that produced them has committed.
package events

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/luxfi/perps/pkg/lx"
)

// Envelope is a committed event.
type Envelope struct {
	ID      string    `json:"id"`
	Height  uint64    `json:"height"`
	Time    time.Time `json:"time"`
	Command string    `json:"command"`
	lx.Event
}

// Wrap stamps events produced by command at env.
func Wrap(env lx.Env, command string, evs []lx.Event) []Envelope {
	out := make([]Envelope, 0, len(evs))
	for _, e := range evs {
		out = append(out, Envelope{
			ID:      uuid.NewString(),
			Height:  env.Height,
			Time:    env.Time.UTC(),
			Command: command,
			Event:   e,
		})
	}
	return out
}

// Trader returns the trader the event concerns, if any.
func (e Envelope) Trader() string {
	return e.Attributes["trader"]
}

// Publisher receives committed events.
type Publisher interface {
	Publish(envs []Envelope) error
}

// Multi fans out to every publisher and returns the first error.
type Multi []Publisher

func (m Multi) Publish(envs []Envelope) error {
	var first error
	for _, p := range m {
		if err := p.Publish(envs); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder keeps everything published. Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	envs []Envelope
}

func (r *Recorder) Publish(envs []Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, envs...)
	return nil
}

// Events returns a copy of what was recorded.
func (r *Recorder) Events() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.envs...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	envs := r.Events()
	types := make([]string, len(envs))
	for i, e := range envs {
		types[i] = e.Type
	}
	return types
}

// Subject returns the NATS subject of an event type.
func Subject(prefix, typ string) string {
	return strings.TrimSuffix(prefix, ".") + "." + typ
}
