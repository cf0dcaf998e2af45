// Package transcript accumulates streamed speech-to-text fragments into
// conversational turns.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Turn pairs what the patient said with what the model said in reply.
type Turn struct {
	User        string    `json:"user" bson:"user"`
	Model       string    `json:"model" bson:"model"`
	CompletedAt time.Time `json:"completed_at" bson:"completed_at"`
}

// Aggregator holds one in-progress turn and the append-only history of
// finalized turns. Fragments are concatenated in arrival order.
type Aggregator struct {
	mu      sync.Mutex
	user    strings.Builder
	model   strings.Builder
	history []Turn
	now     func() time.Time
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{now: time.Now}
}

// AppendUser adds a fragment of the patient's transcribed speech.
func (a *Aggregator) AppendUser(fragment string) {
	a.mu.Lock()
	a.user.WriteString(fragment)
	a.mu.Unlock()
}

// AppendModel adds a fragment of the model's transcribed speech.
func (a *Aggregator) AppendModel(fragment string) {
	a.mu.Lock()
	a.model.WriteString(fragment)
	a.mu.Unlock()
}

// Complete finalizes the in-progress turn. A turn with no text on either
// side is not recorded and ok is false; the accumulators are reset either way.
func (a *Aggregator) Complete() (turn Turn, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	turn = Turn{User: a.user.String(), Model: a.model.String()}
	a.user.Reset()
	a.model.Reset()

	if turn.User == "" && turn.Model == "" {
		return Turn{}, false
	}
	turn.CompletedAt = a.now()
	a.history = append(a.history, turn)
	return turn, true
}

// Pending returns the current accumulator contents.
func (a *Aggregator) Pending() (user, model string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user.String(), a.model.String()
}

// History returns a copy of the finalized turns, oldest first.
func (a *Aggregator) History() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Turn, len(a.history))
	copy(out, a.history)
	return out
}

// Reset clears the accumulators and the history for a new consultation.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user.Reset()
	a.model.Reset()
	a.history = nil
}
