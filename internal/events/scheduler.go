// Package events runs the timed global game events: a random timer starts
// an event, its duration ends it, and every start/end is broadcast to all
// connected sessions. The active-event list is the source of truth; the
// notifications are at-least-once and fire-and-forget.
package events

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/energosphere/game-engine/internal/metrics"
	"github.com/energosphere/game-engine/internal/model"
)

// Broadcaster pushes event notifications to all connected sessions.
// Delivery failure must never roll back event state.
type Broadcaster interface {
	BroadcastAll(event string, payload any)
}

// eventDurations is fixed per type.
var eventDurations = map[model.EventType]time.Duration{
	model.EventCrystalSwarm:    30 * time.Second,
	model.EventEnergyStorm:     2 * time.Minute,
	model.EventDimensionBreach: 3 * time.Minute,
	model.EventVirusOutbreak:   4 * time.Minute,
}

var eventTypes = []model.EventType{
	model.EventCrystalSwarm,
	model.EventEnergyStorm,
	model.EventDimensionBreach,
	model.EventVirusOutbreak,
}

// Scheduler fires and expires global events. Each event slot cycles
// Idle → Active → Idle: a uniform 30–60 minute timer starts an event, a
// per-event timer ends it when the duration elapses, and a periodic sweep
// acts as a backstop. Events of different types may overlap; no mutual
// exclusion is enforced.
type Scheduler struct {
	broadcaster Broadcaster

	mu     sync.Mutex
	active map[string]*model.GameEvent
	rng    *rand.Rand
	now    func() time.Time

	minInterval time.Duration
	maxInterval time.Duration
	sweepEvery  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler broadcasting through b. The random
// source is injected so event selection is deterministically testable.
func NewScheduler(b Broadcaster, rng *rand.Rand) *Scheduler {
	return &Scheduler{
		broadcaster: b,
		active:      make(map[string]*model.GameEvent),
		rng:         rng,
		now:         time.Now,
		minInterval: 30 * time.Minute,
		maxInterval: 60 * time.Minute,
		sweepEvery:  time.Minute,
	}
}

// SetClock overrides the scheduler's time source. Test hook.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Start launches the random-event loop and the expiry sweep. It returns
// immediately; Stop shuts both down.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		sweep := time.NewTicker(s.sweepEvery)
		defer sweep.Stop()

		next := time.NewTimer(s.nextDelay())
		defer next.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-next.C:
				s.TriggerRandomEvent()
				next.Reset(s.nextDelay())
			case <-sweep.C:
				s.Sweep()
			}
		}
	}()
}

// Stop terminates the scheduling loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Scheduler) nextDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	spread := int64(s.maxInterval - s.minInterval)
	return s.minInterval + time.Duration(s.rng.Int63n(spread))
}

// TriggerRandomEvent starts a randomly chosen event type immediately.
// Exported so tests and admin tooling can force events.
func (s *Scheduler) TriggerRandomEvent() *model.GameEvent {
	s.mu.Lock()
	t := eventTypes[s.rng.Intn(len(eventTypes))]
	s.mu.Unlock()
	return s.Trigger(t)
}

// Trigger starts an event of the given type.
func (s *Scheduler) Trigger(t model.EventType) *model.GameEvent {
	s.mu.Lock()
	ev := &model.GameEvent{
		ID:        uuid.New().String(),
		Type:      t,
		StartTime: s.now(),
		Duration:  eventDurations[t],
		Data:      s.generateEventData(t),
	}
	s.active[ev.ID] = ev
	total := len(s.active)
	s.mu.Unlock()

	metrics.ActiveEvents.Set(float64(total))
	slog.Info("game event started", "id", ev.ID, "type", ev.Type, "duration", ev.Duration)
	s.broadcaster.BroadcastAll("game_event_start", ev)

	// Auto-end when the duration elapses; the sweep is the backstop.
	time.AfterFunc(ev.Duration, func() { s.endEvent(ev.ID) })

	return ev
}

// generateEventData builds the type-specific payload. Caller holds s.mu.
func (s *Scheduler) generateEventData(t model.EventType) map[string]any {
	switch t {
	case model.EventCrystalSwarm:
		return map[string]any{
			"crystals":           s.rng.Intn(20) + 10,
			"energy_per_crystal": s.rng.Intn(50) + 10,
		}
	case model.EventEnergyStorm:
		return map[string]any{
			"multiplier": 2.0,
			"affected_generators": []model.GeneratorType{
				model.GeneratorSolar, model.GeneratorGeothermal, model.GeneratorQuantum,
				model.GeneratorGravity, model.GeneratorStellar,
			},
		}
	default:
		return map[string]any{}
	}
}

// Sweep ends every event whose duration has elapsed. Runs periodically as
// a liveness backstop for the per-event timers.
func (s *Scheduler) Sweep() {
	s.mu.Lock()
	var expired []string
	now := s.now()
	for id, ev := range s.active {
		if !now.Before(ev.ExpiresAt()) {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.endEvent(id)
	}
}

// endEvent removes the event and broadcasts its end. Removal under the
// lock makes the end notification exactly-once even when the per-event
// timer and the sweep race.
func (s *Scheduler) endEvent(id string) {
	s.mu.Lock()
	ev, ok := s.active[id]
	if ok {
		delete(s.active, id)
	}
	total := len(s.active)
	s.mu.Unlock()

	if !ok {
		return
	}
	metrics.ActiveEvents.Set(float64(total))
	slog.Info("game event ended", "id", ev.ID, "type", ev.Type)
	s.broadcaster.BroadcastAll("game_event_end", ev)
}

// ActiveEvents returns a snapshot of the currently active events.
func (s *Scheduler) ActiveEvents() []model.GameEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]model.GameEvent, 0, len(s.active))
	for _, ev := range s.active {
		events = append(events, *ev)
	}
	return events
}

// ProductionMultiplier returns the combined production multiplier of all
// active events. Energy storms multiply production by 2; overlapping
// storms stack.
func (s *Scheduler) ProductionMultiplier() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	mult := decimal.NewFromInt(1)
	now := s.now()
	for _, ev := range s.active {
		if ev.Type != model.EventEnergyStorm || !now.Before(ev.ExpiresAt()) {
			continue
		}
		if m, ok := ev.Data["multiplier"].(float64); ok {
			mult = mult.Mul(decimal.NewFromFloat(m))
		}
	}
	return mult
}
