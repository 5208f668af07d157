package system

import (
	"context"
	"log/slog"

	"github.com/milk9111/labyrinth/ecs"
	"github.com/milk9111/labyrinth/nav"
	"github.com/milk9111/labyrinth/record"
)

// Sink receives recorded rows. *record.Recorder satisfies it.
type Sink interface {
	Transition(record.Transition)
	NavEvent(record.NavEvent)
	Flush(ctx context.Context) error
}

// Stats counts world events over a whole run.
type Stats struct {
	Transitions int
	NavEvents   map[nav.Event]int
	Emits       map[string]int
}

// RecordSystem drains the world event queue at the end of each tick. It must
// run last so it sees every event the tick produced.
type RecordSystem struct {
	sink       Sink
	flushEvery uint64
	stats      Stats
	log        *slog.Logger
}

// NewRecordSystem records into sink, which may be nil to only keep stats.
// Buffered rows are flushed every flushEvery ticks; zero disables periodic
// flushing.
func NewRecordSystem(sink Sink, flushEvery uint64, log *slog.Logger) *RecordSystem {
	if log == nil {
		log = slog.Default()
	}
	return &RecordSystem{
		sink:       sink,
		flushEvery: flushEvery,
		stats: Stats{
			NavEvents: map[nav.Event]int{},
			Emits:     map[string]int{},
		},
		log: log.With("system", "record"),
	}
}

func (s *RecordSystem) Stats() Stats { return s.stats }

func (s *RecordSystem) Update(w *ecs.World) {
	if w == nil {
		return
	}
	for _, ev := range w.Events().Drain() {
		switch data := ev.Data.(type) {
		case TransitionEvent:
			s.stats.Transitions++
			if s.sink != nil {
				s.sink.Transition(record.Transition{
					Tick:    int64(ev.Tick),
					Entity:  ev.Entity.String(),
					From:    string(data.From),
					To:      string(data.To),
					Trigger: string(data.Trigger),
				})
			}
		case NavEvent:
			s.stats.NavEvents[data.Event]++
			if s.sink != nil && data.Event != nav.EventWaypoint {
				s.sink.NavEvent(record.NavEvent{
					Tick:   int64(ev.Tick),
					Entity: ev.Entity.String(),
					Event:  data.Event.String(),
					Node:   int32(data.Node),
				})
			}
		case string:
			if ev.Type == EventAIEmit {
				s.stats.Emits[data]++
			}
		}
	}

	if s.sink != nil && s.flushEvery > 0 && (w.Tick()+1)%s.flushEvery == 0 {
		if err := s.sink.Flush(context.Background()); err != nil {
			s.log.Error("flush", "tick", w.Tick(), "err", err)
		}
	}
}
