package ecs

import "time"

// System updates a world once per tick.
type System interface {
	Update(w *World)
}

// Observer is told how long each system took in a tick.
type Observer func(system System, took time.Duration)

// Scheduler runs systems in registration order, then closes the tick.
type Scheduler struct {
	systems []System
	observe Observer
}

func NewScheduler(systems ...System) *Scheduler {
	s := &Scheduler{}
	for _, system := range systems {
		s.Add(system)
	}
	return s
}

func (s *Scheduler) Add(system System) {
	if system == nil {
		return
	}
	s.systems = append(s.systems, system)
}

// Observe installs fn as the timing hook; nil removes it.
func (s *Scheduler) Observe(fn Observer) {
	s.observe = fn
}

func (s *Scheduler) Update(w *World) {
	for _, system := range s.systems {
		if s.observe == nil {
			system.Update(w)
			continue
		}
		start := time.Now()
		system.Update(w)
		s.observe(system, time.Since(start))
	}
	w.endTick()
}

func (s *Scheduler) Systems() []System {
	systems := make([]System, 0, len(s.systems))
	return append(systems, s.systems...)
}
