package event

import (
	"context"
	"sync"

	"engageflow/metrics"
)

type transitionsKey struct{}

// Transition is one status change made inside a unit of work.
type Transition struct {
	Entity string
	From   string
	To     string
}

type transitionLog struct {
	mu    sync.Mutex
	items []Transition
}

func withTransitionLog(ctx context.Context) (context.Context, *transitionLog) {
	log := &transitionLog{}
	return context.WithValue(ctx, transitionsKey{}, log), log
}

// RecordTransition notes a status change for the unit of work running in
// ctx. It is counted only if that unit of work commits; outside a Runner it
// is dropped.
func RecordTransition(ctx context.Context, entity, from, to string) {
	log, ok := ctx.Value(transitionsKey{}).(*transitionLog)
	if !ok {
		return
	}
	log.mu.Lock()
	log.items = append(log.items, Transition{Entity: entity, From: from, To: to})
	log.mu.Unlock()
}

func (l *transitionLog) observe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.items {
		metrics.ObserveTransition(t.Entity, t.From, t.To)
	}
}
