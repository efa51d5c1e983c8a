package project

import (
	"context"
	"time"

	"engageflow/apperr"
	"engageflow/event"
)

const Entity = "project"

type Status string

const (
	StatusDraft      Status = "draft"
	StatusPublished  Status = "published"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

type Project struct {
	ID        string
	ClientID  string
	Title     string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

var transitions = map[Status]map[Status]bool{
	StatusDraft:      {StatusPublished: true},
	StatusPublished:  {StatusInProgress: true},
	StatusInProgress: {StatusCompleted: true},
}

func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

func CheckTransition(id string, from, to Status) error {
	if !CanTransition(from, to) {
		return apperr.InvalidTransition(Entity, id, string(from), string(to))
	}
	return nil
}

// Transition checks from -> to and records it against the unit of work in
// ctx.
func Transition(ctx context.Context, id string, from, to Status) error {
	if err := CheckTransition(id, from, to); err != nil {
		return err
	}
	event.RecordTransition(ctx, Entity, string(from), string(to))
	return nil
}
