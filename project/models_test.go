package project

import (
	"errors"
	"testing"

	"engageflow/apperr"
)

func TestCheckTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusDraft, StatusPublished},
		{StatusPublished, StatusInProgress},
		{StatusInProgress, StatusCompleted},
	}
	for _, pair := range allowed {
		if err := CheckTransition("p-1", pair[0], pair[1]); err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", pair[0], pair[1], err)
		}
	}

	denied := [][2]Status{
		{StatusDraft, StatusInProgress},
		{StatusPublished, StatusCompleted},
		{StatusCompleted, StatusInProgress},
		{StatusInProgress, StatusInProgress},
	}
	for _, pair := range denied {
		err := CheckTransition("p-1", pair[0], pair[1])
		if !errors.Is(err, apperr.ErrInvalidState) {
			t.Fatalf("%s -> %s: expected invalid state, got %v", pair[0], pair[1], err)
		}
	}
}
