package oracle

import (
	"context"
	"errors"
	"math/rand"
	"testing"
)

func TestRandomPicksFromCandidates(t *testing.T) {
	r := NewRandom(rand.New(rand.NewSource(5)))
	candidates := []string{"e2e4", "g1f3", "d2d4"}

	for i := 0; i < 20; i++ {
		pick, err := r.ChooseMove(context.Background(), "", candidates)
		if err != nil {
			t.Fatalf("choose: %v", err)
		}
		found := false
		for _, c := range candidates {
			if c == pick {
				found = true
			}
		}
		if !found {
			t.Fatalf("pick %q not in candidate set", pick)
		}
	}
}

func TestRandomRejectsEmptySet(t *testing.T) {
	r := NewRandom(rand.New(rand.NewSource(5)))
	if _, err := r.ChooseMove(context.Background(), "", nil); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
}
