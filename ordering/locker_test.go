package ordering

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/eladsnd/sunday/domain"
)

func TestSortedKeysDedupes(t *testing.T) {
	got := SortedKeys([]string{"item:g2", "item:g1", "item:g2"})
	want := []string{"item:g1", "item:g2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SortedKeys = %v, want %v", got, want)
	}
}

func TestLocalLockerTimesOutAsConflict(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, []string{"a"})
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}

	_, err = l.Lock(ctx, []string{"b", "a"})
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// b must have been released by the failed attempt.
	unlockB, err := l.Lock(ctx, []string{"b"})
	if err != nil {
		t.Fatalf("lock b after failed attempt: %v", err)
	}
	unlockB()
	unlock()

	unlock, err = l.Lock(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	unlock()
	unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.locks) != 0 {
		t.Fatalf("expected lock table to be empty, got %d entries", len(l.locks))
	}
}

func TestLocalLockerSerializes(t *testing.T) {
	l := NewLocalLocker(0)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, []string{"item:g1"})
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(ctx, []string{"item:g1", "item:g2"})
		if err == nil {
			u()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatalf("second writer acquired a held scope")
	case <-time.After(30 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("second writer never acquired the scope")
	}
}

type recordingLocker struct {
	name string
	log  *[]string
	err  error
}

func (r recordingLocker) Lock(_ context.Context, _ []string) (func(), error) {
	if r.err != nil {
		return nil, r.err
	}
	*r.log = append(*r.log, "lock "+r.name)
	return func() { *r.log = append(*r.log, "unlock "+r.name) }, nil
}

func TestChainLockerReleasesInReverse(t *testing.T) {
	var events []string
	chain := ChainLocker{recordingLocker{name: "local", log: &events}, recordingLocker{name: "redis", log: &events}}

	unlock, err := chain.Lock(context.Background(), []string{"k"})
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	unlock()

	want := []string{"lock local", "lock redis", "unlock redis", "unlock local"}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
}

func TestChainLockerUnwindsOnFailure(t *testing.T) {
	var events []string
	chain := ChainLocker{
		recordingLocker{name: "local", log: &events},
		recordingLocker{name: "redis", log: &events, err: domain.ErrConcurrencyConflict},
	}

	if _, err := chain.Lock(context.Background(), []string{"k"}); !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	want := []string{"lock local", "unlock local"}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
}

func TestCheckDenseReportsGap(t *testing.T) {
	err := CheckDense(KindItem, "g1", []Entry{{ID: "a", Position: 0}, {ID: "b", Position: 2}})
	var de *DenseError
	if !errors.As(err, &de) {
		t.Fatalf("expected DenseError, got %v", err)
	}
	if de.Entry.ID != "b" || de.Index != 1 {
		t.Fatalf("unexpected violation %+v", de)
	}
	if err := CheckDense(KindItem, "g1", nil); err != nil {
		t.Fatalf("empty scope should be dense: %v", err)
	}
}
