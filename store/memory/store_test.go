package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/xraph/forwarder"
	"github.com/xraph/forwarder/history"
	"github.com/xraph/forwarder/id"
)

func ctx() context.Context { return context.Background() }

func record(path string) *history.Record {
	return &history.Record{ID: id.NewDispatchID(), RoutePath: path}
}

func TestLifecycle(t *testing.T) {
	s := New(0)

	if err := s.Migrate(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); !errors.Is(err, forwarder.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
	if err := s.Append(ctx(), record("/a")); !errors.Is(err, forwarder.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
	if _, err := s.List(ctx(), 1); !errors.Is(err, forwarder.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := New(10)
	for i := 0; i < 3; i++ {
		if err := s.Append(ctx(), record(fmt.Sprintf("/r%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.List(ctx(), 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"/r2", "/r1", "/r0"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, rec := range got {
		if rec.RoutePath != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, rec.RoutePath, want[i])
		}
	}

	limited, _ := s.List(ctx(), 2)
	if len(limited) != 2 || limited[0].RoutePath != "/r2" {
		t.Fatalf("unexpected limited list: %+v", limited)
	}
}

func TestEvictsOldest(t *testing.T) {
	s := New(3)
	for i := 0; i < 5; i++ {
		_ = s.Append(ctx(), record(fmt.Sprintf("/r%d", i)))
	}

	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	got, _ := s.List(ctx(), 10)
	want := []string{"/r4", "/r3", "/r2"}
	for i, rec := range got {
		if rec.RoutePath != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, rec.RoutePath, want[i])
		}
	}
}

func TestEmptyList(t *testing.T) {
	got, err := New(5).List(ctx(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty, got %d", len(got))
	}
}

func TestConcurrentAppend(t *testing.T) {
	s := New(1000)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Append(ctx(), record("/c"))
		}()
	}
	wg.Wait()

	if s.Len() != 50 {
		t.Fatalf("Len = %d, want 50", s.Len())
	}
}

func TestOrdersByArrival(t *testing.T) {
	s := New(3)
	late := record("/late")
	late.Seq = 20
	early := record("/early")
	early.Seq = 10
	newest := record("/newest")
	newest.Seq = 30

	for _, rec := range []*history.Record{late, newest, early} {
		if err := s.Append(ctx(), rec); err != nil {
			t.Fatal(err)
		}
	}

	got, _ := s.List(ctx(), 0)
	want := []string{"/newest", "/late", "/early"}
	for i, rec := range got {
		if rec.RoutePath != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, rec.RoutePath, want[i])
		}
	}

	stale := record("/stale")
	stale.Seq = 5
	_ = s.Append(ctx(), stale)
	got, _ = s.List(ctx(), 0)
	if len(got) != 3 || got[2].RoutePath != "/early" {
		t.Fatalf("a record older than every retained one must be dropped when full: %+v", got)
	}

	fresh := record("/fresh")
	fresh.Seq = 25
	_ = s.Append(ctx(), fresh)
	got, _ = s.List(ctx(), 0)
	want = []string{"/newest", "/fresh", "/late"}
	for i, rec := range got {
		if rec.RoutePath != want[i] {
			t.Errorf("after eviction got[%d] = %s, want %s", i, rec.RoutePath, want[i])
		}
	}
}
