package workitem

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	created, err := store.Create(ctx, WorkItem{ID: "a", Status: StatusPending, Payload: map[string]any{"title": "x"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	created.Payload["title"] = "mutated"
	created.History = append(created.History, HistoryEntry{Seq: 1})

	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Payload["title"] != "x" || len(got.History) != 0 {
		t.Fatalf("store leaked internal state: %+v", got)
	}

	if _, err := store.Create(ctx, WorkItem{ID: "a"}); err == nil {
		t.Fatal("expected duplicate id to fail")
	}
}

func TestMemoryStore_UpdateIsAllOrNothing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Create(ctx, WorkItem{ID: "a", Status: StatusPending, OwnerID: "o", ReviewerID: "r"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("boom")
	_, err := store.Update(ctx, "a", func(w WorkItem) (WorkItem, error) {
		w.Status = StatusInProgress
		return w, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutate error, got %v", err)
	}
	got, _ := store.Get(ctx, "a")
	if got.Status != StatusPending {
		t.Fatalf("failed update was applied: %s", got.Status)
	}

	_, err = store.Update(ctx, "a", func(w WorkItem) (WorkItem, error) {
		w.History = nil
		return w, nil
	})
	if err != nil {
		t.Fatalf("empty history on empty item should be fine: %v", err)
	}

	if _, err := store.Update(ctx, "missing", func(w WorkItem) (WorkItem, error) { return w, nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Get(ctx, "a"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryStore_NestedPayloadIsCopied(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	payload := map[string]any{
		"brief": map[string]any{"text": "v1"},
		"tags":  []any{"print", map[string]any{"size": "a4"}},
	}
	if _, err := store.Create(ctx, WorkItem{ID: "a", Status: StatusPending, Payload: payload}); err != nil {
		t.Fatalf("create: %v", err)
	}
	payload["brief"].(map[string]any)["text"] = "changed by caller"

	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Payload["brief"].(map[string]any)["text"] = "tampered"
	got.Payload["tags"].([]any)[1].(map[string]any)["size"] = "a3"

	again, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if text := again.Payload["brief"].(map[string]any)["text"]; text != "v1" {
		t.Fatalf("nested payload leaked: brief.text = %v", text)
	}
	if size := again.Payload["tags"].([]any)[1].(map[string]any)["size"]; size != "a4" {
		t.Fatalf("nested payload leaked: tags[1].size = %v", size)
	}
}
