package workitem

import (
	"errors"
	"testing"
	"time"
)

var allActions = []Action{
	ActionStart,
	ActionSubmit,
	ActionRequestHelp,
	ActionResolveHelp,
	ActionApprove,
	ActionRequestRework,
}

func itemIn(status Status) WorkItem {
	return WorkItem{
		ID:         "item-1",
		Kind:       KindMarketingTask,
		Status:     status,
		OwnerID:    "owner-1",
		ReviewerID: "reviewer-1",
		History:    []HistoryEntry{},
	}
}

func actorFor(item WorkItem, p Party) string {
	if p == PartyReviewer {
		return item.ReviewerID
	}
	return item.OwnerID
}

func TestTransition_TableIsClosed(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, status := range Statuses() {
		for _, action := range allActions {
			item := itemIn(status)
			rule, allowed := Lookup(status, action)

			// Use whichever party would be entitled so that only the table decides.
			actor := item.OwnerID
			if allowed {
				actor = actorFor(item, rule.By)
			}
			next, err := Transition(item, action, actor, "because", at)

			if !allowed {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("%s/%s: expected ErrInvalidTransition, got %v", status, action, err)
				}
				if next.Status != status || len(next.History) != 0 {
					t.Fatalf("%s/%s: item changed on failure", status, action)
				}
				continue
			}
			if err != nil {
				t.Fatalf("%s/%s: unexpected error: %v", status, action, err)
			}
			if next.Status != rule.To {
				t.Fatalf("%s/%s: expected %s got %s", status, action, rule.To, next.Status)
			}
		}
	}
}

func TestTransition_UnknownActionIsInvalid(t *testing.T) {
	_, err := Transition(itemIn(StatusPending), Action("reset"), "owner-1", "", time.Now())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransition_AppendsOneEntry(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	item := itemIn(StatusInProgress)
	item.History = []HistoryEntry{{Seq: 1, ActorID: "owner-1", Action: ActionStart, From: StatusPending, To: StatusInProgress}}
	item.Version = 1

	next, err := Transition(item, ActionRequestHelp, "owner-1", "  need the brand kit  ", at)
	if err != nil {
		t.Fatalf("request help: %v", err)
	}
	if len(next.History) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(next.History))
	}
	if next.History[0] != item.History[0] {
		t.Fatalf("existing entry changed: %+v", next.History[0])
	}
	last, _ := next.LastEntry()
	want := HistoryEntry{Seq: 2, At: at, ActorID: "owner-1", Action: ActionRequestHelp, From: StatusInProgress, To: StatusHelpRequested, Comment: "need the brand kit"}
	if last != want {
		t.Fatalf("unexpected entry %+v", last)
	}
	if next.Version != 2 {
		t.Fatalf("expected version 2, got %d", next.Version)
	}
	if len(item.History) != 1 || item.Status != StatusInProgress {
		t.Fatal("input item was modified")
	}

	// Appending to the result must not leak into the input's backing array.
	next.History = append(next.History[:1], HistoryEntry{Seq: 99})
	if len(item.History) != 1 || item.History[0].Seq != 1 {
		t.Fatal("result aliases input history")
	}
}

func TestTransition_ActorEnforcement(t *testing.T) {
	now := time.Now()
	cases := []struct {
		status Status
		action Action
		actor  string
	}{
		{StatusPending, ActionStart, "reviewer-1"},
		{StatusInProgress, ActionSubmit, "reviewer-1"},
		{StatusInProgress, ActionRequestHelp, "stranger"},
		{StatusHelpRequested, ActionResolveHelp, "owner-1"},
		{StatusPendingReview, ActionApprove, "owner-1"},
		{StatusPendingReview, ActionRequestRework, "owner-1"},
		{StatusReworkRequested, ActionSubmit, ""},
	}
	for _, tc := range cases {
		item := itemIn(tc.status)
		next, err := Transition(item, tc.action, tc.actor, "comment", now)
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("%s by %q: expected ErrForbidden, got %v", tc.action, tc.actor, err)
		}
		if next.Status != tc.status {
			t.Fatalf("%s by %q: status changed to %s", tc.action, tc.actor, next.Status)
		}
	}
}

func TestTransition_CommentRequired(t *testing.T) {
	now := time.Now()
	cases := []struct {
		status Status
		action Action
		actor  string
	}{
		{StatusInProgress, ActionRequestHelp, "owner-1"},
		{StatusHelpRequested, ActionResolveHelp, "reviewer-1"},
		{StatusPendingReview, ActionRequestRework, "reviewer-1"},
	}
	for _, tc := range cases {
		for _, comment := range []string{"", "   "} {
			_, err := Transition(itemIn(tc.status), tc.action, tc.actor, comment, now)
			if !errors.Is(err, ErrMissingComment) {
				t.Fatalf("%s with %q: expected ErrMissingComment, got %v", tc.action, comment, err)
			}
		}
	}

	if _, err := Transition(itemIn(StatusPendingReview), ActionApprove, "reviewer-1", "", now); err != nil {
		t.Fatalf("approve without comment: %v", err)
	}
}

func TestTransition_OneOutstandingHelpRequest(t *testing.T) {
	now := time.Now()
	item, err := Transition(itemIn(StatusInProgress), ActionRequestHelp, "owner-1", "stuck", now)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := Transition(item, ActionRequestHelp, "owner-1", "still stuck", now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second request: expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransition_ReplayIsInvalid(t *testing.T) {
	now := time.Now()
	item, err := Transition(itemIn(StatusPendingReview), ActionApprove, "reviewer-1", "", now)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := Transition(item, ActionApprove, "reviewer-1", "", now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("replay: expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransition_OwnerIsAlsoReviewer(t *testing.T) {
	item := itemIn(StatusPendingReview)
	item.ReviewerID = item.OwnerID
	next, err := Transition(item, ActionApprove, item.OwnerID, "", time.Now())
	if err != nil {
		t.Fatalf("approve own work: %v", err)
	}
	if next.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", next.Status)
	}
}

func TestAllowed(t *testing.T) {
	item := itemIn(StatusInProgress)
	owner := Allowed(item, "owner-1")
	if len(owner) != 2 || owner[0] != ActionSubmit || owner[1] != ActionRequestHelp {
		t.Fatalf("unexpected owner actions %v", owner)
	}
	if got := Allowed(item, "reviewer-1"); len(got) != 0 {
		t.Fatalf("reviewer should have no actions, got %v", got)
	}
	if got := Allowed(itemIn(StatusCompleted), "reviewer-1"); len(got) != 0 {
		t.Fatalf("terminal status should allow nothing, got %v", got)
	}
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range Statuses() {
		if !s.Valid() {
			t.Fatalf("%s should be valid", s)
		}
	}
	if Status("archived").Valid() {
		t.Fatal("archived should not be valid")
	}
	if !StatusCompleted.Terminal() || !StatusRejected.Terminal() || StatusPendingReview.Terminal() {
		t.Fatal("unexpected terminal classification")
	}
}

func TestErrorMessagesAreDistinct(t *testing.T) {
	seen := map[string]error{}
	for _, err := range []error{ErrNotFound, ErrForbidden, ErrInvalidTransition, ErrMissingComment, ErrTransitionFailed, ErrInvalidInput} {
		msg := Describe(err)
		if prev, ok := seen[msg]; ok {
			t.Fatalf("%v and %v share message %q", prev, err, msg)
		}
		seen[msg] = err
		if got := FromCode(Code(err)); got != err {
			t.Fatalf("code round trip for %v returned %v", err, got)
		}
	}
	if Code(errors.New("boom")) != "internal" {
		t.Fatal("unknown errors should map to internal")
	}
}
