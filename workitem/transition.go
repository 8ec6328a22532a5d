package workitem

import (
	"fmt"
	"strings"
	"time"
)

// Rule is one row of the lifecycle table.
type Rule struct {
	From            Status
	Action          Action
	To              Status
	By              Party
	RequiresComment bool
}

type ruleKey struct {
	from   Status
	action Action
}

var rules = []Rule{
	{From: StatusPending, Action: ActionStart, To: StatusInProgress, By: PartyOwner},
	{From: StatusInProgress, Action: ActionSubmit, To: StatusPendingReview, By: PartyOwner},
	{From: StatusInProgress, Action: ActionRequestHelp, To: StatusHelpRequested, By: PartyOwner, RequiresComment: true},
	{From: StatusHelpRequested, Action: ActionResolveHelp, To: StatusInProgress, By: PartyReviewer, RequiresComment: true},
	{From: StatusPendingReview, Action: ActionApprove, To: StatusCompleted, By: PartyReviewer},
	{From: StatusPendingReview, Action: ActionRequestRework, To: StatusReworkRequested, By: PartyReviewer, RequiresComment: true},
	{From: StatusReworkRequested, Action: ActionSubmit, To: StatusPendingReview, By: PartyOwner},
}

var ruleIndex = func() map[ruleKey]Rule {
	idx := make(map[ruleKey]Rule, len(rules))
	for _, r := range rules {
		idx[ruleKey{r.From, r.Action}] = r
	}
	return idx
}()

// Rules returns a copy of the lifecycle table.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Lookup returns the rule that applies action to an item in status from.
func Lookup(from Status, action Action) (Rule, bool) {
	r, ok := ruleIndex[ruleKey{from, action}]
	return r, ok
}

// Allowed lists the actions actor may take on item right now.
func Allowed(item WorkItem, actor string) []Action {
	var out []Action
	for _, r := range rules {
		if r.From == item.Status && isParty(item, actor, r.By) {
			out = append(out, r.Action)
		}
	}
	return out
}

func isParty(item WorkItem, actor string, p Party) bool {
	if actor == "" {
		return false
	}
	switch p {
	case PartyOwner:
		return actor == item.OwnerID
	case PartyReviewer:
		return actor == item.ReviewerID
	}
	return false
}

// Transition applies action on behalf of actor and returns the resulting
// item with one new history entry. item itself is never modified.
func Transition(item WorkItem, action Action, actor, comment string, at time.Time) (WorkItem, error) {
	rule, ok := Lookup(item.Status, action)
	if !ok {
		return item, fmt.Errorf("%w: %s cannot %s", ErrInvalidTransition, item.Status, action)
	}
	if !isParty(item, actor, rule.By) {
		return item, fmt.Errorf("%w: %s requires the %s", ErrForbidden, action, rule.By)
	}
	comment = strings.TrimSpace(comment)
	if rule.RequiresComment && comment == "" {
		return item, fmt.Errorf("%w: %s", ErrMissingComment, action)
	}

	next := item.Clone()
	next.History = append(next.History, HistoryEntry{
		Seq:     len(item.History) + 1,
		At:      at,
		ActorID: actor,
		Action:  action,
		From:    item.Status,
		To:      rule.To,
		Comment: comment,
	})
	next.Status = rule.To
	next.Version = item.Version + 1
	next.UpdatedAt = at
	return next, nil
}
