package httpapi

import (
	"time"

	"opsdesk/auth"
	"opsdesk/workitem"
)

type WorkItemResponse struct {
	ID             string                 `json:"id"`
	Kind           string                 `json:"kind"`
	Status         string                 `json:"status"`
	OwnerID        string                 `json:"ownerId"`
	ReviewerID     string                 `json:"reviewerId"`
	CreatedBy      string                 `json:"createdBy"`
	Payload        map[string]any         `json:"payload"`
	History        []HistoryEntryResponse `json:"history"`
	Version        int                    `json:"version"`
	AllowedActions []string               `json:"allowedActions"`
	CreatedAt      string                 `json:"createdAt"`
	UpdatedAt      string                 `json:"updatedAt"`
}

type HistoryEntryResponse struct {
	Seq     int    `json:"seq"`
	At      string `json:"at"`
	ActorID string `json:"actorId"`
	Action  string `json:"action"`
	From    string `json:"from"`
	To      string `json:"to"`
	Comment string `json:"comment,omitempty"`
}

type WorkItemList struct {
	Items []WorkItemResponse `json:"items"`
	Total int                `json:"total"`
}

type HistoryList struct {
	Items []HistoryEntryResponse `json:"items"`
	Total int                    `json:"total"`
}

type CreateWorkItemRequest struct {
	OwnerID    string         `json:"ownerId" validate:"required,max=128"`
	ReviewerID string         `json:"reviewerId" validate:"omitempty,max=128"`
	Kind       string         `json:"kind" validate:"omitempty,oneof=lead marketing_task help_ticket"`
	Payload    map[string]any `json:"payload"`
}

// TransitionRequest leaves action values to the domain so that unknown
// actions surface as invalid transitions.
type TransitionRequest struct {
	Action          string `json:"action" validate:"required,max=64"`
	Comment         string `json:"comment" validate:"max=2000"`
	ExpectedVersion *int   `json:"expectedVersion" validate:"omitempty,min=0"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"fullName" validate:"required,max=200"`
	Role     string `json:"role" validate:"omitempty,oneof=coo brand_head project_manager digital_marketer graphic_designer tele_caller"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type MemberResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"fullName"`
	Role      string `json:"role"`
	CreatedAt string `json:"createdAt"`
}

type LoginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt string         `json:"expiresAt"`
	Member    MemberResponse `json:"member"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func toWorkItemResponse(item workitem.WorkItem, viewer string) WorkItemResponse {
	history := make([]HistoryEntryResponse, 0, len(item.History))
	for _, h := range item.History {
		history = append(history, toHistoryEntryResponse(h))
	}
	allowed := []string{}
	for _, a := range workitem.Allowed(item, viewer) {
		allowed = append(allowed, string(a))
	}
	payload := item.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return WorkItemResponse{
		ID:             item.ID,
		Kind:           string(item.Kind),
		Status:         string(item.Status),
		OwnerID:        item.OwnerID,
		ReviewerID:     item.ReviewerID,
		CreatedBy:      item.CreatedBy,
		Payload:        payload,
		History:        history,
		Version:        item.Version,
		AllowedActions: allowed,
		CreatedAt:      formatTime(item.CreatedAt),
		UpdatedAt:      formatTime(item.UpdatedAt),
	}
}

func toHistoryEntryResponse(h workitem.HistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse{
		Seq:     h.Seq,
		At:      formatTime(h.At),
		ActorID: h.ActorID,
		Action:  string(h.Action),
		From:    string(h.From),
		To:      string(h.To),
		Comment: h.Comment,
	}
}

func toMemberResponse(m auth.Member) MemberResponse {
	return MemberResponse{
		ID:        m.ID,
		Email:     m.Email,
		FullName:  m.FullName,
		Role:      string(m.Role),
		CreatedAt: formatTime(m.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// ToWorkItem converts a response back into the domain shape.
func (r WorkItemResponse) ToWorkItem() workitem.WorkItem {
	item := workitem.WorkItem{
		ID:         r.ID,
		Kind:       workitem.Kind(r.Kind),
		Status:     workitem.Status(r.Status),
		OwnerID:    r.OwnerID,
		ReviewerID: r.ReviewerID,
		CreatedBy:  r.CreatedBy,
		Payload:    r.Payload,
		Version:    r.Version,
		CreatedAt:  parseTime(r.CreatedAt),
		UpdatedAt:  parseTime(r.UpdatedAt),
		History:    make([]workitem.HistoryEntry, 0, len(r.History)),
	}
	for _, h := range r.History {
		item.History = append(item.History, h.ToHistoryEntry())
	}
	return item
}

func (h HistoryEntryResponse) ToHistoryEntry() workitem.HistoryEntry {
	return workitem.HistoryEntry{
		Seq:     h.Seq,
		At:      parseTime(h.At),
		ActorID: h.ActorID,
		Action:  workitem.Action(h.Action),
		From:    workitem.Status(h.From),
		To:      workitem.Status(h.To),
		Comment: h.Comment,
	}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
