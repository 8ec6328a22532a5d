package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"opsdesk/auth"
	"opsdesk/workitem"
)

const maxBodyBytes = 1 << 20

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "The request body is not valid JSON for this endpoint.")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeDomainError(w, r, err)
		return false
	}
	return true
}

// handleRegister is public. A bearer token is optional; when present it must
// be valid and its role decides whether manager roles may be granted.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var invitedBy auth.Role
	if token := bearerToken(r); token != "" {
		_, role, err := s.auth.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Your session has expired. Sign in again.")
			return
		}
		invitedBy = role
	}

	var req RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}
	member, err := s.auth.Register(r.Context(), auth.RegisterRequest{
		Email:     req.Email,
		Password:  req.Password,
		FullName:  req.FullName,
		Role:      auth.Role(req.Role),
		InvitedBy: invitedBy,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberResponse(member))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.auth.Login(r.Context(), auth.LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     res.Token,
		ExpiresAt: formatTime(res.ExpiresAt),
		Member:    toMemberResponse(res.Member),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r.Context())
	member, err := s.auth.GetMember(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberResponse(member))
}

// handleListWorkItems lets managers list anything. Everyone else must be
// the owner or reviewer named in the filter; with no filter they see the
// items they own.
func (s *Server) handleListWorkItems(w http.ResponseWriter, r *http.Request) {
	userID, role := userFromContext(r.Context())
	q := r.URL.Query()
	filter := workitem.Filter{
		OwnerID:    strings.TrimSpace(q.Get("ownerId")),
		ReviewerID: strings.TrimSpace(q.Get("reviewerId")),
		Status:     workitem.Status(strings.TrimSpace(q.Get("status"))),
		Kind:       workitem.Kind(strings.TrimSpace(q.Get("kind"))),
	}
	if !role.CanAssign() {
		switch {
		case filter.OwnerID == "" && filter.ReviewerID == "":
			filter.OwnerID = userID
		case filter.OwnerID != userID && filter.ReviewerID != userID:
			s.writeDomainError(w, r, workitem.ErrForbidden)
			return
		}
	}

	items, err := s.workItems.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	resp := WorkItemList{Items: make([]WorkItemResponse, 0, len(items)), Total: len(items)}
	for _, item := range items {
		resp.Items = append(resp.Items, toWorkItemResponse(item, userID))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateWorkItem(w http.ResponseWriter, r *http.Request) {
	userID, role := userFromContext(r.Context())
	var req CreateWorkItemRequest
	if !s.decode(w, r, &req) {
		return
	}
	reviewer := strings.TrimSpace(req.ReviewerID)
	if reviewer == "" {
		reviewer = userID
	}
	if reviewer != userID && !role.CanAssign() {
		s.writeDomainError(w, r, fmt.Errorf("%w: only managers may assign on behalf of another reviewer", workitem.ErrForbidden))
		return
	}

	item, err := s.workItems.Create(r.Context(), workitem.CreateParams{
		OwnerID:    req.OwnerID,
		ReviewerID: reviewer,
		CreatedBy:  userID,
		Kind:       workitem.Kind(req.Kind),
		Payload:    req.Payload,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkItemResponse(item, userID))
}

func (s *Server) loadVisible(w http.ResponseWriter, r *http.Request) (workitem.WorkItem, bool) {
	userID, role := userFromContext(r.Context())
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_path", "A work item id is required.")
		return workitem.WorkItem{}, false
	}
	item, err := s.workItems.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return workitem.WorkItem{}, false
	}
	if !role.CanAssign() && item.OwnerID != userID && item.ReviewerID != userID {
		s.writeDomainError(w, r, workitem.ErrForbidden)
		return workitem.WorkItem{}, false
	}
	return item, true
}

func (s *Server) handleGetWorkItem(w http.ResponseWriter, r *http.Request) {
	item, ok := s.loadVisible(w, r)
	if !ok {
		return
	}
	userID, _ := userFromContext(r.Context())
	writeJSON(w, http.StatusOK, toWorkItemResponse(item, userID))
}

func (s *Server) handleWorkItemHistory(w http.ResponseWriter, r *http.Request) {
	item, ok := s.loadVisible(w, r)
	if !ok {
		return
	}
	resp := HistoryList{Items: make([]HistoryEntryResponse, 0, len(item.History)), Total: len(item.History)}
	for _, h := range item.History {
		resp.Items = append(resp.Items, toHistoryEntryResponse(h))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r.Context())
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_path", "A work item id is required.")
		return
	}
	var req TransitionRequest
	if !s.decode(w, r, &req) {
		return
	}

	item, err := s.workItems.Transition(r.Context(), workitem.TransitionParams{
		ID:              id,
		Action:          workitem.Action(req.Action),
		ActorID:         userID,
		Comment:         req.Comment,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkItemResponse(item, userID))
}
