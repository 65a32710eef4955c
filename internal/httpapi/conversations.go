package httpapi

import (
	"net/http"
	"time"

	"nightline/internal/authtoken"
	"nightline/internal/realtime"
	"nightline/internal/repo"
)

type participantInput struct {
	Hex string `json:"hex" validate:"required"`
}

type conversationAddRequest struct {
	Participants []participantInput `json:"participants" validate:"required,len=2,dive"`
	Kind         string              `json:"kind,omitempty" validate:"omitempty,oneof=user group"`
}

// conversationAdd creates a conversation between the caller and exactly
// one other participant. The caller must be one of the two hexes.
func (h *Handler) conversationAdd(w http.ResponseWriter, r *http.Request, principal authtoken.Principal) {
	var req conversationAddRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErr(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	selfIncluded := false
	hexes := make([]string, 0, 2)
	for _, p := range req.Participants {
		if p.Hex == principal.Hex {
			selfIncluded = true
		}
		hexes = append(hexes, p.Hex)
	}
	if !selfIncluded {
		writeErr(w, http.StatusBadRequest, "caller must be a participant")
		return
	}
	if hexes[0] == hexes[1] {
		writeErr(w, http.StatusBadRequest, "cannot start a conversation with yourself")
		return
	}

	scope := req.Kind
	if scope == "" {
		scope = repo.ScopeUser
	}

	if scope == repo.ScopeUser {
		exists, err := h.store.Conversations.Exists(r.Context(), hexes)
		if err != nil {
			h.writeRepoErr(w, r, err)
			return
		}
		if exists {
			writeErr(w, http.StatusBadRequest, "conversation already exists for this pair")
			return
		}
	}

	now := time.Now().UTC()
	participants := make([]repo.Participant, 0, len(hexes))
	for _, hx := range hexes {
		participants = append(participants, repo.Participant{
			Hex: hx, Role: repo.RoleMember, Status: repo.ParticipantActive, JoinedAt: now,
		})
	}

	var conv repo.Conversation
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		conv, err = h.store.Conversations.Create(r.Context(), repo.NewConversationInput{
			Hex: realtime.NewRandomHex(16), Participants: participants, Scope: scope, From: principal.Hex,
		})
		if err == nil {
			break
		}
		if repo.IsConflict(err) {
			continue
		}
		h.writeRepoErr(w, r, err)
		return
	}
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"conversation": conv})
}

var conversationFilters = map[string]repo.ConversationFilter{
	"all":       repo.FilterAll,
	"requested": repo.FilterRequested,
	"trusted":   repo.FilterTrusted,
	"unread":    repo.FilterTrustedUnread,
	"pins":      repo.FilterPinned,
}

func (h *Handler) conversationsList(w http.ResponseWriter, r *http.Request, principal authtoken.Principal) {
	filter, ok := conversationFilters[r.PathValue("filter")]
	if !ok {
		writeErr(w, http.StatusBadRequest, "unsupported listing: "+r.PathValue("filter"))
		return
	}
	convs, err := h.store.Conversations.List(r.Context(), principal.Hex, filter, pageParam(r), h.chatPerPage)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (h *Handler) conversationsStats(w http.ResponseWriter, r *http.Request, principal authtoken.Principal) {
	counts, err := h.store.Conversations.Counts(r.Context(), principal.Hex)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"total": counts.Total, "unread": counts.Unread, "requested": counts.Requested,
	})
}

type conversationOneRequest struct {
	Other string `json:"other" validate:"required"`
}

func (h *Handler) conversationOne(w http.ResponseWriter, r *http.Request, principal authtoken.Principal) {
	var req conversationOneRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErr(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	conv, err := h.store.Conversations.FindByParticipantPair(r.Context(), principal.Hex, req.Other)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"conversation": conv})
}

// conversationTransition handles PATCH /conversation/{hex}/{pin,unpin,accept}.
func (h *Handler) conversationTransition(w http.ResponseWriter, r *http.Request, principal authtoken.Principal) {
	hex := r.PathValue("hex")
	action := r.PathValue("action")

	var (
		conv repo.Conversation
		err  error
	)
	switch action {
	case "pin":
		conv, err = h.store.Conversations.Pin(r.Context(), hex, principal.Hex, h.chatMaxPins)
	case "unpin":
		conv, err = h.store.Conversations.Unpin(r.Context(), hex, principal.Hex)
	case "accept":
		conv, err = h.store.Conversations.Accept(r.Context(), hex, principal.Hex)
	default:
		writeErr(w, http.StatusBadRequest, "unsupported transition: "+action)
		return
	}
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"conversation": conv})
}

func (h *Handler) conversationMessages(w http.ResponseWriter, r *http.Request, principal authtoken.Principal) {
	hex := r.PathValue("hex")

	conv, err := h.store.Conversations.FindByHex(r.Context(), hex)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	if !conv.HasParticipant(principal.Hex) {
		writeErr(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	msgs, err := h.store.Messages.Page(r.Context(), hex, pageParam(r), h.chatHistory)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"messages": msgs})
}
