package httpapi

import (
	"net/http"

	"nightline/internal/authtoken"
	"nightline/internal/realtime"
	"nightline/internal/repo"
)

type userAddRequest struct {
	PublicKey           string `json:"publicKey" validate:"required"`
	EncryptedPrivateKey string `json:"encryptedPrivateKey" validate:"required"`
	PrivateKeyNonce     string `json:"privateKeyNonce" validate:"required"`
	PasscodeSalt        string `json:"passcodeSalt" validate:"required"`
}

// userAdd registers a new identity. Unauthenticated — this is the sole
// endpoint that issues a hex rather than requiring one.
func (h *Handler) userAdd(w http.ResponseWriter, r *http.Request) {
	var req userAddRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErr(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	ctx := r.Context()
	for attempt := 0; attempt < 3; attempt++ {
		hex := realtime.NewRandomHex(16)
		user, err := h.store.Users.Create(ctx, repo.User{
			Hex:                 hex,
			Status:              repo.UserActive,
			PublicKey:           req.PublicKey,
			EncryptedPrivateKey: req.EncryptedPrivateKey,
			PrivateKeyNonce:     req.PrivateKeyNonce,
			PasscodeSalt:        req.PasscodeSalt,
		})
		if err != nil {
			if repo.IsConflict(err) {
				continue // id collision: regenerate and retry
			}
			h.writeRepoErr(w, r, err)
			return
		}
		writeOK(w, http.StatusCreated, map[string]any{"user": user})
		return
	}
	writeErr(w, http.StatusConflict, "could not allocate a unique identifier")
}

func (h *Handler) userRetrieve(w http.ResponseWriter, r *http.Request, principal authtoken.Principal) {
	user, err := h.store.Users.FindByHex(r.Context(), principal.Hex)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"user": user})
}

var editableUserFields = map[string]struct{}{
	"status":       {},
	"avatar":       {},
	"verification": {},
	"name":         {},
}

type userEditRequest struct {
	Value string `json:"value" validate:"required"`
}

// userEdit handles PATCH /user/edit/{field} for field in
// {keys,status,avatar,verification,name}. "keys" takes the same
// four-field key envelope as userAdd rather than a single value, so it
// is special-cased.
func (h *Handler) userEdit(w http.ResponseWriter, r *http.Request, principal authtoken.Principal) {
	field := r.PathValue("field")

	if field == "keys" {
		var req userAddRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, "malformed request body")
			return
		}
		if err := h.validate.Struct(req); err != nil {
			writeErr(w, http.StatusBadRequest, "validation failed: "+err.Error())
			return
		}
		user, err := h.store.Users.UpdatePublicKeys(r.Context(), principal.Hex, req.PublicKey, req.EncryptedPrivateKey, req.PrivateKeyNonce, req.PasscodeSalt)
		if err != nil {
			h.writeRepoErr(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"user": user})
		return
	}

	if _, ok := editableUserFields[field]; !ok {
		writeErr(w, http.StatusBadRequest, "unsupported field: "+field)
		return
	}

	var req userEditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErr(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	repoField := field
	if field == "verification" {
		repoField = "verified"
	}

	user, err := h.store.Users.UpdateField(r.Context(), principal.Hex, repoField, req.Value)
	if err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"user": user})
}

func (h *Handler) userRemove(w http.ResponseWriter, r *http.Request, principal authtoken.Principal) {
	if err := h.store.Users.Delete(r.Context(), principal.Hex); err != nil {
		h.writeRepoErr(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}
