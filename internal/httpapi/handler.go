package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"nightline/internal/authtoken"
	"nightline/internal/repo"

	"github.com/go-playground/validator/v10"
)

// Handler is the HTTP CRUD surface: user key management, conversation
// lifecycle, and message history paging. It shares the token verifier,
// validator (structural, via validator/v10 here rather than the frame
// sanitizer the realtime path uses), and repository with the realtime
// gateway.
type Handler struct {
	log      *slog.Logger
	store    repo.Store
	verifier *authtoken.Verifier
	validate *validator.Validate

	chatPerPage int
	chatHistory int
	chatMaxPins int
}

// Config is the subset of app-level configuration the HTTP surface needs.
type Config struct {
	ChatPerPage int
	ChatHistory int
	ChatMaxPins int
}

// New constructs a Handler.
func New(log *slog.Logger, store repo.Store, verifier *authtoken.Verifier, cfg Config) *Handler {
	if log == nil {
		log = slog.Default()
	}
	perPage, history, maxPins := cfg.ChatPerPage, cfg.ChatHistory, cfg.ChatMaxPins
	if perPage <= 0 {
		perPage = 10
	}
	if history <= 0 {
		history = 20
	}
	if maxPins <= 0 {
		maxPins = 5
	}
	return &Handler{
		log: log, store: store, verifier: verifier, validate: validator.New(),
		chatPerPage: perPage, chatHistory: history, chatMaxPins: maxPins,
	}
}

// Register mounts every route of this package onto mux under prefix
// (normally "/api/v1"), method-tagged per Go 1.22 ServeMux patterns.
func (h *Handler) Register(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("PUT "+prefix+"/user/add", h.userAdd)
	mux.HandleFunc("GET "+prefix+"/user/retrieve", h.requireAuth(h.userRetrieve))
	mux.HandleFunc("PATCH "+prefix+"/user/edit/{field}", h.requireAuth(h.userEdit))
	mux.HandleFunc("DELETE "+prefix+"/user/remove", h.requireAuth(h.userRemove))

	mux.HandleFunc("PUT "+prefix+"/conversation/add", h.requireAuth(h.conversationAdd))
	mux.HandleFunc("GET "+prefix+"/conversations/{filter}", h.requireAuth(h.conversationsList))
	mux.HandleFunc("GET "+prefix+"/conversations/stats", h.requireAuth(h.conversationsStats))
	mux.HandleFunc("POST "+prefix+"/conversation/one", h.requireAuth(h.conversationOne))
	mux.HandleFunc("PATCH "+prefix+"/conversation/{hex}/{action}", h.requireAuth(h.conversationTransition))
	mux.HandleFunc("GET "+prefix+"/conversation/{hex}/messages", h.requireAuth(h.conversationMessages))
}

type principalKey struct{}

func principalFrom(ctx context.Context) (authtoken.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(authtoken.Principal)
	return p, ok
}

// requireAuth verifies the x-access-token cookie and injects the
// principal into the request context before delegating.
func (h *Handler) requireAuth(next func(http.ResponseWriter, *http.Request, authtoken.Principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := h.verifier.FromRequest(r)
		if err != nil {
			writeErr(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, principal)), principal)
	}
}

// statusForErr maps a repository error kind to an HTTP status code.
// Forbidden collapses to 401 because this API's status surface only
// spans {200,201,400,401,404,409,500} — there is no 403 in the table.
func statusForErr(err error) int {
	switch {
	case repo.IsNotFound(err):
		return http.StatusNotFound
	case repo.IsConflict(err):
		return http.StatusConflict
	case repo.IsInvariant(err):
		return http.StatusBadRequest
	case repo.IsForbidden(err):
		return http.StatusUnauthorized
	case errors.Is(err, authtoken.ErrUnauthenticated):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeRepoErr maps and writes a repository error, logging backend
// failures with context without echoing internals to the client.
func (h *Handler) writeRepoErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForErr(err)
	msg := clientMessage(err)
	if status == http.StatusInternalServerError {
		h.log.Error("httpapi.backend_error", "path", r.URL.Path, "err", err)
	}
	writeErr(w, status, msg)
}

// clientMessage extracts the safe, user-facing text for an error.
// InvariantError messages are spec-literal strings (e.g. the pin cap
// message) and are surfaced verbatim; everything else gets a generic
// message so repository/storage detail never reaches the client.
func clientMessage(err error) string {
	var inv repo.InvariantError
	if errors.As(err, &inv) {
		return inv.Msg
	}
	switch {
	case repo.IsNotFound(err):
		return "not found"
	case repo.IsConflict(err):
		return "already exists"
	case repo.IsForbidden(err):
		return "unauthenticated"
	case errors.Is(err, authtoken.ErrUnauthenticated):
		return "unauthenticated"
	default:
		return "internal error"
	}
}

func pageParam(r *http.Request) int {
	raw := r.URL.Query().Get("page")
	if raw == "" {
		return 1
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
