package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/meridianhr/assesscore/internal/apperr"
	"github.com/meridianhr/assesscore/internal/model"
	"github.com/meridianhr/assesscore/internal/passport"
	"github.com/meridianhr/assesscore/internal/session"
	"github.com/meridianhr/assesscore/internal/storage"
)

// HandlersDeps holds the dependencies Handlers needs to serve requests.
type HandlersDeps struct {
	DB                  *storage.DB
	SessionEngine       *session.Engine
	PassportSvc         *passport.Service
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// Handlers implements the assessment-core HTTP API.
type Handlers struct {
	db            *storage.DB
	sessionEngine *session.Engine
	passportSvc   *passport.Service
	logger        *slog.Logger
	version       string
	maxBodyBytes  int64
}

// NewHandlers constructs a Handlers from its dependencies.
func NewHandlers(deps HandlersDeps) *Handlers {
	maxBody := deps.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handlers{
		db:            deps.DB,
		sessionEngine: deps.SessionEngine,
		passportSvc:   deps.PassportSvc,
		logger:        deps.Logger,
		version:       deps.Version,
		maxBodyBytes:  maxBody,
	}
}

// HandleHealth reports liveness plus database connectivity.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	pg := "ok"
	if err := h.db.Ping(r.Context()); err != nil {
		status = "degraded"
		pg = "unreachable"
	}
	writeJSON(w, r, http.StatusOK, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Postgres: pg,
	})
}

// HandleStartSession handles POST /tests/sessions. Requires a clerk JWT —
// anonymous starts go through HandleStartAnonymousSession instead.
func (h *Handlers) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeAppError(w, r, apperr.Unauthenticated("clerk session required"))
		return
	}

	var req model.StartSessionRequest
	if err := decodeJSON(r, &req, h.maxBodyBytes); err != nil {
		writeAppError(w, r, apperr.InvalidArgument("malformed request body: %v", err))
		return
	}

	clerkUserID := claims.ClerkUserID
	clientIP := clientIPOf(r)
	userAgent := r.UserAgent()

	resp, err := h.sessionEngine.Start(r.Context(), req.TemplateID, &clerkUserID, nil, &clientIP, &userAgent)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, resp)
}

// HandleStartAnonymousSession handles POST /share-links/{token}/sessions.
// The token is the id of a Link-visibility template; it doubles as the
// share-link id recorded on the resulting session since the data model
// carries no separate ShareLink entity.
func (h *Handlers) HandleStartAnonymousSession(w http.ResponseWriter, r *http.Request) {
	templateID, err := uuid.Parse(r.PathValue("token"))
	if err != nil {
		writeAppError(w, r, apperr.InvalidArgument("malformed share link token"))
		return
	}

	tpl, err := h.db.GetTemplate(r.Context(), templateID)
	if err != nil {
		writeAppError(w, r, translateStorageNotFound(err, "template", templateID))
		return
	}
	if tpl.Visibility != model.VisibilityLink {
		writeAppError(w, r, apperr.PermissionDenied("template is not shareable"))
		return
	}

	shareLinkID := templateID
	clientIP := clientIPOf(r)
	userAgent := r.UserAgent()

	resp, err := h.sessionEngine.Start(r.Context(), templateID, nil, &shareLinkID, &clientIP, &userAgent)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, resp)
}

// HandleGetCurrent handles GET /tests/sessions/{id}/current.
func (h *Handlers) HandleGetCurrent(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, apperr.InvalidArgument("malformed session id"))
		return
	}
	if err := h.authorizeSessionAccess(r, sessionID); err != nil {
		writeAppError(w, r, err)
		return
	}
	resp, err := h.sessionEngine.GetCurrent(r.Context(), sessionID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleSubmitAnswer handles POST /tests/sessions/{id}/answer.
func (h *Handlers) HandleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, apperr.InvalidArgument("malformed session id"))
		return
	}
	if err := h.authorizeSessionAccess(r, sessionID); err != nil {
		writeAppError(w, r, err)
		return
	}

	var req model.SubmitAnswerRequest
	if err := decodeJSON(r, &req, h.maxBodyBytes); err != nil {
		writeAppError(w, r, apperr.InvalidArgument("malformed request body: %v", err))
		return
	}

	s, err := h.sessionEngine.SubmitAnswer(r.Context(), sessionID, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s)
}

// HandleSkip handles POST /tests/sessions/{id}/skip.
func (h *Handlers) HandleSkip(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, apperr.InvalidArgument("malformed session id"))
		return
	}
	if err := h.authorizeSessionAccess(r, sessionID); err != nil {
		writeAppError(w, r, err)
		return
	}

	var req struct {
		QuestionID uuid.UUID `json:"question_id"`
		Version    int64     `json:"version"`
	}
	if err := decodeJSON(r, &req, h.maxBodyBytes); err != nil {
		writeAppError(w, r, apperr.InvalidArgument("malformed request body: %v", err))
		return
	}

	s, err := h.sessionEngine.Skip(r.Context(), sessionID, req.QuestionID, req.Version)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s)
}

// HandleNavigateBack handles POST /tests/sessions/{id}/back.
func (h *Handlers) HandleNavigateBack(w http.ResponseWriter, r *http.Request) {
	sessionID, version, err := h.sessionIDAndVersion(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := h.authorizeSessionAccess(r, sessionID); err != nil {
		writeAppError(w, r, err)
		return
	}
	s, err := h.sessionEngine.NavigateBack(r.Context(), sessionID, version)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s)
}

// HandleNavigateForward handles POST /tests/sessions/{id}/forward.
func (h *Handlers) HandleNavigateForward(w http.ResponseWriter, r *http.Request) {
	sessionID, version, err := h.sessionIDAndVersion(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := h.authorizeSessionAccess(r, sessionID); err != nil {
		writeAppError(w, r, err)
		return
	}
	s, err := h.sessionEngine.NavigateForward(r.Context(), sessionID, version)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s)
}

// HandleAttachTakerInfo handles POST /tests/sessions/{id}/taker-info, letting
// an anonymous taker record their name/email/notes once a session completes.
func (h *Handlers) HandleAttachTakerInfo(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, apperr.InvalidArgument("malformed session id"))
		return
	}
	if err := h.authorizeSessionAccess(r, sessionID); err != nil {
		writeAppError(w, r, err)
		return
	}

	var info model.AnonymousTakerInfo
	if err := decodeJSON(r, &info, h.maxBodyBytes); err != nil {
		writeAppError(w, r, apperr.InvalidArgument("malformed request body: %v", err))
		return
	}

	if err := h.sessionEngine.AttachTakerInfo(r.Context(), sessionID, info); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleComplete handles POST /tests/sessions/{id}/complete.
func (h *Handlers) HandleComplete(w http.ResponseWriter, r *http.Request) {
	sessionID, version, err := h.sessionIDAndVersion(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := h.authorizeSessionAccess(r, sessionID); err != nil {
		writeAppError(w, r, err)
		return
	}
	s, err := h.sessionEngine.Complete(r.Context(), sessionID, version)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s)
}

// HandleAbandon handles POST /tests/sessions/{id}/abandon.
func (h *Handlers) HandleAbandon(w http.ResponseWriter, r *http.Request) {
	sessionID, version, err := h.sessionIDAndVersion(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := h.authorizeSessionAccess(r, sessionID); err != nil {
		writeAppError(w, r, err)
		return
	}
	s, err := h.sessionEngine.Abandon(r.Context(), sessionID, version)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s)
}

// HandleGetResult handles GET /tests/results/{id}.
func (h *Handlers) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	resultID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, apperr.InvalidArgument("malformed result id"))
		return
	}
	result, err := h.db.GetResult(r.Context(), resultID)
	if err != nil {
		writeAppError(w, r, translateStorageNotFound(err, "result", resultID))
		return
	}

	claims := ClaimsFromContext(r.Context())
	if result.ClerkUserID != nil {
		if claims == nil || claims.ClerkUserID != *result.ClerkUserID {
			writeAppError(w, r, apperr.PermissionDenied("result does not belong to the caller"))
			return
		}
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleGetPassport handles GET /passports/user/{clerkUserId}.
func (h *Handlers) HandleGetPassport(w http.ResponseWriter, r *http.Request) {
	clerkUserID := r.PathValue("clerkUserId")
	claims := ClaimsFromContext(r.Context())
	if claims == nil || claims.ClerkUserID != clerkUserID {
		writeAppError(w, r, apperr.PermissionDenied("passport does not belong to the caller"))
		return
	}

	p, err := h.passportSvc.Get(r.Context(), clerkUserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if p == nil {
		writeAppError(w, r, apperr.NotFound("no passport for clerk user %s", clerkUserID))
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// HandleGetTemplate handles GET /templates/{id}.
func (h *Handlers) HandleGetTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, apperr.InvalidArgument("malformed template id"))
		return
	}
	tpl, err := h.db.GetTemplate(r.Context(), templateID)
	if err != nil {
		writeAppError(w, r, translateStorageNotFound(err, "template", templateID))
		return
	}
	writeJSON(w, r, http.StatusOK, tpl)
}

// HandleCreateTemplate handles POST /templates (admin bootstrap key only;
// template authoring has no wizard UI, but the data model still needs a
// thin CRUD surface to seed templates).
func (h *Handlers) HandleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req model.CreateTemplateRequest
	if err := decodeJSON(r, &req, h.maxBodyBytes); err != nil {
		writeAppError(w, r, apperr.InvalidArgument("malformed request body: %v", err))
		return
	}
	if req.Name == "" || req.Goal == "" {
		writeAppError(w, r, apperr.InvalidArgument("name and goal are required"))
		return
	}

	tpl := model.TestTemplate{
		ID:                    uuid.New(),
		Name:                  req.Name,
		Version:               1,
		OwnerID:               "admin",
		Visibility:            req.Visibility,
		Lifecycle:             model.LifecycleDraft,
		Goal:                  req.Goal,
		Blueprint:             req.Blueprint,
		CompetencyIDs:         req.CompetencyIDs,
		QuestionsPerIndicator: req.QuestionsPerIndicator,
		TimeLimitMinutes:      req.TimeLimitMinutes,
		PassingScore:          req.PassingScore,
		ShuffleQuestions:      req.ShuffleQuestions,
		ShuffleOptions:        req.ShuffleOptions,
		AllowSkip:             req.AllowSkip,
		AllowBackNavigation:   req.AllowBackNavigation,
		PassportMaxAgeDays:    req.PassportMaxAgeDays,
		ContextScope:          req.ContextScope,
	}

	created, err := h.db.CreateTemplate(r.Context(), tpl)
	if err != nil {
		writeAppError(w, r, apperr.Internal(err, "create template"))
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

// HandlePublishTemplate handles POST /templates/{id}/publish.
func (h *Handlers) HandlePublishTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, apperr.InvalidArgument("malformed template id"))
		return
	}
	tpl, err := h.db.PublishTemplate(r.Context(), templateID)
	if err != nil {
		writeAppError(w, r, translateStorageNotFound(err, "template", templateID))
		return
	}
	writeJSON(w, r, http.StatusOK, tpl)
}

// authorizeSessionAccess enforces that the caller may act on sessionID:
// a clerk JWT matching the session's owner, or an anonymous session access
// token presented as "Bearer <token>" that hashes to the session's stored
// access_token_hash.
func (h *Handlers) authorizeSessionAccess(r *http.Request, sessionID uuid.UUID) error {
	s, err := h.db.GetSession(r.Context(), sessionID)
	if err != nil {
		return translateStorageNotFound(err, "session", sessionID)
	}

	if s.ClerkUserID != nil {
		claims := ClaimsFromContext(r.Context())
		if claims == nil || claims.ClerkUserID != *s.ClerkUserID {
			return apperr.PermissionDenied("session does not belong to the caller")
		}
		return nil
	}

	// Anonymous session: require the bearer token to hash to the stored value.
	authHeader := r.Header.Get("Authorization")
	scheme, credential, ok := splitAuthHeader(authHeader)
	if !ok || scheme != "bearer" {
		return apperr.Unauthenticated("session access token required")
	}
	hash, err := session.HashAccessToken(credential)
	if err != nil || s.AccessTokenHash == nil || hash != *s.AccessTokenHash {
		return apperr.Unauthenticated("invalid session access token")
	}
	return nil
}

func splitAuthHeader(h string) (scheme, credential string, ok bool) {
	for i := 0; i < len(h); i++ {
		if h[i] == ' ' {
			return normalizeScheme(h[:i]), h[i+1:], true
		}
	}
	return "", "", false
}

func normalizeScheme(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func (h *Handlers) sessionIDAndVersion(r *http.Request) (uuid.UUID, int64, error) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, 0, apperr.InvalidArgument("malformed session id")
	}
	versionStr := r.URL.Query().Get("version")
	if versionStr == "" {
		return sessionID, 0, apperr.InvalidArgument("version query parameter is required")
	}
	version, err := strconv.ParseInt(versionStr, 10, 64)
	if err != nil {
		return uuid.Nil, 0, apperr.InvalidArgument("malformed version")
	}
	return sessionID, version, nil
}

func clientIPOf(r *http.Request) string {
	return ratelimitIPOf(r.RemoteAddr)
}

func ratelimitIPOf(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}

// translateStorageNotFound maps pgx.ErrNoRows (and anything already
// apperr-typed) to apperr.NotFound with a consistent message.
func translateStorageNotFound(err error, resource string, id uuid.UUID) error {
	if ae, ok := apperr.As(err); ok {
		return ae
	}
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("%s %s not found", resource, id)
	}
	return apperr.Internal(err, "load %s", resource)
}
