package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhr/assesscore/internal/activity"
	"github.com/meridianhr/assesscore/internal/assembly"
	"github.com/meridianhr/assesscore/internal/auth"
	"github.com/meridianhr/assesscore/internal/collab"
	"github.com/meridianhr/assesscore/internal/model"
	"github.com/meridianhr/assesscore/internal/passport"
	"github.com/meridianhr/assesscore/internal/scoring"
	"github.com/meridianhr/assesscore/internal/selector"
	"github.com/meridianhr/assesscore/internal/session"
	"github.com/meridianhr/assesscore/internal/storage"
	"github.com/meridianhr/assesscore/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	db, err := tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		panic(err)
	}
	testDB = db
	defer testDB.Close()

	os.Exit(m.Run())
}

func newTestServer(t *testing.T, adminKeyHash string) *Server {
	t.Helper()

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	onet := &collab.StaticONetProvider{}
	teams := &collab.StaticTeamProvider{}
	sel := selector.New(testDB)
	assembler := assembly.New(testDB, sel)
	passportSvc := passport.New(testDB, 180)
	sink := activity.NewSink(testDB, testutil.TestLogger())
	orch := scoring.New(testDB, onet, teams, passportSvc, sink, testutil.TestLogger())
	engine := session.New(testDB, assembler, testDB, onet, teams, passportSvc, orch, testutil.TestLogger(), 24*time.Hour)

	return New(ServerConfig{
		DB:                  testDB,
		JWTMgr:              jwtMgr,
		SessionEngine:       engine,
		PassportSvc:         passportSvc,
		Logger:              testutil.TestLogger(),
		AdminAPIKeyHash:     adminKeyHash,
		Port:                0,
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
		CORSAllowedOrigins:  []string{"*"},
	})
}

func TestHealth_ReportsOK(t *testing.T) {
	srv := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body model.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
}

func TestCreateTemplate_RequiresAdminKey(t *testing.T) {
	hash, err := auth.HashAPIKey("bootstrap-key")
	require.NoError(t, err)
	srv := newTestServer(t, hash)

	payload := `{"name":"Sales Overview","visibility":"Private","goal":"Overview","blueprint":{},"competency_ids":[],"questions_per_indicator":1,"time_limit_minutes":30,"passing_score":0.7,"shuffle_questions":true,"shuffle_options":true,"allow_skip":false,"allow_back_navigation":false}`

	// No admin key: rejected.
	req := httptest.NewRequest(http.MethodPost, "/templates", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Correct admin key: accepted.
	req = httptest.NewRequest(http.MethodPost, "/templates", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "ApiKey bootstrap-key")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created model.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
}

func TestGetTemplate_NotFoundMapsTo404(t *testing.T) {
	srv := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/templates/00000000-0000-0000-0000-000000000000", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartSession_RequiresClerkAuth(t *testing.T) {
	srv := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodPost, "/tests/sessions", strings.NewReader(`{"template_id":"00000000-0000-0000-0000-000000000000"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartAnonymousSession_RejectsNonShareableTemplate(t *testing.T) {
	hash, err := auth.HashAPIKey("bootstrap-key")
	require.NoError(t, err)
	srv := newTestServer(t, hash)

	payload := `{"name":"Private Template","visibility":"Private","goal":"Overview","blueprint":{},"competency_ids":[],"questions_per_indicator":1,"time_limit_minutes":30,"passing_score":0.7,"shuffle_questions":true,"shuffle_options":true,"allow_skip":false,"allow_back_navigation":false}`
	req := httptest.NewRequest(http.MethodPost, "/templates", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "ApiKey bootstrap-key")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data model.TestTemplate `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	req = httptest.NewRequest(http.MethodPost, "/share-links/"+created.Data.ID.String()+"/sessions", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
