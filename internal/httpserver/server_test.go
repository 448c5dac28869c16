package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/skillgames/assets"
	"github.com/robalobadob/skillgames/internal/bridge"
	"github.com/robalobadob/skillgames/internal/config"
	"github.com/robalobadob/skillgames/internal/content"
	"github.com/robalobadob/skillgames/internal/db"
	"github.com/robalobadob/skillgames/internal/games"
	"github.com/robalobadob/skillgames/internal/results"
	"github.com/robalobadob/skillgames/internal/store"
	"github.com/robalobadob/skillgames/internal/timer"
)

type harness struct {
	t   *testing.T
	srv *Server
	ts  *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg, err := config.Parse()
	require.NoError(t, err)

	sqlDB, err := db.Open(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(sqlDB, assets.Migrations()))
	lib, err := content.Load(assets.Content())
	require.NoError(t, err)

	srv := New(Options{
		Config:  cfg,
		DB:      sqlDB,
		Store:   store.NewMemoryStore(),
		Results: results.NewStore(sqlDB),
		Games: games.Deps{
			Library:   lib,
			Slots:     bridge.NewSQLite(sqlDB),
			Scheduler: timer.NewManual(),
		},
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
		_ = sqlDB.Close()
	})
	return &harness{t: t, srv: srv, ts: ts}
}

// client returns a browser-like client with its own cookie jar.
func (h *harness) client() *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(h.t, err)
	return &http.Client{Jar: jar}
}

func (h *harness) call(c *http.Client, method, path string, body any, out any) int {
	h.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, rd)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := c.Do(req)
	require.NoError(h.t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(h.t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

// wait blocks until the instance's background work (report, insight) is done.
func (h *harness) wait(id string) {
	e, err := h.srv.store.Get(context.Background(), id)
	require.NoError(h.t, err)
	e.Instance.Wait()
}

type view struct {
	InstanceID string `json:"instanceId"`
	GameID     string `json:"gameId"`
	Restored   bool   `json:"restored"`
	Session    struct {
		Phase    string `json:"phase"`
		Score    int    `json:"score"`
		MaxScore int    `json:"maxScore"`
		Answers  []any  `json:"answers"`
		Insight  *struct {
			Message              string `json:"message"`
			RecommendedSectionID string `json:"recommendedSectionId"`
			Source               string `json:"source"`
		} `json:"insight"`
	} `json:"session"`
}

type action map[string]any

var perfectBudget = []map[string]any{
	{"questionId": "q1", "option": 1},
	{"questionId": "q2", "option": 2},
	{"questionId": "q3", "option": 2},
	{"questionId": "q4", "option": 0},
}

func (h *harness) start(c *http.Client, gameID string) view {
	h.t.Helper()
	var v view
	require.Equal(h.t, http.StatusCreated, h.call(c, http.MethodPost, "/games/"+gameID+"/play", nil, &v))
	h.call(c, http.MethodPost, "/play/"+v.InstanceID+"/actions", action{"type": "show_instructions"}, nil)
	require.Equal(h.t, http.StatusOK, h.call(c, http.MethodPost, "/play/"+v.InstanceID+"/actions", action{"type": "start"}, &v))
	require.Equal(h.t, "playing", v.Session.Phase)
	return v
}

func TestDiagnosticsAndCatalog(t *testing.T) {
	h := newHarness(t)
	c := h.client()

	var health map[string]bool
	assert.Equal(t, http.StatusOK, h.call(c, http.MethodGet, "/health", nil, &health))
	assert.True(t, health["ok"])

	var list []map[string]any
	assert.Equal(t, http.StatusOK, h.call(c, http.MethodGet, "/games", nil, &list))
	assert.Len(t, list, 4)

	res, err := c.Get(h.ts.URL + "/games")
	require.NoError(t, err)
	raw, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.NotContains(t, string(raw), `"correct"`, "answers never leave the server")

	var featured struct {
		Date string         `json:"date"`
		Game map[string]any `json:"game"`
	}
	assert.Equal(t, http.StatusOK, h.call(c, http.MethodGet, "/games/featured", nil, &featured))
	assert.NotEmpty(t, featured.Date)
	assert.NotEmpty(t, featured.Game["id"])

	var sec content.Section
	assert.Equal(t, http.StatusOK, h.call(c, http.MethodGet, "/catalog/finance/saving-first", nil, &sec))
	assert.Equal(t, "saving-first", sec.TopicID)
	assert.Equal(t, http.StatusNotFound, h.call(c, http.MethodGet, "/catalog/finance/nope", nil, nil))
	assert.Equal(t, http.StatusNotFound, h.call(c, http.MethodGet, "/catalog/astrology", nil, nil))
	assert.Equal(t, http.StatusNotFound, h.call(c, http.MethodGet, "/nowhere", nil, nil))
}

func TestPlayPerfectRoundAndLeaderboard(t *testing.T) {
	h := newHarness(t)
	c := h.client()
	v := h.start(c, "budget-basics")

	var done view
	require.Equal(t, http.StatusOK, h.call(c, http.MethodPost, "/play/"+v.InstanceID+"/actions",
		action{"type": "submit", "answers": perfectBudget}, &done))
	assert.Equal(t, "finished", done.Session.Phase)
	assert.Equal(t, 4, done.Session.Score)
	require.NotNil(t, done.Session.Insight)
	assert.Equal(t, "perfect", done.Session.Insight.Source)

	// Illegal actions return the unchanged view.
	var same view
	require.Equal(t, http.StatusOK, h.call(c, http.MethodPost, "/play/"+v.InstanceID+"/actions", action{"type": "start"}, &same))
	assert.Equal(t, "finished", same.Session.Phase)

	h.wait(v.InstanceID)
	var lb struct {
		GameID string          `json:"gameId"`
		Top    []results.LBRow `json:"top"`
	}
	require.Equal(t, http.StatusOK, h.call(c, http.MethodGet, "/games/budget-basics/leaderboard", nil, &lb))
	require.Len(t, lb.Top, 1)
	assert.Equal(t, "guest", lb.Top[0].Player)
	assert.Equal(t, 4, lb.Top[0].Score)

	assert.Equal(t, http.StatusBadRequest, h.call(c, http.MethodGet, "/games/budget-basics/leaderboard?limit=x", nil, nil))
	assert.Equal(t, http.StatusNotFound, h.call(c, http.MethodGet, "/games/chess/leaderboard", nil, nil))
	assert.Equal(t, http.StatusNotFound, h.call(c, http.MethodPost, "/games/chess/play", nil, nil))
}

func TestBadActions(t *testing.T) {
	h := newHarness(t)
	c := h.client()
	v := h.start(c, "budget-basics")
	path := "/play/" + v.InstanceID + "/actions"

	var e map[string]string
	assert.Equal(t, http.StatusBadRequest, h.call(c, http.MethodPost, path, action{"type": "tick"}, &e))
	assert.Equal(t, "unknown_command", e["error"])
	assert.Equal(t, http.StatusBadRequest, h.call(c, http.MethodPost, path, action{"type": "answer", "answer": "q1"}, &e))
	assert.Equal(t, "bad_payload", e["error"])

	req, err := http.NewRequest(http.MethodPost, h.ts.URL+path, strings.NewReader("{"))
	require.NoError(t, err)
	res, err := c.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestInstancesAreOwnerScoped(t *testing.T) {
	h := newHarness(t)
	v := h.start(h.client(), "budget-basics")

	stranger := h.client()
	assert.Equal(t, http.StatusNotFound, h.call(stranger, http.MethodGet, "/play/"+v.InstanceID, nil, nil))
	assert.Equal(t, http.StatusNotFound, h.call(stranger, http.MethodPost, "/play/"+v.InstanceID+"/actions", action{"type": "submit"}, nil))
}

func TestHandoffAndReturn(t *testing.T) {
	h := newHarness(t)
	c := h.client()
	v := h.start(c, "budget-basics")
	h.call(c, http.MethodPost, "/play/"+v.InstanceID+"/actions",
		action{"type": "answer", "answer": map[string]any{"questionId": "q2", "option": 0}}, nil)

	assert.Equal(t, http.StatusBadRequest, h.call(c, http.MethodPost, "/play/"+v.InstanceID+"/handoff", action{"to": "privacy-rights"}, nil),
		"section must belong to the game's subject")

	var out handoffRes
	require.Equal(t, http.StatusOK, h.call(c, http.MethodPost, "/play/"+v.InstanceID+"/handoff", action{"to": "saving-first"}, &out))
	assert.Equal(t, "/catalog/finance/saving-first", out.Redirect)
	assert.Equal(t, http.StatusOK, h.call(c, http.MethodGet, out.Redirect, nil, nil))
	assert.Equal(t, http.StatusNotFound, h.call(c, http.MethodGet, "/play/"+v.InstanceID, nil, nil), "handed-off instance is closed")

	var back view
	require.Equal(t, http.StatusCreated, h.call(c, http.MethodPost, "/games/budget-basics/play", nil, &back))
	assert.True(t, back.Restored)
	assert.Equal(t, "playing", back.Session.Phase)
	assert.Len(t, back.Session.Answers, 1)

	var again view
	require.Equal(t, http.StatusCreated, h.call(c, http.MethodPost, "/games/budget-basics/play", nil, &again))
	assert.False(t, again.Restored, "restored at most once")
	assert.Equal(t, "intro", again.Session.Phase)
}

func TestHandoffSurvivesLogin(t *testing.T) {
	h := newHarness(t)
	c := h.client()
	v := h.start(c, "budget-basics")
	h.call(c, http.MethodPost, "/play/"+v.InstanceID+"/actions",
		action{"type": "answer", "answer": map[string]any{"questionId": "q1", "option": 1}}, nil)
	require.Equal(t, http.StatusOK, h.call(c, http.MethodPost, "/play/"+v.InstanceID+"/handoff", action{"to": "saving-first"}, nil))

	require.Equal(t, http.StatusCreated, h.call(c, http.MethodPost, "/auth/signup", credentials{Username: "linus", Password: "penguin1991"}, nil))

	var back view
	require.Equal(t, http.StatusCreated, h.call(c, http.MethodPost, "/games/budget-basics/play", nil, &back))
	assert.True(t, back.Restored, "guest slot moved to the account")
	assert.Len(t, back.Session.Answers, 1)
}

func TestGuestInstanceUsableAfterLogin(t *testing.T) {
	h := newHarness(t)
	c := h.client()
	v := h.start(c, "budget-basics")
	require.Equal(t, http.StatusCreated, h.call(c, http.MethodPost, "/auth/signup", credentials{Username: "margaret", Password: "apollo1969"}, nil))

	assert.Equal(t, http.StatusOK, h.call(c, http.MethodGet, "/play/"+v.InstanceID, nil, nil))
	h.call(c, http.MethodPost, "/play/"+v.InstanceID+"/actions",
		action{"type": "answer", "answer": map[string]any{"questionId": "q2", "option": 2}}, nil)
	require.Equal(t, http.StatusOK, h.call(c, http.MethodPost, "/play/"+v.InstanceID+"/handoff", nil, nil))

	var back view
	require.Equal(t, http.StatusCreated, h.call(c, http.MethodPost, "/games/budget-basics/play", nil, &back))
	assert.True(t, back.Restored, "hand-off made after login restores under the account")
	assert.Len(t, back.Session.Answers, 1)

	// Another browser logged into the same account cannot see the guest's
	// instance.
	other := h.client()
	require.Equal(t, http.StatusOK, h.call(other, http.MethodPost, "/auth/login", credentials{Username: "margaret", Password: "apollo1969"}, nil))
	assert.Equal(t, http.StatusNotFound, h.call(other, http.MethodGet, "/play/"+v.InstanceID, nil, nil))
}

func TestSignupHidesStorageErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.srv.createUser(ctx, "alan_t", "enigma1912")
	require.NoError(t, err)
	_, err = h.srv.db.ExecContext(ctx, `INSERT INTO users (id, username, password_hash, created_at) VALUES ('x','ALAN_T','h','2026-01-01T00:00:00Z')`)
	require.Error(t, err)
	assert.True(t, uniqueViolation(err))
	assert.False(t, uniqueViolation(errors.New("disk I/O error")))

	require.NoError(t, h.srv.db.Close())
	var out map[string]string
	assert.Equal(t, http.StatusInternalServerError,
		h.call(h.client(), http.MethodPost, "/auth/signup", credentials{Username: "barbara", Password: "liskov1939"}, &out))
	assert.Equal(t, "signup_failed", out["error"])
}

func TestAuthFlowClaimsGuestResults(t *testing.T) {
	h := newHarness(t)
	c := h.client()

	assert.Equal(t, http.StatusUnauthorized, h.call(c, http.MethodGet, "/results/mine", nil, nil))

	v := h.start(c, "budget-basics")
	h.call(c, http.MethodPost, "/play/"+v.InstanceID+"/actions", action{"type": "submit", "answers": perfectBudget}, nil)
	h.wait(v.InstanceID)

	creds := credentials{Username: "ada_l", Password: "correct horse"}
	require.Equal(t, http.StatusCreated, h.call(c, http.MethodPost, "/auth/signup", creds, nil))
	assert.Equal(t, http.StatusConflict, h.call(h.client(), http.MethodPost, "/auth/signup", creds, nil))
	assert.Equal(t, http.StatusBadRequest, h.call(h.client(), http.MethodPost, "/auth/signup", credentials{Username: "x", Password: "short"}, nil))

	var me authUser
	require.Equal(t, http.StatusOK, h.call(c, http.MethodGet, "/auth/me", nil, &me))
	assert.Equal(t, "ada_l", me.Username)

	var mine []results.Result
	require.Equal(t, http.StatusOK, h.call(c, http.MethodGet, "/results/mine", nil, &mine))
	require.Len(t, mine, 1, "guest result claimed on signup")
	assert.Equal(t, 4, mine[0].Score)

	// A round played while logged in bumps account stats.
	v = h.start(c, "budget-basics")
	h.call(c, http.MethodPost, "/play/"+v.InstanceID+"/actions", action{"type": "submit", "answers": perfectBudget}, nil)
	h.wait(v.InstanceID)
	var stats map[string]any
	require.Equal(t, http.StatusOK, h.call(c, http.MethodGet, "/stats/me", nil, &stats))
	assert.EqualValues(t, 1, stats["gamesPlayed"])
	assert.EqualValues(t, 1, stats["perfectGames"])

	require.Equal(t, http.StatusOK, h.call(c, http.MethodPost, "/auth/logout", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, h.call(c, http.MethodGet, "/auth/me", nil, nil))

	other := h.client()
	assert.Equal(t, http.StatusUnauthorized, h.call(other, http.MethodPost, "/auth/login", credentials{Username: "ada_l", Password: "wrong password"}, nil))
	require.Equal(t, http.StatusOK, h.call(other, http.MethodPost, "/auth/login", credentials{Username: "ADA_L", Password: "correct horse"}, nil))
	assert.Equal(t, http.StatusOK, h.call(other, http.MethodGet, "/auth/me", nil, nil))
}

func TestBearerTokenAccepted(t *testing.T) {
	h := newHarness(t)
	c := h.client()
	require.Equal(t, http.StatusCreated, h.call(c, http.MethodPost, "/auth/signup", credentials{Username: "grace", Password: "hopper1906"}, nil))

	u, err := h.srv.findUserByUsername(context.Background(), "grace")
	require.NoError(t, err)
	token, _, err := h.srv.signJWT(u.ID, u.Username)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, h.ts.URL+"/auth/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	req.Header.Set("Authorization", "Bearer garbage")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}
