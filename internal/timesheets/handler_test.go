package timesheets

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freedayko/redmine-planning/internal/authz"
	"github.com/freedayko/redmine-planning/internal/shared"
	"github.com/freedayko/redmine-planning/internal/view"
	"github.com/freedayko/redmine-planning/internal/workitems"
)

// ============================================================================
// STUB WORK-ITEM REPOSITORY
// ============================================================================

type stubItemsRepo struct {
	items map[int64]*workitems.WorkItem
}

func (s *stubItemsRepo) Get(ctx context.Context, id int64) (*workitems.WorkItem, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return item, nil
}

func (s *stubItemsRepo) GetMany(ctx context.Context, ids []int64) (map[int64]*workitems.WorkItem, error) {
	out := make(map[int64]*workitems.WorkItem, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

func (s *stubItemsRepo) List(ctx context.Context, onlyOpen bool) ([]workitems.WorkItem, error) {
	var out []workitems.WorkItem
	for _, item := range s.items {
		if onlyOpen && !item.Active() {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (s *stubItemsRepo) ListEligible(ctx context.Context, assigneeID int64, today time.Time) ([]workitems.WorkItem, error) {
	return s.List(ctx, true)
}

// ============================================================================
// FIXTURE
// ============================================================================

type handlerFixture struct {
	repo     *mockTSRepo
	handler  *Handler
	sessions *shared.SessionManager
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrfsecret")
	templates, err := view.NewEngine()
	require.NoError(t, err)

	itemsService := workitems.NewService(&stubItemsRepo{items: map[int64]*workitems.WorkItem{
		3: {ID: 3, Subject: "Alpha", Status: workitems.StatusOpen},
		8: {ID: 8, Subject: "Beta", Status: workitems.StatusOpen},
	}})

	repo := newMockTSRepo()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := NewService(repo, itemsService, &mockAudit{}, logger)
	service.now = func() time.Time { return serviceNow }

	handler := NewHandler(logger, service, itemsService, templates, csrf, authz.Middleware{}, nil)
	return &handlerFixture{repo: repo, handler: handler, sessions: sessions}
}

func (f *handlerFixture) seedDraft() *Timesheet {
	ts := Timesheet{OwnerID: owner.ID, Year: 2026, WeekNumber: 35, LockVersion: 1}
	ts.Rows = []TimesheetRow{
		{WorkItemID: 3, Position: 1, Entries: []TimeEntry{{DayNumber: 1, Hours: 8}}},
		{WorkItemID: 8, Position: 2},
	}
	return f.repo.seed(ts)
}

// requestCtx attaches session, actor and the route id the way the
// middleware stack does for a live request.
func requestCtx(t *testing.T, req *http.Request, sess *shared.Session, actor *authz.Actor, id int64) context.Context {
	t.Helper()
	ctx := shared.ContextWithSession(req.Context(), sess)
	ctx = authz.ContextWithActor(ctx, actor)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", fmt.Sprintf("%d", id))
	return context.WithValue(ctx, chi.RouteCtxKey, rctx)
}

// ============================================================================
// POST -> REDIRECT -> GET
// ============================================================================

func TestUpdateEntryErrorsSurviveRedirect(t *testing.T) {
	f := newHandlerFixture(t)
	ts := f.seedDraft()
	rowA, rowB := ts.Rows[0].ID, ts.Rows[1].ID

	form := url.Values{}
	form.Set("base_version", "1")
	form.Set("description", "")
	form.Set(fmt.Sprintf("hours_%d_1", rowA), "abc")
	form.Set(fmt.Sprintf("hours_%d_2", rowB), "5")

	postReq := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/timesheets/%d/edit", ts.ID), strings.NewReader(form.Encode()))
	postReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	sess, err := f.sessions.Load(context.Background(), postReq)
	require.NoError(t, err)
	postCtx := requestCtx(t, postReq, sess, owner, ts.ID)

	postRes := httptest.NewRecorder()
	f.handler.Update(postRes, postReq.WithContext(postCtx))
	require.NoError(t, f.sessions.Commit(postCtx, postRes, postReq, sess))

	require.Equal(t, http.StatusSeeOther, postRes.Code)
	require.Equal(t, fmt.Sprintf("/timesheets/%d/edit", ts.ID), postRes.Header().Get("Location"))

	// The follow-up GET must still find every message queued during the POST.
	getReq := httptest.NewRequest(http.MethodGet, postRes.Header().Get("Location"), nil)
	getReq.AddCookie(&http.Cookie{Name: f.sessions.CookieName(), Value: sess.ID})
	loadedSess, err := f.sessions.Load(context.Background(), getReq)
	require.NoError(t, err)
	getCtx := requestCtx(t, getReq, loadedSess, owner, ts.ID)

	getRes := httptest.NewRecorder()
	f.handler.ShowEdit(getRes, getReq.WithContext(getCtx))
	require.NoError(t, f.sessions.Commit(getCtx, getRes, getReq, loadedSess))

	require.Equal(t, http.StatusOK, getRes.Code)
	body := getRes.Body.String()
	assert.Contains(t, body, "is not a valid hour value", "per-entry error must survive the redirect")
	assert.Contains(t, body, "Some hour values could not be saved", "warning flash must render alongside the entry errors")
	assert.Contains(t, body, `value="5"`, "the valid edit must have been saved")

	// A second load starts clean: flashes render exactly once.
	secondReq := httptest.NewRequest(http.MethodGet, postRes.Header().Get("Location"), nil)
	secondReq.AddCookie(&http.Cookie{Name: f.sessions.CookieName(), Value: sess.ID})
	secondSess, err := f.sessions.Load(context.Background(), secondReq)
	require.NoError(t, err)
	assert.Nil(t, secondSess.PopFlashes())
}

func TestUpdateStaleVersionRerendersWithInput(t *testing.T) {
	f := newHandlerFixture(t)
	ts := f.seedDraft()
	rowA := ts.Rows[0].ID

	form := url.Values{}
	form.Set("base_version", "99")
	form.Set(fmt.Sprintf("hours_%d_1", rowA), "6.5")

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/timesheets/%d/edit", ts.ID), strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	sess, err := f.sessions.Load(context.Background(), req)
	require.NoError(t, err)
	ctx := requestCtx(t, req, sess, owner, ts.ID)

	res := httptest.NewRecorder()
	f.handler.Update(res, req.WithContext(ctx))

	require.Equal(t, http.StatusConflict, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, "changed by someone else", "conflict must be reported on the form")
	assert.Contains(t, body, `value="6.5"`, "submitted hours must be preserved in the inputs")
	assert.Contains(t, body, `name="base_version" value="1"`, "form must carry the current lock version for a retry")

	stored, err := f.repo.Get(context.Background(), ts.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.LockVersion, "stale update must not persist anything")
}
