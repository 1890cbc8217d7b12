package timesheets

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/freedayko/redmine-planning/internal/authz"
	"github.com/freedayko/redmine-planning/internal/calweek"
	"github.com/freedayko/redmine-planning/internal/shared"
	"github.com/freedayko/redmine-planning/internal/view"
	"github.com/freedayko/redmine-planning/internal/workitems"
)

// weekDays is the display order of the grid columns: the working week
// first, then the Sunday that closes it.
var weekDays = []int{1, 2, 3, 4, 5, 6, 0}

// CommitObserver counts successful commits for monitoring.
type CommitObserver interface {
	ObserveCommit()
}

// Handler renders the timesheet pages and processes the edit grid.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	items     *workitems.Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	authz     authz.Middleware
	metrics   CommitObserver
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, items *workitems.Service, templates *view.Engine, csrf *shared.CSRFManager, mw authz.Middleware, metrics CommitObserver) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		items:     items,
		templates: templates,
		csrf:      csrf,
		authz:     mw,
		metrics:   metrics,
	}
}

// MountRoutes registers timesheet routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireUser)
		r.Get("/", h.List)
		r.Get("/new", h.ShowNew)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Show)
		r.Get("/{id}/edit", h.ShowEdit)
		r.Post("/{id}/edit", h.Update)
		r.Post("/{id}/commit", h.Commit)
		r.Post("/{id}/delete", h.Delete)
		r.Group(func(r chi.Router) {
			r.Use(h.authz.RequireAdmin)
			r.Post("/{id}/reopen", h.Reopen)
		})
	})
}

// List shows the timesheet index with filters and pagination.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFromContext(r.Context())
	if actor == nil {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}

	const perPage = 25
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	req := ListTimesheetsRequest{Limit: perPage, Offset: (page - 1) * perPage}
	if y, err := strconv.Atoi(r.URL.Query().Get("year")); err == nil {
		req.Year = &y
	}
	switch r.URL.Query().Get("state") {
	case "draft":
		committed := false
		req.Committed = &committed
	case "committed":
		committed := true
		req.Committed = &committed
	}

	sheets, total, err := h.service.List(r.Context(), actor, req)
	if err != nil {
		h.logger.Error("list timesheets", slog.Any("error", err))
		http.Error(w, "Failed to load timesheets", http.StatusInternalServerError)
		return
	}

	h.render(w, r, "pages/timesheets_list.html", "Timesheets", map[string]any{
		"Actor":      actor,
		"Sheets":     sheets,
		"Pagination": shared.NewPagination(page, perPage, total),
		"Year":       r.URL.Query().Get("year"),
		"State":      r.URL.Query().Get("state"),
	})
}

// Show renders one timesheet read-only with daily and weekly totals.
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFromContext(r.Context())
	ts, ok := h.loadTimesheet(w, r, actor)
	if !ok {
		return
	}
	items, err := h.rowItems(r, ts)
	if err != nil {
		h.logger.Error("load row items", slog.Any("error", err))
		http.Error(w, "Failed to load work items", http.StatusInternalServerError)
		return
	}

	h.render(w, r, "pages/timesheet_detail.html", h.pageTitle(ts), map[string]any{
		"Actor":     actor,
		"Timesheet": ts,
		"Items":     items,
		"Days":      weekDays,
		"DayDates":  h.dayDates(ts),
		"CanModify": authz.CanModify(actor, ts.OwnerID, ts.Committed),
	})
}

// ShowNew renders the creation form defaulting to the current week.
func (h *Handler) ShowNew(w http.ResponseWriter, r *http.Request) {
	year, week := calweek.YearWeekOf(time.Now())
	h.render(w, r, "pages/timesheet_form.html", "New timesheet", map[string]any{
		"Actor":  authz.ActorFromContext(r.Context()),
		"Year":   year,
		"Week":   week,
		"Errors": []string(nil),
	})
}

// Create opens a new draft and sends the owner to the edit grid.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	year, _ := strconv.Atoi(r.PostFormValue("year"))
	week, _ := strconv.Atoi(r.PostFormValue("week_number"))
	req := CreateTimesheetRequest{
		Year:         year,
		WeekNumber:   week,
		Description:  r.PostFormValue("description"),
		SeedDefaults: r.PostFormValue("seed_defaults") != "",
	}

	ts, err := h.service.Create(r.Context(), actor, req)
	if err != nil {
		if verrs, ok := AsValidationErrors(err); ok {
			w.WriteHeader(http.StatusUnprocessableEntity)
			h.render(w, r, "pages/timesheet_form.html", "New timesheet", map[string]any{
				"Actor":       actor,
				"Year":        year,
				"Week":        week,
				"Description": req.Description,
				"Errors":      verrs.Messages(),
			})
			return
		}
		h.logger.Error("create timesheet", slog.Any("error", err))
		h.flashError(r, err)
		http.Redirect(w, r, "/timesheets/new", http.StatusSeeOther)
		return
	}

	h.flash(r, "success", fmt.Sprintf("Timesheet for week %d of %d created", ts.WeekNumber, ts.Year))
	http.Redirect(w, r, fmt.Sprintf("/timesheets/%d/edit", ts.ID), http.StatusSeeOther)
}

// ShowEdit renders the hour grid for a draft timesheet.
func (h *Handler) ShowEdit(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFromContext(r.Context())
	ts, ok := h.loadTimesheet(w, r, actor)
	if !ok {
		return
	}
	if !authz.CanModify(actor, ts.OwnerID, ts.Committed) {
		h.flashError(r, shared.ErrNotPermitted)
		http.Redirect(w, r, fmt.Sprintf("/timesheets/%d", ts.ID), http.StatusSeeOther)
		return
	}
	h.renderEdit(w, r, actor, ts, nil, nil)
}

// Update applies the submitted grid. A stale base version rejects the
// whole batch; malformed hour fields are reported and reset while the
// rest of the edits go through.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFromContext(r.Context())
	ts, ok := h.loadTimesheet(w, r, actor)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	req := h.parseUpdateForm(r, ts)
	result, err := h.service.Update(r.Context(), actor, ts.ID, req)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrStaleVersion):
			// Re-render over the current state so the form carries the new
			// lock version; the submitted hours stay in the inputs.
			if fresh, freshErr := h.service.Get(r.Context(), actor, ts.ID); freshErr == nil {
				ts = fresh
			}
			w.WriteHeader(http.StatusConflict)
			h.renderEdit(w, r, actor, ts, []string{
				"This timesheet was changed by someone else while you were editing. Your changes have not been saved; review the grid below and save again.",
			}, rawEntryValues(r))
		case errors.Is(err, shared.ErrNotPermitted):
			h.flashError(r, err)
			http.Redirect(w, r, fmt.Sprintf("/timesheets/%d", ts.ID), http.StatusSeeOther)
		default:
			if verrs, ok := AsValidationErrors(err); ok {
				w.WriteHeader(http.StatusUnprocessableEntity)
				h.renderEdit(w, r, actor, ts, verrs.Messages(), rawEntryValues(r))
				return
			}
			h.logger.Error("update timesheet", slog.Any("error", err), slog.Int64("timesheet_id", ts.ID))
			h.flashError(r, err)
			http.Redirect(w, r, fmt.Sprintf("/timesheets/%d/edit", ts.ID), http.StatusSeeOther)
		}
		return
	}

	if len(result.EntryErrors) > 0 {
		for _, ee := range result.EntryErrors {
			h.flash(r, "error", ee.Message)
		}
		h.flash(r, "warning", "Some hour values could not be saved and were cleared")
	} else {
		h.flash(r, "success", "Timesheet saved")
	}
	http.Redirect(w, r, fmt.Sprintf("/timesheets/%d/edit", result.Timesheet.ID), http.StatusSeeOther)
}

// Commit freezes the timesheet.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFromContext(r.Context())
	ts, ok := h.loadTimesheet(w, r, actor)
	if !ok {
		return
	}

	committed, err := h.service.Commit(r.Context(), actor, ts.ID)
	if err != nil {
		if verrs, ok := AsValidationErrors(err); ok {
			w.WriteHeader(http.StatusUnprocessableEntity)
			h.renderEdit(w, r, actor, ts, verrs.Messages(), nil)
			return
		}
		h.logger.Error("commit timesheet", slog.Any("error", err), slog.Int64("timesheet_id", ts.ID))
		h.flashError(r, err)
		http.Redirect(w, r, fmt.Sprintf("/timesheets/%d", ts.ID), http.StatusSeeOther)
		return
	}

	if h.metrics != nil {
		h.metrics.ObserveCommit()
	}
	h.flash(r, "success", fmt.Sprintf("Timesheet for week %d of %d committed", committed.WeekNumber, committed.Year))
	http.Redirect(w, r, fmt.Sprintf("/timesheets/%d", committed.ID), http.StatusSeeOther)
}

// Reopen flips a committed timesheet back to draft. Admin only.
func (h *Handler) Reopen(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFromContext(r.Context())
	ts, ok := h.loadTimesheet(w, r, actor)
	if !ok {
		return
	}
	reopened, err := h.service.Reopen(r.Context(), actor, ts.ID)
	if err != nil {
		h.logger.Error("reopen timesheet", slog.Any("error", err), slog.Int64("timesheet_id", ts.ID))
		h.flashError(r, err)
		http.Redirect(w, r, fmt.Sprintf("/timesheets/%d", ts.ID), http.StatusSeeOther)
		return
	}
	h.flash(r, "success", "Timesheet reopened for editing")
	http.Redirect(w, r, fmt.Sprintf("/timesheets/%d/edit", reopened.ID), http.StatusSeeOther)
}

// Delete removes the timesheet entirely.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFromContext(r.Context())
	ts, ok := h.loadTimesheet(w, r, actor)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, ts.ID); err != nil {
		h.logger.Error("delete timesheet", slog.Any("error", err), slog.Int64("timesheet_id", ts.ID))
		h.flashError(r, err)
		http.Redirect(w, r, fmt.Sprintf("/timesheets/%d", ts.ID), http.StatusSeeOther)
		return
	}
	h.flash(r, "success", "Timesheet deleted")
	http.Redirect(w, r, "/timesheets", http.StatusSeeOther)
}

// parseUpdateForm maps the posted grid onto an update request. Hour
// fields are named hours_<rowID>_<day>; batch row actions arrive as
// repeated remove_row, move_up, move_down, and add_work_item values.
func (h *Handler) parseUpdateForm(r *http.Request, ts *Timesheet) UpdateTimesheetRequest {
	baseVersion, _ := strconv.ParseInt(r.PostFormValue("base_version"), 10, 64)
	req := UpdateTimesheetRequest{BaseVersion: baseVersion}

	if desc, present := r.PostForm["description"]; present && len(desc) > 0 {
		req.Description = &desc[0]
	}
	req.RemoveRowIDs = formInt64s(r, "remove_row")
	req.MoveUpRowIDs = formInt64s(r, "move_up")
	req.MoveDownRowIDs = formInt64s(r, "move_down")
	req.AddWorkItemIDs = formInt64s(r, "add_work_item")

	removed := make(map[int64]bool, len(req.RemoveRowIDs))
	for _, id := range req.RemoveRowIDs {
		removed[id] = true
	}
	for i := range ts.Rows {
		rowID := ts.Rows[i].ID
		if removed[rowID] {
			continue
		}
		for _, day := range weekDays {
			key := fmt.Sprintf("hours_%d_%d", rowID, day)
			if _, present := r.PostForm[key]; !present {
				continue
			}
			req.Entries = append(req.Entries, EntryEdit{RowID: rowID, Day: day, Raw: r.PostFormValue(key)})
		}
	}
	return req
}

func (h *Handler) renderEdit(w http.ResponseWriter, r *http.Request, actor *authz.Actor, ts *Timesheet, errs []string, rawValues map[string]string) {
	items, err := h.rowItems(r, ts)
	if err != nil {
		h.logger.Error("load row items", slog.Any("error", err))
		http.Error(w, "Failed to load work items", http.StatusInternalServerError)
		return
	}
	available, err := h.items.List(r.Context(), true)
	if err != nil {
		h.logger.Error("list work items", slog.Any("error", err))
		http.Error(w, "Failed to load work items", http.StatusInternalServerError)
		return
	}
	addable := make([]workitems.WorkItem, 0, len(available))
	for _, item := range available {
		if ts.RowForItem(item.ID) == nil {
			addable = append(addable, item)
		}
	}

	h.render(w, r, "pages/timesheet_edit.html", h.pageTitle(ts), map[string]any{
		"Actor":     actor,
		"Timesheet": ts,
		"Items":     items,
		"Addable":   addable,
		"Days":      weekDays,
		"DayDates":  h.dayDates(ts),
		"Errors":    errs,
		"RawValues": rawValues,
	})
}

func (h *Handler) loadTimesheet(w http.ResponseWriter, r *http.Request, actor *authz.Actor) (*Timesheet, bool) {
	if actor == nil {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return nil, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.NotFound(w, r)
		return nil, false
	}
	ts, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrNotFound):
			http.NotFound(w, r)
		case errors.Is(err, shared.ErrNotPermitted):
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		default:
			h.logger.Error("load timesheet", slog.Any("error", err), slog.Int64("timesheet_id", id))
			http.Error(w, "Failed to load timesheet", http.StatusInternalServerError)
		}
		return nil, false
	}
	return ts, true
}

func (h *Handler) rowItems(r *http.Request, ts *Timesheet) (map[int64]*workitems.WorkItem, error) {
	ids := make([]int64, 0, len(ts.Rows))
	for i := range ts.Rows {
		ids = append(ids, ts.Rows[i].WorkItemID)
	}
	return h.items.GetMany(r.Context(), ids)
}

func (h *Handler) dayDates(ts *Timesheet) map[int]time.Time {
	dates := make(map[int]time.Time, len(weekDays))
	for _, day := range weekDays {
		dates[day] = calweek.DateFor(ts.Year, ts.WeekNumber, day)
	}
	return dates
}

func (h *Handler) pageTitle(ts *Timesheet) string {
	return fmt.Sprintf("Week %d, %d", ts.WeekNumber, ts.Year)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, page, title string, data map[string]any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flashes []shared.FlashMessage
	if sess != nil {
		flashes = sess.PopFlashes()
	}
	viewData := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flashes:     flashes,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if err := h.templates.Render(w, page, viewData); err != nil {
		h.logger.Error("render page", slog.String("page", page), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) flash(r *http.Request, kind, msg string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: msg})
	}
}

func (h *Handler) flashError(r *http.Request, err error) {
	h.flash(r, "error", shared.UserSafeMessage(err))
}

func formInt64s(r *http.Request, key string) []int64 {
	values := r.PostForm[key]
	if len(values) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func rawEntryValues(r *http.Request) map[string]string {
	raw := make(map[string]string)
	for key, values := range r.PostForm {
		if strings.HasPrefix(key, "hours_") && len(values) > 0 {
			raw[strings.TrimPrefix(key, "hours_")] = values[0]
		}
	}
	return raw
}
