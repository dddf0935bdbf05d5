package main

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/okr-club/internal/auth"
	"github.com/yourusername/okr-club/internal/okr"
)

const (
	objectiveSavedMessage   = "Objective saved."
	requirementSavedMessage = "Requirement saved."
	emptyTextMessage        = "Please enter some text."
	invalidDueDateMessage   = "Please choose a due date (YYYY-MM-DD)."
)

// okrHandler は目標・達成条件のページと更新を扱います。
type okrHandler struct {
	objectives *okr.Store
	manager    *auth.Manager
	flash      *auth.Flash
	render     auth.Renderer
	logger     *slog.Logger
	now        func() time.Time
}

func (h *okrHandler) registerRoutes(r gin.IRouter) {
	r.GET("/", h.index)
	r.GET("/about", h.about)

	protected := r.Group("")
	protected.Use(h.manager.RequireIdentity())
	{
		protected.GET("/home", h.home)
		protected.GET("/objectives", h.listObjectives)
		protected.POST("/objectives", h.createObjective)
		protected.POST("/requirements", h.createRequirement)
	}
}

func (h *okrHandler) index(c *gin.Context) {
	u, err := h.manager.CurrentIdentity(c)
	if err != nil {
		h.serverError(c, "failed to resolve session identity", err)
		return
	}
	if u != nil {
		c.Redirect(http.StatusFound, auth.DefaultLanding)
		return
	}
	h.render.Page(c, http.StatusOK, "index", nil)
}

func (h *okrHandler) about(c *gin.Context) {
	h.render.Page(c, http.StatusOK, "about", nil)
}

func (h *okrHandler) home(c *gin.Context) {
	u := auth.IdentityFrom(c)
	list, err := h.objectives.ListObjectives(c.Request.Context(), u.ID)
	if err != nil {
		h.serverError(c, "failed to list objectives", err)
		return
	}

	counts := make(map[string]int, len(list))
	for _, obj := range list {
		n, err := h.objectives.CountRequirements(c.Request.Context(), obj.ID)
		if err != nil {
			h.serverError(c, "failed to count requirements", err)
			return
		}
		counts[obj.ID] = n
	}

	dates := okr.SuggestedDueDates(h.now())
	suggested := make([]string, 0, len(dates))
	for _, d := range dates {
		suggested = append(suggested, d.Format(okr.DueDateLayout))
	}

	h.render.Page(c, http.StatusOK, "home", gin.H{
		"user": gin.H{
			"id":    u.ID,
			"email": u.Email,
			"name":  u.Name,
		},
		"objectives":        nonNil(list),
		"requirementCounts": counts,
		"suggestedDueDates": suggested,
	})
}

func (h *okrHandler) listObjectives(c *gin.Context) {
	u := auth.IdentityFrom(c)
	list, err := h.objectives.ListObjectives(c.Request.Context(), u.ID)
	if err != nil {
		h.serverError(c, "failed to list objectives", err)
		return
	}
	h.render.Page(c, http.StatusOK, "objectives", gin.H{"objectives": nonNil(list)})
}

func (h *okrHandler) createObjective(c *gin.Context) {
	u := auth.IdentityFrom(c)

	end, err := okr.ParseDueDate(c.PostForm("duedate"), h.now().Location())
	if err != nil {
		h.redirectWithError(c, invalidDueDateMessage)
		return
	}

	obj, err := h.objectives.CreateObjective(c.Request.Context(), u.ID, c.PostForm("new_objective"), end)
	if errors.Is(err, okr.ErrEmptyText) {
		h.redirectWithError(c, emptyTextMessage)
		return
	}
	if err != nil {
		h.serverError(c, "failed to create objective", err)
		return
	}

	h.logger.Info("objective created", "user_id", u.ID, "objective_id", obj.ID)
	h.flash.Success(c, objectiveSavedMessage)
	h.saveAndRedirect(c, auth.DefaultLanding)
}

func (h *okrHandler) createRequirement(c *gin.Context) {
	u := auth.IdentityFrom(c)
	ctx := c.Request.Context()

	obj, err := h.objectives.Objective(ctx, c.PostForm("objective_id"))
	if errors.Is(err, okr.ErrNotFound) {
		h.render.Error(c, http.StatusNotFound, "")
		return
	}
	if err != nil {
		h.serverError(c, "failed to load objective", err)
		return
	}

	// 他人の目標には書き込まない（セッションも変更しない）
	if err := auth.RequireOwner(u, obj.UserID); err != nil {
		h.logger.Warn("cross-user write rejected", "error", err, "user_id", u.ID, "objective_id", obj.ID)
		h.render.Error(c, http.StatusForbidden, auth.CrossUserMessage)
		return
	}

	req, err := h.objectives.AddRequirement(ctx, obj.ID, c.PostForm("new_requirement"))
	if errors.Is(err, okr.ErrEmptyText) {
		h.redirectWithError(c, emptyTextMessage)
		return
	}
	if err != nil {
		h.serverError(c, "failed to add requirement", err)
		return
	}

	h.logger.Info("requirement created", "user_id", u.ID, "objective_id", obj.ID, "requirement_id", req.ID)
	h.flash.Success(c, requirementSavedMessage)
	h.saveAndRedirect(c, auth.DefaultLanding)
}

func (h *okrHandler) redirectWithError(c *gin.Context, message string) {
	h.flash.Error(c, message)
	h.saveAndRedirect(c, auth.DefaultLanding)
}

func (h *okrHandler) saveAndRedirect(c *gin.Context, location string) {
	if err := sessions.Default(c).Save(); err != nil {
		h.serverError(c, "failed to save session", err)
		return
	}
	c.Redirect(http.StatusFound, location)
}

func (h *okrHandler) serverError(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, "error", err, "path", c.Request.URL.Path)
	h.render.Error(c, http.StatusInternalServerError, "")
}

func nonNil(list []okr.Objective) []okr.Objective {
	if list == nil {
		return []okr.Objective{}
	}
	return list
}
