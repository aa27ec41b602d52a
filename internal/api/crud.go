package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"loupe/internal/rules"
	"loupe/internal/store"
)

// activityObservation rebuilds the observation a stored row was sampled from.
// The process path is not persisted, so path rules cannot re-match here.
func activityObservation(a store.Activity) rules.Observation {
	obs := rules.Observation{ProcessName: a.ProcessName, WindowTitle: a.WindowTitle}
	if a.URL != nil {
		obs.URL = *a.URL
	}
	if a.BrowserProfile != nil {
		obs.BrowserProfile = *a.BrowserProfile
	}
	return obs
}

func idParam(c *gin.Context, key string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(key), 10, 64)
	if err != nil || id <= 0 {
		jsonError(c, http.StatusBadRequest, "invalid id %q", c.Param(key))
		return 0, false
	}
	return id, true
}

// mapStoreError translates a store failure into a façade status.
func mapStoreError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		jsonError(c, http.StatusNotFound, "%v", err)
		return
	}
	jsonError(c, http.StatusInternalServerError, "%v", err)
}

// ── tags ──

func (s *Server) handleListTags(c *gin.Context) {
	tags, err := s.store.ListTags(c.Request.Context())
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	if tags == nil {
		tags = []store.Tag{}
	}
	c.JSON(http.StatusOK, tags)
}

func (s *Server) handleCreateTag(c *gin.Context) {
	var tag store.Tag
	if err := c.ShouldBindJSON(&tag); err != nil {
		jsonError(c, http.StatusBadRequest, "invalid tag payload: %v", err)
		return
	}
	if tag.Name == "" {
		jsonError(c, http.StatusBadRequest, "tag name is required")
		return
	}
	ctx := c.Request.Context()
	id, err := s.store.CreateTag(ctx, tag)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	if err := s.reloadSnapshots(ctx); err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	created, err := s.store.GetTag(ctx, id)
	if err != nil {
		mapStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// handleUpdateTag applies a partial update: absent fields keep their stored
// values. Block fields are managed by the focus endpoints, which enforce the
// tamper refusal, so they are not accepted here.
func (s *Server) handleUpdateTag(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var payload struct {
		Name          *string `json:"name"`
		Color         *string `json:"color"`
		Category      *string `json:"category"`
		AlertEnabled  *bool   `json:"alert_enabled"`
		AlertMessage  *string `json:"alert_message"`
		AlertCooldown *int    `json:"alert_cooldown"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		jsonError(c, http.StatusBadRequest, "invalid tag payload: %v", err)
		return
	}
	if payload.Name != nil && *payload.Name == "" {
		jsonError(c, http.StatusBadRequest, "tag name is required")
		return
	}

	ctx := c.Request.Context()
	tag, err := s.store.GetTag(ctx, id)
	if err != nil {
		mapStoreError(c, err)
		return
	}
	// Reserved tags keep their identity; the UI may still tune their colour.
	if tag.Reserved() && payload.Name != nil && *payload.Name != tag.Name {
		jsonError(c, http.StatusBadRequest, "cannot rename the reserved tag %q", tag.Name)
		return
	}

	if payload.Name != nil {
		tag.Name = *payload.Name
	}
	if payload.Color != nil {
		tag.Color = *payload.Color
	}
	if payload.Category != nil {
		tag.Category = *payload.Category
	}
	if payload.AlertEnabled != nil {
		tag.AlertEnabled = *payload.AlertEnabled
	}
	if payload.AlertMessage != nil {
		tag.AlertMessage = *payload.AlertMessage
	}
	if payload.AlertCooldown != nil {
		tag.AlertCooldown = *payload.AlertCooldown
	}

	if err := s.store.UpdateTag(ctx, tag); err != nil {
		mapStoreError(c, err)
		return
	}
	if err := s.reloadSnapshots(ctx); err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	updated, err := s.store.GetTag(ctx, id)
	if err != nil {
		mapStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteTag(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	tag, err := s.store.GetTag(ctx, id)
	if err != nil {
		mapStoreError(c, err)
		return
	}
	if tag.Reserved() {
		jsonError(c, http.StatusBadRequest, "cannot delete the reserved tag %q", tag.Name)
		return
	}
	if err := s.store.DeleteTag(ctx, id); err != nil {
		mapStoreError(c, err)
		return
	}
	if err := s.reloadSnapshots(ctx); err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// ── rules ──

func (s *Server) handleListRules(c *gin.Context) {
	rules, err := s.store.ListRules(c.Request.Context(), false)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	if rules == nil {
		rules = []store.Rule{}
	}
	c.JSON(http.StatusOK, rules)
}

func validateRule(c *gin.Context, r store.Rule) bool {
	if r.Name == "" {
		jsonError(c, http.StatusBadRequest, "rule name is required")
		return false
	}
	if r.TagID <= 0 {
		jsonError(c, http.StatusBadRequest, "rule tag_id is required")
		return false
	}
	if r.ProcessPattern == "" && r.URLPattern == "" && r.TitlePattern == "" &&
		r.BrowserProfile == "" && r.ProcessPathPattern == "" {
		jsonError(c, http.StatusBadRequest, "rule needs at least one pattern")
		return false
	}
	return true
}

func (s *Server) handleCreateRule(c *gin.Context) {
	var rule store.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		jsonError(c, http.StatusBadRequest, "invalid rule payload: %v", err)
		return
	}
	if !validateRule(c, rule) {
		return
	}
	ctx := c.Request.Context()
	if _, err := s.store.GetTag(ctx, rule.TagID); err != nil {
		mapStoreError(c, err)
		return
	}
	id, err := s.store.CreateRule(ctx, rule)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	if err := s.reloadSnapshots(ctx); err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	created, err := s.store.GetRule(ctx, id)
	if err != nil {
		mapStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleUpdateRule(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var rule store.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		jsonError(c, http.StatusBadRequest, "invalid rule payload: %v", err)
		return
	}
	rule.ID = id
	if !validateRule(c, rule) {
		return
	}
	ctx := c.Request.Context()
	if err := s.store.UpdateRule(ctx, rule); err != nil {
		mapStoreError(c, err)
		return
	}
	if err := s.reloadSnapshots(ctx); err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	updated, err := s.store.GetRule(ctx, id)
	if err != nil {
		mapStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := s.store.DeleteRule(ctx, id); err != nil {
		mapStoreError(c, err)
		return
	}
	if err := s.reloadSnapshots(ctx); err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// ── reclassify ──

// handleReclassify re-runs the current rule set over stored activities,
// either the untagged ones or everything.
func (s *Server) handleReclassify(scope store.ReclassifyScope) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		activities, err := s.store.ListForReclassify(ctx, scope)
		if err != nil {
			jsonError(c, http.StatusInternalServerError, "%v", err)
			return
		}

		changed := 0
		for _, a := range activities {
			obs := activityObservation(a)
			match, err := s.engine.Match(ctx, obs)
			if err != nil {
				jsonError(c, http.StatusInternalServerError, "%v", err)
				return
			}
			if a.TagID != nil && *a.TagID == match.TagID {
				continue
			}
			if err := s.store.UpdateClassification(ctx, a.ID, match.TagID, match.RuleID); err != nil {
				jsonError(c, http.StatusInternalServerError, "%v", err)
				return
			}
			changed++
		}
		c.JSON(http.StatusOK, gin.H{"visited": len(activities), "changed": changed})
	}
}
