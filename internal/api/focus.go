package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"loupe/internal/focus"
	"loupe/internal/store"
)

// focusView is a tag's block configuration plus whether its window is active
// right now.
type focusView struct {
	TagID        int64  `json:"tag_id"`
	TagName      string `json:"tag_name"`
	BlockEnabled bool   `json:"block_enabled"`
	BlockStart   string `json:"block_start"`
	BlockEnd     string `json:"block_end"`
	ActiveNow    bool   `json:"active_now"`
}

func (s *Server) handleListFocus(c *gin.Context) {
	tags, err := s.store.ListTags(c.Request.Context())
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	views := []focusView{}
	for _, t := range tags {
		if t.Reserved() {
			continue
		}
		views = append(views, focusView{
			TagID:        t.ID,
			TagName:      t.Name,
			BlockEnabled: t.BlockEnabled,
			BlockStart:   t.BlockStart,
			BlockEnd:     t.BlockEnd,
			ActiveNow:    s.enforcer.BlockedNow(t.ID),
		})
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) handleFocusStatus(c *gin.Context) {
	active := s.enforcer.BlockedTags()
	if active == nil {
		active = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{
		"any_active":     len(active) > 0,
		"active_tag_ids": active,
	})
}

// handlePutFocus updates a tag's block window. Refused while the tag's
// current window is active, so a block cannot be lifted mid-enforcement.
func (s *Server) handlePutFocus(c *gin.Context) {
	id, ok := idParam(c, "tag_id")
	if !ok {
		return
	}
	var payload struct {
		BlockEnabled bool   `json:"block_enabled"`
		BlockStart   string `json:"block_start"`
		BlockEnd     string `json:"block_end"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		jsonError(c, http.StatusBadRequest, "invalid focus payload: %v", err)
		return
	}

	ctx := c.Request.Context()
	tag, err := s.store.GetTag(ctx, id)
	if err != nil {
		mapStoreError(c, err)
		return
	}
	if tag.Reserved() {
		jsonError(c, http.StatusBadRequest, "cannot block the reserved tag %q", tag.Name)
		return
	}
	if err := s.enforcer.CheckMutable(tag); err != nil {
		if errors.Is(err, focus.ErrBlockedWindow) {
			jsonError(c, http.StatusForbidden, "cannot modify block settings during an active block window")
			return
		}
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	if payload.BlockEnabled {
		for _, clock := range []string{payload.BlockStart, payload.BlockEnd} {
			if _, err := time.Parse("15:04", clock); err != nil {
				jsonError(c, http.StatusBadRequest, "invalid block time %q, want HH:MM", clock)
				return
			}
		}
	}

	if err := s.store.UpdateTagBlock(ctx, id, payload.BlockEnabled, payload.BlockStart, payload.BlockEnd); err != nil {
		mapStoreError(c, err)
		return
	}
	if err := s.enforcer.Reload(ctx); err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tag_id":        id,
		"block_enabled": payload.BlockEnabled,
		"block_start":   payload.BlockStart,
		"block_end":     payload.BlockEnd,
	})
}

func (s *Server) handleEmergencyReset(c *gin.Context) {
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		jsonError(c, http.StatusBadRequest, "invalid reset payload: %v", err)
		return
	}

	ctx := c.Request.Context()

	// Snapshot the flagged tags before they are cleared, for the audit line.
	var flagged []string
	if tags, err := s.store.ListTags(ctx); err == nil {
		for _, t := range tags {
			if t.BlockEnabled {
				flagged = append(flagged, t.Name)
			}
		}
	}

	cleared, err := s.enforcer.EmergencyReset(ctx, payload.Reason)
	if err != nil {
		if errors.Is(err, focus.ErrReasonTooShort) {
			jsonError(c, http.StatusBadRequest, "%v", err)
			return
		}
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	if s.daylog != nil {
		if err := s.daylog.LogEmergencyReset(flagged, strings.TrimSpace(payload.Reason)); err != nil {
			s.logger.Warn("recording emergency reset in day log: %v", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

// ── activities ──

func (s *Server) handleUnclassified(c *gin.Context) {
	groups, err := s.store.ListUnclassified(c.Request.Context())
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	if groups == nil {
		groups = []store.UnclassifiedGroup{}
	}
	c.JSON(http.StatusOK, groups)
}

func (s *Server) handleDeleteActivities(c *gin.Context) {
	var payload struct {
		IDs []int64 `json:"ids"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		jsonError(c, http.StatusBadRequest, "invalid delete payload: %v", err)
		return
	}
	if len(payload.IDs) == 0 {
		jsonError(c, http.StatusBadRequest, "no activity ids supplied")
		return
	}
	deleted, err := s.store.DeleteActivities(c.Request.Context(), payload.IDs)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
