package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"loupe/internal/autostart"
	"loupe/internal/store"
)

// handleGetSettings returns every recognised setting, stored value or
// default.
func (s *Server) handleGetSettings(c *gin.Context) {
	ctx := c.Request.Context()
	stored, err := s.store.Settings(ctx)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	merged := make(map[string]string, len(store.RecognisedSettings))
	for key, def := range store.RecognisedSettings {
		if v, ok := stored[key]; ok {
			merged[key] = v
		} else {
			merged[key] = def
		}
	}
	c.JSON(http.StatusOK, merged)
}

// handlePutSettings applies a partial update. Any unrecognised key rejects
// the whole request before anything is written.
func (s *Server) handlePutSettings(c *gin.Context) {
	var payload map[string]string
	if err := c.ShouldBindJSON(&payload); err != nil {
		jsonError(c, http.StatusBadRequest, "invalid settings payload: %v", err)
		return
	}
	if len(payload) == 0 {
		jsonError(c, http.StatusBadRequest, "no settings supplied")
		return
	}
	for key := range payload {
		if _, ok := store.RecognisedSettings[key]; !ok {
			jsonError(c, http.StatusBadRequest, "unknown setting %q", key)
			return
		}
	}

	ctx := c.Request.Context()
	for key, value := range payload {
		if err := s.store.SetSetting(ctx, key, value); err != nil {
			jsonError(c, http.StatusInternalServerError, "%v", err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"updated": len(payload)})
}

func (s *Server) handleGetAutostart(c *gin.Context) {
	if s.autostart.Enabled == nil {
		c.JSON(http.StatusOK, gin.H{"supported": false, "enabled": false})
		return
	}
	enabled, err := s.autostart.Enabled()
	if err != nil {
		if errors.Is(err, autostart.ErrUnsupported) {
			c.JSON(http.StatusOK, gin.H{"supported": false, "enabled": false})
			return
		}
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"supported": true, "enabled": enabled})
}

func (s *Server) handlePutAutostart(c *gin.Context) {
	var payload struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		jsonError(c, http.StatusBadRequest, "invalid autostart payload: %v", err)
		return
	}
	if s.autostart.Enable == nil || s.autostart.Disable == nil {
		jsonError(c, http.StatusBadRequest, "autostart is not supported on this platform")
		return
	}

	var err error
	if payload.Enabled {
		err = s.autostart.Enable()
	} else {
		err = s.autostart.Disable()
	}
	if err != nil {
		if errors.Is(err, autostart.ErrUnsupported) {
			jsonError(c, http.StatusBadRequest, "autostart is not supported on this platform")
			return
		}
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": payload.Enabled})
}
