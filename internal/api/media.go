package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"loupe/internal/store"
)

const maxMediaBytes = 5 << 20

var mediaKindExtensions = map[string]map[string]bool{
	store.MediaSound: {".wav": true, ".mp3": true},
	store.MediaImage: {".png": true, ".jpg": true, ".jpeg": true, ".gif": true},
}

// mediaKind validates the :kind segment and resolves the asset directory and
// selection setting key.
func (s *Server) mediaKind(c *gin.Context) (kind, dir, selectedKey string, ok bool) {
	kind = c.Param("kind")
	switch kind {
	case store.MediaSound:
		return kind, s.paths.SoundsDir, store.SettingAlertSoundSelected, true
	case store.MediaImage:
		return kind, s.paths.ImagesDir, store.SettingAlertImageSelected, true
	default:
		jsonError(c, http.StatusBadRequest, "unknown media kind %q", kind)
		return "", "", "", false
	}
}

func (s *Server) handleListMedia(c *gin.Context) {
	kind, _, _, ok := s.mediaKind(c)
	if !ok {
		return
	}
	assets, err := s.store.ListMediaAssets(c.Request.Context(), kind)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	if assets == nil {
		assets = []store.MediaAsset{}
	}
	c.JSON(http.StatusOK, assets)
}

// handleUploadMedia stores one multipart file under a fresh uuid filename.
// The original name survives only as the asset's display name.
func (s *Server) handleUploadMedia(c *gin.Context) {
	kind, dir, _, ok := s.mediaKind(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxMediaBytes+1024)
	header, err := c.FormFile("file")
	if err != nil {
		jsonError(c, http.StatusBadRequest, "missing file upload: %v", err)
		return
	}
	if header.Size > maxMediaBytes {
		jsonError(c, http.StatusBadRequest, "file exceeds the 5 MiB limit")
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !mediaKindExtensions[kind][ext] {
		jsonError(c, http.StatusBadRequest, "unsupported %s extension %q", kind, ext)
		return
	}

	filename := uuid.NewString() + ext
	dst := filepath.Join(dir, filename)
	if err := c.SaveUploadedFile(header, dst); err != nil {
		jsonError(c, http.StatusInternalServerError, "saving upload: %v", err)
		return
	}

	name := filepath.Base(header.Filename)
	id, err := s.store.CreateMediaAsset(c.Request.Context(), kind, name, filename)
	if err != nil {
		_ = os.Remove(dst)
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "name": name, "filename": filename})
}

func (s *Server) handleDeleteMedia(c *gin.Context) {
	kind, dir, selectedKey, ok := s.mediaKind(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	filename, err := s.store.DeleteMediaAsset(ctx, id)
	if err != nil {
		mapStoreError(c, err)
		return
	}
	if filename != "" {
		if err := os.Remove(filepath.Join(dir, filename)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("removing %s file %s: %v", kind, filename, err)
		}
	}
	// Deselect if this asset was the configured pick.
	if s.store.Setting(ctx, selectedKey, "") == fmt.Sprint(id) {
		if err := s.store.SetSetting(ctx, selectedKey, ""); err != nil {
			s.logger.Warn("clearing %s selection: %v", kind, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) handleSelectMedia(c *gin.Context) {
	kind, _, selectedKey, ok := s.mediaKind(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	asset, err := s.store.GetMediaAsset(ctx, id)
	if err != nil {
		mapStoreError(c, err)
		return
	}
	if asset.Kind != kind {
		jsonError(c, http.StatusBadRequest, "asset %d is not a %s", id, kind)
		return
	}
	if err := s.store.SetSetting(ctx, selectedKey, strconv.FormatInt(id, 10)); err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected": id})
}
