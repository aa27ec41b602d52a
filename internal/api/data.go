package api

import (
	"archive/zip"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"loupe/internal/backup"
)

var errBundleWithoutDB = errors.New("zip bundle does not contain activity_tracker.db")

func parseRulesUpload(raw []byte, format string) (*backup.RulesExport, error) {
	if format == "yaml" {
		return backup.ParseRulesYAML(raw)
	}
	return backup.ParseRulesJSON(raw)
}

// handleBackup streams a consistent database snapshot, optionally bundled
// with the media directories as a zip.
func (s *Server) handleBackup(c *gin.Context) {
	includeMedia, _ := strconv.ParseBool(c.Query("include_media"))

	path, filename, err := s.backups.Snapshot(c.Request.Context(), includeMedia)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	defer func() { _ = os.Remove(path) }()
	c.FileAttachment(path, filename)
}

// handleRestore stages an uploaded database (bare .db or media zip bundle)
// and schedules a process exit so the swap happens on the next start. The
// live database is never touched in this request.
func (s *Server) handleRestore(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 512<<20)
	header, err := c.FormFile("file")
	if err != nil {
		jsonError(c, http.StatusBadRequest, "missing file upload: %v", err)
		return
	}

	upload, err := header.Open()
	if err != nil {
		jsonError(c, http.StatusBadRequest, "reading upload: %v", err)
		return
	}
	defer func() { _ = upload.Close() }()

	// Spool to disk once so the zip case can be read twice.
	tmp, err := os.CreateTemp(s.paths.DataDir, "restore-recv-*")
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "spooling upload: %v", err)
		return
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := io.Copy(tmp, upload); err != nil {
		_ = tmp.Close()
		jsonError(c, http.StatusInternalServerError, "spooling upload: %v", err)
		return
	}
	if err := tmp.Close(); err != nil {
		jsonError(c, http.StatusInternalServerError, "spooling upload: %v", err)
		return
	}

	if err := s.stageUpload(tmpName); err != nil {
		jsonError(c, http.StatusBadRequest, "%v", err)
		return
	}

	s.logger.Info("restore staged via api, scheduling restart")
	c.JSON(http.StatusOK, gin.H{"status": "staged", "restart": "scheduled"})

	go func() {
		time.Sleep(500 * time.Millisecond)
		if s.monitor != nil {
			s.monitor.RequestDBClose(3 * time.Second)
		}
		if s.shutdown != nil {
			s.shutdown()
		}
	}()
}

// stageUpload routes a spooled upload to the backup manager: a zip bundle
// contributes its embedded database plus the media archive, anything else is
// treated as a bare database file.
func (s *Server) stageUpload(path string) error {
	reader, err := zip.OpenReader(path)
	if err == nil {
		defer func() { _ = reader.Close() }()
		for _, entry := range reader.File {
			if entry.Name != "activity_tracker.db" {
				continue
			}
			db, err := entry.Open()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			bundle, err := os.Open(path)
			if err != nil {
				return err
			}
			defer func() { _ = bundle.Close() }()
			return s.backups.StageRestore(db, bundle)
		}
		return errBundleWithoutDB
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()
	return s.backups.StageRestore(file, nil)
}

func (s *Server) handleExportRules(c *gin.Context) {
	doc, err := s.backups.ExportRules(c.Request.Context())
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	if c.Query("format") == "yaml" {
		raw, err := doc.MarshalYAMLBytes()
		if err != nil {
			jsonError(c, http.StatusInternalServerError, "%v", err)
			return
		}
		c.Data(http.StatusOK, "application/yaml", raw)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleImportRules(c *gin.Context) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 4<<20))
	if err != nil {
		jsonError(c, http.StatusBadRequest, "reading import payload: %v", err)
		return
	}

	doc, err := parseRulesUpload(raw, c.Query("format"))
	if err != nil {
		jsonError(c, http.StatusBadRequest, "%v", err)
		return
	}

	merge := true
	if v := c.Query("merge_mode"); v != "" {
		merge, err = strconv.ParseBool(v)
		if err != nil {
			jsonError(c, http.StatusBadRequest, "invalid merge_mode %q", v)
			return
		}
	}

	ctx := c.Request.Context()
	result, err := s.backups.ImportRules(ctx, doc, merge)
	if err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	if err := s.reloadSnapshots(ctx); err != nil {
		jsonError(c, http.StatusInternalServerError, "%v", err)
		return
	}
	c.JSON(http.StatusOK, result)
}
