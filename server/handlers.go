package server

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/blake2b"

	"github.com/wudi/pdfedit/document"
	"github.com/wudi/pdfedit/edit"
	"github.com/wudi/pdfedit/observability"
	"github.com/wudi/pdfedit/storage"
)

type uploadResponse struct {
	Filename  string `json:"filename"`
	PageCount int    `json:"page_count"`
}

type pageResponse struct {
	ImageData string `json:"image_data"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type editRequest struct {
	Filename string      `json:"filename"`
	Edits    []edit.Edit `json:"edits"`
}

type editResponse struct {
	DownloadURL string `json:"download_url"`
}

func (s *Server) handleIndex(c echo.Context) error {
	return c.HTMLBlob(http.StatusOK, s.index)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("pdfFile")
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		if errors.Is(err, http.ErrMissingFile) {
			return echo.NewHTTPError(http.StatusBadRequest, "No file part")
		}
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid upload").SetInternal(err)
	}
	if fh.Filename == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "No selected file")
	}
	name, err := storage.CleanName(fh.Filename)
	if err != nil || !storage.AllowedFile(name) {
		return echo.NewHTTPError(http.StatusBadRequest, "File type not allowed")
	}

	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid upload").SetInternal(err)
	}
	defer src.Close()

	// The page count is taken from the temporary file, so an unreadable PDF
	// never replaces an earlier upload of the same name.
	ctx := c.Request().Context()
	var count int
	var readErr error
	_, err = s.store.SaveUpload(name, src, func(tmp string) error {
		count, readErr = s.renderer.PageCount(ctx, tmp)
		return readErr
	})
	switch {
	case readErr != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Could not process PDF: %v", readErr)).SetInternal(readErr)
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Could not save PDF: %v", err)).SetInternal(err)
	}
	s.logger.Info("pdf uploaded", observability.String("filename", name), observability.Int("pages", count), observability.Int64("bytes", fh.Size))
	return c.JSON(http.StatusOK, uploadResponse{Filename: name, PageCount: count})
}

func (s *Server) handlePage(c echo.Context) error {
	name := pathParam(c, "filename")
	page, err := strconv.Atoi(pathParam(c, "page"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid page number")
	}
	path, err := s.store.UploadPath(name)
	if err != nil || !storage.Exists(path) {
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	}
	if page < 0 {
		return echo.NewHTTPError(http.StatusNotFound, "Page number out of range")
	}

	pix, err := s.renderer.RenderPNG(c.Request().Context(), path, page, s.cfg.RenderDPI)
	switch {
	case errors.Is(err, document.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	case errors.Is(err, document.ErrPageOutOfRange):
		return echo.NewHTTPError(http.StatusNotFound, "Page number out of range")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Could not load page: %v", err)).SetInternal(err)
	}
	return c.JSON(http.StatusOK, pageResponse{
		ImageData: base64.StdEncoding.EncodeToString(pix.PNG),
		Width:     pix.Width,
		Height:    pix.Height,
	})
}

func (s *Server) handleEdit(c echo.Context) error {
	var req editRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Filename == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Filename missing")
	}
	src, err := s.store.UploadPath(req.Filename)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid filename")
	}
	if !storage.Exists(src) {
		return echo.NewHTTPError(http.StatusNotFound, "Original file not found")
	}
	outName := storage.EditedName(req.Filename)
	dst, err := s.store.ModifiedPath(outName)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid filename")
	}

	res, err := s.edits.ApplyFile(c.Request().Context(), src, dst, req.Edits)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Original file not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Failed to edit PDF: %v", err)).SetInternal(err)
	}
	s.logger.Info("pdf edited",
		observability.String("filename", req.Filename),
		observability.Int("applied", res.Applied),
		observability.Int("skipped", len(res.Skipped)))
	return c.JSON(http.StatusOK, editResponse{DownloadURL: "/download/" + url.PathEscape(outName)})
}

func (s *Server) handleDownload(c echo.Context) error {
	path, err := s.store.ModifiedPath(pathParam(c, "filename"))
	if err != nil {
		return echo.ErrNotFound
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return echo.ErrNotFound
		}
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return echo.ErrNotFound
	}

	etag, err := contentTag(f)
	if err != nil {
		return err
	}
	name := fi.Name()
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "application/pdf")
	h.Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	h.Set("ETag", etag)
	http.ServeContent(c.Response(), c.Request(), name, fi.ModTime(), f)
	return nil
}

// contentTag hashes r with BLAKE2b-256 and rewinds it.
func contentTag(r io.ReadSeeker) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return `"` + hex.EncodeToString(h.Sum(nil)) + `"`, nil
}

// pathParam returns a route parameter with percent-escapes decoded. Echo
// matches on the raw path when the request carries escaped characters.
func pathParam(c echo.Context, name string) string {
	v := c.Param(name)
	if c.Request().URL.RawPath == "" {
		return v
	}
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}
