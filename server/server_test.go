package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/net/html"

	"github.com/wudi/pdfedit/config"
	"github.com/wudi/pdfedit/coords"
	"github.com/wudi/pdfedit/document"
	"github.com/wudi/pdfedit/edit"
	"github.com/wudi/pdfedit/internal/testpdf"
)

// pdfcpuRenderer counts pages with the editing backend and returns a blank
// preview, so handler tests run without MuPDF.
type pdfcpuRenderer struct {
	renders int
}

func (r *pdfcpuRenderer) PageCount(ctx context.Context, path string) (int, error) {
	d, err := document.Open(ctx, path)
	if err != nil {
		return 0, err
	}
	defer d.Close()
	return d.PageCount(), nil
}

func (r *pdfcpuRenderer) RenderPNG(ctx context.Context, path string, page int, dpi float64) (document.Pixmap, error) {
	n, err := r.PageCount(ctx, path)
	if err != nil {
		return document.Pixmap{}, err
	}
	if page >= n {
		return document.Pixmap{}, fmt.Errorf("page %d: %w", page, document.ErrPageOutOfRange)
	}
	r.renders++
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 6))); err != nil {
		return document.Pixmap{}, err
	}
	return document.Pixmap{PNG: buf.Bytes(), Width: 4, Height: 6}, nil
}

// recordingFile notes the text of every insertion before delegating.
type recordingFile struct {
	*document.Document
	texts *[]string
}

func (f recordingFile) InsertText(page int, at coords.Point, text string, style document.TextStyle) error {
	*f.texts = append(*f.texts, text)
	return f.Document.InsertText(page, at, text, style)
}

type fixture struct {
	srv      *Server
	renderer *pdfcpuRenderer
	texts    []string
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.UploadDir = filepath.Join(root, "uploads")
	cfg.ModifiedDir = filepath.Join(root, "modified")
	for _, m := range mutate {
		m(&cfg)
	}
	fx := &fixture{renderer: &pdfcpuRenderer{}}
	open := func(ctx context.Context, path string) (edit.File, error) {
		d, err := document.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		return recordingFile{Document: d, texts: &fx.texts}, nil
	}
	srv, err := New(cfg, WithRenderer(fx.renderer), WithOpener(open))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	fx.srv = srv
	return fx
}

func (fx *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	fx.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (fx *fixture) seed(t *testing.T, name string, pages ...testpdf.Page) string {
	t.Helper()
	return testpdf.WriteFile(t, fx.srv.Store().UploadDir(), name, pages...)
}

func multipartBody(t *testing.T, field, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, name)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &body, w.FormDataContentType()
}

func upload(t *testing.T, fx *fixture, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ctype := multipartBody(t, "pdfFile", name, data)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ctype)
	return fx.do(req)
}

func postEdit(fx *fixture, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/edit", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return fx.do(req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[errorResponse](t, rec).Error
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestIndexPage(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	doc, err := html.Parse(rec.Body)
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	ids := map[string]bool{}
	var lists int
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, a := range n.Attr {
				if a.Key == "id" {
					ids[a.Val] = true
				}
			}
			if n.Data == "ol" {
				lists++
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	for _, id := range []string{"pdfUpload", "page-image", "savePdfBtn", "help"} {
		if !ids[id] {
			t.Fatalf("index is missing #%s", id)
		}
	}
	if lists != 1 {
		t.Fatalf("expected the rendered help list, found %d <ol>", lists)
	}
}

func TestStaticAssets(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/upload") {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[map[string]string](t, rec)["status"]; got != "ok" {
		t.Fatalf("status = %q", got)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestUploadRejectsNonPDF(t *testing.T) {
	fx := newFixture(t)
	rec := upload(t, fx, "notes.txt", []byte("hello"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := errorOf(t, rec); msg != "File type not allowed" {
		t.Fatalf("error = %q", msg)
	}
	if names := dirEntries(t, fx.srv.Store().UploadDir()); len(names) != 0 {
		t.Fatalf("upload dir should be empty, has %v", names)
	}
}

func TestUploadMissingFile(t *testing.T) {
	fx := newFixture(t)
	body, ctype := multipartBody(t, "other", "a.pdf", testpdf.Build())
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ctype)
	rec := fx.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := errorOf(t, rec); msg != "No file part" {
		t.Fatalf("error = %q", msg)
	}
}

func TestUploadPDF(t *testing.T) {
	fx := newFixture(t)
	rec := upload(t, fx, "report.PDF", testpdf.Build(testpdf.Letter, testpdf.Letter))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	want := uploadResponse{Filename: "report.PDF", PageCount: 2}
	if diff := cmp.Diff(want, decode[uploadResponse](t, rec)); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
	if names := dirEntries(t, fx.srv.Store().UploadDir()); !cmp.Equal(names, []string{"report.PDF"}) {
		t.Fatalf("upload dir = %v", names)
	}
}

func TestUploadUnreadablePDF(t *testing.T) {
	fx := newFixture(t)
	rec := upload(t, fx, "broken.pdf", []byte("%PDF-1.4 not really"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := errorOf(t, rec); !strings.HasPrefix(msg, "Could not process PDF:") {
		t.Fatalf("error = %q", msg)
	}
	if names := dirEntries(t, fx.srv.Store().UploadDir()); len(names) != 0 {
		t.Fatalf("unreadable upload left behind: %v", names)
	}
}

func TestUploadUnreadableKeepsEarlierUpload(t *testing.T) {
	fx := newFixture(t)
	good := testpdf.Build(testpdf.Letter)
	if rec := upload(t, fx, "a.pdf", good); rec.Code != http.StatusOK {
		t.Fatalf("first upload status = %d: %s", rec.Code, rec.Body)
	}
	rec := upload(t, fx, "a.pdf", []byte("%PDF-1.4 not really"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	data, err := os.ReadFile(filepath.Join(fx.srv.Store().UploadDir(), "a.pdf"))
	if err != nil {
		t.Fatalf("earlier upload removed: %v", err)
	}
	if !bytes.Equal(data, good) {
		t.Fatalf("earlier upload was overwritten")
	}
	if names := dirEntries(t, fx.srv.Store().UploadDir()); !cmp.Equal(names, []string{"a.pdf"}) {
		t.Fatalf("upload dir = %v", names)
	}
}

func TestUploadTooLarge(t *testing.T) {
	fx := newFixture(t, func(c *config.Config) { c.MaxUploadBytes = 256 })
	rec := upload(t, fx, "big.pdf", bytes.Repeat([]byte("x"), 4096))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPagePreview(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t, "my doc.pdf", testpdf.Letter, testpdf.Letter)

	rec := fx.do(httptest.NewRequest(http.MethodGet, "/pdf/my%20doc.pdf/page/1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	resp := decode[pageResponse](t, rec)
	if resp.Width != 4 || resp.Height != 6 {
		t.Fatalf("size = %dx%d", resp.Width, resp.Height)
	}
	raw, err := base64.StdEncoding.DecodeString(resp.ImageData)
	if err != nil {
		t.Fatalf("image data: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(raw)); err != nil {
		t.Fatalf("image data is not png: %v", err)
	}
}

func TestPageErrors(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t, "a.pdf", testpdf.Letter)
	cases := []struct {
		url  string
		code int
		msg  string
	}{
		{"/pdf/missing.pdf/page/0", http.StatusNotFound, "File not found"},
		{"/pdf/a.pdf/page/1", http.StatusNotFound, "Page number out of range"},
		{"/pdf/a.pdf/page/-1", http.StatusNotFound, "Page number out of range"},
		{"/pdf/a.pdf/page/one", http.StatusBadRequest, "Invalid page number"},
		{"/pdf/..%2Fa.pdf/page/0", http.StatusNotFound, "File not found"},
	}
	for _, tc := range cases {
		rec := fx.do(httptest.NewRequest(http.MethodGet, tc.url, nil))
		if rec.Code != tc.code {
			t.Fatalf("%s: status = %d, want %d", tc.url, rec.Code, tc.code)
		}
		if msg := errorOf(t, rec); msg != tc.msg {
			t.Fatalf("%s: error = %q, want %q", tc.url, msg, tc.msg)
		}
	}
	if fx.renderer.renders != 0 {
		t.Fatalf("nothing should have been rendered")
	}
}

func TestPageOutOfRangeLeavesFileUntouched(t *testing.T) {
	fx := newFixture(t)
	path := fx.seed(t, "a.pdf", testpdf.Letter, testpdf.Letter)
	before, _ := os.ReadFile(path)
	rec := fx.do(httptest.NewRequest(http.MethodGet, "/pdf/a.pdf/page/2", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	after, _ := os.ReadFile(path)
	if !bytes.Equal(before, after) {
		t.Fatalf("source document changed")
	}
}

func TestEditMissingFilename(t *testing.T) {
	fx := newFixture(t)
	rec := postEdit(fx, map[string]any{"edits": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := errorOf(t, rec); msg != "Filename missing" {
		t.Fatalf("error = %q", msg)
	}
}

func TestEditUnknownFile(t *testing.T) {
	fx := newFixture(t)
	rec := postEdit(fx, map[string]any{"filename": "ghost.pdf", "edits": []any{}})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := errorOf(t, rec); msg != "Original file not found" {
		t.Fatalf("error = %q", msg)
	}
	if names := dirEntries(t, fx.srv.Store().ModifiedDir()); len(names) != 0 {
		t.Fatalf("modified dir should be empty, has %v", names)
	}
}

func TestEditSkipsIncompleteEdits(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t, "a.pdf", testpdf.Letter)
	rec := postEdit(fx, map[string]any{
		"filename": "a.pdf",
		"edits": []map[string]any{
			{"page": 0, "type": "text", "x": 0.25, "y": 0.5, "text": "kept", "size": 14},
			{"page": 0, "type": "text", "y": 0.5, "text": "dropped"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if got := decode[editResponse](t, rec).DownloadURL; got != "/download/edited_a.pdf" {
		t.Fatalf("download url = %q", got)
	}
	if !cmp.Equal(fx.texts, []string{"kept"}) {
		t.Fatalf("inserted texts = %v", fx.texts)
	}

	out, err := document.Open(context.Background(), filepath.Join(fx.srv.Store().ModifiedDir(), "edited_a.pdf"))
	if err != nil {
		t.Fatalf("open edited file: %v", err)
	}
	defer out.Close()
	if out.PageCount() != 1 {
		t.Fatalf("page count = %d", out.PageCount())
	}
}

func TestEditOutOfRangePageFails(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t, "a.pdf", testpdf.Letter)
	rec := postEdit(fx, map[string]any{
		"filename": "a.pdf",
		"edits": []map[string]any{
			{"page": 0, "type": "text", "x": 0.1, "y": 0.1, "text": "first"},
			{"page": 3, "type": "text", "x": 0.1, "y": 0.1, "text": "second"},
		},
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := errorOf(t, rec); !strings.HasPrefix(msg, "Failed to edit PDF:") {
		t.Fatalf("error = %q", msg)
	}
	if names := dirEntries(t, fx.srv.Store().ModifiedDir()); len(names) != 0 {
		t.Fatalf("no output expected, found %v", names)
	}
}

func TestEditBadJSON(t *testing.T) {
	fx := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/edit", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := fx.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if errorOf(t, rec) == "" {
		t.Fatalf("expected an error message")
	}
}

func TestDownload(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t, "a.pdf", testpdf.Letter)
	if rec := postEdit(fx, map[string]any{
		"filename": "a.pdf",
		"edits":    []map[string]any{{"page": 0, "type": "text", "x": 0.5, "y": 0.5, "text": "hi"}},
	}); rec.Code != http.StatusOK {
		t.Fatalf("edit status = %d: %s", rec.Code, rec.Body)
	}

	rec := fx.do(httptest.NewRequest(http.MethodGet, "/download/edited_a.pdf", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != "attachment; filename=edited_a.pdf" {
		t.Fatalf("content disposition = %q", cd)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
		t.Fatalf("body is not a pdf")
	}
	etag := rec.Header().Get("ETag")
	if len(etag) != 66 {
		t.Fatalf("etag = %q", etag)
	}

	req := httptest.NewRequest(http.MethodGet, "/download/edited_a.pdf", nil)
	req.Header.Set("If-None-Match", etag)
	if rec := fx.do(req); rec.Code != http.StatusNotModified {
		t.Fatalf("conditional status = %d", rec.Code)
	}
}

func TestDownloadMissing(t *testing.T) {
	fx := newFixture(t)
	rec := fx.do(httptest.NewRequest(http.MethodGet, "/download/edited_nope.pdf", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if errorOf(t, rec) == "" {
		t.Fatalf("expected an error message")
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	fx := newFixture(t, func(c *config.Config) { c.MaxConnections = 2 })
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
