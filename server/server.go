// Package server exposes upload, page preview, edit and download endpoints
// over HTTP.
package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/yuin/goldmark"
	"golang.org/x/net/netutil"

	"github.com/wudi/pdfedit/config"
	"github.com/wudi/pdfedit/document"
	"github.com/wudi/pdfedit/edit"
	"github.com/wudi/pdfedit/observability"
	"github.com/wudi/pdfedit/storage"
)

//go:embed web/index.html web/help.md web/static
var webFS embed.FS

const title = "PDF Editor"

// Renderer produces page previews.
type Renderer interface {
	PageCount(ctx context.Context, path string) (int, error)
	RenderPNG(ctx context.Context, path string, page int, dpi float64) (document.Pixmap, error)
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l observability.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithTracer(t observability.Tracer) Option {
	return func(s *Server) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithRenderer replaces the MuPDF renderer.
func WithRenderer(r Renderer) Option {
	return func(s *Server) {
		if r != nil {
			s.renderer = r
		}
	}
}

// WithOpener replaces how documents are opened for editing.
func WithOpener(open edit.OpenFunc) Option {
	return func(s *Server) {
		if open != nil {
			s.open = open
		}
	}
}

// Server holds the HTTP routes and their collaborators.
type Server struct {
	cfg      config.Config
	store    *storage.Store
	renderer Renderer
	open     edit.OpenFunc
	edits    *edit.Service
	logger   observability.Logger
	tracer   observability.Tracer
	index    []byte
	echo     *echo.Echo
}

// New validates cfg, creates the storage directories and registers routes.
func New(cfg config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := storage.New(cfg.UploadDir, cfg.ModifiedDir)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:    cfg,
		store:  store,
		logger: observability.NopLogger{},
		tracer: observability.NopTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.renderer == nil {
		s.renderer = document.FitzRenderer{Tracer: s.tracer}
	}
	if s.open == nil {
		s.open = func(ctx context.Context, path string) (edit.File, error) {
			d, err := document.Open(ctx, path, document.WithTracer(s.tracer))
			if err != nil {
				return nil, err
			}
			return d, nil
		}
	}
	s.edits = &edit.Service{
		Open:       s.open,
		Write:      storage.WriteFileAtomic,
		Applicator: &edit.Applicator{Logger: s.logger, Tracer: s.tracer},
	}
	if s.index, err = renderIndex(); err != nil {
		return nil, err
	}
	s.echo = s.routes()
	return s, nil
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []observability.Field{
				observability.String("request_id", v.RequestID),
				observability.String("method", v.Method),
				observability.String("uri", v.URI),
				observability.Int("status", v.Status),
				observability.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, observability.Error("error", v.Error))
			}
			s.logger.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(strconv.FormatInt(s.cfg.MaxUploadBytes, 10)))

	static, err := fs.Sub(webFS, "web/static")
	if err != nil {
		panic(err)
	}
	e.StaticFS("/static", static)

	e.GET("/", s.handleIndex)
	e.GET("/healthz", s.handleHealth)
	e.POST("/upload", s.handleUpload)
	e.GET("/pdf/:filename/page/:page", s.handlePage)
	e.POST("/edit", s.handleEdit)
	e.GET("/download/:filename", s.handleDownload)
	return e
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Store exposes the directories the server reads and writes.
func (s *Server) Store() *storage.Store { return s.store }

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully within the configured grace period.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	srv := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("listening",
		observability.String("addr", ln.Addr().String()),
		observability.String("upload_dir", s.store.UploadDir()),
		observability.String("modified_dir", s.store.ModifiedDir()),
		observability.Int("max_connections", s.cfg.MaxConnections),
		observability.Float64("render_dpi", s.cfg.RenderDPI))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	s.logger.Info("shutting down", observability.Duration("grace", s.cfg.ShutdownGrace))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func renderIndex() ([]byte, error) {
	help, err := webFS.ReadFile("web/help.md")
	if err != nil {
		return nil, err
	}
	var helpHTML bytes.Buffer
	if err := goldmark.New().Convert(help, &helpHTML); err != nil {
		return nil, err
	}
	tmpl, err := template.ParseFS(webFS, "web/index.html")
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	err = tmpl.Execute(&out, struct {
		Title string
		Help  template.HTML
	}{title, template.HTML(helpHTML.String())})
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
