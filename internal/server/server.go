package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/threadpilot/internal/database"
	"github.com/TobiSchelling/threadpilot/internal/logging"
	"github.com/TobiSchelling/threadpilot/internal/model"
	"github.com/TobiSchelling/threadpilot/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// History lists previously stored scans. It may be nil.
type History interface {
	ListScans(limit int) ([]database.ScanSummary, error)
}

// Server is the dashboard: it renders the session and turns form posts into
// session operations.
type Server struct {
	ctx     context.Context
	sess    *session.Session
	history History
	pages   map[string]*template.Template
	mux     *http.ServeMux
}

// New creates a new Server. Scans and bulk publishing started from the
// dashboard run in the background under ctx.
func New(ctx context.Context, sess *session.Session, history History) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"stepPct": func(step int) int {
			return step * 100 / model.StepComplete
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "history.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{ctx: ctx, sess: sess, history: history, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /history", s.handleHistory)
	s.mux.HandleFunc("GET /api/state", s.handleState)

	s.mux.HandleFunc("POST /scan", s.handleScan)
	s.mux.HandleFunc("POST /filter", s.handleFilter)
	s.mux.HandleFunc("POST /select-visible", s.handleSelectVisible)
	s.mux.HandleFunc("POST /clear-selection", s.handleClearSelection)
	s.mux.HandleFunc("POST /approve-selected", s.handleApproveSelected)
	s.mux.HandleFunc("POST /publish-all", s.handlePublishAll)
	s.mux.HandleFunc("POST /drafts/{id}/{action}", s.handleDraftAction)
}

// draftView is one row of the draft list.
type draftView struct {
	model.Draft
	Segments []string
	Approved bool
	Selected bool
	Record   *model.PublishRecord
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.sess.Snapshot()
	approved := toSet(snap.Approved)
	selected := toSet(snap.Selected)

	var drafts []draftView
	for _, d := range s.sess.VisibleDrafts() {
		v := draftView{Draft: d, Segments: d.Segments(), Approved: approved[d.ID], Selected: selected[d.ID]}
		if rec, ok := snap.Records[d.ID]; ok {
			v.Record = &rec
		}
		drafts = append(drafts, v)
	}

	s.render(w, "index.html", map[string]any{
		"Snapshot":        snap,
		"Scanning":        snap.State == model.ScanScanning,
		"Drafts":          drafts,
		"Classifications": s.sess.Classifications(),
		"Stats":           s.sess.Stats(),
		"Flash":           r.URL.Query().Get("error"),
		"Notice":          r.URL.Query().Get("notice"),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var scans []database.ScanSummary
	if s.history != nil {
		var err error
		scans, err = s.history.ListScans(50)
		if err != nil {
			log := logging.With("server")
			log.Error().Err(err).Msg("listing scans")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}
	s.render(w, "history.html", map[string]any{
		"Scans":   scans,
		"Enabled": s.history != nil,
	})
}

type stateResponse struct {
	session.Snapshot
	Stats   session.Stats `json:"stats"`
	Visible []string      `json:"visible"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{Snapshot: s.sess.Snapshot(), Stats: s.sess.Stats(), Visible: []string{}}
	for _, d := range s.sess.VisibleDrafts() {
		resp.Visible = append(resp.Visible, d.ID)
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log := logging.With("server")
		log.Error().Err(err).Msg("encoding state")
	}
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.sess.Scanning() {
		s.redirect(w, r, session.ErrScanInProgress)
		return
	}
	go func() {
		log := logging.With("server")
		if err := s.sess.Scan(s.ctx); err != nil {
			log.Warn().Err(err).Msg("scan failed")
		}
	}()
	s.redirect(w, r, nil)
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	review, err := session.ParseReviewFilter(r.FormValue("review"))
	if err != nil {
		s.redirect(w, r, err)
		return
	}
	s.sess.SetClassificationFilter(strings.TrimSpace(r.FormValue("classification")))
	s.redirect(w, r, s.sess.SetReviewFilter(review))
}

func (s *Server) handleSelectVisible(w http.ResponseWriter, r *http.Request) {
	s.sess.SelectVisible()
	s.redirect(w, r, nil)
}

func (s *Server) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	s.sess.ClearSelection()
	s.redirect(w, r, nil)
}

func (s *Server) handleApproveSelected(w http.ResponseWriter, r *http.Request) {
	n := s.sess.ApproveSelected()
	s.redirectNotice(w, r, fmt.Sprintf("%d draft(s) approved", n))
}

func (s *Server) handlePublishAll(w http.ResponseWriter, r *http.Request) {
	if s.sess.Scanning() {
		s.redirect(w, r, session.ErrScanInProgress)
		return
	}
	go func() {
		log := logging.With("server")
		report, err := s.sess.PublishAllApproved(s.ctx)
		if err != nil {
			log.Warn().Err(err).Msg("publish all failed")
			return
		}
		log.Info().
			Strs("published", report.Published).
			Strs("skipped", report.Skipped).
			Strs("failed", report.Failed).
			Msg("publish all finished")
	}()
	s.redirectNotice(w, r, "publishing approved drafts")
}

func (s *Server) handleDraftAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var err error
	switch r.PathValue("action") {
	case "approve":
		err = s.sess.Approve(id)
	case "revoke":
		err = s.sess.Revoke(id)
	case "select":
		_, err = s.sess.ToggleSelected(id)
	case "publish":
		var rec model.PublishRecord
		rec, err = s.sess.Publish(r.Context(), id)
		if err == nil && rec.Status == model.PublishFailed {
			err = errors.New(rec.ErrorMessage)
		}
	default:
		http.NotFound(w, r)
		return
	}
	if errors.Is(err, session.ErrUnknownDraft) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.redirect(w, r, err)
}

// redirect goes back to the dashboard, carrying err as a flash message.
func (s *Server) redirect(w http.ResponseWriter, r *http.Request, err error) {
	target := "/"
	if err != nil {
		target += "?error=" + url.QueryEscape(err.Error())
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) redirectNotice(w http.ResponseWriter, r *http.Request, notice string) {
	http.Redirect(w, r, "/?notice="+url.QueryEscape(notice), http.StatusSeeOther)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	log := logging.With("server")
	tmpl, ok := s.pages[name]
	if !ok {
		log.Error().Str("template", name).Msg("template not found")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		log.Error().Err(err).Str("template", name).Msg("rendering template")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Serve starts the HTTP server on the given port and shuts it down when ctx ends.
func Serve(ctx context.Context, sess *session.Session, history History, port int) error {
	srv, err := New(ctx, sess, history)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log := logging.With("server")
		log.Info().Msgf("Server listening on http://%s", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}
