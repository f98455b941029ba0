package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

const (
	// DefaultCookieName is the cookie carrying the session identifier.
	DefaultCookieName = "rack.session"

	// slogKeyError is the slog attribute key for error values.
	slogKeyError = "error"
)

var errCommitFailed = errors.New("session: commit failed")

// MiddlewareConfig configures a Middleware.
type MiddlewareConfig struct {
	CookieName string
	Path       string
	Domain     string
	MaxAge     int
	Secure     bool
	HTTPOnly   bool
	SameSite   http.SameSite
	Logger     *slog.Logger
}

// Options are per-request instructions a handler gives the middleware.
type Options struct {
	// Renew moves the session to a fresh identifier on save.
	Renew bool

	// Defer saves the session without sending the cookie.
	Defer bool

	// Drop deletes the session and expires the cookie.
	Drop bool
}

type stateKey struct{}

type optionsKey struct{}

// FromContext returns the session State attached by Middleware, or nil.
func FromContext(ctx context.Context) *State {
	st, _ := ctx.Value(stateKey{}).(*State)
	return st
}

// OptionsFromContext returns the mutable per-request Options attached by
// Middleware, or nil.
func OptionsFromContext(ctx context.Context) *Options {
	opts, _ := ctx.Value(optionsKey{}).(*Options)
	return opts
}

// Middleware wraps an HTTP handler with a session loaded from, and saved to,
// a Store. The session is committed just before the response header is
// written, or after the handler returns if it wrote nothing.
type Middleware struct {
	inner  http.Handler
	store  *Store
	cfg    MiddlewareConfig
	logger *slog.Logger
}

// NewMiddleware creates a session middleware around inner.
func NewMiddleware(inner http.Handler, store *Store, cfg MiddlewareConfig) *Middleware {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		inner:  inner,
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// ServeHTTP loads the session, runs the inner handler and commits.
func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var sid string
	if c, err := r.Cookie(m.cfg.CookieName); err == nil {
		sid = c.Value
	}

	st, err := m.store.Load(r.Context(), sid)
	if err != nil {
		m.logger.Error("session: failed to load", "session_id", sid, slogKeyError, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	opts := &Options{}
	ctx := context.WithValue(r.Context(), stateKey{}, st)
	ctx = context.WithValue(ctx, optionsKey{}, opts)
	r = r.WithContext(ctx)

	cw := &commitWriter{
		ResponseWriter: w,
		commit: func() error {
			return m.commit(r.Context(), w, st, opts)
		},
	}
	m.inner.ServeHTTP(cw, r)

	if !cw.committed {
		if err := cw.runCommit(); err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	}
}

// commit persists st and sets the session cookie on w.
func (m *Middleware) commit(ctx context.Context, w http.ResponseWriter, st *State, opts *Options) error {
	if opts.Drop {
		if err := m.store.Destroy(ctx, st.ID); err != nil {
			m.logger.Error("session: failed to destroy", "session_id", st.ID, slogKeyError, err)
			return err
		}
		c := m.cookie("")
		c.MaxAge = -1
		http.SetCookie(w, c)
		return nil
	}

	sid, err := m.store.Save(ctx, st.ID, st, SaveOptions{Renew: opts.Renew})
	if err != nil {
		m.logger.Error("session: failed to save", "session_id", st.ID, slogKeyError, err)
		return err
	}
	if sid != st.ID {
		m.logger.Debug("session: renewed", "session_id", sid)
	}

	if opts.Defer && !opts.Renew {
		return nil
	}
	http.SetCookie(w, m.cookie(sid))
	return nil
}

func (m *Middleware) cookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    value,
		Path:     m.cfg.Path,
		Domain:   m.cfg.Domain,
		MaxAge:   m.cfg.MaxAge,
		Secure:   m.cfg.Secure,
		HttpOnly: m.cfg.HTTPOnly,
		SameSite: m.cfg.SameSite,
	}
}

// commitWriter wraps http.ResponseWriter to commit the session before the
// first header write.
type commitWriter struct {
	http.ResponseWriter
	commit    func() error
	committed bool
	failed    bool
}

func (w *commitWriter) runCommit() error {
	w.committed = true
	if err := w.commit(); err != nil {
		w.failed = true
		return err
	}
	return nil
}

// WriteHeader commits the session before delegating to the wrapped writer.
func (w *commitWriter) WriteHeader(statusCode int) {
	if !w.committed {
		if err := w.runCommit(); err != nil {
			http.Error(w.ResponseWriter, "internal server error", http.StatusInternalServerError)
			return
		}
	}
	if w.failed {
		return
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *commitWriter) Write(b []byte) (int, error) {
	if !w.committed {
		w.WriteHeader(http.StatusOK)
	}
	if w.failed {
		return 0, errCommitFailed
	}
	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher for streaming handlers.
func (w *commitWriter) Flush() {
	if !w.committed {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok && !w.failed {
		f.Flush()
	}
}
