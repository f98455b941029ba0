package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/txn2/sqlsession/pkg/config"
	"github.com/txn2/sqlsession/pkg/health"
	"github.com/txn2/sqlsession/pkg/session"
)

const readHeaderTimeout = 10 * time.Second

// newHandler builds the HTTP handler tree: health endpoints plus the counter
// application wrapped in the session middleware.
func newHandler(
	cfg *config.Config,
	dataset session.Dataset,
	probe health.Probe,
	logger *slog.Logger,
) (http.Handler, *health.Checker, error) {
	token := session.HexToken
	if cfg.Session.IDFormat == config.IDFormatUUID {
		token = session.UUIDToken
	}

	store, err := session.New(session.Config{
		Dataset:       dataset,
		Token:         token,
		MaxIDAttempts: cfg.Session.MaxIDAttempts,
		Logger:        logger,
		Verbose:       cfg.Session.Verbose,
		Debug:         cfg.Session.Debug,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating session store: %w", err)
	}

	app := session.NewMiddleware(http.HandlerFunc(counterHandler), store, session.MiddlewareConfig{
		CookieName: cfg.Session.CookieName,
		Path:       cfg.Session.CookiePath,
		Domain:     cfg.Session.CookieDomain,
		MaxAge:     cfg.Session.MaxAge,
		Secure:     cfg.Session.Secure,
		HTTPOnly:   cfg.Session.CookieHTTPOnly(),
		SameSite:   http.SameSiteLaxMode,
		Logger:     logger,
	})

	checker := health.NewChecker(probe)
	mux := http.NewServeMux()
	mux.Handle("/healthz", checker.LivenessHandler())
	mux.Handle("/readyz", checker.ReadinessHandler())
	mux.Handle("/", app)
	return mux, checker, nil
}

// counterHandler increments the session's counter. The query parameters
// renew, defer and drop map to the middleware options of the same name.
func counterHandler(w http.ResponseWriter, r *http.Request) {
	opts := session.OptionsFromContext(r.Context())
	q := r.URL.Query()
	opts.Renew = q.Has("renew")
	opts.Defer = q.Has("defer")
	opts.Drop = q.Has("drop")

	st := session.FromContext(r.Context())
	n, _ := st.Attributes["counter"].(int)
	n++
	st.Attributes["counter"] = n

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "counter=%d\n", n)
}
