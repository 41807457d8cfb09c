package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/71lols/paradigm-website/pkg/activectx"
	"github.com/71lols/paradigm-website/pkg/apperr"
	"github.com/71lols/paradigm-website/pkg/audit"
	"github.com/71lols/paradigm-website/pkg/auth"
	"github.com/71lols/paradigm-website/pkg/events"
	"github.com/71lols/paradigm-website/pkg/httpx"
	"github.com/71lols/paradigm-website/pkg/metrics"
	"github.com/71lols/paradigm-website/pkg/ratelimit"
	"github.com/71lols/paradigm-website/pkg/store"
	"github.com/71lols/paradigm-website/pkg/telemetry"
)

type Server struct {
	Store     store.Store
	Profiles  *store.Profiles
	Machine   *activectx.Machine
	Resolver  *auth.Resolver
	Metrics   *metrics.Registry
	Audit     *audit.Writer
	Publisher events.Publisher
	Logger    *log.Logger
	Keyer     *ratelimit.ClientKeyer
	Limits    *ratelimit.Set

	DownloadURL         string
	MaxRequestBodyBytes int64
	Now                 func() time.Time

	bus events.Consumer
}

// consumeEvents tails the change feed and folds transition totals into
// the metrics gauges. Decode failures are skipped, read failures end
// the loop.
func (s *Server) consumeEvents(ctx context.Context) {
	totals := map[string]float64{}
	for {
		msg, err := s.bus.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logf("event consume stopped: %v", err)
			}
			return
		}
		var ev events.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			s.logf("event decode failed: %v", err)
			continue
		}
		if ev.Type == "" {
			continue
		}
		totals[ev.Type]++
		if s.Metrics != nil {
			s.Metrics.SetGauge("feed_"+strings.ReplaceAll(ev.Type, ".", "_")+"_total", totals[ev.Type])
		}
	}
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Server) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

func (s *Server) Routes(corsOrigins string) http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(corsOrigins))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(telemetry.HTTPMiddleware("paradigm-api"))
	r.Use(httpx.MaxBodyMiddleware(s.MaxRequestBodyBytes))
	r.Use(s.observeMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "paradigm-api"})
	})
	if s.Metrics != nil {
		r.Get("/metricsz", s.Metrics.Handler())
		r.Get("/metrics", s.Metrics.PrometheusHandler())
	}

	general := s.limit(ratelimit.GeneralBucket.Name)
	required := auth.Required(s.Resolver)
	optional := auth.Optional(s.Resolver)

	r.Route("/api/auth", func(r chi.Router) {
		r.With(s.limit(ratelimit.SensitiveBucket.Name)).Post("/signup", s.signup)
		r.With(s.limit(ratelimit.RecoveryBucket.Name)).Post("/reset-password", s.resetPassword)
		r.Group(func(r chi.Router) {
			r.Use(general, required)
			r.Get("/profile", s.getProfile)
			r.Patch("/profile", s.updateProfile)
			r.Post("/verify-token", s.verifyToken)
			r.Delete("/account", s.deleteAccount)
		})
	})

	r.Route("/api/contexts", func(r chi.Router) {
		r.Use(general, required)
		r.Get("/", s.listContexts)
		r.Post("/", s.createContext)
		r.Get("/categories/list", s.listCategories)
		r.Post("/categories", s.createCategory)
		r.Delete("/categories/{id}", s.deleteCategory)
		r.Get("/{id}", s.getContext)
		r.Put("/{id}", s.updateContext)
		r.Delete("/{id}", s.deleteContext)
		r.Post("/{id}/use", s.useContext)
		r.Post("/{id}/deactivate", s.deactivateContext)
	})

	r.Route("/api/activities", func(r chi.Router) {
		r.Use(general, required)
		r.Get("/", s.listActivities)
		r.Post("/", s.createActivity)
		r.Get("/{id}", s.getActivity)
		r.Put("/{id}", s.updateActivity)
		r.Delete("/{id}", s.deleteActivity)
		r.Patch("/{id}/star", s.starActivity)
	})

	r.With(general, optional).Get("/api/download/latest", s.downloadLatest)

	return r
}

func (s *Server) limit(bucket string) func(http.Handler) http.Handler {
	onDeny := func() {
		if s.Metrics != nil {
			s.Metrics.IncThrottleDenial(bucket)
		}
	}
	return ratelimit.Middleware(s.Limits, s.Keyer, bucket, onDeny)
}

func errNotFound(msg string) error {
	return apperr.New(apperr.NotFound, msg)
}

// writeError maps taxonomy errors to their status and hides everything
// else behind a logged 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if apperr.KindOf(err) != apperr.Unexpected {
		httpx.WriteAppError(w, err)
		return
	}
	s.logf("request failed: %v", err)
	httpx.Error(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) appendAudit(r *http.Request, actor, action, resource, outcome string) {
	if s.Audit == nil {
		return
	}
	err := s.Audit.Append(r.Context(), audit.Record{
		Actor:     actor,
		Action:    action,
		Resource:  resource,
		Outcome:   outcome,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.logf("audit append failed action=%s: %v", action, err)
	}
}

func (s *Server) publish(r *http.Request, ev events.Event) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(r.Context(), ev); err != nil {
		s.logf("event publish failed type=%s: %v", ev.Type, err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) observeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: 200}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		s.Metrics.Observe(r.URL.Path, rec.status, elapsed)
		s.Metrics.ObserveLatency(r.URL.Path, elapsed)
		if rec.status == 401 {
			s.Metrics.IncAuthFailure()
		}
	})
}

// downloadLatest redirects to the current installer artifact. Auth is
// optional here: a resolvable token personalizes server-side logging,
// an expired one must not block the download.
func (s *Server) downloadLatest(w http.ResponseWriter, r *http.Request) {
	if s.DownloadURL == "" {
		httpx.Error(w, http.StatusNotFound, "no download available")
		return
	}
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		s.logf("download requested subject=%s", p.Subject)
	}
	http.Redirect(w, r, s.DownloadURL, http.StatusFound)
}
