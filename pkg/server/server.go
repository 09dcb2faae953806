package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/facilityenergy/pkg/battery"
	"github.com/raterudder/facilityenergy/pkg/common"
	"github.com/raterudder/facilityenergy/pkg/log"
	"github.com/raterudder/facilityenergy/pkg/storage"
	"github.com/raterudder/facilityenergy/pkg/types"
	"github.com/rs/cors"
)

// tokenVerifier is a function that validates a Google ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

type forecaster interface {
	Forecast(ctx context.Context, now time.Time, horizon int) ([]types.Prediction, error)
}

type historyLoader interface {
	LoadRange(ctx context.Context, startDay, endDay time.Time) ([]types.HourlyRecord, error)
}

type ingestor interface {
	Run(ctx context.Context, now time.Time) (types.HourlyRecord, error)
}

// Server exposes the facility's status, history, forecast and
// recommendations over HTTP and accepts the hourly ingestion trigger.
type Server struct {
	storage    storage.Database
	history    historyLoader
	forecaster forecaster
	ingestor   ingestor
	banks      *battery.Config
	live       *Hub
	now        func() time.Time

	listenAddr string
	httpServer *http.Server

	corsOrigins   []string
	ingestEmail   string
	oidcVerifiers map[string]tokenVerifier
	authenticate  func(ctx context.Context, token string) (string, error)
	bypassAuth    bool
	serverName    string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(db storage.Database, ing ingestor, f forecaster, l historyLoader, banks *battery.Config) *Server {
	srv := &Server{
		storage:    db,
		history:    l,
		forecaster: f,
		ingestor:   ing,
		banks:      banks,
		live:       NewHub(),
		now:        time.Now,
		serverName: "facilityenergy",
	}
	srv.authenticate = srv.authenticateToken
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	corsOrigins := lflag.String("cors-origins", "http://localhost:3003,http://localhost", "comma-delimited list of origins allowed to call the API")
	oidcAudience := lflag.String("oidc-audience", "", "audience of the id tokens allowed to trigger ingestion")
	ingestEmail := lflag.String("ingest-email", "", "email the ingestion trigger's id token must carry")
	bypassAuth := lflag.Bool("bypass-auth", false, "Accept ingestion triggers without a token (local development only)")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.ingestEmail = *ingestEmail
		srv.bypassAuth = *bypassAuth
		for _, o := range strings.Split(*corsOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				srv.corsOrigins = append(srv.corsOrigins, o)
			}
		}
		if *oidcAudience != "" {
			ctx := oidc.ClientContext(context.Background(), common.HTTPClient(10*time.Second))
			provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.oidcVerifiers = map[string]tokenVerifier{
				"google": provider.Verifier(&oidc.Config{ClientID: *oidcAudience}).Verify,
			}
		}
		if !srv.bypassAuth && (len(srv.oidcVerifiers) == 0 || srv.ingestEmail == "") {
			log.Ctx(context.Background()).Warn("ingestion trigger disabled, set oidc-audience and ingest-email or bypass-auth")
		}
	})

	return srv
}

// Live returns the hub that streams newly ingested records to websocket
// clients. It is registered as an ingestion sink.
func (s *Server) Live() *Hub {
	return s.live
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/v1/current-status", s.handleCurrentStatus)
	apiMux.HandleFunc("GET /api/v1/historical-data", s.handleHistoricalData)
	apiMux.HandleFunc("GET /api/v1/forecast", s.handleForecast)
	apiMux.HandleFunc("GET /api/v1/recommendations", s.handleRecommendations)
	apiMux.Handle("POST /api/v1/ingest", s.ingestAuthMiddleware(http.HandlerFunc(s.handleIngest)))

	mux := http.NewServeMux()
	mux.Handle("/api/", gziphandler.GzipHandler(s.requestLogMiddleware(apiMux)))
	// websocket upgrades need the raw connection so the stream skips gzip
	mux.HandleFunc("GET /api/v1/live", s.handleLive)
	mux.HandleFunc("/healthz", s.handleHealthz)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return s.revisionMiddleware(c.Handler(s.securityHeadersMiddleware(mux)))
}

func (s *Server) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		s.live.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// setCacheControl caches ranges that ended before today for a day and
// everything else for a minute.
func (s *Server) setCacheControl(w http.ResponseWriter, end time.Time) {
	today := truncateDay(s.now().UTC())
	if end.Before(today) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}
}
