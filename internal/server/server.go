// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sprint-assistant/internal/assistant/disambiguate"
	"sprint-assistant/internal/common/config"
	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/common/logger"
	"sprint-assistant/internal/common/metrics"
	"sprint-assistant/internal/common/observability"
	"sprint-assistant/internal/history"
	"sprint-assistant/internal/models"
	"sprint-assistant/internal/ratelimit"
	"sprint-assistant/pkg/catalog"
)

// Stage interfaces, one per pipeline step. The handlers only see these, so
// tests swap stages without standing up OpenAI or Elasticsearch.
type (
	IntentParser interface {
		Parse(ctx context.Context, utterance models.Utterance) (*models.ParsedIntent, error)
	}
	EntityResolver interface {
		Resolve(ctx context.Context, tenantID string, intent *models.ParsedIntent) ([]models.EntityCandidate, error)
	}
	DraftBuilder interface {
		Build(ctx context.Context, tenantID string, intent *models.ParsedIntent, target models.EntityCandidate) (*models.ActionDraft, error)
	}
	Executor interface {
		Execute(ctx context.Context, tenantID, userID string, draft *models.ActionDraft, idempotencyKey string) (*models.ActResult, error)
	}
	RateLimiter interface {
		Allow(ctx context.Context, userID, resource string) (ratelimit.Decision, error)
	}
)

// Server is the HTTP boundary of the assistant pipeline.
type Server struct {
	cfg      config.ServerConfig
	parser   IntentParser
	resolver EntityResolver
	policy   *disambiguate.Policy
	builder  DraftBuilder
	executor Executor
	limiter  RateLimiter
	history  history.Store
	catalog  *catalog.ActionCatalog
	obs      *observability.Observability
	errs     *errors.ErrorHandler
	logger   logger.Logger

	// ready reports whether downstream stores are reachable. Nil means
	// always ready.
	ready func(ctx context.Context) error
}

type Options struct {
	Config   config.ServerConfig
	Parser   IntentParser
	Resolver EntityResolver
	Policy   *disambiguate.Policy
	Builder  DraftBuilder
	Executor Executor
	Limiter  RateLimiter
	History  history.Store
	Catalog  *catalog.ActionCatalog
	Obs      *observability.Observability
	Logger   logger.Logger
	Ready    func(ctx context.Context) error
}

func New(opts Options) *Server {
	log := opts.Logger.WithFields(map[string]interface{}{"component": "http-server"})
	return &Server{
		cfg:      opts.Config,
		parser:   opts.Parser,
		resolver: opts.Resolver,
		policy:   opts.Policy,
		builder:  opts.Builder,
		executor: opts.Executor,
		limiter:  opts.Limiter,
		history:  opts.History,
		catalog:  opts.Catalog,
		obs:      opts.Obs,
		errs:     errors.NewErrorHandler(log),
		logger:   log,
		ready:    opts.Ready,
	}
}

// Router wires all endpoints.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/interpret", s.withPipeline("interpret", s.handleInterpret))
	mux.HandleFunc("/act", s.withPipeline("act", s.handleAct))
	mux.HandleFunc("/cancel", s.withPipeline("cancel", s.handleCancel))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// withPipeline enforces POST, stamps a request id, applies the whole-request
// budget and tracks in-flight counts.
func (s *Server) withPipeline(endpoint string, next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		gauge := metrics.ActiveRequests.With(prometheus.Labels{"endpoint": endpoint})
		gauge.Inc()
		defer gauge.Dec()

		ctx := r.Context()
		if budget := s.cfg.RequestBudget(); budget > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, budget)
			defer cancel()
		}

		next(w, r.WithContext(ctx), requestID)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// checkLimit applies the token bucket for (user, resource). Store trouble
// fails open inside the limiter; only an actual rejection surfaces.
func (s *Server) checkLimit(ctx context.Context, userID, resource string) error {
	decision, err := s.limiter.Allow(ctx, userID, resource)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		metrics.RateLimitRejections.With(prometheus.Labels{"resource": resource}).Inc()
		return errors.NewRateLimitExceededError(resource, decision.RetryAfter)
	}
	return nil
}

func (s *Server) appendAudit(ctx context.Context, entry models.AuditEntry) error {
	if err := s.history.Append(ctx, entry); err != nil {
		return errors.NewHistoryWriteFailedError(err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeBody(r *http.Request, into interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return errors.NewRequestInvalidError("malformed JSON body: " + err.Error())
	}
	return nil
}

func nowUTC() time.Time { return time.Now().UTC() }
