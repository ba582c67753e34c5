package httpadapter

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/docuflow/review-engine/internal/core/domain"
	"github.com/docuflow/review-engine/internal/core/ports"
	"github.com/docuflow/review-engine/internal/observability/metrics"
)

const serviceName = "api"

type Router struct {
	ingest  ports.DocumentIngestor
	routing ports.AnalysisRouter
	review  ports.ReviewService
	reports ports.ReviewReporter
	metrics *metrics.HTTPServerMetrics

	rateLimitRPS   float64
	rateLimitBurst int
	maxConcurrent  int
}

type RouterOption func(*Router)

func WithTrafficControl(rps float64, burst, maxConcurrent int) RouterOption {
	return func(rt *Router) {
		rt.rateLimitRPS = rps
		rt.rateLimitBurst = burst
		rt.maxConcurrent = maxConcurrent
	}
}

func NewRouter(
	ingest ports.DocumentIngestor,
	routing ports.AnalysisRouter,
	review ports.ReviewService,
	reports ports.ReviewReporter,
	serverMetrics *metrics.HTTPServerMetrics,
	opts ...RouterOption,
) *Router {
	rt := &Router{
		ingest:  ingest,
		routing: routing,
		review:  review,
		reports: reports,
		metrics: serverMetrics,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.Handle("GET /metrics", rt.metrics.Handler())

	mux.HandleFunc("POST /v1/documents", rt.ingestDocument)
	mux.HandleFunc("GET /v1/documents", rt.listDocuments)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	mux.HandleFunc("GET /v1/documents/{id}/history", rt.getHistory)

	mux.HandleFunc("POST /v1/analysis/complete", rt.completeAnalysis)

	mux.HandleFunc("POST /v1/review/next", rt.claimNext)
	mux.HandleFunc("POST /v1/review/documents/{id}/decision", rt.submitDecision)
	mux.HandleFunc("POST /v1/review/documents/{id}/release", rt.releaseClaim)
	mux.HandleFunc("GET /v1/review/queue", rt.queueStatus)

	mux.HandleFunc("GET /v1/dashboard/stats", rt.dashboardStats)

	var handler http.Handler = mux
	handler = rt.metrics.Middleware(serviceName, handler)
	if rt.maxConcurrent > 0 {
		handler = backpressureMiddleware(handler, rt.maxConcurrent, 50*time.Millisecond)
	}
	if rt.rateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) ingestDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name"`
		Type       string `json:"type"`
		UploadedBy string `json:"uploaded_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	doc, err := rt.ingest.Ingest(r.Context(), ports.IngestRequest{
		Name:       req.Name,
		Type:       domain.DocumentType(req.Type),
		UploadedBy: req.UploadedBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	docs, err := rt.reports.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.reports.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) getHistory(w http.ResponseWriter, r *http.Request) {
	history, err := rt.reports.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": history})
}

// completeAnalysis is the push-style callback for analysis collaborators
// that deliver results over HTTP instead of the worker pipeline.
func (rt *Router) completeAnalysis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentID string                `json:"document_id"`
		Result     domain.AnalysisResult `json:"result"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document_id is required"})
		return
	}

	outcome, err := rt.routing.Route(r.Context(), req.DocumentID, req.Result)
	if err != nil {
		writeError(w, err)
		return
	}

	rt.metrics.RecordRoutingOutcome(serviceName, string(outcome))
	if action, ok := autoAction(outcome); ok {
		rt.metrics.RecordDecision(serviceName, string(action), "system")
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"document_id": req.DocumentID,
		"outcome":     string(outcome),
	})
}

func (rt *Router) claimNext(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReviewerID string `json:"reviewer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	doc, err := rt.review.ClaimNext(r.Context(), req.ReviewerID)
	if err != nil {
		if domain.IsKind(err, domain.ErrQueueEmpty) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) submitDecision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReviewerID string `json:"reviewer_id"`
		Action     string `json:"action"`
		Notes      string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	doc, err := rt.review.Submit(r.Context(), r.PathValue("id"), req.ReviewerID, domain.ReviewAction(req.Action), req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}

	rt.metrics.RecordDecision(serviceName, req.Action, "human")
	rt.metrics.ObserveReviewLatency(serviceName, "human", time.Since(doc.UploadedAt))
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) releaseClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReviewerID string `json:"reviewer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	if err := rt.review.Release(r.Context(), r.PathValue("id"), req.ReviewerID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) queueStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.reports.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	rt.metrics.SetQueueDepth(stats.QueueSize)
	writeJSON(w, http.StatusOK, map[string]int{"size": stats.QueueSize})
}

func (rt *Router) dashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.reports.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	rt.metrics.SetQueueDepth(stats.QueueSize)
	writeJSON(w, http.StatusOK, stats)
}

func autoAction(outcome domain.RoutingOutcome) (domain.ReviewAction, bool) {
	switch outcome {
	case domain.OutcomeAutoApprove:
		return domain.ActionApproved, true
	case domain.OutcomeAutoReject:
		return domain.ActionRejected, true
	default:
		return "", false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}
