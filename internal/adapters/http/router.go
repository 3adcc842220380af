package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
	"github.com/kirillkom/legal-doc-analyzer/internal/core/usecase"
	"github.com/kirillkom/legal-doc-analyzer/internal/observability/metrics"
)

const serviceName = "api"

// TrafficConfig tunes the shared rate limit and backpressure gates in front
// of the mux.
type TrafficConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	AcquireTimeout time.Duration
}

type Router struct {
	ingestUC  *usecase.IngestDocumentUseCase
	analyzeUC *usecase.AnalyzeDocumentUseCase
	resultsUC *usecase.ResultsUseCase
	exportUC  *usecase.ExportResultsUseCase
	metrics   *metrics.HTTPServerMetrics
	traffic   TrafficConfig
}

func NewRouter(
	ingestUC *usecase.IngestDocumentUseCase,
	analyzeUC *usecase.AnalyzeDocumentUseCase,
	resultsUC *usecase.ResultsUseCase,
	exportUC *usecase.ExportResultsUseCase,
	httpMetrics *metrics.HTTPServerMetrics,
	traffic TrafficConfig,
) *Router {
	return &Router{
		ingestUC:  ingestUC,
		analyzeUC: analyzeUC,
		resultsUC: resultsUC,
		exportUC:  exportUC,
		metrics:   httpMetrics,
		traffic:   traffic,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/documents", rt.uploadDocument)
	mux.HandleFunc("/v1/documents/", rt.documentSubroutes)
	mux.HandleFunc("/v1/analyze/batch", rt.batchAnalyze)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	acquireTimeout := rt.traffic.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = 100 * time.Millisecond
	}
	handler = backpressureMiddleware(handler, rt.traffic.MaxInFlight, acquireTimeout)
	handler = rateLimitMiddleware(handler, rt.traffic.RateLimitRPS, rt.traffic.RateLimitBurst)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	doc, err := rt.ingestUC.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordUpload(serviceName, doc.MimeType, doc.SizeBytes)
	}
	writeJSON(w, http.StatusAccepted, doc)
}

// documentSubroutes dispatches /v1/documents/{id}[/analyze|/results|/export].
func (rt *Router) documentSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id is required"})
		return
	}

	switch action {
	case "":
		rt.getDocument(w, r, id)
	case "analyze":
		rt.requestAnalysis(w, r, id)
	case "results":
		rt.getResults(w, r, id)
	case "export":
		rt.exportResults(w, r, id)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource"})
	}
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	doc, err := rt.resultsUC.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) requestAnalysis(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	run, err := rt.analyzeUC.RequestAnalysis(r.Context(), id)
	if err != nil {
		if rt.metrics != nil && domain.IsKind(err, domain.ErrAlreadyInProgress) {
			rt.metrics.RecordAnalysisRequest(serviceName, "conflict")
		}
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordAnalysisRequest(serviceName, "accepted")
	}
	writeJSON(w, http.StatusAccepted, run)
}

const maxBatchAnalyzeSize = 50

type batchAnalyzeRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

type batchAnalyzeResult struct {
	DocumentID string `json:"document_id"`
	RunID      string `json:"run_id,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// batchAnalyze requests a run for each listed document. Documents are
// independent: one conflict or missing id never blocks the rest, and the
// response reports the per-document outcome.
func (rt *Router) batchAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req batchAnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request body must be JSON with document_ids"})
		return
	}
	if len(req.DocumentIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document_ids is required"})
		return
	}
	if len(req.DocumentIDs) > maxBatchAnalyzeSize {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("at most %d documents per batch", maxBatchAnalyzeSize),
		})
		return
	}

	results := make([]batchAnalyzeResult, 0, len(req.DocumentIDs))
	for _, id := range req.DocumentIDs {
		result := batchAnalyzeResult{DocumentID: id}
		run, err := rt.analyzeUC.RequestAnalysis(r.Context(), id)
		switch {
		case err == nil:
			result.RunID = run.ID
			result.Status = "accepted"
			if rt.metrics != nil {
				rt.metrics.RecordAnalysisRequest(serviceName, "accepted")
			}
		case domain.IsKind(err, domain.ErrAlreadyInProgress):
			result.Status = "conflict"
			result.Error = err.Error()
			if rt.metrics != nil {
				rt.metrics.RecordAnalysisRequest(serviceName, "conflict")
			}
		case domain.IsKind(err, domain.ErrDocumentNotFound):
			result.Status = "not_found"
			result.Error = err.Error()
		default:
			result.Status = "error"
			result.Error = err.Error()
		}
		results = append(results, result)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"results": results})
}

type resultsResponse struct {
	Document       *domain.Document        `json:"document"`
	Run            domain.AnalysisRun      `json:"run"`
	Classification domain.Classification   `json:"classification"`
	Fields         []domain.ExtractedField `json:"fields"`
	Findings       []domain.RiskFinding    `json:"findings"`
}

func (rt *Router) getResults(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	doc, err := rt.resultsUC.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := rt.resultsUC.ActiveResults(r.Context(), id)
	if err != nil {
		if domain.IsKind(err, domain.ErrResultsNotFound) {
			rt.writeNoResults(w, r, id)
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resultsResponse{
		Document:       doc,
		Run:            result.Run,
		Classification: result.Classification,
		Fields:         result.Fields,
		Findings:       result.Findings,
	})
}

// writeNoResults reports why nothing is published: a 404 that carries the
// last run's failure detail when there is one.
func (rt *Router) writeNoResults(w http.ResponseWriter, r *http.Request, id string) {
	payload := map[string]any{"error": "no analysis results available"}

	if lastRun, lrErr := rt.resultsUC.LastRun(r.Context(), id); lrErr == nil {
		payload["last_run"] = map[string]any{
			"id":         lastRun.ID,
			"state":      string(lastRun.State),
			"stage":      string(lastRun.Stage),
			"error_kind": lastRun.ErrorKind,
			"attempts":   lastRun.Attempts,
			"started_at": lastRun.StartedAt,
		}
		if lastRun.FinishedAt != nil {
			payload["last_run"].(map[string]any)["finished_at"] = *lastRun.FinishedAt
		}
	}

	writeJSON(w, http.StatusNotFound, payload)
}

func (rt *Router) exportResults(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	data, contentType, err := rt.exportUC.Export(r.Context(), id, format)
	if err != nil {
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordExport(serviceName, format)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", id+"-analysis."+exportExtension(format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func exportExtension(format string) string {
	if format == "xlsx" {
		return "xlsx"
	}
	return "json"
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
