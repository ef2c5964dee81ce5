package syncapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shipmates/tracksync/internal/broker/messages"
	"github.com/shipmates/tracksync/internal/credentials"
	"github.com/shipmates/tracksync/internal/services/consignments"
	"github.com/shipmates/tracksync/internal/services/syncer"
)

type Engine interface {
	Run(ctx context.Context, tenantID, providerID string, trackingIDs []string) (syncer.RunReport, error)
}

type PushPublisher interface {
	PublishJSON(ctx context.Context, topic string, key []byte, payload any) error
}

type PendingLister interface {
	ListPendingTrackingIDs(ctx context.Context, tenantID, providerID string, limit int) ([]string, error)
}

// API — REST-ручки поверх read-сервиса и sync-движка. Webhook-пуши не
// применяются синхронно: сырой payload уезжает в брокер, воркер разберёт.
type API struct {
	svc    *consignments.Service
	engine Engine

	pushProducer PushPublisher
	pushTopic    string

	pending PendingLister
}

func New(svc *consignments.Service, engine Engine) *API {
	return &API{svc: svc, engine: engine}
}

func (a *API) WithPushProducer(p PushPublisher, topic string) *API {
	a.pushProducer = p
	a.pushTopic = topic
	return a
}

func (a *API) WithPendingLister(p PendingLister) *API {
	a.pending = p
	return a
}

func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeRaw(w, http.StatusOK, `{"status":"ok"}`)
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		writeRaw(w, http.StatusOK, `{"status":"ready"}`)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/v1/runs", a.handleRun)
	r.Post("/v1/providers/{providerID}/push", a.handlePush)

	r.Get("/v1/consignments/{trackingID}", a.handleGetConsignment)
	r.Get("/v1/consignments/{trackingID}/events", a.handleListEvents)
	r.Get("/v1/consignments/{trackingID}/transitions", a.handleListTransitions)
	r.Get("/v1/consignments/{trackingID}/risk", a.handleRisk)
}

type runRequest struct {
	TenantID    string   `json:"tenantId"`
	ProviderID  string   `json:"providerId"`
	TrackingIDs []string `json:"trackingIds"`
}

func (a *API) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.TenantID == "" || req.ProviderID == "" {
		writeError(w, http.StatusBadRequest, "tenantId and providerId are required")
		return
	}
	if len(req.TrackingIDs) > 10_000 {
		writeError(w, http.StatusBadRequest, "too many trackingIds (max 10000)")
		return
	}
	// Без явного списка гоним всё, что ещё не в терминальном статусе.
	if len(req.TrackingIDs) == 0 {
		if a.pending == nil {
			writeError(w, http.StatusBadRequest, "trackingIds is empty")
			return
		}
		ids, err := a.pending.ListPendingTrackingIDs(r.Context(), req.TenantID, req.ProviderID, 10_000)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if len(ids) == 0 {
			writeJSON(w, http.StatusOK, syncer.RunReport{TenantID: req.TenantID, ProviderID: req.ProviderID})
			return
		}
		req.TrackingIDs = ids
	}

	report, err := a.engine.Run(r.Context(), req.TenantID, req.ProviderID, req.TrackingIDs)
	if err != nil {
		if credentials.IsMissing(err) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handlePush(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	tenantID := r.URL.Query().Get("tenantId")
	trackingID := r.URL.Query().Get("trackingId")
	if tenantID == "" || trackingID == "" {
		writeError(w, http.StatusBadRequest, "tenantId and trackingId query params are required")
		return
	}
	if a.pushProducer == nil || a.pushTopic == "" {
		writeError(w, http.StatusServiceUnavailable, "push intake is not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || len(body) == 0 {
		writeError(w, http.StatusBadRequest, "payload body is required")
		return
	}

	msg := messages.ProviderPush{
		TenantID:   tenantID,
		ProviderID: providerID,
		TrackingID: trackingID,
		ReceivedAt: time.Now().UTC(),
		Payload:    json.RawMessage(body),
	}
	key := []byte(tenantID + "|" + trackingID)
	if err := a.pushProducer.PublishJSON(r.Context(), a.pushTopic, key, msg); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (a *API) handleGetConsignment(w http.ResponseWriter, r *http.Request) {
	c, err := a.svc.GetByTrackingID(r.Context(), chi.URLParam(r, "trackingID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "consignment not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	evs, err := a.svc.ListEvents(r.Context(), chi.URLParam(r, "trackingID"), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if evs == nil {
		writeError(w, http.StatusNotFound, "consignment not found")
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

func (a *API) handleListTransitions(w http.ResponseWriter, r *http.Request) {
	trs, err := a.svc.ListTransitions(r.Context(), chi.URLParam(r, "trackingID"), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if trs == nil {
		writeError(w, http.StatusNotFound, "consignment not found")
		return
	}
	writeJSON(w, http.StatusOK, trs)
}

func (a *API) handleRisk(w http.ResponseWriter, r *http.Request) {
	ra, err := a.svc.Risk(r.Context(), chi.URLParam(r, "trackingID"), time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ra == nil {
		writeError(w, http.StatusNotFound, "consignment not found")
		return
	}
	writeJSON(w, http.StatusOK, ra)
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
