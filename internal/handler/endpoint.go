package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/finopsmind/backend/internal/apierrors"
	"github.com/finopsmind/backend/internal/model"
	"github.com/finopsmind/backend/internal/repository"
)

// TenantHeader identifies the caller's tenant for every management API call.
const TenantHeader = "X-Tenant-ID"

// EndpointHandler exposes CRUD over monitored endpoints.
type EndpointHandler struct {
	repo repository.EndpointRepository
}

// NewEndpointHandler constructs an EndpointHandler.
func NewEndpointHandler(repo repository.EndpointRepository) *EndpointHandler {
	return &EndpointHandler{repo: repo}
}

type endpointRequest struct {
	Name           string              `json:"name"`
	URL            string              `json:"url"`
	Method         model.HTTPMethod    `json:"method"`
	ExpectedStatus int                 `json:"expected_status"`
	ExpectedSchema map[string]any      `json:"expected_schema,omitempty"`
	QueryParams    []model.KeyValue    `json:"query_params,omitempty"`
	Headers        []model.KeyValue    `json:"headers,omitempty"`
	Cookies        []model.KeyValue    `json:"cookies,omitempty"`
	Auth           model.AuthConfig    `json:"auth"`
	Body           model.BodyConfig    `json:"body"`
	IntervalSecs   int                 `json:"interval_seconds"`
}

func tenantFromRequest(r *http.Request) (uuid.UUID, *apierrors.APIError) {
	raw := r.Header.Get(TenantHeader)
	if raw == "" {
		return uuid.UUID{}, apierrors.NewBadRequestError(TenantHeader + " header is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, apierrors.NewBadRequestError("invalid " + TenantHeader)
	}
	return id, nil
}

func (h *EndpointHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, apiErr := tenantFromRequest(r)
	if apiErr != nil {
		apiErr.Write(w, r)
		return
	}

	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.NewBadRequestError("invalid request body").Write(w, r)
		return
	}

	now := time.Now().UTC()
	ep := &model.EndpointSpec{
		ID:             uuid.New(),
		TenantID:       tenantID,
		Name:           req.Name,
		URL:            req.URL,
		Method:         req.Method,
		ExpectedStatus: req.ExpectedStatus,
		ExpectedSchema: req.ExpectedSchema,
		QueryParams:    req.QueryParams,
		Headers:        req.Headers,
		Cookies:        req.Cookies,
		Auth:           req.Auth,
		Body:           req.Body,
		IntervalSecs:   req.IntervalSecs,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.repo.Create(r.Context(), ep); err != nil {
		apierrors.NewInternalError("failed to create endpoint").Write(w, r)
		return
	}

	WriteJSON(w, http.StatusCreated, ep)
}

func (h *EndpointHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, apiErr := tenantFromRequest(r)
	if apiErr != nil {
		apiErr.Write(w, r)
		return
	}

	endpoints, err := h.repo.List(r.Context(), tenantID)
	if err != nil {
		apierrors.NewInternalError("failed to list endpoints").Write(w, r)
		return
	}

	WriteJSON(w, http.StatusOK, endpoints)
}

func (h *EndpointHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, apiErr := tenantFromRequest(r)
	if apiErr != nil {
		apiErr.Write(w, r)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.NewBadRequestError("invalid endpoint id").Write(w, r)
		return
	}

	ep, err := h.repo.Get(r.Context(), id, tenantID)
	if err == repository.ErrNotFound {
		apierrors.NewNotFoundError("endpoint", id.String()).Write(w, r)
		return
	}
	if err != nil {
		apierrors.NewInternalError("failed to load endpoint").Write(w, r)
		return
	}

	WriteJSON(w, http.StatusOK, ep)
}

func (h *EndpointHandler) Update(w http.ResponseWriter, r *http.Request) {
	tenantID, apiErr := tenantFromRequest(r)
	if apiErr != nil {
		apiErr.Write(w, r)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.NewBadRequestError("invalid endpoint id").Write(w, r)
		return
	}

	existing, err := h.repo.Get(r.Context(), id, tenantID)
	if err == repository.ErrNotFound {
		apierrors.NewNotFoundError("endpoint", id.String()).Write(w, r)
		return
	}
	if err != nil {
		apierrors.NewInternalError("failed to load endpoint").Write(w, r)
		return
	}

	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.NewBadRequestError("invalid request body").Write(w, r)
		return
	}

	existing.Name = req.Name
	existing.URL = req.URL
	existing.Method = req.Method
	existing.ExpectedStatus = req.ExpectedStatus
	existing.ExpectedSchema = req.ExpectedSchema
	existing.QueryParams = req.QueryParams
	existing.Headers = req.Headers
	existing.Cookies = req.Cookies
	existing.Auth = req.Auth
	existing.Body = req.Body
	existing.IntervalSecs = req.IntervalSecs
	existing.UpdatedAt = time.Now().UTC()

	if err := h.repo.Update(r.Context(), existing); err == repository.ErrNotFound {
		apierrors.NewNotFoundError("endpoint", id.String()).Write(w, r)
		return
	} else if err != nil {
		apierrors.NewInternalError("failed to update endpoint").Write(w, r)
		return
	}

	WriteJSON(w, http.StatusOK, existing)
}

func (h *EndpointHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID, apiErr := tenantFromRequest(r)
	if apiErr != nil {
		apiErr.Write(w, r)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.NewBadRequestError("invalid endpoint id").Write(w, r)
		return
	}

	if err := h.repo.Delete(r.Context(), id, tenantID); err == repository.ErrNotFound {
		apierrors.NewNotFoundError("endpoint", id.String()).Write(w, r)
		return
	} else if err != nil {
		apierrors.NewInternalError("failed to delete endpoint").Write(w, r)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
