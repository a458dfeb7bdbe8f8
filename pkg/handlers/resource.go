package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/auth"
	"github.com/stratumhq/stratum-engine/pkg/services"
	"github.com/stratumhq/stratum-engine/pkg/storage"
)

// Resource serves the uniform REST surface for one model. Every registered
// model gets the same nine routes under /api/{slug}; behavior differences
// between models live in the service pipeline, not here.
type Resource struct {
	svc     services.Service
	aliases []string
	logger  *zap.Logger
}

// NewResource creates the REST controller for one model's service.
func NewResource(svc services.Service, logger *zap.Logger) *Resource {
	// Join aliases must survive response projection even when the model
	// declares a field whitelist.
	aliases := make([]string, 0, len(svc.Joins()))
	for _, op := range svc.Joins() {
		aliases = append(aliases, op.As)
	}
	return &Resource{
		svc:     svc,
		aliases: aliases,
		logger:  logger.Named("rest").With(zap.String("model", svc.Spec().Name())),
	}
}

// RegisterRoutes registers the model's routes on the given mux. Literal
// segments outrank wildcards in the mux, so /all, /count, and /batch never
// fall through to the {id} routes.
func (h *Resource) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	base := "/api/" + h.svc.Spec().Slug()

	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("GET "+base+"/all", authMiddleware.RequireAuth(h.ListAll))
	mux.HandleFunc("GET "+base+"/count", authMiddleware.RequireAuth(h.Count))
	mux.HandleFunc("GET "+base+"/{id}", authMiddleware.RequireAuth(h.GetByID))
	mux.HandleFunc("POST "+base, authMiddleware.RequireAuth(h.Create))
	mux.HandleFunc("PATCH "+base+"/batch", authMiddleware.RequireAuth(h.BatchUpdate))
	mux.HandleFunc("PUT "+base+"/{id}", authMiddleware.RequireAuth(h.Replace))
	mux.HandleFunc("PATCH "+base+"/{id}", authMiddleware.RequireAuth(h.Update))
	mux.HandleFunc("DELETE "+base+"/{id}", authMiddleware.RequireAuth(h.Delete))
}

// List handles GET /api/{slug}: a filtered, joined, optionally paginated read.
func (h *Resource) List(w http.ResponseWriter, r *http.Request) {
	opts, err := h.queryOptions(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.svc.Get(r.Context(), opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	result.Entities = h.projectAll(result.Entities)
	h.writeData(w, http.StatusOK, result)
}

// ListAll handles GET /api/{slug}/all: every entity, no joins, no pagination.
func (h *Resource) ListAll(w http.ResponseWriter, r *http.Request) {
	entities, err := h.svc.GetAll(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, h.projectAll(entities))
}

// Count handles GET /api/{slug}/count with the same filter grammar as List.
func (h *Resource) Count(w http.ResponseWriter, r *http.Request) {
	opts, err := h.queryOptions(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	count, err := h.svc.GetCount(r.Context(), opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, count)
}

// GetByID handles GET /api/{slug}/{id}.
func (h *Resource) GetByID(w http.ResponseWriter, r *http.Request) {
	entity, err := h.svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, h.project(entity))
}

// Create handles POST /api/{slug}. A JSON object creates one entity; a JSON
// array creates the whole batch in order.
func (h *Resource) Create(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if body[0] == '[' {
		var entities []storage.Entity
		if err := json.Unmarshal(body, &entities); err != nil {
			h.writeError(w, apperrors.BadRequest("invalid JSON array: %s", err.Error()))
			return
		}
		created, err := h.svc.CreateMany(r.Context(), entities)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeData(w, http.StatusCreated, h.projectAll(created))
		return
	}

	var entity storage.Entity
	if err := json.Unmarshal(body, &entity); err != nil {
		h.writeError(w, apperrors.BadRequest("invalid JSON object: %s", err.Error()))
		return
	}
	created, err := h.svc.Create(r.Context(), entity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusCreated, h.project(created))
}

// BatchUpdate handles PATCH /api/{slug}/batch. The payload is an array of
// partial entities, each carrying the _id it applies to.
func (h *Resource) BatchUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if body[0] != '[' {
		h.writeError(w, apperrors.BadRequest("batch update expects a JSON array"))
		return
	}

	var changes []storage.Entity
	if err := json.Unmarshal(body, &changes); err != nil {
		h.writeError(w, apperrors.BadRequest("invalid JSON array: %s", err.Error()))
		return
	}
	updated, err := h.svc.BatchUpdate(r.Context(), changes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, h.projectAll(updated))
}

// Replace handles PUT /api/{slug}/{id}: a full update validated against the
// complete schema.
func (h *Resource) Replace(w http.ResponseWriter, r *http.Request) {
	entity, err := decodeEntity(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	updated, err := h.svc.FullUpdateByID(r.Context(), r.PathValue("id"), entity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, h.project(updated))
}

// Update handles PATCH /api/{slug}/{id}: a partial update touching only the
// supplied fields.
func (h *Resource) Update(w http.ResponseWriter, r *http.Request) {
	entity, err := decodeEntity(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	updated, err := h.svc.PartialUpdateByID(r.Context(), r.PathValue("id"), entity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, h.project(updated))
}

// Delete handles DELETE /api/{slug}/{id}.
func (h *Resource) Delete(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.DeleteByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, result)
}

func (h *Resource) queryOptions(r *http.Request) (storage.QueryOptions, error) {
	return parseQueryOptions(r, h.svc.Spec(), h.svc.IDSchema())
}

func (h *Resource) project(e storage.Entity) storage.Entity {
	return h.svc.Spec().Project(e, h.aliases...)
}

func (h *Resource) projectAll(entities []storage.Entity) []storage.Entity {
	out := make([]storage.Entity, len(entities))
	for i, e := range entities {
		out[i] = h.project(e)
	}
	return out
}

func (h *Resource) writeData(w http.ResponseWriter, status int, payload any) {
	if err := WriteData(w, status, payload); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *Resource) writeError(w http.ResponseWriter, err error) {
	ae := apperrors.Classify(err)
	// Client faults carry their own message; only server faults are worth a
	// log line here.
	if ae.Kind == apperrors.KindInternal || ae.Kind == apperrors.KindTimeout {
		h.logger.Error("Request failed", zap.Error(err))
	}
	if werr := WriteError(w, ae); werr != nil {
		h.logger.Error("Failed to write error response", zap.Error(werr))
	}
}

// readBody reads and trims the request body, rejecting empty payloads.
func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, apperrors.BadRequest("failed to read request body")
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, apperrors.BadRequest("request body is required")
	}
	return body, nil
}

func decodeEntity(r *http.Request) (storage.Entity, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	var entity storage.Entity
	if err := json.Unmarshal(body, &entity); err != nil {
		return nil, apperrors.BadRequest("invalid JSON object: %s", err.Error())
	}
	return entity, nil
}
