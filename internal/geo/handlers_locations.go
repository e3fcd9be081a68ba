package geo

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"wispgeo/internal/imgstore"
	"wispgeo/internal/logs"
	"wispgeo/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type LocationHTTP struct {
	store  Store
	images imgstore.Store
}

func NewLocationHTTP(store Store, images imgstore.Store) *LocationHTTP {
	return &LocationHTTP{store: store, images: images}
}

func (h *LocationHTTP) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	// locations
	api.HandleFunc("/locations", h.createLocation).Methods(http.MethodPost)
	api.HandleFunc("/locations", h.listLocations).Methods(http.MethodGet)
	api.HandleFunc("/locations/{uuid}", h.getLocation).Methods(http.MethodGet)
	api.HandleFunc("/locations/{uuid}", h.updateLocation).Methods(http.MethodPut, http.MethodPatch)
	api.HandleFunc("/locations/{uuid}", h.deleteLocation).Methods(http.MethodDelete)

	// read projections
	api.HandleFunc("/locations/{uuid}/json", h.locationJSON).Methods(http.MethodGet)
	api.HandleFunc("/locations/{uuid}/floorplans", h.listFloorPlans).Methods(http.MethodGet)

	// floor plans
	api.HandleFunc("/locations/{uuid}/floorplans", h.createFloorPlan).Methods(http.MethodPost)
	api.HandleFunc("/floorplans/{uuid}", h.deleteFloorPlan).Methods(http.MethodDelete)
}

func (h *LocationHTTP) createLocation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OrganizationID string           `json:"organization_id"`
		Name           string           `json:"name"`
		Address        string           `json:"address"`
		Geometry       *models.Geometry `json:"geometry"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json", 400)
		return
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" || in.OrganizationID == "" {
		http.Error(w, "name and organization_id required", 400)
		return
	}
	if len(in.Name) > 75 {
		http.Error(w, "name must be at most 75 characters", 400)
		return
	}
	taken, err := h.store.LocationNameTaken(in.OrganizationID, in.Name, 0)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if taken {
		http.Error(w, msgDuplicateName, http.StatusConflict)
		return
	}
	l := &models.Location{
		UUID:           uuid.NewString(),
		OrganizationID: in.OrganizationID,
		Name:           in.Name,
		Address:        in.Address,
		Geometry:       in.Geometry,
	}
	if err := h.store.CreateLocation(l); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(locationOut{ID: l.UUID, Name: l.Name, Address: l.Address, Geometry: l.Geometry})
}

func (h *LocationHTTP) listLocations(w http.ResponseWriter, r *http.Request) {
	org := r.URL.Query().Get("organization")
	search := r.URL.Query().Get("search")
	ls, err := h.store.ListLocations(org, search)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	out := make([]locationOut, 0, len(ls))
	for _, l := range ls {
		out = append(out, locationOut{ID: l.UUID, Name: l.Name, Address: l.Address, Geometry: l.Geometry})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (h *LocationHTTP) getLocation(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(locationOut{ID: l.UUID, Name: l.Name, Address: l.Address, Geometry: l.Geometry})
}

func (h *LocationHTTP) updateLocation(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var in struct {
		Name     *string          `json:"name"`
		Address  *string          `json:"address"`
		Geometry *models.Geometry `json:"geometry"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json", 400)
		return
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) != "" {
		name := strings.TrimSpace(*in.Name)
		taken, err := h.store.LocationNameTaken(l.OrganizationID, name, l.ID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if taken {
			http.Error(w, msgDuplicateName, http.StatusConflict)
			return
		}
		l.Name = name
	}
	if in.Address != nil {
		l.Address = *in.Address
	}
	if !in.Geometry.IsEmpty() {
		l.Geometry = in.Geometry
	}
	if err := h.store.UpdateLocation(l); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(locationOut{ID: l.UUID, Name: l.Name, Address: l.Address, Geometry: l.Geometry})
}

func (h *LocationHTTP) deleteLocation(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteLocation(l.ID); err != nil {
		if errors.Is(err, ErrProtected) {
			models.WriteProblem(w, http.StatusConflict, "Protected", "location is still referenced", map[string]string{"uuid": l.UUID})
			return
		}
		http.Error(w, err.Error(), 500)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// locationJSON — чистая read-проекция {name, address, geometry}.
func (h *LocationHTTP) locationJSON(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"name":     l.Name,
		"address":  l.Address,
		"geometry": l.Geometry,
	})
}

func (h *LocationHTTP) listFloorPlans(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}
	fps, err := h.store.ListFloorPlans(l.ID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	out := make([]floorplanOut, 0, len(fps))
	for i := range fps {
		out = append(out, floorplanProjection(h.store, &fps[i]))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (h *LocationHTTP) createFloorPlan(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "multipart form required", 400)
		return
	}
	floor, err := strconv.Atoi(r.Form.Get("floor"))
	if err != nil {
		http.Error(w, "floor must be an integer", 400)
		return
	}
	taken, err := h.store.FloorTaken(l.ID, floor, 0)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if taken {
		http.Error(w, msgDuplicateFloor, http.StatusConflict)
		return
	}
	file, hdr, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "image file required", 400)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "cannot read image", 400)
		return
	}
	width, height, err := imgstore.Probe(data)
	if err != nil {
		http.Error(w, msgBadImage, 400)
		return
	}
	stored, err := h.images.Put(r.Context(), hdr.Filename, data, hdr.Header.Get("Content-Type"))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	fp := &models.FloorPlan{
		UUID:           uuid.NewString(),
		OrganizationID: l.OrganizationID,
		LocationID:     l.ID,
		Floor:          floor,
		ImageRef:       stored.Ref,
		ImageURL:       stored.URL,
		ImageWidth:     width,
		ImageHeight:    height,
		ImageHash:      sha256hex(data),
	}
	if err := h.store.CreateFloorPlan(fp); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(floorplanProjection(h.store, fp))
}

func (h *LocationHTTP) deleteFloorPlan(w http.ResponseWriter, r *http.Request) {
	fp, err := h.store.GetFloorPlanByUUID(mux.Vars(r)["uuid"])
	if errors.Is(err, ErrNotFound) {
		models.WriteProblem(w, http.StatusNotFound, "Not found", "floor plan not found", map[string]string{"uuid": mux.Vars(r)["uuid"]})
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if err := h.store.DeleteFloorPlan(fp.ID); err != nil {
		if errors.Is(err, ErrProtected) {
			models.WriteProblem(w, http.StatusConflict, "Protected", "floor plan is still referenced", map[string]string{"uuid": fp.UUID})
			return
		}
		http.Error(w, err.Error(), 500)
		return
	}
	if fp.ImageRef != "" && h.images != nil {
		if err := h.images.Delete(r.Context(), fp.ImageRef); err != nil {
			logs.Logger.Warnf("delete floor plan image %s: %v", fp.ImageRef, err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LocationHTTP) lookup(w http.ResponseWriter, r *http.Request) (*models.Location, bool) {
	id := mux.Vars(r)["uuid"]
	l, err := h.store.GetLocationByUUID(id)
	if errors.Is(err, ErrNotFound) {
		models.WriteProblem(w, http.StatusNotFound, "Not found", "location not found", map[string]string{"uuid": id})
		return nil, false
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return nil, false
	}
	return l, true
}
