package geo

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wispgeo/internal/logs"
	"wispgeo/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

/*
Device geolocation endpoints:

POST   /api/v1/devices                      register a device (minimal registry)
GET    /api/v1/devices/{uuid}
PUT    /api/v1/devices/{uuid}/location      submit the location form (multipart or urlencoded)
GET    /api/v1/devices/{uuid}/location      read projection (cached)
DELETE /api/v1/devices/{uuid}/location      unassign; mobile cascades its location
*/

type HTTP struct {
	store Store
	rec   *Reconciler
	kv    KV
	ttl   time.Duration
}

func NewHTTP(store Store, rec *Reconciler) *HTTP {
	return &HTTP{store: store, rec: rec}
}

// WithCache включает кеширование GET-проекции (kv == nil — выключено).
func (h *HTTP) WithCache(kv KV, ttl time.Duration) *HTTP {
	h.kv = kv
	h.ttl = ttl
	return h
}

func (h *HTTP) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/devices", h.createDevice).Methods(http.MethodPost)
	api.HandleFunc("/devices/{uuid}", h.getDevice).Methods(http.MethodGet)

	api.HandleFunc("/devices/{uuid}/location", h.submitLocation).Methods(http.MethodPut, http.MethodPost)
	api.HandleFunc("/devices/{uuid}/location", h.getLocation).Methods(http.MethodGet)
	api.HandleFunc("/devices/{uuid}/location", h.deleteLocation).Methods(http.MethodDelete)
}

// ── devices ─────────────────────────────────────────────────

func (h *HTTP) createDevice(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name           string `json:"name"`
		OrganizationID string `json:"organization_id"`
		MAC            string `json:"mac"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json", 400)
		return
	}
	if in.Name == "" || in.OrganizationID == "" {
		http.Error(w, "name and organization_id required", 400)
		return
	}
	d := &models.Device{
		UUID:           uuid.NewString(),
		Name:           in.Name,
		OrganizationID: in.OrganizationID,
		MAC:            in.MAC,
	}
	if err := h.store.CreateDevice(d); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(deviceOut(d))
}

func (h *HTTP) getDevice(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.GetDevice(mux.Vars(r)["uuid"])
	if errors.Is(err, ErrNotFound) {
		models.WriteProblem(w, http.StatusNotFound, "Not found", "device not found", map[string]string{"uuid": mux.Vars(r)["uuid"]})
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(deviceOut(d))
}

func deviceOut(d *models.Device) map[string]any {
	return map[string]any{
		"uuid":            d.UUID,
		"name":            d.Name,
		"organization_id": d.OrganizationID,
		"mac":             d.MAC,
	}
}

// ── assignment write path ───────────────────────────────────

func (h *HTTP) submitLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["uuid"]

	in, ferrs := parseSubmitInput(r)
	if len(ferrs) > 0 {
		writeFieldErrors(w, ferrs)
		return
	}

	res, err := h.rec.Save(r.Context(), id, in)
	if err != nil {
		var fe FieldErrors
		switch {
		case errors.As(err, &fe):
			writeFieldErrors(w, fe)
		case errors.Is(err, ErrNotFound):
			models.WriteProblem(w, http.StatusNotFound, "Not found", "device not found", map[string]string{"uuid": id})
		default:
			models.WriteProblem(w, http.StatusInternalServerError, "Save failed", err.Error(), nil)
		}
		return
	}

	h.invalidate(r, id)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(assignmentOut(h.store, res.Assignment, res.Location, res.FloorPlan))
}

func (h *HTTP) getLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["uuid"]

	if h.kv != nil {
		if cached, err := h.kv.Get(r.Context(), deviceLocationKey(id)); err == nil {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, cached)
			return
		}
	}

	dl, err := h.store.GetAssignment(id)
	if errors.Is(err, ErrNotFound) {
		models.WriteProblem(w, http.StatusNotFound, "Not found", "device has no location", map[string]string{"uuid": id})
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	var loc *models.Location
	if dl.LocationID != nil {
		if loc, err = h.store.GetLocation(*dl.LocationID); err != nil && !errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), 500)
			return
		}
	}
	var fp *models.FloorPlan
	if dl.FloorPlanID != nil {
		if fp, err = h.store.GetFloorPlan(*dl.FloorPlanID); err != nil && !errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), 500)
			return
		}
	}

	body, err := json.Marshal(assignmentOut(h.store, dl, loc, fp))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if h.kv != nil {
		if err := h.kv.Set(r.Context(), deviceLocationKey(id), string(body), h.ttl); err != nil {
			logs.Logger.Warnf("geo cache set: %v", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (h *HTTP) deleteLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["uuid"]
	if err := h.rec.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			models.WriteProblem(w, http.StatusNotFound, "Not found", "device has no location", map[string]string{"uuid": id})
			return
		}
		models.WriteProblem(w, http.StatusInternalServerError, "Delete failed", err.Error(), nil)
		return
	}
	h.invalidate(r, id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) invalidate(r *http.Request, deviceUUID string) {
	if h.kv == nil {
		return
	}
	if err := h.kv.Del(r.Context(), deviceLocationKey(deviceUUID)); err != nil {
		logs.Logger.Warnf("geo cache invalidate: %v", err)
	}
}

// ── form parsing / serialization ────────────────────────────

// parseSubmitInput принимает multipart/form-data (image как файл)
// или обычный urlencoded form.
func parseSubmitInput(r *http.Request) (SubmitInput, FieldErrors) {
	var in SubmitInput
	ferrs := FieldErrors{}

	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			ferrs.Add("image", "cannot parse multipart form")
			return in, ferrs
		}
	} else {
		if err := r.ParseForm(); err != nil {
			ferrs.Add("type", "cannot parse form")
			return in, ferrs
		}
	}

	in.Type = strings.TrimSpace(r.Form.Get("type"))
	in.LocationSelection = r.Form.Get("location_selection")
	in.LocationID = r.Form.Get("location")
	in.Name = strings.TrimSpace(r.Form.Get("name"))
	in.Address = strings.TrimSpace(r.Form.Get("address"))
	in.FloorplanSelection = r.Form.Get("floorplan_selection")
	in.FloorplanID = r.Form.Get("floorplan")
	in.Indoor = strings.TrimSpace(r.Form.Get("indoor"))

	if g := r.Form.Get("geometry"); g != "" {
		geom, err := models.ParseGeometry(g)
		if err != nil {
			ferrs.Add("geometry", "invalid GeoJSON geometry")
		} else {
			in.Geometry = geom
		}
	}
	if f := r.Form.Get("floor"); f != "" {
		n, err := strconv.Atoi(f)
		if err != nil {
			ferrs.Add("floor", "must be an integer")
		} else {
			in.Floor = &n
		}
	}

	if r.MultipartForm != nil {
		if file, hdr, err := r.FormFile("image"); err == nil {
			defer file.Close()
			data, err := io.ReadAll(file)
			if err != nil {
				ferrs.Add("image", "cannot read uploaded image")
			} else {
				in.Image = &ImageUpload{
					Filename:    hdr.Filename,
					ContentType: hdr.Header.Get("Content-Type"),
					Data:        data,
				}
			}
		}
	}
	return in, ferrs
}

func writeFieldErrors(w http.ResponseWriter, fe FieldErrors) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]any{"errors": fe})
}

type locationOut struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Address  string           `json:"address"`
	Geometry *models.Geometry `json:"geometry"`
}

type floorplanOut struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Floor       int    `json:"floor"`
	ImageURL    string `json:"image_url"`
	ImageWidth  int    `json:"image_width"`
	ImageHeight int    `json:"image_height"`
}

func assignmentOut(store Store, dl *models.DeviceLocation, loc *models.Location, fp *models.FloorPlan) map[string]any {
	out := map[string]any{
		"device": dl.DeviceUUID,
		"type":   dl.Type,
	}
	if dl.Indoor != "" {
		out["indoor"] = dl.Indoor
	}
	if loc != nil {
		out["location"] = locationOut{ID: loc.UUID, Name: loc.Name, Address: loc.Address, Geometry: loc.Geometry}
	}
	if fp != nil {
		out["floorplan"] = floorplanProjection(store, fp)
	}
	return out
}

func floorplanProjection(store Store, fp *models.FloorPlan) floorplanOut {
	label := strconv.Itoa(fp.Floor)
	if loc, err := store.GetLocation(fp.LocationID); err == nil {
		label = loc.Name + " " + ordinal(fp.Floor) + " floor"
	}
	return floorplanOut{
		ID:          fp.UUID,
		Label:       label,
		Floor:       fp.Floor,
		ImageURL:    fp.ImageURL,
		ImageWidth:  fp.ImageWidth,
		ImageHeight: fp.ImageHeight,
	}
}

// ordinal: 1 -> 1st, 2 -> 2nd, 11 -> 11th, -1 -> -1st.
func ordinal(n int) string {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	suffix := "th"
	if abs%100 < 11 || abs%100 > 13 {
		switch abs % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}
