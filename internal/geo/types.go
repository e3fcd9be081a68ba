package geo

import (
	"fmt"
	"sort"
	"strings"

	"wispgeo/internal/models"
)

// Selection values for location_selection / floorplan_selection.
const (
	SelectionNew      = "new"
	SelectionExisting = "existing"
)

// ImageUpload — загруженный файл плана этажа.
type ImageUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SubmitInput — поля формы привязки устройства (см. admin-форму).
// Floor и Image nullable: nil = поле не прислано.
type SubmitInput struct {
	Type               string
	LocationSelection  string
	LocationID         string // uuid существующей Location
	Name               string
	Address            string
	Geometry           *models.Geometry
	FloorplanSelection string
	FloorplanID        string // uuid существующего FloorPlan
	Floor              *int
	Image              *ImageUpload
	Indoor             string
}

// empty reports whether the named form field was left blank.
func (in *SubmitInput) empty(field string) bool {
	switch field {
	case "location_selection":
		return in.LocationSelection == ""
	case "name":
		return in.Name == ""
	case "address":
		return in.Address == ""
	case "geometry":
		return in.Geometry.IsEmpty()
	case "floorplan_selection":
		return in.FloorplanSelection == ""
	case "floorplan":
		return in.FloorplanID == ""
	case "floor":
		return in.Floor == nil
	case "image":
		return in.Image == nil
	case "indoor":
		return in.Indoor == ""
	}
	return false
}

// Какие поля обязательны, когда у привязки ещё нет Location.
// Статическая таблица по типу, не поведение (см. state machine выше).
var requiredLocationFields = map[string][]string{
	models.LocationTypeOutdoor: {"location_selection", "name", "address", "geometry"},
	models.LocationTypeIndoor:  {"location_selection", "name", "address", "geometry"},
}

// Обязательные indoor-поля независимо от текущего состояния.
var requiredIndoorFields = []string{"floorplan_selection", "floor", "indoor"}

func validType(t string) bool {
	switch t {
	case models.LocationTypeOutdoor, models.LocationTypeIndoor, models.LocationTypeMobile:
		return true
	}
	return false
}

// validSelection: "" допустимо здесь, обязательность проверяет checkRequired.
func validSelection(s string) bool {
	switch s {
	case "", SelectionNew, SelectionExisting:
		return true
	}
	return false
}

// Validation messages. The requiredness message is templated on type.
func requiredMsg(typ string) string {
	return fmt.Sprintf("this field is required for locations of type %s", typ)
}

const (
	msgInvalidSelection  = "invalid selection"
	msgFloorplanMismatch = "invalid floorplan (belongs to a different location)"
	msgDuplicateName     = "a location with this name already exists for this organization"
	msgDuplicateFloor    = "a floor plan for this floor already exists for this location"
	msgOrgMismatch       = "belongs to a different organization"
	msgBadImage          = "invalid or unsupported image"
)

// FieldErrors — per-field validation errors, recoverable at the form boundary.
type FieldErrors map[string][]string

func (fe FieldErrors) Add(field, msg string) {
	fe[field] = append(fe[field], msg)
}

func (fe FieldErrors) Error() string {
	fields := make([]string, 0, len(fe))
	for f := range fe {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// Result — персистентная тройка после успешного сохранения.
type Result struct {
	Assignment *models.DeviceLocation
	Location   *models.Location
	FloorPlan  *models.FloorPlan // nil если тип не indoor
}
