package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Geometry — GeoJSON geometry stored as text.
// nil *Geometry means "no geometry" (NULL column).
type Geometry struct {
	geojson.Geometry
}

func NewGeometry(g orb.Geometry) *Geometry {
	return &Geometry{*geojson.NewGeometry(g)}
}

func NewPoint(lon, lat float64) *Geometry {
	return NewGeometry(orb.Point{lon, lat})
}

// ParseGeometry разбирает GeoJSON из формы; "" -> nil.
func ParseGeometry(s string) (*Geometry, error) {
	if s == "" {
		return nil, nil
	}
	var g Geometry
	if err := json.Unmarshal([]byte(s), &g.Geometry); err != nil {
		return nil, fmt.Errorf("invalid geometry: %w", err)
	}
	return &g, nil
}

func (g *Geometry) IsEmpty() bool {
	return g == nil || g.Geometry.Geometry() == nil
}

// Equal — structural equality via canonical GeoJSON encoding.
func (g *Geometry) Equal(other *Geometry) bool {
	if g.IsEmpty() || other.IsEmpty() {
		return g.IsEmpty() && other.IsEmpty()
	}
	a, err1 := json.Marshal(&g.Geometry)
	b, err2 := json.Marshal(&other.Geometry)
	return err1 == nil && err2 == nil && string(a) == string(b)
}

func (g *Geometry) Value() (driver.Value, error) {
	if g.IsEmpty() {
		return nil, nil
	}
	b, err := json.Marshal(&g.Geometry)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (g *Geometry) Scan(src any) error {
	if src == nil {
		g.Geometry = geojson.Geometry{}
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Geometry", src)
	}
	return json.Unmarshal(b, &g.Geometry)
}

func (g *Geometry) MarshalJSON() ([]byte, error) {
	if g.IsEmpty() {
		return []byte("null"), nil
	}
	return json.Marshal(&g.Geometry)
}

func (g *Geometry) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		g.Geometry = geojson.Geometry{}
		return nil
	}
	return json.Unmarshal(b, &g.Geometry)
}
