package models

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGeometry(t *testing.T) {
	g, err := ParseGeometry(`{"type":"Point","coordinates":[12.5,41.9]}`)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, orb.Point{12.5, 41.9}, g.Geometry.Geometry())

	g, err = ParseGeometry("")
	require.NoError(t, err)
	assert.Nil(t, g, "blank form field means no geometry")

	_, err = ParseGeometry("{broken")
	assert.Error(t, err)
}

func TestGeometryIsEmpty(t *testing.T) {
	var nilGeom *Geometry
	assert.True(t, nilGeom.IsEmpty())
	assert.True(t, (&Geometry{}).IsEmpty())
	assert.False(t, NewPoint(1, 2).IsEmpty())
}

func TestGeometryEqual(t *testing.T) {
	a := NewPoint(12.5, 41.9)
	b := NewPoint(12.5, 41.9)
	c := NewPoint(0, 0)
	var empty *Geometry

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(empty))
	assert.True(t, empty.Equal(&Geometry{}))
}

func TestGeometryValueScanRoundTrip(t *testing.T) {
	v, err := NewPoint(12.5, 41.9).Value()
	require.NoError(t, err)
	s, ok := v.(string)
	require.True(t, ok)
	assert.Contains(t, s, `"Point"`)

	var out Geometry
	require.NoError(t, out.Scan(s))
	assert.Equal(t, orb.Point{12.5, 41.9}, out.Geometry.Geometry())

	// NULL column
	var empty *Geometry
	v, err = empty.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	var scanned Geometry
	require.NoError(t, scanned.Scan(nil))
	assert.True(t, scanned.IsEmpty())

	assert.Error(t, out.Scan(42))
}

func TestGeometryJSON(t *testing.T) {
	b, err := NewPoint(12.5, 41.9).MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"coordinates"`)

	var empty *Geometry
	b, err = empty.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	var g Geometry
	require.NoError(t, g.UnmarshalJSON([]byte("null")))
	assert.True(t, g.IsEmpty())
	require.NoError(t, g.UnmarshalJSON([]byte(`{"type":"Point","coordinates":[1,2]}`)))
	assert.False(t, g.IsEmpty())
}
