package models

import "gorm.io/gorm"

// Location types for a device assignment.
const (
	LocationTypeOutdoor = "outdoor"
	LocationTypeIndoor  = "indoor"
	LocationTypeMobile  = "mobile"
)

// Location — организационная точка/область с адресом и геометрией.
// (name, organization_id) must be unique; enforced by a partial unique index
// (see db.MigrateGeoUniqueIndexes) because of gorm soft-delete.
type Location struct {
	gorm.Model
	UUID           string    `gorm:"column:uuid;type:char(36);uniqueIndex"`
	OrganizationID string    `gorm:"column:organization_id;type:char(36);index"`
	Name           string    `gorm:"size:75;index:idx_locations_name"`
	Address        string    `gorm:"size:256;index"`
	Geometry       *Geometry `gorm:"type:text"`
}

// FloorPlan — floor-plan image of a Location, unique per (location, floor).
// Image metadata is filled by imgstore at upload time; ImageHash is the
// sha256 of the raw image bytes and is what "image unchanged" compares.
type FloorPlan struct {
	gorm.Model
	UUID           string `gorm:"column:uuid;type:char(36);uniqueIndex"`
	OrganizationID string `gorm:"column:organization_id;type:char(36);index"`
	LocationID     uint   `gorm:"index"`
	Floor          int    `gorm:"type:smallint"`
	ImageRef       string `gorm:"size:256"`
	ImageURL       string `gorm:"size:512"`
	ImageWidth     int
	ImageHeight    int
	ImageHash      string `gorm:"size:64"`
}

// DeviceLocation — 1:1 binding of a device to its location context.
// Organization is derived from the device, never stored here.
type DeviceLocation struct {
	gorm.Model
	DeviceUUID  string `gorm:"column:device_uuid;type:char(36);uniqueIndex"`
	Type        string `gorm:"size:8"`
	LocationID  *uint  `gorm:"index"`
	FloorPlanID *uint  `gorm:"column:floorplan_id;index"`
	Indoor      string `gorm:"size:64"`
}
