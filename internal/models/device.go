package models

import "gorm.io/gorm"

// Device — managed device a geo assignment is attached to.
// Organization resolution lives upstream; we carry the owning org id opaque.
type Device struct {
	gorm.Model
	UUID           string `gorm:"column:uuid;type:char(36);uniqueIndex"`
	Name           string `gorm:"size:64"`
	OrganizationID string `gorm:"column:organization_id;type:char(36);index"`
	MAC            string `gorm:"column:mac"`
	Status         string
}
