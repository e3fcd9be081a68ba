package geo

import (
	"errors"

	"wispgeo/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrProtected: запись ещё указана внешним ключом, удалять нельзя.
	ErrProtected = errors.New("still referenced by another record")
)

// Store — контракт хранилища geo-сущностей.
// Реализации: Repo (gorm) и memStore (без БД / тесты).
type Store interface {
	// devices
	CreateDevice(d *models.Device) error
	GetDevice(uuid string) (*models.Device, error)

	// locations
	GetLocation(id uint) (*models.Location, error)
	GetLocationByUUID(uuid string) (*models.Location, error)
	ListLocations(organizationID, search string) ([]models.Location, error)
	CreateLocation(l *models.Location) error
	UpdateLocation(l *models.Location) error
	DeleteLocation(id uint) error // ErrProtected если есть ссылки
	LocationNameTaken(organizationID, name string, excludeID uint) (bool, error)

	// floor plans
	GetFloorPlan(id uint) (*models.FloorPlan, error)
	GetFloorPlanByUUID(uuid string) (*models.FloorPlan, error)
	ListFloorPlans(locationID uint) ([]models.FloorPlan, error)
	CreateFloorPlan(fp *models.FloorPlan) error
	DeleteFloorPlan(id uint) error // ErrProtected если есть ссылки
	FloorTaken(locationID uint, floor int, excludeID uint) (bool, error)

	// assignments
	GetAssignment(deviceUUID string) (*models.DeviceLocation, error)
	// SaveAssignment сохраняет тройку в одной транзакции:
	// location -> floorplan (если есть) -> assignment.
	SaveAssignment(loc *models.Location, fp *models.FloorPlan, dl *models.DeviceLocation) error
	// DeleteAssignment удаляет привязку; cascadeLocation=true удаляет и её
	// Location (mobile-тип, локация принадлежит только этой привязке).
	DeleteAssignment(dl *models.DeviceLocation, cascadeLocation bool) error
}
