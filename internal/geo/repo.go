package geo

import (
	"errors"

	"wispgeo/internal/models"

	"gorm.io/gorm"
)

type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

// ── Devices ─────────────────────────────────────────────────

func (r *Repo) CreateDevice(d *models.Device) error { return r.db.Create(d).Error }

func (r *Repo) GetDevice(uuid string) (*models.Device, error) {
	var d models.Device
	if err := r.db.Where("uuid = ?", uuid).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ── Locations ───────────────────────────────────────────────

func (r *Repo) GetLocation(id uint) (*models.Location, error) {
	var l models.Location
	if err := r.db.First(&l, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (r *Repo) GetLocationByUUID(uuid string) (*models.Location, error) {
	var l models.Location
	if err := r.db.Where("uuid = ?", uuid).First(&l).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (r *Repo) ListLocations(organizationID, search string) ([]models.Location, error) {
	q := r.db.Order("id")
	if organizationID != "" {
		q = q.Where("organization_id = ?", organizationID)
	}
	if search != "" {
		like := "%" + search + "%"
		q = q.Where("name LIKE ? OR address LIKE ?", like, like)
	}
	var out []models.Location
	err := q.Find(&out).Error
	return out, err
}

func (r *Repo) CreateLocation(l *models.Location) error { return r.db.Create(l).Error }
func (r *Repo) UpdateLocation(l *models.Location) error { return r.db.Save(l).Error }

func (r *Repo) DeleteLocation(id uint) error {
	// PROTECT: привязки и планы этажей держат локацию.
	var n int64
	if err := r.db.Model(&models.DeviceLocation{}).Where("location_id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return ErrProtected
	}
	if err := r.db.Model(&models.FloorPlan{}).Where("location_id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return ErrProtected
	}
	return r.db.Delete(&models.Location{}, id).Error
}

func (r *Repo) LocationNameTaken(organizationID, name string, excludeID uint) (bool, error) {
	var n int64
	err := r.db.Model(&models.Location{}).
		Where("organization_id = ? AND name = ? AND id <> ?", organizationID, name, excludeID).
		Count(&n).Error
	return n > 0, err
}

// ── Floor plans ─────────────────────────────────────────────

func (r *Repo) GetFloorPlan(id uint) (*models.FloorPlan, error) {
	var fp models.FloorPlan
	if err := r.db.First(&fp, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &fp, nil
}

func (r *Repo) GetFloorPlanByUUID(uuid string) (*models.FloorPlan, error) {
	var fp models.FloorPlan
	if err := r.db.Where("uuid = ?", uuid).First(&fp).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &fp, nil
}

func (r *Repo) ListFloorPlans(locationID uint) ([]models.FloorPlan, error) {
	var out []models.FloorPlan
	err := r.db.Where("location_id = ?", locationID).Order("floor ASC, id ASC").Find(&out).Error
	return out, err
}

func (r *Repo) CreateFloorPlan(fp *models.FloorPlan) error { return r.db.Create(fp).Error }

func (r *Repo) DeleteFloorPlan(id uint) error {
	var n int64
	if err := r.db.Model(&models.DeviceLocation{}).Where("floorplan_id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return ErrProtected
	}
	return r.db.Delete(&models.FloorPlan{}, id).Error
}

func (r *Repo) FloorTaken(locationID uint, floor int, excludeID uint) (bool, error) {
	var n int64
	err := r.db.Model(&models.FloorPlan{}).
		Where("location_id = ? AND floor = ? AND id <> ?", locationID, floor, excludeID).
		Count(&n).Error
	return n > 0, err
}

// ── Assignments ─────────────────────────────────────────────

func (r *Repo) GetAssignment(deviceUUID string) (*models.DeviceLocation, error) {
	var dl models.DeviceLocation
	if err := r.db.Where("device_uuid = ?", deviceUUID).First(&dl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &dl, nil
}

// SaveAssignment — одна транзакция: location, потом floorplan (ему нужен
// location.ID), потом сама привязка. При ошибке ничего не коммитится.
func (r *Repo) SaveAssignment(loc *models.Location, fp *models.FloorPlan, dl *models.DeviceLocation) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(loc).Error; err != nil {
			return err
		}
		dl.LocationID = &loc.ID
		if fp != nil {
			fp.LocationID = loc.ID
			if err := tx.Save(fp).Error; err != nil {
				return err
			}
			dl.FloorPlanID = &fp.ID
		} else {
			dl.FloorPlanID = nil
		}
		return tx.Save(dl).Error
	})
}

func (r *Repo) DeleteAssignment(dl *models.DeviceLocation, cascadeLocation bool) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(dl).Error; err != nil {
			return err
		}
		if cascadeLocation && dl.LocationID != nil {
			return tx.Delete(&models.Location{}, *dl.LocationID).Error
		}
		return nil
	})
}
