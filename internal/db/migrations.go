// internal/db/migrations.go
package db

import (
	"fmt"

	"gorm.io/gorm"
)

// MigrateGeoUniqueIndexes создаёт составные уникальные индексы:
//
//	locations   (name, organization_id)
//	floor_plans (location_id, floor)
//
// Из-за soft-delete индекс должен учитывать deleted_at, поэтому
// AutoMigrate здесь не подходит: для postgres нужен partial index.
func MigrateGeoUniqueIndexes(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	dialect := db.Dialector.Name()

	switch dialect {
	case "mysql":
		// mysql считает NULL-значения в уникальном индексе различными,
		// поэтому живые строки (deleted_at IS NULL) этот индекс не
		// ограничивает — их уникальность проверяют LocationNameTaken и
		// FloorTaken перед записью
		_ = db.Exec("CREATE UNIQUE INDEX `ux_locations_name_org_del` ON `locations` (`name`, `organization_id`, `deleted_at`)").Error
		return db.Exec("CREATE UNIQUE INDEX `ux_floor_plans_loc_floor_del` ON `floor_plans` (`location_id`, `floor`, `deleted_at`)").Error

	case "postgres":
		// partial unique index (куда лучше для soft-delete)
		if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_locations_name_org_null ON "locations" ("name", "organization_id") WHERE "deleted_at" IS NULL`).Error; err != nil {
			return err
		}
		return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_floor_plans_loc_floor_null ON "floor_plans" ("location_id", "floor") WHERE "deleted_at" IS NULL`).Error

	case "sqlite":
		_ = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_locations_name_org_del ON locations (name, organization_id, deleted_at)`).Error
		return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_floor_plans_loc_floor_del ON floor_plans (location_id, floor, deleted_at)`).Error

	default:
		return fmt.Errorf("unsupported dialect: %s", dialect)
	}
}
