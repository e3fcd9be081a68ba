package geo

import "wispgeo/internal/models"

// Sparse update: пустое присланное значение никогда не затирает сохранённое.

// mergeLocation накладывает присланные поля на loc.
func mergeLocation(loc *models.Location, in *SubmitInput) {
	if in.Name != "" {
		loc.Name = in.Name
	}
	if in.Address != "" {
		loc.Address = in.Address
	}
	if !in.Geometry.IsEmpty() {
		loc.Geometry = in.Geometry
	}
}

// mergeFloor накладывает номер этажа, если он прислан.
func mergeFloor(fp *models.FloorPlan, in *SubmitInput) {
	if in.Floor != nil {
		fp.Floor = *in.Floor
	}
}
