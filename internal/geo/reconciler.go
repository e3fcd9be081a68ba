package geo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"wispgeo/internal/imgstore"
	"wispgeo/internal/logs"
	"wispgeo/internal/models"

	"github.com/google/uuid"
)

// Reconciler — логика clean/save формы привязки: проверяет обязательность
// полей по типу, находит/создаёт Location и FloorPlan, следит за
// инвариантами и сохраняет тройку одной транзакцией.
//
// State machine по type:
//
//	outdoor: Location обязательна, FloorPlan запрещён
//	indoor:  Location + FloorPlan, floorplan.location == location
//	mobile:  Location авто-именуется по устройству и живёт вместе с привязкой
type Reconciler struct {
	store  Store
	images imgstore.Store
}

func NewReconciler(store Store, images imgstore.Store) *Reconciler {
	return &Reconciler{store: store, images: images}
}

// Save валидирует присланные поля и сохраняет консистентную тройку.
// Возвращает FieldErrors (как error) при ошибках валидации; до стадии
// записи ни одна сущность не изменяется.
func (r *Reconciler) Save(ctx context.Context, deviceUUID string, in SubmitInput) (*Result, error) {
	dev, err := r.store.GetDevice(deviceUUID)
	if err != nil {
		return nil, err
	}

	dl, err := r.store.GetAssignment(deviceUUID)
	if errors.Is(err, ErrNotFound) {
		dl = &models.DeviceLocation{DeviceUUID: deviceUUID}
	} else if err != nil {
		return nil, err
	}

	var loc *models.Location
	if dl.LocationID != nil {
		if loc, err = r.store.GetLocation(*dl.LocationID); err != nil {
			return nil, err
		}
	}
	var fp *models.FloorPlan
	if dl.FloorPlanID != nil {
		if fp, err = r.store.GetFloorPlan(*dl.FloorPlanID); err != nil {
			return nil, err
		}
	}

	ferrs := FieldErrors{}
	if !validType(in.Type) {
		ferrs.Add("type", fmt.Sprintf("invalid location type: %q", in.Type))
		return nil, ferrs
	}
	if !validSelection(in.LocationSelection) {
		ferrs.Add("location_selection", fmt.Sprintf("%q is not a valid selection", in.LocationSelection))
	}
	if !validSelection(in.FloorplanSelection) {
		ferrs.Add("floorplan_selection", fmt.Sprintf("%q is not a valid selection", in.FloorplanSelection))
	}
	if len(ferrs) > 0 {
		return nil, ferrs
	}

	// mobile: поля не валидируются, а молча переопределяются —
	// поведение исходной формы, на него завязаны существующие клиенты.
	if in.Type == models.LocationTypeMobile {
		if loc == nil {
			in.Name = dev.Name
			in.Address = ""
			in.Geometry = nil
			in.LocationSelection = SelectionNew
			in.LocationID = ""
		} else {
			in.LocationSelection = SelectionExisting
		}
	}

	r.checkRequired(&in, loc, fp, ferrs)
	if len(ferrs) > 0 {
		return nil, ferrs
	}

	if loc == nil {
		if in.LocationSelection == SelectionExisting && in.LocationID != "" {
			found, err := r.store.GetLocationByUUID(in.LocationID)
			switch {
			case errors.Is(err, ErrNotFound):
				ferrs.Add("location", msgInvalidSelection)
			case err != nil:
				return nil, err
			default:
				loc = found
			}
		} else {
			loc = &models.Location{UUID: uuid.NewString()}
		}
	}
	if loc != nil {
		mergeLocation(loc, &in)
		if loc.OrganizationID == "" {
			loc.OrganizationID = dev.OrganizationID
		}
		if err := r.validateLocation(loc, dev, ferrs); err != nil {
			return nil, err
		}
	}

	var pending *ImageUpload
	var pendingW, pendingH int
	if in.Type == models.LocationTypeIndoor {
		if in.FloorplanSelection == SelectionExisting && in.FloorplanID != "" {
			found, err := r.store.GetFloorPlanByUUID(in.FloorplanID)
			switch {
			case errors.Is(err, ErrNotFound):
				ferrs.Add("floorplan", msgInvalidSelection)
				fp = nil
			case err != nil:
				return nil, err
			default:
				fp = found
			}
		} else if in.FloorplanSelection == SelectionNew {
			fp = &models.FloorPlan{UUID: uuid.NewString()}
		}

		if fp != nil && loc != nil {
			// существующий план должен принадлежать той же локации;
			// не исправляем, а отклоняем
			if fp.ID != 0 && fp.LocationID != loc.ID {
				ferrs.Add("floorplan", msgFloorplanMismatch)
			}
			mergeFloor(fp, &in)

			// картинка перезаписывается только если содержимое изменилось
			if in.Image != nil {
				if hash := sha256hex(in.Image.Data); hash != fp.ImageHash {
					w, h, err := imgstore.Probe(in.Image.Data)
					if err != nil {
						ferrs.Add("image", msgBadImage)
					} else {
						pending, pendingW, pendingH = in.Image, w, h
					}
				}
			}
			if fp.OrganizationID == "" {
				fp.OrganizationID = dev.OrganizationID
			}
			if err := r.validateFloorPlan(fp, loc, pending, ferrs); err != nil {
				return nil, err
			}
		}
	}

	dl.Type = in.Type
	if in.Type == models.LocationTypeIndoor {
		dl.Indoor = in.Indoor
	} else {
		dl.Indoor = ""
		fp = nil // ссылка снимается, сама запись плана не удаляется
	}

	if len(ferrs) > 0 {
		return nil, ferrs
	}

	var uploadedRef string
	if pending != nil {
		if r.images == nil {
			return nil, errors.New("image storage is not configured")
		}
		stored, err := r.images.Put(ctx, pending.Filename, pending.Data, pending.ContentType)
		if err != nil {
			return nil, fmt.Errorf("store floor plan image: %w", err)
		}
		uploadedRef = stored.Ref
		fp.ImageRef = stored.Ref
		fp.ImageURL = stored.URL
		fp.ImageWidth = pendingW
		fp.ImageHeight = pendingH
		fp.ImageHash = sha256hex(pending.Data)
	}

	if err := r.store.SaveAssignment(loc, fp, dl); err != nil {
		// транзакция откатилась — свежезалитый файл никто не ссылается
		if uploadedRef != "" {
			if derr := r.images.Delete(ctx, uploadedRef); derr != nil {
				logs.Logger.Warnf("remove unreferenced floor plan image %s: %v", uploadedRef, derr)
			}
		}
		return nil, err
	}
	return &Result{Assignment: dl, Location: loc, FloorPlan: fp}, nil
}

// checkRequired — обязательность полей по типу, до любых записей.
func (r *Reconciler) checkRequired(in *SubmitInput, loc *models.Location, fp *models.FloorPlan, ferrs FieldErrors) {
	if loc == nil && in.LocationID == "" {
		for _, f := range requiredLocationFields[in.Type] {
			if in.empty(f) {
				ferrs.Add(f, requiredMsg(in.Type))
			}
		}
	}
	if in.Type != models.LocationTypeIndoor {
		return
	}
	for _, f := range requiredIndoorFields {
		if in.empty(f) {
			ferrs.Add(f, requiredMsg(in.Type))
		}
	}
	switch in.FloorplanSelection {
	case SelectionExisting:
		if in.FloorplanID == "" && fp == nil {
			ferrs.Add("floorplan", requiredMsg(in.Type))
		}
	case SelectionNew:
		if in.Image == nil {
			ferrs.Add("image", requiredMsg(in.Type))
		}
	}
}

func (r *Reconciler) validateLocation(loc *models.Location, dev *models.Device, ferrs FieldErrors) error {
	if loc.Name == "" {
		ferrs.Add("name", "location name is required")
	}
	if len(loc.Name) > 75 {
		ferrs.Add("name", "must be at most 75 characters")
	}
	if len(loc.Address) > 256 {
		ferrs.Add("address", "must be at most 256 characters")
	}
	if loc.OrganizationID != dev.OrganizationID {
		ferrs.Add("location", msgOrgMismatch)
	}
	taken, err := r.store.LocationNameTaken(loc.OrganizationID, loc.Name, loc.ID)
	if err != nil {
		return err
	}
	if taken {
		ferrs.Add("name", msgDuplicateName)
	}
	return nil
}

func (r *Reconciler) validateFloorPlan(fp *models.FloorPlan, loc *models.Location, pending *ImageUpload, ferrs FieldErrors) error {
	if fp.ImageRef == "" && pending == nil {
		ferrs.Add("image", requiredMsg(models.LocationTypeIndoor))
	}
	if fp.OrganizationID != loc.OrganizationID {
		ferrs.Add("floorplan", msgOrgMismatch)
	}
	if loc.ID != 0 {
		taken, err := r.store.FloorTaken(loc.ID, fp.Floor, fp.ID)
		if err != nil {
			return err
		}
		if taken {
			ferrs.Add("floor", msgDuplicateFloor)
		}
	}
	return nil
}

// Delete снимает привязку. Для mobile удаляется и её Location: мобильная
// локация принадлежит 1:1 этой привязке и больше никем не переиспользуется.
// Для outdoor/indoor Location и FloorPlan остаются.
func (r *Reconciler) Delete(_ context.Context, deviceUUID string) error {
	dl, err := r.store.GetAssignment(deviceUUID)
	if err != nil {
		return err
	}
	cascade := dl.Type == models.LocationTypeMobile && dl.LocationID != nil
	return r.store.DeleteAssignment(dl, cascade)
}

func sha256hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
