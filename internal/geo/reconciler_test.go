package geo

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"testing"

	"wispgeo/internal/imgstore"
	"wispgeo/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv(t *testing.T) (*Reconciler, Store) {
	t.Helper()
	store := NewMemStore()
	images, err := imgstore.NewLocal(t.TempDir(), "/media/floorplans")
	require.NoError(t, err)
	return NewReconciler(store, images), store
}

func addDevice(t *testing.T, store Store, name, org string) *models.Device {
	t.Helper()
	d := &models.Device{UUID: uuid.NewString(), Name: name, OrganizationID: org}
	require.NoError(t, store.CreateDevice(d))
	return d
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func upload(t *testing.T, w, h int) *ImageUpload {
	t.Helper()
	return &ImageUpload{Filename: "plan.png", ContentType: "image/png", Data: pngBytes(t, w, h)}
}

func outdoorInput(name, address string) SubmitInput {
	return SubmitInput{
		Type:              models.LocationTypeOutdoor,
		LocationSelection: SelectionNew,
		Name:              name,
		Address:           address,
		Geometry:          models.NewPoint(12.5, 41.9),
	}
}

func fieldErrs(t *testing.T, err error) FieldErrors {
	t.Helper()
	var fe FieldErrors
	require.ErrorAs(t, err, &fe)
	return fe
}

// ── outdoor ─────────────────────────────────────────────────

func TestOutdoorCreatesLocation(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	res, err := rec.Save(context.Background(), dev.UUID, outdoorInput("HQ", "1 Main St"))
	require.NoError(t, err)

	assert.Equal(t, models.LocationTypeOutdoor, res.Assignment.Type)
	assert.Nil(t, res.FloorPlan, "outdoor never requires a floor plan")
	assert.Equal(t, "HQ", res.Location.Name)
	assert.Equal(t, "org-a", res.Location.OrganizationID)

	stored, err := store.GetLocation(res.Location.ID)
	require.NoError(t, err)
	assert.Equal(t, "1 Main St", stored.Address)
}

func TestOutdoorRequiredFields(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	_, err := rec.Save(context.Background(), dev.UUID, SubmitInput{Type: models.LocationTypeOutdoor})
	fe := fieldErrs(t, err)
	for _, f := range []string{"location_selection", "name", "address", "geometry"} {
		require.Contains(t, fe, f)
		assert.Contains(t, fe[f][0], "type outdoor")
	}
}

func TestOutdoorReusesExistingLocation(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	shared := &models.Location{UUID: uuid.NewString(), OrganizationID: "org-a", Name: "Branch-1", Address: "5 Oak Ave"}
	require.NoError(t, store.CreateLocation(shared))

	res, err := rec.Save(context.Background(), dev.UUID, SubmitInput{
		Type:              models.LocationTypeOutdoor,
		LocationSelection: SelectionExisting,
		LocationID:        shared.UUID,
	})
	require.NoError(t, err)
	assert.Equal(t, shared.ID, res.Location.ID)
	assert.Equal(t, "Branch-1", res.Location.Name, "sparse update keeps stored name")
}

func TestExistingLocationUnknownID(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	_, err := rec.Save(context.Background(), dev.UUID, SubmitInput{
		Type:              models.LocationTypeOutdoor,
		LocationSelection: SelectionExisting,
		LocationID:        uuid.NewString(),
	})
	fe := fieldErrs(t, err)
	assert.Equal(t, []string{msgInvalidSelection}, fe["location"])
}

func TestExistingLocationOtherOrg(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	foreign := &models.Location{UUID: uuid.NewString(), OrganizationID: "org-b", Name: "Elsewhere"}
	require.NoError(t, store.CreateLocation(foreign))

	_, err := rec.Save(context.Background(), dev.UUID, SubmitInput{
		Type:              models.LocationTypeOutdoor,
		LocationSelection: SelectionExisting,
		LocationID:        foreign.UUID,
	})
	fe := fieldErrs(t, err)
	assert.Contains(t, fe, "location")
}

func TestUnknownDevice(t *testing.T) {
	rec, _ := testEnv(t)
	_, err := rec.Save(context.Background(), uuid.NewString(), outdoorInput("HQ", ""))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidType(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	_, err := rec.Save(context.Background(), dev.UUID, SubmitInput{Type: "orbital"})
	fe := fieldErrs(t, err)
	assert.Contains(t, fe, "type")
}

func TestInvalidFloorplanSelection(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	// значение вне {new, existing} отклоняется, а не проскакивает мимо
	// обеих веток разрешения плана
	in := indoorNewInput(t, "HQ", 2)
	in.FloorplanSelection = "bogus"
	_, err := rec.Save(context.Background(), dev.UUID, in)
	fe := fieldErrs(t, err)
	require.Contains(t, fe, "floorplan_selection")
	assert.Contains(t, fe["floorplan_selection"][0], "not a valid selection")

	_, err = store.GetAssignment(dev.UUID)
	assert.ErrorIs(t, err, ErrNotFound, "rejected submission must not persist an assignment")
}

func TestInvalidLocationSelection(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	in := outdoorInput("HQ", "1 Main St")
	in.LocationSelection = "bogus"
	_, err := rec.Save(context.Background(), dev.UUID, in)
	fe := fieldErrs(t, err)
	require.Contains(t, fe, "location_selection")

	locs, err := store.ListLocations("", "")
	require.NoError(t, err)
	assert.Empty(t, locs, "rejected submission must not create a location")
}

// ── indoor ──────────────────────────────────────────────────

func indoorNewInput(t *testing.T, name string, floor int) SubmitInput {
	in := outdoorInput(name, "1 Main St")
	in.Type = models.LocationTypeIndoor
	in.FloorplanSelection = SelectionNew
	in.Floor = &floor
	in.Image = upload(t, 640, 480)
	in.Indoor = "A1"
	return in
}

func TestIndoorCreatesLocationAndFloorPlan(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	res, err := rec.Save(context.Background(), dev.UUID, indoorNewInput(t, "HQ", 2))
	require.NoError(t, err)

	require.NotNil(t, res.FloorPlan)
	assert.Equal(t, res.Location.ID, res.FloorPlan.LocationID)
	assert.Equal(t, 2, res.FloorPlan.Floor)
	assert.Equal(t, "org-a", res.FloorPlan.OrganizationID)
	assert.Equal(t, 640, res.FloorPlan.ImageWidth)
	assert.Equal(t, 480, res.FloorPlan.ImageHeight)
	assert.NotEmpty(t, res.FloorPlan.ImageRef)
	assert.Equal(t, "A1", res.Assignment.Indoor)
}

func TestIndoorRequiredFields(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	in := outdoorInput("HQ", "1 Main St")
	in.Type = models.LocationTypeIndoor
	_, err := rec.Save(context.Background(), dev.UUID, in)
	fe := fieldErrs(t, err)
	for _, f := range []string{"floorplan_selection", "floor", "indoor"} {
		require.Contains(t, fe, f)
		assert.Contains(t, fe[f][0], "type indoor")
	}
}

func TestIndoorNewRequiresImage(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	in := indoorNewInput(t, "HQ", 2)
	in.Image = nil
	_, err := rec.Save(context.Background(), dev.UUID, in)
	fe := fieldErrs(t, err)
	assert.Contains(t, fe, "image")
}

func TestIndoorUnknownFloorPlanID(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	in := indoorNewInput(t, "HQ", 2)
	in.FloorplanSelection = SelectionExisting
	in.FloorplanID = uuid.NewString()
	in.Image = nil
	_, err := rec.Save(context.Background(), dev.UUID, in)
	fe := fieldErrs(t, err)
	assert.Equal(t, []string{msgInvalidSelection}, fe["floorplan"])
}

func TestIndoorFloorPlanOfOtherLocation(t *testing.T) {
	rec, store := testEnv(t)
	devA := addDevice(t, store, "ap-01", "org-a")
	devB := addDevice(t, store, "ap-02", "org-a")

	// devA создаёт свою локацию и план
	resA, err := rec.Save(context.Background(), devA.UUID, indoorNewInput(t, "HQ", 2))
	require.NoError(t, err)

	// devB привязывается к другой локации, но чужому плану
	inB := indoorNewInput(t, "Warehouse", 1)
	inB.FloorplanSelection = SelectionExisting
	inB.FloorplanID = resA.FloorPlan.UUID
	inB.Image = nil
	_, err = rec.Save(context.Background(), devB.UUID, inB)
	fe := fieldErrs(t, err)
	assert.Contains(t, fe["floorplan"], msgFloorplanMismatch)
}

func TestIndoorBadImage(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	in := indoorNewInput(t, "HQ", 2)
	in.Image = &ImageUpload{Filename: "plan.png", ContentType: "image/png", Data: []byte("not an image")}
	_, err := rec.Save(context.Background(), dev.UUID, in)
	fe := fieldErrs(t, err)
	assert.Contains(t, fe["image"], msgBadImage)
}

// ── mobile ──────────────────────────────────────────────────

func TestMobileAutoCreatesLocation(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "truck-42", "org-a")

	// все поля пустые: mobile не валидирует ввод, а переопределяет его
	res, err := rec.Save(context.Background(), dev.UUID, SubmitInput{Type: models.LocationTypeMobile})
	require.NoError(t, err)

	assert.Equal(t, "truck-42", res.Location.Name)
	assert.Equal(t, "", res.Location.Address)
	assert.True(t, res.Location.Geometry.IsEmpty())
	assert.Nil(t, res.FloorPlan)
}

func TestMobileResaveReusesLocation(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "truck-42", "org-a")

	first, err := rec.Save(context.Background(), dev.UUID, SubmitInput{Type: models.LocationTypeMobile})
	require.NoError(t, err)
	second, err := rec.Save(context.Background(), dev.UUID, SubmitInput{Type: models.LocationTypeMobile})
	require.NoError(t, err)
	assert.Equal(t, first.Location.ID, second.Location.ID)
}

func TestMobileDeleteCascadesLocation(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "truck-42", "org-a")

	res, err := rec.Save(context.Background(), dev.UUID, SubmitInput{Type: models.LocationTypeMobile})
	require.NoError(t, err)

	require.NoError(t, rec.Delete(context.Background(), dev.UUID))

	_, err = store.GetAssignment(dev.UUID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetLocation(res.Location.ID)
	assert.ErrorIs(t, err, ErrNotFound, "mobile location lives and dies with its assignment")
}

func TestOutdoorDeleteKeepsLocation(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	res, err := rec.Save(context.Background(), dev.UUID, outdoorInput("Branch-1", "5 Oak Ave"))
	require.NoError(t, err)

	require.NoError(t, rec.Delete(context.Background(), dev.UUID))

	loc, err := store.GetLocation(res.Location.ID)
	require.NoError(t, err)
	assert.Equal(t, "Branch-1", loc.Name)
}

// ── idempotence / sparse update ─────────────────────────────

func TestResaveUnchangedIsIdempotent(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	first, err := rec.Save(context.Background(), dev.UUID, indoorNewInput(t, "HQ", 2))
	require.NoError(t, err)

	// повтор с теми же значениями (план уже существует)
	in := indoorNewInput(t, "HQ", 2)
	in.FloorplanSelection = SelectionExisting
	in.FloorplanID = first.FloorPlan.UUID
	second, err := rec.Save(context.Background(), dev.UUID, in)
	require.NoError(t, err)

	assert.Equal(t, first.Location.ID, second.Location.ID)
	assert.Equal(t, "HQ", second.Location.Name)
	assert.Equal(t, 2, second.FloorPlan.Floor)
	assert.Equal(t, first.FloorPlan.ImageRef, second.FloorPlan.ImageRef,
		"unchanged image must not be re-uploaded")
}

func TestChangedImageIsReuploaded(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	first, err := rec.Save(context.Background(), dev.UUID, indoorNewInput(t, "HQ", 2))
	require.NoError(t, err)

	in := indoorNewInput(t, "", 2)
	in.FloorplanSelection = SelectionExisting
	in.FloorplanID = first.FloorPlan.UUID
	in.Image = upload(t, 800, 600)
	second, err := rec.Save(context.Background(), dev.UUID, in)
	require.NoError(t, err)

	assert.NotEqual(t, first.FloorPlan.ImageRef, second.FloorPlan.ImageRef)
	assert.Equal(t, 800, second.FloorPlan.ImageWidth)
}

func TestResaveSparseKeepsStoredValues(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	res, err := rec.Save(context.Background(), dev.UUID, outdoorInput("HQ", "1 Main St"))
	require.NoError(t, err)

	// пустые name/address/geometry при повторном сохранении ничего не затирают
	_, err = rec.Save(context.Background(), dev.UUID, SubmitInput{Type: models.LocationTypeOutdoor})
	require.NoError(t, err)

	loc, err := store.GetLocation(res.Location.ID)
	require.NoError(t, err)
	assert.Equal(t, "HQ", loc.Name)
	assert.Equal(t, "1 Main St", loc.Address)
	assert.False(t, loc.Geometry.IsEmpty())
}

func TestValidationFailureWritesNothing(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	res, err := rec.Save(context.Background(), dev.UUID, outdoorInput("HQ", "1 Main St"))
	require.NoError(t, err)

	// indoor без floor: отказ до любых записей, имя локации не меняется
	in := SubmitInput{Type: models.LocationTypeIndoor, Name: "Renamed", FloorplanSelection: SelectionNew, Image: upload(t, 10, 10)}
	_, err = rec.Save(context.Background(), dev.UUID, in)
	fe := fieldErrs(t, err)
	assert.Contains(t, fe, "floor")

	loc, err := store.GetLocation(res.Location.ID)
	require.NoError(t, err)
	assert.Equal(t, "HQ", loc.Name)
	dl, err := store.GetAssignment(dev.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.LocationTypeOutdoor, dl.Type)
}

// ── uniqueness ──────────────────────────────────────────────

func TestDuplicateLocationName(t *testing.T) {
	rec, store := testEnv(t)
	devA := addDevice(t, store, "ap-01", "org-a")
	devB := addDevice(t, store, "ap-02", "org-a")

	_, err := rec.Save(context.Background(), devA.UUID, outdoorInput("HQ", "1 Main St"))
	require.NoError(t, err)

	_, err = rec.Save(context.Background(), devB.UUID, outdoorInput("HQ", "2 Side St"))
	fe := fieldErrs(t, err)
	assert.Contains(t, fe["name"], msgDuplicateName)
}

func TestSameLocationNameInOtherOrg(t *testing.T) {
	rec, store := testEnv(t)
	devA := addDevice(t, store, "ap-01", "org-a")
	devB := addDevice(t, store, "ap-02", "org-b")

	_, err := rec.Save(context.Background(), devA.UUID, outdoorInput("HQ", "1 Main St"))
	require.NoError(t, err)
	_, err = rec.Save(context.Background(), devB.UUID, outdoorInput("HQ", "1 Main St"))
	assert.NoError(t, err, "uniqueness is per organization")
}

func TestDuplicateFloor(t *testing.T) {
	rec, store := testEnv(t)
	devA := addDevice(t, store, "ap-01", "org-a")
	devB := addDevice(t, store, "ap-02", "org-a")

	resA, err := rec.Save(context.Background(), devA.UUID, indoorNewInput(t, "HQ", 2))
	require.NoError(t, err)

	inB := indoorNewInput(t, "", 2)
	inB.LocationSelection = SelectionExisting
	inB.LocationID = resA.Location.UUID
	inB.Name, inB.Address, inB.Geometry = "", "", nil
	_, err = rec.Save(context.Background(), devB.UUID, inB)
	fe := fieldErrs(t, err)
	assert.Contains(t, fe["floor"], msgDuplicateFloor)
}

// ── outdoor device moves indoors; floor stays mandatory ─────

func TestOutdoorToIndoorScenario(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")
	ctx := context.Background()

	// outdoor: создаётся Location("HQ")
	res, err := rec.Save(ctx, dev.UUID, outdoorInput("HQ", "1 Main St"))
	require.NoError(t, err)
	locID := res.Location.ID

	// indoor с новым планом: создаётся FloorPlan(HQ, floor=2)
	two := 2
	res, err = rec.Save(ctx, dev.UUID, SubmitInput{
		Type:               models.LocationTypeIndoor,
		FloorplanSelection: SelectionNew,
		Floor:              &two,
		Image:              upload(t, 100, 100),
		Indoor:             "A1",
	})
	require.NoError(t, err)
	require.NotNil(t, res.FloorPlan)
	assert.Equal(t, locID, res.FloorPlan.LocationID)
	assert.Equal(t, 2, res.FloorPlan.Floor)

	// indoor без floor: отказ по обязательности
	_, err = rec.Save(ctx, dev.UUID, SubmitInput{
		Type:               models.LocationTypeIndoor,
		FloorplanSelection: SelectionExisting,
		FloorplanID:        res.FloorPlan.UUID,
		Indoor:             "A1",
	})
	fe := fieldErrs(t, err)
	require.Contains(t, fe, "floor")
	assert.Contains(t, fe["floor"][0], "type indoor")
}

// ── switching back to outdoor clears the floor plan ref ─────

func TestIndoorToOutdoorClearsFloorPlanRef(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")
	ctx := context.Background()

	res, err := rec.Save(ctx, dev.UUID, indoorNewInput(t, "HQ", 2))
	require.NoError(t, err)
	fpID := res.FloorPlan.ID

	out, err := rec.Save(ctx, dev.UUID, SubmitInput{Type: models.LocationTypeOutdoor})
	require.NoError(t, err)
	assert.Nil(t, out.Assignment.FloorPlanID)
	assert.Empty(t, out.Assignment.Indoor)

	// сама запись плана не каскадируется
	_, err = store.GetFloorPlan(fpID)
	assert.NoError(t, err)
}

// ── deletion guard at the store layer ───────────────────────

func TestDeleteReferencedLocationProtected(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	res, err := rec.Save(context.Background(), dev.UUID, outdoorInput("HQ", "1 Main St"))
	require.NoError(t, err)

	assert.ErrorIs(t, store.DeleteLocation(res.Location.ID), ErrProtected)
}

func TestDeleteReferencedFloorPlanProtected(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")

	res, err := rec.Save(context.Background(), dev.UUID, indoorNewInput(t, "HQ", 2))
	require.NoError(t, err)

	assert.ErrorIs(t, store.DeleteFloorPlan(res.FloorPlan.ID), ErrProtected)
}

// ── storage stays consistent when the DB write fails ────────

type saveFailStore struct {
	Store
}

func (s *saveFailStore) SaveAssignment(*models.Location, *models.FloorPlan, *models.DeviceLocation) error {
	return errors.New("save failed")
}

func TestFailedSaveRemovesUploadedImage(t *testing.T) {
	inner := NewMemStore()
	dir := t.TempDir()
	images, err := imgstore.NewLocal(dir, "/media/floorplans")
	require.NoError(t, err)
	store := &saveFailStore{Store: inner}
	rec := NewReconciler(store, images)
	dev := addDevice(t, inner, "ap-01", "org-a")

	_, err = rec.Save(context.Background(), dev.UUID, indoorNewInput(t, "HQ", 2))
	require.Error(t, err)
	var fe FieldErrors
	assert.False(t, errors.As(err, &fe), "store failure is not a validation error")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "image uploaded for a failed save must be removed")
}

func TestDeleteMissingAssignment(t *testing.T) {
	rec, store := testEnv(t)
	dev := addDevice(t, store, "ap-01", "org-a")
	assert.ErrorIs(t, rec.Delete(context.Background(), dev.UUID), ErrNotFound)
}
