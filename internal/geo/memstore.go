package geo

import (
	"sort"
	"strings"
	"sync"
	"time"

	"wispgeo/internal/models"
)

// ─────────────────────────── in-memory store (fallback) ───────────────────────────

// memStore реализует Store без БД: режим разработки и тесты.
type memStore struct {
	mu sync.RWMutex

	devices     map[string]*models.Device         // uuid -> device
	locations   map[uint]*models.Location         // id -> location
	floorplans  map[uint]*models.FloorPlan        // id -> floorplan
	assignments map[string]*models.DeviceLocation // device uuid -> assignment

	nextLoc uint
	nextFP  uint
	nextDL  uint
	nextDev uint
}

func NewMemStore() Store {
	return &memStore{
		devices:     make(map[string]*models.Device),
		locations:   make(map[uint]*models.Location),
		floorplans:  make(map[uint]*models.FloorPlan),
		assignments: make(map[string]*models.DeviceLocation),
	}
}

func (m *memStore) CreateDevice(d *models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextDev++
	d.ID = m.nextDev
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	cp := *d
	m.devices[d.UUID] = &cp
	return nil
}

func (m *memStore) GetDevice(uuid string) (*models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[uuid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) GetLocation(id uint) (*models.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.locations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) GetLocationByUUID(uuid string) (*models.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.locations {
		if l.UUID == uuid {
			cp := *l
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) ListLocations(organizationID, search string) ([]models.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Location, 0, len(m.locations))
	for _, l := range m.locations {
		if organizationID != "" && l.OrganizationID != organizationID {
			continue
		}
		if search != "" &&
			!strings.Contains(l.Name, search) && !strings.Contains(l.Address, search) {
			continue
		}
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) CreateLocation(l *models.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeLocation(l)
	return nil
}

func (m *memStore) UpdateLocation(l *models.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locations[l.ID]; !ok {
		return ErrNotFound
	}
	l.UpdatedAt = time.Now()
	cp := *l
	m.locations[l.ID] = &cp
	return nil
}

// storeLocation: insert-or-update, caller holds the lock.
func (m *memStore) storeLocation(l *models.Location) {
	if l.ID == 0 {
		m.nextLoc++
		l.ID = m.nextLoc
		l.CreatedAt = time.Now()
	}
	l.UpdatedAt = time.Now()
	cp := *l
	m.locations[l.ID] = &cp
}

func (m *memStore) DeleteLocation(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, dl := range m.assignments {
		if dl.LocationID != nil && *dl.LocationID == id {
			return ErrProtected
		}
	}
	for _, fp := range m.floorplans {
		if fp.LocationID == id {
			return ErrProtected
		}
	}
	delete(m.locations, id)
	return nil
}

func (m *memStore) LocationNameTaken(organizationID, name string, excludeID uint) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.locations {
		if l.ID != excludeID && l.OrganizationID == organizationID && l.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) GetFloorPlan(id uint) (*models.FloorPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fp, ok := m.floorplans[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *fp
	return &cp, nil
}

func (m *memStore) GetFloorPlanByUUID(uuid string) (*models.FloorPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, fp := range m.floorplans {
		if fp.UUID == uuid {
			cp := *fp
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) ListFloorPlans(locationID uint) ([]models.FloorPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.FloorPlan, 0, 4)
	for _, fp := range m.floorplans {
		if fp.LocationID == locationID {
			out = append(out, *fp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Floor != out[j].Floor {
			return out[i].Floor < out[j].Floor
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memStore) CreateFloorPlan(fp *models.FloorPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeFloorPlan(fp)
	return nil
}

func (m *memStore) storeFloorPlan(fp *models.FloorPlan) {
	if fp.ID == 0 {
		m.nextFP++
		fp.ID = m.nextFP
		fp.CreatedAt = time.Now()
	}
	fp.UpdatedAt = time.Now()
	cp := *fp
	m.floorplans[fp.ID] = &cp
}

func (m *memStore) DeleteFloorPlan(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, dl := range m.assignments {
		if dl.FloorPlanID != nil && *dl.FloorPlanID == id {
			return ErrProtected
		}
	}
	delete(m.floorplans, id)
	return nil
}

func (m *memStore) FloorTaken(locationID uint, floor int, excludeID uint) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, fp := range m.floorplans {
		if fp.ID != excludeID && fp.LocationID == locationID && fp.Floor == floor {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) GetAssignment(deviceUUID string) (*models.DeviceLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dl, ok := m.assignments[deviceUUID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *dl
	return &cp, nil
}

func (m *memStore) SaveAssignment(loc *models.Location, fp *models.FloorPlan, dl *models.DeviceLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeLocation(loc)
	dl.LocationID = &loc.ID
	if fp != nil {
		fp.LocationID = loc.ID
		m.storeFloorPlan(fp)
		dl.FloorPlanID = &fp.ID
	} else {
		dl.FloorPlanID = nil
	}
	if dl.ID == 0 {
		m.nextDL++
		dl.ID = m.nextDL
		dl.CreatedAt = time.Now()
	}
	dl.UpdatedAt = time.Now()
	cp := *dl
	m.assignments[dl.DeviceUUID] = &cp
	return nil
}

func (m *memStore) DeleteAssignment(dl *models.DeviceLocation, cascadeLocation bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assignments, dl.DeviceUUID)
	if cascadeLocation && dl.LocationID != nil {
		delete(m.locations, *dl.LocationID)
	}
	return nil
}
