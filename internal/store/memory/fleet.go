package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"cabbooking/internal/fleet"
)

func (s *Store) CreateDriver(_ context.Context, d *fleet.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = uuid.NewString()
	d.IsActive = true
	d.CreatedAt = s.now()
	d.UpdatedAt = d.CreatedAt
	s.drivers[d.ID] = *d
	return nil
}

func (s *Store) CreateVehicle(_ context.Context, v *fleet.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.ID = uuid.NewString()
	v.IsActive = true
	v.CreatedAt = s.now()
	v.UpdatedAt = v.CreatedAt
	s.vehicles[v.ID] = *v
	return nil
}

func (s *Store) Driver(_ context.Context, id string) (*fleet.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return nil, fleet.ErrNotFound
	}
	return &d, nil
}

func (s *Store) Vehicle(_ context.Context, id string) (*fleet.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return nil, fleet.ErrNotFound
	}
	return &v, nil
}

func (s *Store) ListDrivers(_ context.Context, vendorID string) ([]fleet.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []fleet.Driver
	for _, d := range s.drivers {
		if d.VendorID == vendorID && d.IsActive {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListVehicles(_ context.Context, vendorID string) ([]fleet.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []fleet.Vehicle
	for _, v := range s.vehicles {
		if v.VendorID == vendorID && v.IsActive {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SetDriverAvailability(_ context.Context, vendorID, id string, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok || d.VendorID != vendorID || !d.IsActive {
		return fleet.ErrNotFound
	}
	d.IsAvailable = available
	d.UpdatedAt = s.now()
	s.drivers[id] = d
	return nil
}

func (s *Store) SetVehicleAvailability(_ context.Context, vendorID, id string, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok || v.VendorID != vendorID || !v.IsActive {
		return fleet.ErrNotFound
	}
	v.IsAvailable = available
	v.UpdatedAt = s.now()
	s.vehicles[id] = v
	return nil
}

func (s *Store) DeactivateDriver(_ context.Context, vendorID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok || d.VendorID != vendorID {
		return fleet.ErrNotFound
	}
	d.IsActive, d.IsAvailable = false, false
	d.UpdatedAt = s.now()
	s.drivers[id] = d
	return nil
}

func (s *Store) DeactivateVehicle(_ context.Context, vendorID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok || v.VendorID != vendorID {
		return fleet.ErrNotFound
	}
	v.IsActive, v.IsAvailable = false, false
	v.UpdatedAt = s.now()
	s.vehicles[id] = v
	return nil
}

func (s *Store) CountActive(_ context.Context, vendorID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var drivers, vehicles int
	for _, d := range s.drivers {
		if d.VendorID == vendorID && d.IsActive && d.IsAvailable {
			drivers++
		}
	}
	for _, v := range s.vehicles {
		if v.VendorID == vendorID && v.IsActive && v.IsAvailable {
			vehicles++
		}
	}
	return drivers, vehicles, nil
}
