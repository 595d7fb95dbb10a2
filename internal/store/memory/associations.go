package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"cabbooking/internal/association"
)

func (s *Store) ListByCompany(_ context.Context, companyID string) ([]association.Association, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []association.Association
	for _, a := range s.associations {
		if a.CompanyID == companyID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) Activate(_ context.Context, companyID, vendorID string) (*association.Association, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vendors[vendorID]; !ok {
		return nil, association.ErrNotFound
	}
	if _, ok := s.companies[companyID]; !ok {
		return nil, association.ErrNotFound
	}
	key := [2]string{companyID, vendorID}
	a, ok := s.associations[key]
	if !ok {
		a = association.Association{
			ID:        uuid.NewString(),
			CompanyID: companyID,
			VendorID:  vendorID,
			CreatedAt: s.now(),
		}
	}
	a.IsActive = true
	s.associations[key] = a
	return &a, nil
}

func (s *Store) Deactivate(_ context.Context, companyID, vendorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{companyID, vendorID}
	a, ok := s.associations[key]
	if !ok || !a.IsActive {
		return association.ErrNotFound
	}
	a.IsActive = false
	s.associations[key] = a
	return nil
}
