package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"reserva/internal/domain"
	"reserva/internal/models"

	"github.com/google/uuid"
)

func (s *store) UpsertCustomer(ctx context.Context, c *models.Customer) error {
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	query := `INSERT INTO customers (id, tenant_id, name, email, phone, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email,
                  phone = excluded.phone, updated_at = excluded.updated_at
              WHERE customers.tenant_id = excluded.tenant_id`
	_, err := s.q.ExecContext(ctx, query, c.ID, c.TenantID, c.Name, c.Email, c.Phone, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert customer: %w", err)
	}
	return nil
}

func (s *store) GetCustomer(ctx context.Context, tenantID, id string) (*models.Customer, error) {
	query := `SELECT id, tenant_id, name, email, phone, created_at, updated_at
              FROM customers WHERE tenant_id = ? AND id = ?`
	var c models.Customer
	err := s.q.QueryRowContext(ctx, query, tenantID, id).Scan(
		&c.ID, &c.TenantID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("customer", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return &c, nil
}

// FindCustomers matches by email or phone; empty values never match.
func (s *store) FindCustomers(ctx context.Context, tenantID, email, phone string) ([]*models.Customer, error) {
	query := `SELECT id, tenant_id, name, email, phone, created_at, updated_at
              FROM customers
              WHERE tenant_id = ? AND ((? <> '' AND lower(email) = lower(?)) OR (? <> '' AND phone = ?))
              ORDER BY created_at`
	rows, err := s.q.QueryContext(ctx, query, tenantID, email, email, phone, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to find customers: %w", err)
	}
	defer rows.Close()

	var out []*models.Customer
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *store) UpsertResource(ctx context.Context, r *models.Resource) error {
	now := time.Now().UTC()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.Capacity < 1 {
		r.Capacity = 1
	}
	if r.Status == "" {
		r.Status = models.ResourceActive
	}

	schedule, err := toJSON(r.Schedule)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}
	unavailable, err := toJSON(r.Unavailable)
	if err != nil {
		return fmt.Errorf("failed to encode unavailable ranges: %w", err)
	}
	serviceIDs, err := toJSON(r.ServiceIDs)
	if err != nil {
		return fmt.Errorf("failed to encode service ids: %w", err)
	}

	query := `INSERT INTO resources (id, tenant_id, name, type, schedule, unavailable, capacity,
                  service_ids, location_id, status, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET name = excluded.name, type = excluded.type,
                  schedule = excluded.schedule, unavailable = excluded.unavailable,
                  capacity = excluded.capacity, service_ids = excluded.service_ids,
                  location_id = excluded.location_id, status = excluded.status,
                  updated_at = excluded.updated_at
              WHERE resources.tenant_id = excluded.tenant_id`
	_, err = s.q.ExecContext(ctx, query, r.ID, r.TenantID, r.Name, r.Type, schedule, unavailable,
		r.Capacity, serviceIDs, r.LocationID, r.Status, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert resource: %w", err)
	}
	return nil
}

func (s *store) GetResource(ctx context.Context, tenantID, id string) (*models.Resource, error) {
	query := `SELECT id, tenant_id, name, type, schedule, unavailable, capacity, service_ids,
                  location_id, status, created_at, updated_at
              FROM resources WHERE tenant_id = ? AND id = ?`
	var (
		r                                 models.Resource
		schedule, unavailable, serviceIDs string
	)
	err := s.q.QueryRowContext(ctx, query, tenantID, id).Scan(
		&r.ID, &r.TenantID, &r.Name, &r.Type, &schedule, &unavailable, &r.Capacity, &serviceIDs,
		&r.LocationID, &r.Status, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("resource", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	if err := fromJSON(schedule, &r.Schedule); err != nil {
		return nil, fmt.Errorf("failed to decode schedule: %w", err)
	}
	if err := fromJSON(unavailable, &r.Unavailable); err != nil {
		return nil, fmt.Errorf("failed to decode unavailable ranges: %w", err)
	}
	if err := fromJSON(serviceIDs, &r.ServiceIDs); err != nil {
		return nil, fmt.Errorf("failed to decode service ids: %w", err)
	}
	return &r, nil
}

func (s *store) UpsertService(ctx context.Context, svc *models.Service) error {
	now := time.Now().UTC()
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	if svc.CreatedAt.IsZero() {
		svc.CreatedAt = now
	}
	svc.UpdatedAt = now
	if svc.Status == "" {
		svc.Status = models.ServiceActive
	}

	allowed, err := toJSON(svc.AllowedResourceTypes)
	if err != nil {
		return fmt.Errorf("failed to encode allowed resource types: %w", err)
	}

	query := `INSERT INTO services (id, tenant_id, name, duration_minutes, buffer_before_minutes,
                  buffer_after_minutes, max_simultaneous, allowed_resource_types, price, currency,
                  status, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET name = excluded.name,
                  duration_minutes = excluded.duration_minutes,
                  buffer_before_minutes = excluded.buffer_before_minutes,
                  buffer_after_minutes = excluded.buffer_after_minutes,
                  max_simultaneous = excluded.max_simultaneous,
                  allowed_resource_types = excluded.allowed_resource_types,
                  price = excluded.price, currency = excluded.currency,
                  status = excluded.status, updated_at = excluded.updated_at
              WHERE services.tenant_id = excluded.tenant_id`
	_, err = s.q.ExecContext(ctx, query, svc.ID, svc.TenantID, svc.Name, svc.DurationMinutes,
		svc.BufferBeforeMinutes, svc.BufferAfterMinutes, svc.MaxSimultaneous, allowed,
		svc.Price, svc.Currency, svc.Status, svc.CreatedAt, svc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert service: %w", err)
	}
	return nil
}

func (s *store) GetService(ctx context.Context, tenantID, id string) (*models.Service, error) {
	query := `SELECT id, tenant_id, name, duration_minutes, buffer_before_minutes, buffer_after_minutes,
                  max_simultaneous, allowed_resource_types, price, currency, status, created_at, updated_at
              FROM services WHERE tenant_id = ? AND id = ?`
	var (
		svc     models.Service
		allowed string
	)
	err := s.q.QueryRowContext(ctx, query, tenantID, id).Scan(
		&svc.ID, &svc.TenantID, &svc.Name, &svc.DurationMinutes, &svc.BufferBeforeMinutes,
		&svc.BufferAfterMinutes, &svc.MaxSimultaneous, &allowed, &svc.Price, &svc.Currency,
		&svc.Status, &svc.CreatedAt, &svc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("service", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	if err := fromJSON(allowed, &svc.AllowedResourceTypes); err != nil {
		return nil, fmt.Errorf("failed to decode allowed resource types: %w", err)
	}
	return &svc, nil
}
