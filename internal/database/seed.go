package database

import (
	"context"
	"fmt"
	"os"

	"reserva/internal/models"

	"gopkg.in/yaml.v3"
)

// Catalog is the seed file: services, resources and customers per tenant.
type Catalog struct {
	Tenants []TenantCatalog `yaml:"tenants"`
}

type TenantCatalog struct {
	TenantID  string            `yaml:"tenant_id"`
	Services  []models.Service  `yaml:"services"`
	Resources []models.Resource `yaml:"resources"`
	Customers []models.Customer `yaml:"customers"`
}

func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for i, t := range c.Tenants {
		if t.TenantID == "" {
			return nil, fmt.Errorf("catalog tenant %d: tenant_id is required", i)
		}
	}
	return &c, nil
}

// SeedCatalog upserts every entry in one transaction and returns how many were written.
// Entries are forced onto their block's tenant.
func (db *DB) SeedCatalog(ctx context.Context, c *Catalog) (int, error) {
	n := 0
	err := db.inTx(ctx, func(tx *Tx) error {
		for _, t := range c.Tenants {
			for i := range t.Services {
				svc := t.Services[i]
				svc.TenantID = t.TenantID
				if err := tx.UpsertService(ctx, &svc); err != nil {
					return err
				}
				n++
			}
			for i := range t.Resources {
				res := t.Resources[i]
				res.TenantID = t.TenantID
				if err := tx.UpsertResource(ctx, &res); err != nil {
					return err
				}
				n++
			}
			for i := range t.Customers {
				cust := t.Customers[i]
				cust.TenantID = t.TenantID
				if err := tx.UpsertCustomer(ctx, &cust); err != nil {
					return err
				}
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	db.logger.Info().Int("entries", n).Msg("catalog seeded")
	return n, nil
}
