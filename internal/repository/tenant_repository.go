package repository

import (
	"database/sql"

	"github.com/stanstork/aegis-api/internal/models"
)

type TenantRepository interface {
	GetTenantByID(id string) (models.Tenant, error)
}

type tenantRepository struct {
	db *sql.DB
}

func NewTenantRepository(db *sql.DB) TenantRepository {
	return &tenantRepository{db: db}
}

func (r *tenantRepository) GetTenantByID(id string) (models.Tenant, error) {
	const query = `
		SELECT id, name, created_at, updated_at
		FROM tenant.tenants
		WHERE id = $1;
	`
	var tenant models.Tenant
	err := r.db.QueryRow(query, id).Scan(&tenant.ID, &tenant.Name, &tenant.CreatedAt, &tenant.UpdatedAt)
	return tenant, err
}
