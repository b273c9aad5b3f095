package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
	"github.com/nyealovey/WhaleFall-sub003/pkg/crypto"
	"github.com/nyealovey/WhaleFall-sub003/pkg/database"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// InstanceRepository provides access to managed instances and their credentials.
// Passwords are encrypted before storage and decrypted after retrieval.
type InstanceRepository interface {
	// ListActive returns live, active instances with decrypted credentials.
	ListActive(ctx context.Context) ([]*models.Instance, error)
	// GetByID returns a live instance or apperrors.ErrNotFound.
	GetByID(ctx context.Context, id int64) (*models.Instance, error)
	// Create stores an instance and, when set, its credential.
	Create(ctx context.Context, instance *models.Instance) error
}

type instanceRepository struct {
	encryptor *crypto.CredentialEncryptor
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(encryptor *crypto.CredentialEncryptor) InstanceRepository {
	return &instanceRepository{encryptor: encryptor}
}

var _ InstanceRepository = (*instanceRepository)(nil)

const instanceColumns = `
	i.id, i.name, i.db_type, i.host, i.port, i.database_name, i.is_active,
	i.created_at, i.updated_at, i.deleted_at,
	c.id, c.username, c.password_encrypted, c.key_id`

func (r *instanceRepository) ListActive(ctx context.Context) ([]*models.Instance, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `SELECT` + instanceColumns + `
		FROM instances i
		LEFT JOIN credentials c ON c.id = i.credential_id
		WHERE i.deleted_at IS NULL AND i.is_active
		ORDER BY i.id`

	rows, err := scope.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*models.Instance
	for rows.Next() {
		inst, err := r.scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate instances: %w", err)
	}
	return instances, nil
}

func (r *instanceRepository) GetByID(ctx context.Context, id int64) (*models.Instance, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `SELECT` + instanceColumns + `
		FROM instances i
		LEFT JOIN credentials c ON c.id = i.credential_id
		WHERE i.id = $1 AND i.deleted_at IS NULL`

	inst, err := r.scanInstance(scope.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("instance %d: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func (r *instanceRepository) Create(ctx context.Context, instance *models.Instance) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	now := time.Now()
	var credentialID *int64
	if cred := instance.Credential; cred != nil {
		sealed, err := r.encryptor.Encrypt(cred.Password)
		if err != nil {
			return fmt.Errorf("encrypt credential: %w", err)
		}
		err = scope.QueryRow(ctx, `
			INSERT INTO credentials (username, password_encrypted, key_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			RETURNING id`,
			cred.Username, sealed, r.encryptor.KeyID(), now,
		).Scan(&cred.ID)
		if err != nil {
			return fmt.Errorf("failed to insert credential: %w", err)
		}
		credentialID = &cred.ID
	}

	err := scope.QueryRow(ctx, `
		INSERT INTO instances (name, db_type, host, port, database_name, credential_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id`,
		instance.Name, string(instance.DBType), instance.Host, instance.Port, instance.DatabaseName,
		credentialID, instance.IsActive, now,
	).Scan(&instance.ID)
	if err != nil {
		return fmt.Errorf("failed to insert instance: %w", err)
	}
	instance.CreatedAt = now
	instance.UpdatedAt = now
	return nil
}

func (r *instanceRepository) scanInstance(row pgx.Row) (*models.Instance, error) {
	var (
		inst     models.Instance
		dbType   string
		credID   *int64
		username *string
		sealed   *string
		keyID    *string
	)
	err := row.Scan(
		&inst.ID, &inst.Name, &dbType, &inst.Host, &inst.Port, &inst.DatabaseName, &inst.IsActive,
		&inst.CreatedAt, &inst.UpdatedAt, &inst.DeletedAt,
		&credID, &username, &sealed, &keyID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}
	inst.DBType = models.DBType(dbType)

	if credID != nil {
		password, err := r.encryptor.DecryptStored(deref(sealed), deref(keyID))
		if err != nil {
			return nil, fmt.Errorf("decrypt credential for instance %d: %w", inst.ID, err)
		}
		inst.Credential = &models.Credential{ID: *credID, Username: deref(username), Password: password}
	}
	return &inst, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
