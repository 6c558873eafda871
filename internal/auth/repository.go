package auth

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/adumitrescu/onlineshop/internal/domain"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	user.ID = uuid.New().String()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, role)
		VALUES ($1, $2, $3)
	`, user.ID, user.Email, user.Role)
	return err
}

// GetRole implements RoleResolver. An unknown actor id resolves to
// domain.ErrInvalidCustomerID.
func (r *UserRepository) GetRole(ctx context.Context, actorID string) (domain.Role, error) {
	var role domain.Role

	err := r.db.QueryRowContext(ctx, `
		SELECT role
		FROM users
		WHERE id = $1
	`, actorID).Scan(&role)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", domain.ErrInvalidCustomerID
		}
		return "", err
	}

	return role, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	user := &domain.User{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, role
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.Email, &user.Role)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return user, nil
}
