package catalog

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/adumitrescu/onlineshop/internal/domain"
)

// ProductRepository is the inventory ledger. Stock mutations are
// single atomic UPDATEs guarded in SQL, so the stock >= 0 invariant
// holds under concurrent callers.
type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) Create(ctx context.Context, product *domain.Product) error {
	product.ID = uuid.New().String()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, code, description, price, currency, stock, valid, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, product.ID, product.Code, product.Description, product.Price, product.Currency, product.Stock, product.Valid)
	return err
}

func (r *ProductRepository) GetByCode(ctx context.Context, code string) (*domain.Product, error) {
	product := &domain.Product{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, code, description, price, currency, stock, valid, created_at
		FROM products
		WHERE code = $1
	`, code).Scan(&product.ID, &product.Code, &product.Description, &product.Price,
		&product.Currency, &product.Stock, &product.Valid, &product.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return product, nil
}

func (r *ProductRepository) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, code, description, price, currency, stock, valid, created_at
		FROM products
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var products []domain.Product
	for rows.Next() {
		var product domain.Product
		if err := rows.Scan(&product.ID, &product.Code, &product.Description, &product.Price,
			&product.Currency, &product.Stock, &product.Valid, &product.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

// Update rewrites the mutable fields of the product identified by its
// code. The id and code are immutable.
func (r *ProductRepository) Update(ctx context.Context, product *domain.Product) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET description = $2, price = $3, currency = $4, stock = $5, valid = $6, updated_at = NOW()
		WHERE code = $1
	`, product.Code, product.Description, product.Price, product.Currency, product.Stock, product.Valid)
	if err != nil {
		return err
	}

	return errIfNoRows(result, domain.ErrInvalidProductCode)
}

func (r *ProductRepository) Delete(ctx context.Context, code string) error {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM products
		WHERE code = $1
	`, code)
	if err != nil {
		return err
	}

	return errIfNoRows(result, domain.ErrInvalidProductCode)
}

// AddStock increments the stock of the product with the given code.
func (r *ProductRepository) AddStock(ctx context.Context, code string, quantity int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = NOW()
		WHERE code = $1
	`, code, quantity)
	if err != nil {
		return err
	}

	return errIfNoRows(result, domain.ErrInvalidProductCode)
}

func errIfNoRows(result sql.Result, missing error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return missing
	}
	return nil
}
