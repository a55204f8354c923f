package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/boutique-orders/internal/domain/apperr"
	"github.com/xenking/boutique-orders/internal/domain/inventory"
	"github.com/xenking/boutique-orders/internal/domain/product"
)

const (
	productColumns = `id, nom, prix, prix_reduit, quantity, images`
	variantColumns = `id, product_id, taille, couleur, quantity, prix`

	getProductByIDSQL   = `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`
	getVariantsByIDsSQL = `SELECT ` + variantColumns + ` FROM product_variants WHERE id = ANY($1)`
	productStockSQL     = `SELECT quantity FROM products WHERE id = $1`
	variantStockSQL     = `SELECT quantity FROM product_variants WHERE id = $2 AND product_id = $1`
	insertVariantSQL    = `INSERT INTO product_variants (` + variantColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	reserveProductSQL   = `UPDATE products SET quantity = quantity - $2, updated_at = now() WHERE id = $1 AND quantity >= $2`
	reserveVariantSQL   = `UPDATE product_variants SET quantity = quantity - $3 WHERE id = $2 AND product_id = $1 AND quantity >= $3`
	releaseProductSQL   = `UPDATE products SET quantity = quantity + $2, updated_at = now() WHERE id = $1`
	releaseVariantSQL   = `UPDATE product_variants SET quantity = quantity + $3 WHERE id = $2 AND product_id = $1`
	upsertProductSQL    = `INSERT INTO products (` + productColumns + `) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			nom = EXCLUDED.nom,
			prix = EXCLUDED.prix,
			prix_reduit = EXCLUDED.prix_reduit,
			quantity = EXCLUDED.quantity,
			images = EXCLUDED.images,
			updated_at = now()`
	upsertVariantSQL = `INSERT INTO product_variants (` + variantColumns + `) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (product_id, taille, couleur) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			prix = EXCLUDED.prix`
)

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ inventory.Reader   = (*ProductRepository)(nil)
	_ inventory.Reserver = stockReserver{}
)

// ProductRepository implements product.Repository and inventory.Reader
// backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetVariantsByIDs returns variants matching any of the given IDs.
func (r *ProductRepository) GetVariantsByIDs(ctx context.Context, ids []string) ([]product.Variant, error) {
	rows, err := r.pool.Query(ctx, getVariantsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting variants by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanVariant)
}

// CreateVariant inserts a variant. A second variant with the same size and
// color yields an integrity error matching product.ErrVariantExists.
func (r *ProductRepository) CreateVariant(ctx context.Context, v *product.Variant) error {
	_, err := r.pool.Exec(ctx, insertVariantSQL, v.ID, v.ProductID, v.Size, v.Color, v.Quantity, v.Price)
	if err != nil {
		if pgErr, ok := pgError(err, codeUniqueViolation); ok {
			return apperr.Integrity(pgErr.ConstraintName, product.ErrVariantExists)
		}
		if _, ok := pgError(err, codeForeignKeyViolation); ok {
			return product.ErrNotFound
		}
		return fmt.Errorf("creating variant of product %q: %w", v.ProductID, err)
	}
	return nil
}

// StockLevel reads the quantity of a variant, or of the product when
// variantID is nil.
func (r *ProductRepository) StockLevel(ctx context.Context, productID string, variantID *string) (int, error) {
	var (
		level int
		err   error
	)
	if variantID != nil {
		err = r.pool.QueryRow(ctx, variantStockSQL, productID, *variantID).Scan(&level)
	} else {
		err = r.pool.QueryRow(ctx, productStockSQL, productID).Scan(&level)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, inventory.ErrUnknownItem
		}
		return 0, fmt.Errorf("reading stock of product %q: %w", productID, err)
	}
	return level, nil
}

// UpsertCatalog writes products and their variants in one transaction.
// Variants are matched on (product, size, color).
func (r *ProductRepository) UpsertCatalog(ctx context.Context, products []product.Product, variants []product.Variant) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, p := range products {
			images := p.Images
			if images == nil {
				images = []string{}
			}
			if _, err := tx.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price, p.ReducedPrice, p.Quantity, images); err != nil {
				return fmt.Errorf("upserting product %q: %w", p.ID, err)
			}
		}
		for _, v := range variants {
			if _, err := tx.Exec(ctx, upsertVariantSQL, v.ID, v.ProductID, v.Size, v.Color, v.Quantity, v.Price); err != nil {
				return fmt.Errorf("upserting variant %q: %w", v.ID, err)
			}
		}
		return nil
	})
}

// stockReserver takes and returns stock within a transaction.
type stockReserver struct {
	q querier
}

func (s stockReserver) Reserve(ctx context.Context, req inventory.Request) (inventory.Reservation, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if req.VariantID != nil {
		tag, err = s.q.Exec(ctx, reserveVariantSQL, req.ProductID, *req.VariantID, req.Quantity)
	} else {
		tag, err = s.q.Exec(ctx, reserveProductSQL, req.ProductID, req.Quantity)
	}
	if err != nil {
		return inventory.Reservation{}, fmt.Errorf("reserving stock of product %q: %w", req.ProductID, err)
	}
	if tag.RowsAffected() == 0 {
		return inventory.Reservation{}, inventory.ErrOutOfStock
	}
	return inventory.Reservation{Request: req}, nil
}

func (s stockReserver) Release(ctx context.Context, r inventory.Reservation) error {
	var err error
	if r.VariantID != nil {
		_, err = s.q.Exec(ctx, releaseVariantSQL, r.ProductID, *r.VariantID, r.Quantity)
	} else {
		_, err = s.q.Exec(ctx, releaseProductSQL, r.ProductID, r.Quantity)
	}
	if err != nil {
		return fmt.Errorf("releasing stock of product %q: %w", r.ProductID, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.ReducedPrice, &p.Quantity, &p.Images)
	return p, err
}

func scanVariant(row pgx.CollectableRow) (product.Variant, error) {
	var v product.Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.Size, &v.Color, &v.Quantity, &v.Price)
	return v, err
}
