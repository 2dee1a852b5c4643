package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(cred *Credentials) (*Repository, error) {
	sslMode := cred.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName,
		sslMode)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "storefront_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

// RecordPlacement returns ErrDuplicatePlacement when the key was already
// recorded.
func (r *Repository) RecordPlacement(ctx context.Context, p *Placement) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	query := `INSERT INTO placements (id, placement_key, order_id, owner_id, reference_code, payment_method, total_amount, placed_at)
	          VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, COALESCE($8, NOW()))`

	var placedAt sql.NullTime
	if !p.PlacedAt.IsZero() {
		placedAt = sql.NullTime{Time: p.PlacedAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Key,
		p.OrderID,
		p.OwnerID,
		p.ReferenceCode,
		string(p.Method),
		p.Total.String(),
		placedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicatePlacement
		}
		return fmt.Errorf("insert placement: %w", err)
	}
	return nil
}

func (r *Repository) GetPlacement(ctx context.Context, key string) (*Placement, error) {
	query := `SELECT id, placement_key, order_id, owner_id, COALESCE(reference_code, ''), payment_method, total_amount::text, placed_at
	          FROM placements WHERE placement_key = $1`

	var (
		p      Placement
		method string
		total  string
	)
	err := r.db.QueryRowContext(ctx, query, key).Scan(
		&p.ID,
		&p.Key,
		&p.OrderID,
		&p.OwnerID,
		&p.ReferenceCode,
		&method,
		&total,
		&p.PlacedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlacementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query placement: %w", err)
	}
	p.Method = domain.PaymentMethod(method)
	if p.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse placement total: %w", err)
	}
	return &p, nil
}

// ListAccounts returns the chart of accounts seeded by the ledger migration.
func (r *Repository) ListAccounts(ctx context.Context) ([]domain.LedgerAccount, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, code, name, type, parent_id, created_at FROM accounts ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.LedgerAccount
	for rows.Next() {
		var (
			a        domain.LedgerAccount
			kind     string
			parentID sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &kind, &parentID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		a.Type = domain.AccountType(kind)
		if parentID.Valid {
			a.ParentID = &parentID.Int64
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return accounts, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
