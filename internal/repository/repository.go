package repository

import (
	"context"
	"errors"
	"time"

	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrPlacementNotFound  = errors.New("placement not found")
	ErrDuplicatePlacement = errors.New("order for this placement key already exists")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	SSLMode           string
	MigrationsDirPath string
}

// Placement is the audit row written once per placed order. Key is the
// payment reference code for prepaid orders and the checkout key otherwise.
type Placement struct {
	ID            string
	Key           string
	OrderID       string
	OwnerID       string
	ReferenceCode string
	Method        domain.PaymentMethod
	Total         decimal.Decimal
	PlacedAt      time.Time
}

type PlacementRepository interface {
	RecordPlacement(ctx context.Context, p *Placement) error
	GetPlacement(ctx context.Context, key string) (*Placement, error)
	ListAccounts(ctx context.Context) ([]domain.LedgerAccount, error)
	RunMigrations(*Credentials) error
	Close() error
}
