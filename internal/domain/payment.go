package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Provider string

const (
	ProviderBankTransferQR Provider = "bank-transfer-qr"
	ProviderWalletQR       Provider = "wallet-qr"
)

func (p Provider) Valid() bool {
	return p == ProviderBankTransferQR || p == ProviderWalletQR
}

// PaymentMethod is what the shopper picks at checkout. Prepaid methods map
// one to one onto a provider.
type PaymentMethod string

const (
	MethodCashOnDelivery PaymentMethod = "cod"
	MethodBankTransferQR PaymentMethod = PaymentMethod(ProviderBankTransferQR)
	MethodWalletQR       PaymentMethod = PaymentMethod(ProviderWalletQR)
)

func (m PaymentMethod) Valid() bool {
	return m == MethodCashOnDelivery || m.RequiresPrepayment()
}

func (m PaymentMethod) RequiresPrepayment() bool {
	return Provider(m).Valid()
}

func (m PaymentMethod) Provider() Provider {
	return Provider(m)
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentExpired PaymentStatus = "expired"
	PaymentFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentPaid || s == PaymentExpired || s == PaymentFailed
}

// String representation (for logging)
func (s PaymentStatus) String() string {
	return string(s)
}

// ParsePaymentStatus maps provider spellings onto the four statuses. Anything
// unknown is treated as still pending.
func ParsePaymentStatus(raw string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "paid", "success", "completed":
		return PaymentPaid
	case "expired", "timeout":
		return PaymentExpired
	case "failed", "cancelled", "canceled":
		return PaymentFailed
	default:
		return PaymentPending
	}
}

// CanTransitionTo allows only pending -> terminal. Terminal states never move.
func CanTransitionTo(from, to PaymentStatus) bool {
	return from == PaymentPending && to.IsTerminal()
}

// PaymentIntent is an amount-bound, provider-specific request for payment.
// Amount never changes after creation. ShippingFee is the part of Amount
// charged for delivery.
type PaymentIntent struct {
	ReferenceCode string          `json:"reference_code"`
	Amount        decimal.Decimal `json:"amount"`
	ShippingFee   decimal.Decimal `json:"shipping_fee"`
	Provider      Provider        `json:"provider"`
	QRDescriptor  string          `json:"qr_descriptor"`
	TransferMemo  string          `json:"transfer_memo"`
	Status        PaymentStatus   `json:"status"`
	OwnerID       string          `json:"owner_id"`
	OrderID       string          `json:"order_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (p *PaymentIntent) IsPending() bool {
	return p != nil && p.Status == PaymentPending
}

func (p *PaymentIntent) Clone() *PaymentIntent {
	if p == nil {
		return nil
	}
	out := *p
	return &out
}
