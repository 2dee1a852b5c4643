package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger types mirror the accounting schema in the repository migrations.
// They carry data only; nothing in this service posts entries.

type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountEquity    AccountType = "equity"
	AccountRevenue   AccountType = "revenue"
	AccountExpense   AccountType = "expense"
)

type LedgerAccount struct {
	ID        int64       `json:"id"`
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	Type      AccountType `json:"type"`
	ParentID  *int64      `json:"parent_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

type JournalEntry struct {
	ID          int64     `json:"id"`
	EntryDate   time.Time `json:"entry_date"`
	Reference   string    `json:"reference"`
	Description string    `json:"description"`
	Postings    []Posting `json:"postings"`
	CreatedAt   time.Time `json:"created_at"`
}

// Posting is one side of a journal entry. Exactly one of Debit and Credit is
// non-zero.
type Posting struct {
	ID        int64           `json:"id"`
	EntryID   int64           `json:"entry_id"`
	AccountID int64           `json:"account_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Memo      string          `json:"memo,omitempty"`
}
