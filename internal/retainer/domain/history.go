package domain

import (
	"iter"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
)

// EntryKind identifies the source of a ledger history entry.
type EntryKind string

const (
	EntryKindDeposit     EntryKind = "deposit"
	EntryKindConsumption EntryKind = "consumption"
	EntryKindRefund      EntryKind = "refund"
)

// LedgerEntry is one line of the reconstructed history. Amount is signed.
type LedgerEntry struct {
	ID           snowflake.ID `json:"id,omitempty"`
	Kind         EntryKind    `json:"kind"`
	Date         time.Time    `json:"date"`
	Amount       int64        `json:"amount"`
	BalanceAfter int64        `json:"balance_after"`
	Reference    string       `json:"reference,omitempty"`
	Description  string       `json:"description,omitempty"`
}

// rank orders entries that share a timestamp: a refund closes the ledger,
// and a consumption can only follow the deposit that funded it.
func (k EntryKind) rank() int {
	switch k {
	case EntryKindDeposit:
		return 0
	case EntryKindConsumption:
		return 1
	default:
		return 2
	}
}

type indexedEntry struct {
	LedgerEntry
	index int
}

// Reconstruct yields the merged history of r, most recent first.
// The sequence is derived from the snapshot on every iteration and never persisted.
func Reconstruct(r Retainer) iter.Seq[LedgerEntry] {
	return func(yield func(LedgerEntry) bool) {
		entries := chronological(r)
		for i := len(entries) - 1; i >= 0; i-- {
			if !yield(entries[i].LedgerEntry) {
				return
			}
		}
	}
}

// History collects Reconstruct into a slice.
func History(r Retainer) []LedgerEntry {
	out := make([]LedgerEntry, 0, len(r.Deposits)+len(r.Consumptions)+1)
	for entry := range Reconstruct(r) {
		out = append(out, entry)
	}
	return out
}

// chronological returns entries oldest first with running balances.
func chronological(r Retainer) []indexedEntry {
	entries := make([]indexedEntry, 0, len(r.Deposits)+len(r.Consumptions)+1)
	for i, d := range r.Deposits {
		entries = append(entries, indexedEntry{
			LedgerEntry: LedgerEntry{
				ID:        d.ID,
				Kind:      EntryKindDeposit,
				Date:      d.Date,
				Amount:    d.Amount,
				Reference: d.PaymentRef,
			},
			index: i,
		})
	}
	for i, c := range r.Consumptions {
		entries = append(entries, indexedEntry{
			LedgerEntry: LedgerEntry{
				ID:          c.ID,
				Kind:        EntryKindConsumption,
				Date:        c.Date,
				Amount:      -c.Amount,
				Reference:   c.InvoiceRef,
				Description: c.Description,
			},
			index: i,
		})
	}
	if r.Status == StatusRefunded && r.RefundedAt != nil {
		entries = append(entries, indexedEntry{
			LedgerEntry: LedgerEntry{
				Kind:        EntryKindRefund,
				Date:        *r.RefundedAt,
				Amount:      -r.RefundedAmount,
				Description: r.RefundReason,
			},
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Kind != b.Kind {
			return a.Kind.rank() < b.Kind.rank()
		}
		return a.index < b.index
	})

	var balance int64
	for i := range entries {
		balance += entries[i].Amount
		entries[i].BalanceAfter = balance
	}
	return entries
}
