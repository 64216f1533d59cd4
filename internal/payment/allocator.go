// Package payment splits one tender across account credit, cash, cheque and
// bank transfer. Cash absorbs any change; cheque and bank transfer amounts
// are never reduced.
package payment

import (
	"strings"

	"github.com/shopspring/decimal"

	"freshroute/backend/internal/domain"
	"freshroute/backend/internal/store"
)

type Input struct {
	TotalDue        decimal.Decimal
	CreditAvailable decimal.Decimal
	CreditRequested decimal.Decimal
	Cash            decimal.Decimal
	Cheque          decimal.Decimal
	BankTransfer    decimal.Decimal
}

// InputFromTender fills the tender side of an Input.
func InputFromTender(totalDue decimal.Decimal, creditAvailable decimal.Decimal, t domain.Tender) Input {
	return Input{
		TotalDue:        totalDue,
		CreditAvailable: creditAvailable,
		CreditRequested: t.CreditRequested,
		Cash:            t.Cash,
		Cheque:          t.Cheque,
		BankTransfer:    t.BankTransfer,
	}
}

type Allocation struct {
	AppliedCredit       decimal.Decimal
	AppliedCash         decimal.Decimal
	AppliedCheque       decimal.Decimal
	AppliedBankTransfer decimal.Decimal
	Change              decimal.Decimal
	TotalApplied        decimal.Decimal
	Outstanding         decimal.Decimal
	// Excess is non-cash overpayment that change could not absorb.
	Excess  decimal.Decimal
	Summary string
}

func Allocate(in Input) Allocation {
	due := in.TotalDue
	if !due.IsPositive() {
		return Allocation{Summary: "No Charge"}
	}

	cash := nonNegative(in.Cash)
	cheque := nonNegative(in.Cheque)
	bank := nonNegative(in.BankTransfer)

	credit := decimal.Min(nonNegative(in.CreditRequested), nonNegative(in.CreditAvailable), due)
	tendered := cash.Add(cheque).Add(bank)
	remaining := due.Sub(credit)

	change := decimal.Zero
	if tendered.GreaterThan(remaining) && cash.IsPositive() {
		change = nonNegative(cash.Sub(remaining.Sub(cheque.Add(bank))))
		change = decimal.Min(change, cash)
	}

	applied := tendered.Add(credit).Sub(change)
	alloc := Allocation{
		AppliedCredit:       credit,
		AppliedCash:         cash.Sub(change),
		AppliedCheque:       cheque,
		AppliedBankTransfer: bank,
		Change:              change,
		TotalApplied:        applied,
		Outstanding:         nonNegative(due.Sub(applied)),
		Excess:              nonNegative(applied.Sub(due)),
	}
	alloc.Summary = Summarize(Breakdown{
		Credit:       alloc.AppliedCredit,
		Cash:         alloc.AppliedCash,
		Cheque:       alloc.AppliedCheque,
		BankTransfer: alloc.AppliedBankTransfer,
	}, alloc.Outstanding, due)
	return alloc
}

// Breakdown is the applied amount per method.
type Breakdown struct {
	Credit       decimal.Decimal
	Cash         decimal.Decimal
	Cheque       decimal.Decimal
	BankTransfer decimal.Decimal
}

// Summarize renders the payment summary, e.g. "Cash (1000.00)" or
// "Split(Credit (100.00), Cash (400.00)), Outstanding: 500.00".
func Summarize(b Breakdown, outstanding decimal.Decimal, totalDue decimal.Decimal) string {
	if !totalDue.IsPositive() {
		return "No Charge"
	}

	parts := make([]string, 0, 4)
	for _, m := range []struct {
		name   string
		amount decimal.Decimal
	}{
		{"Credit", b.Credit},
		{"Cash", b.Cash},
		{"Cheque", b.Cheque},
		{"Bank Transfer", b.BankTransfer},
	} {
		if m.amount.IsPositive() {
			parts = append(parts, m.name+" ("+Format(m.amount)+")")
		}
	}

	if len(parts) == 0 && outstanding.Equal(totalDue) {
		return "Full Credit"
	}

	summary := strings.Join(parts, ", ")
	if len(parts) > 1 {
		summary = "Split(" + summary + ")"
	}
	if outstanding.IsPositive() {
		if summary != "" {
			summary += ", "
		}
		summary += "Outstanding: " + Format(outstanding)
	}
	return summary
}

// Format renders money with two decimals.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// ValidateTender checks amounts are non-negative and that cheque and bank
// transfer amounts carry a reference.
func ValidateTender(t domain.Tender) error {
	for _, f := range []struct {
		field  string
		amount decimal.Decimal
	}{
		{"cash", t.Cash},
		{"cheque", t.Cheque},
		{"bank_transfer", t.BankTransfer},
		{"credit_requested", t.CreditRequested},
	} {
		if f.amount.IsNegative() {
			return store.Invalid(f.field, "must not be negative")
		}
		if err := CheckCents(f.field, f.amount); err != nil {
			return err
		}
	}
	if t.Cheque.IsPositive() && strings.TrimSpace(t.ChequeNumber) == "" {
		return store.Invalid("cheque_number", "required when a cheque amount is given")
	}
	if t.BankTransfer.IsPositive() && strings.TrimSpace(t.BankName) == "" {
		return store.Invalid("bank_name", "required when a bank transfer amount is given")
	}
	return nil
}

// CheckCents rejects amounts finer than one cent. Every stored money column
// holds two decimals.
func CheckCents(field string, d decimal.Decimal) error {
	if !d.Equal(d.Round(2)) {
		return store.Invalid(field, "at most 2 decimal places")
	}
	return nil
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
