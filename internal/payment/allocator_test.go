package payment

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freshroute/backend/internal/domain"
	"freshroute/backend/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2))
}

func TestAllocateExactCash(t *testing.T) {
	alloc := Allocate(Input{TotalDue: d("1000"), Cash: d("1000")})

	assertMoney(t, "0.00", alloc.Change)
	assertMoney(t, "0.00", alloc.Outstanding)
	assertMoney(t, "1000.00", alloc.AppliedCash)
	assert.Equal(t, "Cash (1000.00)", alloc.Summary)
}

func TestAllocateCashOverpaymentGivesChange(t *testing.T) {
	alloc := Allocate(Input{TotalDue: d("1000"), Cash: d("1200")})

	assertMoney(t, "200.00", alloc.Change)
	assertMoney(t, "0.00", alloc.Outstanding)
	assertMoney(t, "1000.00", alloc.TotalApplied)
	assert.Equal(t, "Cash (1000.00)", alloc.Summary)
}

func TestAllocateCashAbsorbsChangeInSplit(t *testing.T) {
	alloc := Allocate(Input{TotalDue: d("1000"), Cheque: d("700"), Cash: d("500")})

	assertMoney(t, "200.00", alloc.Change)
	assertMoney(t, "700.00", alloc.AppliedCheque)
	assertMoney(t, "300.00", alloc.AppliedCash)
	assertMoney(t, "0.00", alloc.Outstanding)
	assert.Equal(t, "Split(Cash (300.00), Cheque (700.00))", alloc.Summary)
}

func TestAllocateNonCashOverpaymentIsExcess(t *testing.T) {
	alloc := Allocate(Input{TotalDue: d("100"), Cheque: d("150"), Cash: d("50")})

	assertMoney(t, "50.00", alloc.Change)
	assertMoney(t, "0.00", alloc.AppliedCash)
	assertMoney(t, "50.00", alloc.Excess)
	assertMoney(t, "0.00", alloc.Outstanding)
}

func TestAllocateCreditIsClamped(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		available string
		due       string
		want      string
	}{
		{"request below available", "100", "300", "1000", "100.00"},
		{"available caps request", "500", "300", "1000", "300.00"},
		{"due caps request", "500", "800", "400", "400.00"},
		{"negative request", "-50", "300", "1000", "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alloc := Allocate(Input{TotalDue: d(tt.due), CreditAvailable: d(tt.available), CreditRequested: d(tt.requested)})
			assertMoney(t, tt.want, alloc.AppliedCredit)
		})
	}
}

func TestAllocatePartialLeavesOutstanding(t *testing.T) {
	alloc := Allocate(Input{TotalDue: d("1000"), CreditAvailable: d("100"), CreditRequested: d("100"), Cash: d("400")})

	assertMoney(t, "500.00", alloc.Outstanding)
	assertMoney(t, "0.00", alloc.Change)
	assert.Equal(t, "Split(Credit (100.00), Cash (400.00)), Outstanding: 500.00", alloc.Summary)
}

func TestAllocateNoTenderIsFullCredit(t *testing.T) {
	alloc := Allocate(Input{TotalDue: d("750")})

	assertMoney(t, "750.00", alloc.Outstanding)
	assert.Equal(t, "Full Credit", alloc.Summary)
}

func TestAllocateZeroDueCollectsNothing(t *testing.T) {
	for _, in := range []Input{
		{TotalDue: decimal.Zero},
		{TotalDue: decimal.Zero, Cash: d("500")},
		{TotalDue: decimal.Zero, Cheque: d("20"), BankTransfer: d("5"), CreditRequested: d("10"), CreditAvailable: d("10")},
	} {
		alloc := Allocate(in)
		assertMoney(t, "0.00", alloc.Change)
		assertMoney(t, "0.00", alloc.Outstanding)
		assertMoney(t, "0.00", alloc.TotalApplied)
		assert.Equal(t, "No Charge", alloc.Summary)
	}
}

func TestAllocateBalances(t *testing.T) {
	inputs := []Input{
		{TotalDue: d("999.99"), Cash: d("1000")},
		{TotalDue: d("250"), Cheque: d("100"), BankTransfer: d("50")},
		{TotalDue: d("80.5"), CreditAvailable: d("20"), CreditRequested: d("20"), Cash: d("70")},
		{TotalDue: d("10"), BankTransfer: d("10"), Cash: d("5")},
	}
	for _, in := range inputs {
		alloc := Allocate(in)
		assert.True(t, alloc.TotalApplied.Sub(alloc.Excess).Add(alloc.Outstanding).Equal(in.TotalDue), "due %s", in.TotalDue)
		assert.False(t, alloc.Change.IsNegative())
		assert.True(t, alloc.Change.LessThanOrEqual(in.Cash))
	}
}

func TestSummarizeBankTransferOnly(t *testing.T) {
	got := Summarize(Breakdown{BankTransfer: d("42")}, decimal.Zero, d("42"))
	assert.Equal(t, "Bank Transfer (42.00)", got)
}

func TestValidateTender(t *testing.T) {
	require.NoError(t, ValidateTender(domain.Tender{Cash: d("10")}))

	err := ValidateTender(domain.Tender{Cheque: d("10")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrValidation))
	var verr *store.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "cheque_number", verr.Field)

	err = ValidateTender(domain.Tender{BankTransfer: d("10"), BankReference: "TRX-1"})
	require.ErrorIs(t, err, store.ErrValidation)

	err = ValidateTender(domain.Tender{Cash: d("-1")})
	require.ErrorIs(t, err, store.ErrValidation)
}
