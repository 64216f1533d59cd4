package httpapi

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"

	"github.com/rs/zerolog"

	"freshroute/backend/internal/domain"
	"freshroute/backend/internal/payment"
	"freshroute/backend/internal/store"
)

// errorStatus maps service errors onto HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrConcurrencyConflict),
		errors.Is(err, store.ErrSaleCancelled),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, store.ErrInsufficientPayment),
		errors.Is(err, store.ErrCustomerRequired),
		errors.Is(err, store.ErrRefundExceedsDue),
		errors.Is(err, store.ErrNothingToProcess):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the status errorStatus picks for it.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		a.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}

	body := map[string]any{"error": err.Error()}
	if status >= http.StatusInternalServerError {
		body["error"] = "internal server error"
	}
	var verr *store.ValidationError
	if errors.As(err, &verr) && verr.Field != "" {
		body["field"] = verr.Field
	}
	var serr *store.StockError
	if errors.As(err, &serr) {
		body["product_id"] = serr.ProductID
		body["available"] = serr.Available
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeDayEndCSV renders the report as section,key,value rows.
func writeDayEndCSV(w http.ResponseWriter, report domain.DayEndReport, log zerolog.Logger) {
	rows := [][]string{
		{"section", "key", "value"},
		{"summary", "date", report.Date},
		{"summary", "sales_count", strconv.Itoa(report.SalesCount)},
		{"summary", "returns_count", strconv.Itoa(report.ReturnsCount)},
		{"sales", "gross_sales", payment.Format(report.GrossSales)},
		{"sales", "discounts_today", payment.Format(report.DiscountsToday)},
		{"sales", "returns_value_today", payment.Format(report.ReturnsValueToday)},
		{"sales", "free_items_value", payment.Format(report.FreeItemsValue)},
		{"sales", "net_sales", payment.Format(report.NetSales)},
		{"cash", "cash_from_sales", payment.Format(report.CashFromSales)},
		{"cash", "cash_from_credit_payments", payment.Format(report.CashFromCreditPayments)},
		{"cash", "cash_paid_out_for_refunds", payment.Format(report.CashPaidOutForRefunds)},
		{"cash", "expenses_today", payment.Format(report.ExpensesToday)},
		{"cash", "net_cash_in_hand", payment.Format(report.NetCashInHand)},
		{"tender", "cheque_total", payment.Format(report.ChequeTotal)},
		{"tender", "bank_transfer_total", payment.Format(report.BankTransferTotal)},
		{"tender", "credit_used_total", payment.Format(report.CreditUsedTotal)},
		{"accounts", "return_credit_to_accounts", payment.Format(report.ReturnCreditToAccounts)},
		{"accounts", "outstanding_created", payment.Format(report.OutstandingCreated)},
	}

	categories := make([]string, 0, len(report.ExpensesByCategory))
	for category := range report.ExpensesByCategory {
		categories = append(categories, category)
	}
	slices.Sort(categories)
	for _, category := range categories {
		rows = append(rows, []string{"expense", category, payment.Format(report.ExpensesByCategory[category])})
	}
	for _, sample := range report.SamplesIssued {
		rows = append(rows, []string{"sample", sample.ProductID, fmt.Sprintf("%d @ %s", sample.Quantity, payment.Format(sample.Value))})
	}
	rows = append(rows, []string{"sample", "samples_value", payment.Format(report.SamplesValue)})

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="day-end-%s.csv"`, report.Date))
	w.WriteHeader(http.StatusOK)

	out := csv.NewWriter(w)
	if err := out.WriteAll(rows); err != nil {
		log.Error().Err(err).Str("date", report.Date).Msg("write day-end csv")
	}
}
