package sheets

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/tiffinledger/tiffin/internal/ledger"
	"github.com/xuri/excelize/v2"
)

const (
	revenueSheet  = "Revenue"
	customerSheet = "Customers"
	invoiceSheet  = "Invoice"
)

// CustomerRevenue is one customer's reconciliation for one month.
type CustomerRevenue struct {
	Month  ledger.Month
	UserID string
	Name   string
	Email  string
	Totals ledger.Tally
}

type RevenueReport struct {
	VendorName string
	Months     []ledger.Summary
	Customers  []CustomerRevenue
}

// RevenueWorkbook renders the report with a monthly sheet and a per-customer sheet.
func RevenueWorkbook(report RevenueReport) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", revenueSheet); err != nil {
		return nil, err
	}
	header := []any{"Month", "Delivered", "Paid", "Pending", "Delivered (INR)", "Paid (INR)", "Pending (INR)"}
	if err := f.SetSheetRow(revenueSheet, "A1", &header); err != nil {
		return nil, err
	}
	total := ledger.Combine(report.Months...).Total
	for i, m := range report.Months {
		row := tallyRow(m.Month.String(), m.Total)
		if err := f.SetSheetRow(revenueSheet, cell(1, i+2), &row); err != nil {
			return nil, err
		}
	}
	totalRow := tallyRow("Total", total)
	if err := f.SetSheetRow(revenueSheet, cell(1, len(report.Months)+2), &totalRow); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet(customerSheet); err != nil {
		return nil, err
	}
	custHeader := []any{"Month", "Customer", "Email", "Delivered", "Paid", "Pending", "Delivered (INR)", "Paid (INR)", "Pending (INR)"}
	if err := f.SetSheetRow(customerSheet, "A1", &custHeader); err != nil {
		return nil, err
	}
	for i, c := range report.Customers {
		row := []any{c.Month.String(), c.Name, c.Email}
		row = append(row, tallyRow("", c.Totals)[1:]...)
		if err := f.SetSheetRow(customerSheet, cell(1, i+2), &row); err != nil {
			return nil, err
		}
	}

	if err := f.SetDocProps(&excelize.DocProperties{Title: report.VendorName + " revenue"}); err != nil {
		return nil, err
	}
	return writeBytes(f)
}

type Invoice struct {
	Number       string
	VendorName   string
	VendorUPI    string
	CustomerName string
	CustomerMail string
	Summary      ledger.Summary
}

// InvoiceWorkbook renders a single-month invoice with a line per meal slot.
func InvoiceWorkbook(inv Invoice) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", invoiceSheet); err != nil {
		return nil, err
	}
	meta := [][]any{
		{"Invoice", inv.Number},
		{"Vendor", inv.VendorName},
		{"UPI", inv.VendorUPI},
		{"Customer", inv.CustomerName},
		{"Email", inv.CustomerMail},
		{"Month", inv.Summary.Month.String()},
		{"Status", ledger.BillStatus(inv.Summary.Total)},
	}
	for i, row := range meta {
		if err := f.SetSheetRow(invoiceSheet, cell(1, i+1), &row); err != nil {
			return nil, err
		}
	}

	start := len(meta) + 2
	header := []any{"Meal", "Rate (INR)", "Delivered", "Paid", "Pending", "Amount due (INR)"}
	if err := f.SetSheetRow(invoiceSheet, cell(1, start), &header); err != nil {
		return nil, err
	}
	for i, meal := range ledger.MealTypes {
		t := inv.Summary.Slot(meal)
		row := []any{string(meal), money(inv.Summary.Rates.For(meal)), t.Delivered, t.Paid, t.Pending, money(t.PendingAmount)}
		if err := f.SetSheetRow(invoiceSheet, cell(1, start+1+i), &row); err != nil {
			return nil, err
		}
	}
	t := inv.Summary.Total
	totalRow := []any{"Total", "", t.Delivered, t.Paid, t.Pending, money(t.PendingAmount)}
	if err := f.SetSheetRow(invoiceSheet, cell(1, start+1+len(ledger.MealTypes)), &totalRow); err != nil {
		return nil, err
	}
	return writeBytes(f)
}

func tallyRow(label string, t ledger.Tally) []any {
	return []any{label, t.Delivered, t.Paid, t.Pending, money(t.DeliveredAmount), money(t.PaidAmount), money(t.PendingAmount)}
}

func money(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}

func cell(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return "A" + strconv.Itoa(row)
	}
	return name
}

func writeBytes(f *excelize.File) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
