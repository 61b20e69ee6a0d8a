package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"retailpos/backend/internal/domain"
)

func WriteCSV(w io.Writer, report domain.DailyReport) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		{"section", "key", "transactions", "units", "amount"},
		{"summary", "date", "", "", report.Date},
		{"summary", "timezone", "", "", report.Timezone},
		{"summary", "gross_subtotal", strconv.Itoa(report.TransactionCount), "", report.GrossSubtotal.StringFixed(2)},
		{"summary", "total_discount", "", "", report.TotalDiscount.StringFixed(2)},
		{"summary", "total_tax", "", "", report.TotalTax.StringFixed(2)},
		{"summary", "total_sales", strconv.Itoa(report.TransactionCount), "", report.TotalSales.StringFixed(2)},
	}
	for _, pay := range report.ByPayment {
		rows = append(rows, []string{"payment", pay.PaymentMethod, strconv.Itoa(pay.Transactions), "", pay.Total.StringFixed(2)})
	}
	for _, p := range report.TopProducts {
		rows = append(rows, []string{"top_product", p.ProductID + " " + p.Name, "", strconv.Itoa(p.UnitsSold), p.Revenue.StringFixed(2)})
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write report csv: %w", err)
	}
	return nil
}

const (
	sheetSummary  = "Summary"
	sheetPayments = "Payments"
	sheetProducts = "Top Products"
)

func WriteXLSX(w io.Writer, report domain.DailyReport) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return err
	}
	summary := [][]any{
		{"Date", report.Date},
		{"Timezone", report.Timezone},
		{"Transactions", report.TransactionCount},
		{"Gross subtotal", money(report.GrossSubtotal.StringFixed(2))},
		{"Total discount", money(report.TotalDiscount.StringFixed(2))},
		{"Total tax", money(report.TotalTax.StringFixed(2))},
		{"Total sales", money(report.TotalSales.StringFixed(2))},
	}
	if err := writeRows(f, sheetSummary, summary); err != nil {
		return err
	}

	if _, err := f.NewSheet(sheetPayments); err != nil {
		return err
	}
	payments := [][]any{{"Payment method", "Transactions", "Total"}}
	for _, pay := range report.ByPayment {
		payments = append(payments, []any{pay.PaymentMethod, pay.Transactions, money(pay.Total.StringFixed(2))})
	}
	if err := writeRows(f, sheetPayments, payments); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetPayments, "A1", "C1", headerStyle); err != nil {
		return err
	}

	if _, err := f.NewSheet(sheetProducts); err != nil {
		return err
	}
	products := [][]any{{"Rank", "Product ID", "SKU", "Name", "Units sold", "Revenue"}}
	for i, p := range report.TopProducts {
		products = append(products, []any{i + 1, p.ProductID, p.SKU, p.Name, p.UnitsSold, money(p.Revenue.StringFixed(2))})
	}
	if err := writeRows(f, sheetProducts, products); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetProducts, "A1", "F1", headerStyle); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write report xlsx: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for r, row := range rows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// money keeps two decimals as a number cell when it parses, text otherwise.
func money(fixed string) any {
	if v, err := strconv.ParseFloat(fixed, 64); err == nil {
		return v
	}
	return fixed
}
