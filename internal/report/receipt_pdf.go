package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"retailpos/backend/internal/domain"
)

// WriteReceiptPDF renders the customer-facing receipt snapshot on
// thermal-receipt sized paper.
func WriteReceiptPDF(w io.Writer, receipt domain.Receipt, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	snap := receipt.Snapshot
	height := 80 + float64(len(snap.Items))*5

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: 74, Ht: height},
	})
	pdf.SetMargins(4, 4, 4)
	pdf.SetAutoPageBreak(false, 4)
	pdf.AddPage()

	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 8

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(contentW, 7, "Receipt", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 7)
	pdf.CellFormat(contentW, 4, snap.ReceiptNumber, "", 1, "L", false, 0, "")
	pdf.CellFormat(contentW, 4, "Sale "+snap.SaleNumber, "", 1, "L", false, 0, "")
	pdf.CellFormat(contentW, 4, snap.IssuedAt.In(loc).Format("2006-01-02 15:04"), "", 1, "L", false, 0, "")
	if snap.CustomerName != "" {
		pdf.CellFormat(contentW, 4, "Customer: "+snap.CustomerName, "", 1, "L", false, 0, "")
	}
	pdf.Ln(1)
	pdf.Line(4, pdf.GetY(), pageW-4, pdf.GetY())
	pdf.Ln(1)

	col1 := contentW * 0.52
	col2 := contentW * 0.16
	col3 := contentW * 0.32

	pdf.SetFont("Helvetica", "B", 7)
	pdf.CellFormat(col1, 5, "Item", "B", 0, "L", false, 0, "")
	pdf.CellFormat(col2, 5, "Qty", "B", 0, "C", false, 0, "")
	pdf.CellFormat(col3, 5, "Amount", "B", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 7)
	for _, item := range snap.Items {
		name := item.Name
		if len(name) > 24 {
			name = name[:23] + "."
		}
		pdf.CellFormat(col1, 5, name, "", 0, "L", false, 0, "")
		pdf.CellFormat(col2, 5, fmt.Sprintf("x%d", item.Quantity), "", 0, "C", false, 0, "")
		pdf.CellFormat(col3, 5, item.LineTotal.StringFixed(2), "", 1, "R", false, 0, "")
	}

	pdf.Ln(1)
	pdf.Line(4, pdf.GetY(), pageW-4, pdf.GetY())
	pdf.Ln(1)

	totalRow := func(label string, value string) {
		pdf.CellFormat(col1+col2, 5, label, "", 0, "L", false, 0, "")
		pdf.CellFormat(col3, 5, value, "", 1, "R", false, 0, "")
	}
	totalRow("Subtotal", snap.Subtotal.StringFixed(2))
	if !snap.Discount.IsZero() {
		totalRow(fmt.Sprintf("Discount (%s%%)", snap.DiscountPercent.String()), "-"+snap.Discount.StringFixed(2))
	}
	totalRow(fmt.Sprintf("Tax (%s%%)", snap.TaxRate.Shift(2).String()), snap.Tax.StringFixed(2))

	pdf.SetFont("Helvetica", "B", 9)
	totalRow("TOTAL", snap.Total.StringFixed(2))

	pdf.SetFont("Helvetica", "", 7)
	totalRow("Paid by", strings.ToUpper(snap.PaymentMethod))

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write receipt pdf: %w", err)
	}
	return nil
}
