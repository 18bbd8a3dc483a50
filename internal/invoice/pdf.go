package invoice

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"appointment-service/internal/models"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
)

// Document is the data rendered into an invoice PDF.
type Document struct {
	Invoice  *models.Invoice
	Services []models.ServiceLine
	Supplies []models.SupplyLine
	Location *time.Location
}

// Number builds the invoice number of an appointment issued at t.
func Number(appointmentID string, t time.Time) string {
	short := strings.ReplaceAll(appointmentID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("INV-%s-%s", t.UTC().Format("20060102"), strings.ToUpper(short))
}

// RenderPDF renders the document as an A4 PDF.
func RenderPDF(doc Document) ([]byte, error) {
	if doc.Invoice == nil {
		return nil, fmt.Errorf("invoice is required")
	}
	loc := doc.Location
	if loc == nil {
		loc = time.UTC
	}
	inv := doc.Invoice

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(15, 15, 15)
	pdf.SetTitle(inv.InvoiceNumber, true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, tr(inv.BusinessName), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	for _, line := range []string{inv.BusinessDocument, inv.BusinessAddress, inv.BusinessPhone} {
		if line != "" {
			pdf.CellFormat(0, 5, tr(line), "", 1, "L", false, 0, "")
		}
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, tr("Fatura "+inv.InvoiceNumber), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	detailRow(pdf, tr, "Emitida em", inv.IssuedAt.In(loc).Format("02/01/2006 15:04"))
	detailRow(pdf, tr, "Cliente", inv.CustomerName)
	if inv.CustomerEmail != "" {
		detailRow(pdf, tr, "E-mail", inv.CustomerEmail)
	}
	pdf.Ln(4)

	tableHeader(pdf, tr, "Serviço", "Profissional", "Valor")
	for _, svc := range doc.Services {
		tableRow(pdf, tr, svc.ServiceName, svc.SpecialistName, svc.Price)
	}

	if len(doc.Supplies) > 0 {
		pdf.Ln(4)
		tableHeader(pdf, tr, "Produto", "Quantidade", "Valor")
		for _, sup := range doc.Supplies {
			tableRow(pdf, tr, sup.SupplyName, fmt.Sprintf("%d x %s", sup.Quantity, money(sup.UnitPrice)), sup.Cost())
		}
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(140, 8, tr("Subtotal"), "T", 0, "R", false, 0, "")
	pdf.CellFormat(40, 8, money(inv.Subtotal), "T", 1, "R", false, 0, "")
	if adj := Adjustment(inv); !adj.IsZero() {
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(140, 8, tr("Ajuste"), "", 0, "R", false, 0, "")
		pdf.CellFormat(40, 8, money(adj), "", 1, "R", false, 0, "")
		pdf.SetFont("Arial", "B", 11)
	}
	pdf.CellFormat(140, 8, tr("Total"), "", 0, "R", false, 0, "")
	pdf.CellFormat(40, 8, money(inv.Total), "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render invoice pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// Adjustment is the difference between the charged total and the line
// subtotal, such as a discount on the service price.
func Adjustment(inv *models.Invoice) decimal.Decimal {
	return inv.Total.Sub(inv.Subtotal)
}

func detailRow(pdf *gofpdf.Fpdf, tr func(string) string, label, value string) {
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(35, 6, tr(label+":"), "", 0, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, tr(value), "", 1, "L", false, 0, "")
}

func tableHeader(pdf *gofpdf.Fpdf, tr func(string) string, a, b, c string) {
	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(235, 235, 235)
	pdf.CellFormat(90, 7, tr(a), "1", 0, "L", true, 0, "")
	pdf.CellFormat(50, 7, tr(b), "1", 0, "L", true, 0, "")
	pdf.CellFormat(40, 7, tr(c), "1", 1, "R", true, 0, "")
	pdf.SetFont("Arial", "", 10)
}

func tableRow(pdf *gofpdf.Fpdf, tr func(string) string, a, b string, amount decimal.Decimal) {
	pdf.CellFormat(90, 7, tr(a), "1", 0, "L", false, 0, "")
	pdf.CellFormat(50, 7, tr(b), "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 7, money(amount), "1", 1, "R", false, 0, "")
}

func money(d decimal.Decimal) string {
	return "R$ " + strings.Replace(d.StringFixed(2), ".", ",", 1)
}
