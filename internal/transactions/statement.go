package transactions

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/phpdave11/gofpdf"
	"go.uber.org/zap"

	"github.com/ishantswami13-crypto/pesa-ledger/internal/money"
)

const (
	statementCurrency = "KES"
	statementMaxRows  = 1000
)

var statementCols = []float64{22, 36, 78, 30, 20}

// BuildStatementPDF renders the ledger as an A4 statement.
func BuildStatementPDF(items []Transaction, b Balance, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Finance Tracker Statement", false)
	pdf.SetMargins(14, 14, 14)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetTextColor(20, 20, 20)
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "Finance Tracker Statement")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(80, 80, 80)
	pdf.Cell(0, 6, "Generated: "+FormatTimestamp(generatedAt)+" UTC")
	pdf.Ln(5)
	pdf.Cell(0, 6, "Transactions: "+strconv.Itoa(len(items)))
	pdf.Ln(10)

	pdf.SetDrawColor(200, 200, 200)
	pdf.SetFillColor(248, 248, 248)
	pdf.SetTextColor(20, 20, 20)
	pdf.SetFont("Helvetica", "B", 11)

	sumW := []float64{60, 61, 61}
	pdf.CellFormat(sumW[0], 10, "Income ("+statementCurrency+")", "1", 0, "C", true, 0, "")
	pdf.CellFormat(sumW[1], 10, "Expenses ("+statementCurrency+")", "1", 0, "C", true, 0, "")
	pdf.CellFormat(sumW[2], 10, "Balance ("+statementCurrency+")", "1", 1, "C", true, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(sumW[0], 10, withCommas(b.IncomeCents), "1", 0, "C", false, 0, "")
	pdf.CellFormat(sumW[1], 10, withCommas(b.ExpenseCents), "1", 0, "C", false, 0, "")
	pdf.CellFormat(sumW[2], 10, withCommas(b.NetCents()), "1", 1, "C", false, 0, "")
	pdf.Ln(6)

	statementHeader(pdf)

	for i, it := range items {
		if i >= statementMaxRows {
			pdf.SetFont("Helvetica", "I", 9)
			pdf.CellFormat(0, 8, "... truncated (too many rows)", "1", 1, "C", false, 0, "")
			break
		}
		if pdf.GetY() > 270 {
			pdf.AddPage()
			statementHeader(pdf)
		}

		amount := it.AmountCents
		if it.Type == Expense {
			amount = -amount
		}
		method := string(it.PaymentMethod)
		if it.ReceiptNumber != nil {
			method += " " + *it.ReceiptNumber
		}

		pdf.CellFormat(statementCols[0], 8, strings.ToUpper(string(it.Type)), "1", 0, "C", false, 0, "")
		pdf.CellFormat(statementCols[1], 8, FormatTimestamp(it.CreatedAt), "1", 0, "C", false, 0, "")

		x := pdf.GetX()
		y := pdf.GetY()
		pdf.MultiCell(statementCols[2], 8, tr(trimTo(it.Description, 80)), "1", "L", false)
		usedH := pdf.GetY() - y
		pdf.SetXY(x+statementCols[2], y)

		pdf.CellFormat(statementCols[3], usedH, withCommas(amount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(statementCols[4], usedH, tr(trimTo(method, 14)), "1", 1, "C", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func statementHeader(pdf *gofpdf.Fpdf) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(245, 245, 245)
	pdf.SetTextColor(20, 20, 20)
	pdf.CellFormat(statementCols[0], 8, "TYPE", "1", 0, "C", true, 0, "")
	pdf.CellFormat(statementCols[1], 8, "DATE", "1", 0, "C", true, 0, "")
	pdf.CellFormat(statementCols[2], 8, "DESCRIPTION", "1", 0, "L", true, 0, "")
	pdf.CellFormat(statementCols[3], 8, "AMOUNT", "1", 0, "R", true, 0, "")
	pdf.CellFormat(statementCols[4], 8, "METHOD", "1", 1, "C", true, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(30, 30, 30)
}

func (h *Handler) StatementPDF(c *fiber.Ctx) error {
	ctx := c.UserContext()

	items, err := h.Store.List(ctx, ListParams{})
	if err != nil {
		h.Log.Error("Error loading statement rows", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to build statement")
	}
	b, err := h.Store.Balance(ctx)
	if err != nil {
		h.Log.Error("Error loading statement totals", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to build statement")
	}

	now := h.Store.now()
	pdfBytes, err := BuildStatementPDF(items, b, now)
	if err != nil {
		h.Log.Error("Error rendering statement", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to build statement")
	}

	c.Set("Content-Type", "application/pdf")
	c.Set("Content-Disposition", `attachment; filename="statement-`+now.Format("2006-01-02")+`.pdf"`)
	return c.Send(pdfBytes)
}

func trimTo(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// withCommas renders cents as a grouped amount, e.g. -1,234.50.
func withCommas(cents int64) string {
	s := money.String(cents)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i := 0; i < len(whole); i++ {
		b.WriteByte(whole[i])
		rem := len(whole) - i - 1
		if rem > 0 && rem%3 == 0 {
			b.WriteByte(',')
		}
	}
	return sign + b.String() + "." + frac
}
