package invoice

import (
	"archive/zip"
	"bytes"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	archiveRoot  = "reimbursements"
	sheetName    = "Invoices"
	summaryName  = "summary.xlsx"
	advisoryName = "missing_attachments.txt"
)

// exportHeaders is the fixed, ordered column set of the summary sheet.
var exportHeaders = []string{
	"Payer",
	"Student ID",
	"Bank Card",
	"Item",
	"Spec",
	"Unit",
	"Seller",
	"Invoice Number",
	"Invoice Code",
	"Quantity",
	"Total Amount",
	"Unit Price",
	"Invoice Date",
}

// dateLayouts are tried in order before falling back to regex extraction.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"2006年1月2日",
	"20060102",
	"2006-01-02 15:04:05",
}

var datePatternRe = regexp.MustCompile(`(20\d{2})[-/.年]?(\d{1,2})[-/.月]?(\d{1,2})`)

// normalizeDate formats a free-text OCR date as YYYY-MM-DD. Values no known
// layout or pattern can make sense of pass through unchanged.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	if m := datePatternRe.FindStringSubmatch(s); m != nil {
		year := m[1]
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return fmt.Sprintf("%s-%02d-%02d", year, month, day)
	}
	return s
}

// rowPricing re-derives quantity, total, and unit price from stored strings.
// Stored values may predate the current reconciliation rule or be
// hand-edited, so the zero-quantity rule is reapplied here on every export.
func rowPricing(amountStr, quantityStr, priceStr string) (quantity, amount, price decimal.Decimal) {
	amount = parseAmount(amountStr)
	quantity = parseQuantity(quantityStr)
	if quantity.IsZero() {
		return quantity, amount, unitPrice(amount, quantity)
	}
	price = parseAmount(priceStr)
	if price.IsZero() {
		price = unitPrice(amount, quantity).Round(4)
	}
	return quantity, amount, price
}

// exportRow builds the 13 cell values of one sheet row.
func exportRow(inv *Invoice, name, spec, unit string, quantity, amount, price decimal.Decimal) []any {
	var qtyCell any = ""
	if !quantity.IsZero() {
		qtyCell = quantity.InexactFloat64()
	}
	return []any{
		inv.Payer,
		inv.StuID,
		inv.BankCard,
		name,
		spec,
		unit,
		inv.Seller,
		inv.InvNum,
		inv.InvCode,
		qtyCell,
		amount.InexactFloat64(),
		price.InexactFloat64(),
		normalizeDate(inv.Date),
	}
}

// exportRows flattens all invoices: one row per line item, or one row from
// the denormalized snapshot when an invoice has no items.
func (s *Service) exportRows(invoices []*Invoice) ([][]any, error) {
	rows := make([][]any, 0, len(invoices))
	for _, inv := range invoices {
		items, err := s.db.ListItems(inv.ID)
		if err != nil {
			return nil, fmt.Errorf("listing items: %w", err)
		}
		if len(items) > 0 {
			for _, it := range items {
				name := it.Name
				if name == "" {
					name = inv.GoodName
				}
				spec := it.Spec
				if spec == "" {
					spec = inv.Spec
				}
				unit := it.Unit
				if unit == "" {
					unit = inv.Unit
				}
				quantity, amount, price := rowPricing(it.Amount, it.Quantity, it.Price)
				rows = append(rows, exportRow(inv, name, spec, unit, quantity, amount, price))
			}
			continue
		}
		quantity, amount, price := rowPricing(inv.Total, inv.Quantity, "")
		rows = append(rows, exportRow(inv, inv.GoodName, inv.Spec, inv.Unit, quantity, amount, price))
	}
	return rows, nil
}

// buildWorkbook renders the rows into an XLSX workbook.
func buildWorkbook(rows [][]any) ([]byte, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	for col, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}
	for i, row := range rows {
		for col, v := range row {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "C", 16)
	_ = f.SetColWidth(sheetName, "D", "D", 28)
	_ = f.SetColWidth(sheetName, "G", "G", 28)
	_ = f.SetColWidth(sheetName, "H", "I", 18)
	_ = f.SetColWidth(sheetName, "M", "M", 14)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// Export bundles the summary sheet, a missing-attachment advisory, and every
// invoice folder's non-trashed files into one zip archive.
func (s *Service) Export() ([]byte, error) {
	start := time.Now()

	invoices, err := s.db.ListInvoices()
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	if len(invoices) == 0 {
		return nil, fmt.Errorf("no invoices to export")
	}

	rows, err := s.exportRows(invoices)
	if err != nil {
		return nil, err
	}
	sheet, err := buildWorkbook(rows)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create(archiveRoot + "/" + summaryName)
	if err != nil {
		return nil, fmt.Errorf("adding summary sheet: %w", err)
	}
	if _, err := w.Write(sheet); err != nil {
		return nil, fmt.Errorf("writing summary sheet: %w", err)
	}

	var missing []string
	for _, inv := range invoices {
		files, err := s.storage.ListFiles(inv.Folder)
		if err != nil {
			return nil, fmt.Errorf("listing attachments: %w", err)
		}

		flags := scanProofs(files)
		if !flags.HasPaymentProof || !flags.HasOrderProof {
			var lacks []string
			if !flags.HasPaymentProof {
				lacks = append(lacks, paymentMarker)
			}
			if !flags.HasOrderProof {
				lacks = append(lacks, orderMarker)
			}
			missing = append(missing, fmt.Sprintf("%s (%s) missing: %s", inv.Payer, inv.Folder, strings.Join(lacks, " ")))
		}

		for _, name := range files {
			data, err := s.storage.ReadFile(inv.Folder, name)
			if err != nil {
				return nil, fmt.Errorf("reading %s/%s: %w", inv.Folder, name, err)
			}
			w, err := zw.Create(archiveRoot + "/" + inv.Folder + "/" + name)
			if err != nil {
				return nil, fmt.Errorf("adding %s/%s: %w", inv.Folder, name, err)
			}
			if _, err := w.Write(data); err != nil {
				return nil, fmt.Errorf("writing %s/%s: %w", inv.Folder, name, err)
			}
		}
	}

	if len(missing) > 0 {
		w, err := zw.Create(archiveRoot + "/" + advisoryName)
		if err != nil {
			return nil, fmt.Errorf("adding advisory: %w", err)
		}
		if _, err := w.Write([]byte(strings.Join(missing, "\n"))); err != nil {
			return nil, fmt.Errorf("writing advisory: %w", err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing archive: %w", err)
	}

	slog.Info("export complete",
		"invoices", len(invoices),
		"rows", len(rows),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
