package service

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"shopledger/backend/internal/domain"
)

const (
	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	exportSheet     = "Sheet1"
)

// ExportSales writes every sale of the owner as an XLSX workbook.
func (s *Service) ExportSales(ctx context.Context, w io.Writer) error {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return err
	}
	sales, _, err := s.repo.ListSales(ctx, ownerID, domain.ListQuery{})
	if err != nil {
		return err
	}

	rows := make([][]any, 0, len(sales))
	for _, sale := range sales {
		rows = append(rows, []any{
			sale.Date,
			sale.Customer,
			sale.Product,
			sale.Quantity,
			sale.Total.InexactFloat64(),
			sale.Status,
			sale.InvoiceID,
		})
	}
	return writeWorkbook(w, []any{"Date", "Customer", "Product", "Quantity", "Total", "Status", "Invoice"}, rows)
}

// ExportInvoices writes every invoice of the owner as an XLSX workbook.
func (s *Service) ExportInvoices(ctx context.Context, w io.Writer) error {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return err
	}
	invoices, _, err := s.repo.ListInvoices(ctx, ownerID, domain.ListQuery{})
	if err != nil {
		return err
	}

	rows := make([][]any, 0, len(invoices))
	for _, inv := range invoices {
		rows = append(rows, []any{
			inv.InvoiceNumber,
			inv.Date.Format(domain.DateLayout),
			inv.Customer,
			inv.Subtotal.InexactFloat64(),
			inv.DiscountType,
			inv.DiscountValue.InexactFloat64(),
			inv.Total.InexactFloat64(),
			inv.AdvancePaid.InexactFloat64(),
			inv.RemainingBalance.InexactFloat64(),
			inv.PaymentStatus,
		})
	}
	headings := []any{"Invoice", "Date", "Customer", "Subtotal", "Discount Type", "Discount", "Total", "Paid", "Remaining", "Status"}
	return writeWorkbook(w, headings, rows)
}

func writeWorkbook(w io.Writer, headings []any, rows [][]any) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetRow(exportSheet, "A1", &headings); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	return f.Write(w)
}
