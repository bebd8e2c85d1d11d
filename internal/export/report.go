package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gymtrack/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	paymentsSheet = "Payments"
	membersSheet  = "Members"
	dateLayout    = "2006-01-02"
)

var (
	paymentHeaders = []string{"Invoice", "Date", "Member", "Amount", "Subscription", "Method", "Status", "Notes"}
	memberHeaders  = []string{"Name", "Phone", "Subscription", "Sessions left", "Status", "Payment", "Last attendance"}
)

// WriteReport builds the XLSX report of current data in the export directory
// and returns its path.
func (e *Exporter) WriteReport(ctx context.Context) (string, error) {
	b, err := e.Export(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	path := filepath.Join(e.dir, fmt.Sprintf("payments_%s.xlsx", b.ExportedAt.Format("2006-01-02_150405")))
	if err := WritePaymentsReport(path, b.Payments, b.Members); err != nil {
		return "", err
	}
	e.logger.Info().Str("file_path", path).Msg("excel report created")
	return path, nil
}

// WritePaymentsReport writes payments (newest first) and members to an XLSX file.
func WritePaymentsReport(path string, payments []*models.Payment, members []*models.Member) error {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	names := make(map[string]string, len(members))
	for _, m := range members {
		names[m.ID] = m.Name
	}

	if err := f.SetSheetName("Sheet1", paymentsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeHeader(f, paymentsSheet, paymentHeaders, headerStyle); err != nil {
		return err
	}

	sorted := append([]*models.Payment(nil), payments...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.After(sorted[j].Date) })

	var total float64
	for i, p := range sorted {
		member := names[p.MemberID]
		if member == "" {
			member = p.MemberID
		}
		row := []interface{}{
			p.InvoiceNumber,
			p.Date.Format(dateLayout),
			member,
			p.Amount,
			p.SubscriptionType,
			p.PaymentMethod,
			p.Status,
			p.Notes,
		}
		if err := writeRow(f, paymentsSheet, i+2, row); err != nil {
			return err
		}
		total += p.Amount
	}
	totalRow := len(sorted) + 2
	_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("C%d", totalRow), "Total")
	_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("D%d", totalRow), total)
	_ = f.SetColWidth(paymentsSheet, "A", "H", 18)

	if _, err := f.NewSheet(membersSheet); err != nil {
		return fmt.Errorf("create members sheet: %w", err)
	}
	if err := writeHeader(f, membersSheet, memberHeaders, headerStyle); err != nil {
		return err
	}

	sortedMembers := append([]*models.Member(nil), members...)
	sort.SliceStable(sortedMembers, func(i, j int) bool { return sortedMembers[i].Name < sortedMembers[j].Name })
	for i, m := range sortedMembers {
		var sessions interface{} = ""
		if m.SessionsRemaining != nil {
			sessions = *m.SessionsRemaining
		}
		lastAttendance := ""
		if m.LastAttendance != nil {
			lastAttendance = m.LastAttendance.Format(dateLayout)
		}
		row := []interface{}{m.Name, m.Phone, m.SubscriptionType, sessions, m.MembershipStatus, m.PaymentStatus, lastAttendance}
		if err := writeRow(f, membersSheet, i+2, row); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(membersSheet, "A", "G", 18)

	f.SetActiveSheet(0)
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("write header %s: %w", cell, err)
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	return f.SetCellStyle(sheet, "A1", last, style)
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}
