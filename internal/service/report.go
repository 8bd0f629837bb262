package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/nvthai0611/doan-build-sub011/internal/domain"
)

type DiscrepancyStore interface {
	ListOpen(ctx context.Context) ([]domain.Discrepancy, error)
	Resolve(ctx context.Context, id string) error
}

// ReportNotifier tells the requesting staff member their file is ready.
type ReportNotifier interface {
	NotifyReportReady(userID int64, reportID, url, fileName string)
	NotifyReportFailed(userID int64, reportID, message string)
}

// DiscrepancyService is the staff surface over the manual-reconciliation
// queue: list what the engine refused to guess about, export it, mark
// rows handled.
type DiscrepancyService struct {
	repo     DiscrepancyStore
	storage  QRStorage
	notifier ReportNotifier
}

func NewDiscrepancyService(repo DiscrepancyStore, storage QRStorage, notifier ReportNotifier) *DiscrepancyService {
	return &DiscrepancyService{repo: repo, storage: storage, notifier: notifier}
}

func (s *DiscrepancyService) ListOpen(ctx context.Context) ([]domain.Discrepancy, error) {
	return s.repo.ListOpen(ctx)
}

func (s *DiscrepancyService) Resolve(ctx context.Context, id string) error {
	return s.repo.Resolve(ctx, id)
}

// StartExport renders the open queue to an .xlsx in the background and
// notifies the requesting staff member over their websocket topic.
func (s *DiscrepancyService) StartExport(ctx context.Context, userID int64) (string, error) {
	rows, err := s.repo.ListOpen(ctx)
	if err != nil {
		return "", err
	}

	reportID := uuid.NewString()
	go s.runExport(context.Background(), reportID, rows, userID)
	return reportID, nil
}

func (s *DiscrepancyService) runExport(ctx context.Context, reportID string, rows []domain.Discrepancy, userID int64) {
	f := excelize.NewFile()
	sheet := "Discrepancies"
	f.SetSheetName(f.GetSheetName(0), sheet)
	_ = f.SetDocProps(&excelize.DocProperties{Creator: fmt.Sprintf("staff_%d", userID)})

	headers := []string{"ID", "Intent", "Order code", "Kind", "Amount", "Detail", "Created at"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, d := range rows {
		values := []any{d.ID, d.IntentID, d.OrderCode, string(d.Kind), d.Amount, d.Detail, d.CreatedAt.Format("2006-01-02 15:04:05")}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		log.Printf("[REPORT] render %s failed: %v", reportID, err)
		s.notifyFailed(userID, reportID, "failed to render report")
		return
	}

	fileName := fmt.Sprintf("discrepancies_%s.xlsx", time.Now().Format("20060102_150405"))
	saved, err := s.storage.Save(ctx, fileName, buf.Bytes())
	if err != nil {
		log.Printf("[REPORT] save %s failed: %v", reportID, err)
		s.notifyFailed(userID, reportID, "failed to save report")
		return
	}

	if s.notifier != nil {
		s.notifier.NotifyReportReady(userID, reportID, s.storage.GetURL(saved), fileName)
	}
}

func (s *DiscrepancyService) notifyFailed(userID int64, reportID, message string) {
	if s.notifier != nil {
		s.notifier.NotifyReportFailed(userID, reportID, message)
	}
}
