package dashboard

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/afroash/krishii-mitra/internal/models"
)

const historySheet = "History"

var historyHeader = []interface{}{
	"Date", "N", "P", "K", "Temperature (°C)", "Humidity (%)", "pH", "Rainfall (mm)", "Predicted Crop", "Expires",
}

// WriteHistoryWorkbook writes records as an XLSX workbook, one row per prediction
func WriteHistoryWorkbook(w io.Writer, records []*models.PredictionRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", historySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	if err := f.SetSheetRow(historySheet, "A1", &historyHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	if err := f.SetCellStyle(historySheet, "A1", "J1", bold); err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.N, r.P, r.K,
			r.Temperature, r.Humidity, r.PH, r.Rainfall,
			r.PredictedLabel,
			r.ExpiresAt.UTC().Format("2006-01-02"),
		}
		if err := f.SetSheetRow(historySheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(historySheet, "A", "A", 22); err != nil {
		return err
	}
	if err := f.SetColWidth(historySheet, "I", "I", 16); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
