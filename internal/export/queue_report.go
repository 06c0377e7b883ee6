// Package export renders the check-in queue as an Excel workbook for operators.
package export

import (
	"fmt"
	"io"
	"time"

	"checkinsync/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Очередь"

var headers = []string{"ID", "Target", "Event", "Created", "State", "Attempts", "Last attempt", "Last error", "Resolution"}

// WriteQueueReport writes one row per intent plus a summary line. Exhausted
// and rejected intents are highlighted so they stand out for manual review.
func WriteQueueReport(w io.Writer, intents []*models.CheckInIntent, maxAttempts int, generatedAt time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Сформировано: %s", generatedAt.Format("02.01.2006 15:04")))
	titleStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	failedStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F8CBAD"}, Pattern: 1},
	})
	syncedStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
	})

	counts := make(map[models.IntentState]int)
	row := 3
	for _, intent := range intents {
		state := intent.State(maxAttempts)
		counts[state]++

		lastAttempt := ""
		if intent.LastAttemptAt != nil {
			lastAttempt = intent.LastAttemptAt.Format(time.RFC3339)
		}
		values := []any{
			intent.ID,
			intent.TargetHash,
			intent.EventID,
			intent.CreatedAt.Format(time.RFC3339),
			string(state),
			intent.AttemptCount,
			lastAttempt,
			intent.ErrorText(),
			string(intent.Resolution),
		}
		first, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, first, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", row, err)
		}

		last, _ := excelize.CoordinatesToCellName(len(headers), row)
		switch state {
		case models.IntentExhausted, models.IntentRejected:
			_ = f.SetCellStyle(sheetName, first, last, failedStyle)
		case models.IntentSynced:
			_ = f.SetCellStyle(sheetName, first, last, syncedStyle)
		}
		row++
	}

	summary := fmt.Sprintf("Всего: %d, ожидают: %d, синхронизировано: %d, исчерпано: %d, отклонено: %d",
		len(intents), counts[models.IntentPending], counts[models.IntentSynced],
		counts[models.IntentExhausted], counts[models.IntentRejected])
	summaryCell, _ := excelize.CoordinatesToCellName(1, row+1)
	_ = f.SetCellValue(sheetName, summaryCell, summary)

	_ = f.SetColWidth(sheetName, "A", "A", 40)
	_ = f.SetColWidth(sheetName, "B", "G", 22)
	_ = f.SetColWidth(sheetName, "H", "H", 50)
	_ = f.SetColWidth(sheetName, "I", "I", 20)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}
