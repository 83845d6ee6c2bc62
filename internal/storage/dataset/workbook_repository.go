// -----------------------------------------------------------------------
// Workbook Repository - xlsx input list and result table
// -----------------------------------------------------------------------

package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/xuri/excelize/v2"

	"github.com/ternarybob/mopscrawl/internal/interfaces"
	"github.com/ternarybob/mopscrawl/internal/models"
)

// WorkbookRepository reads entities from one workbook and writes results to another
type WorkbookRepository struct {
	inputPath  string
	outputPath string
	logger     arbor.ILogger
}

var _ interfaces.EntityRepository = (*WorkbookRepository)(nil)

func NewWorkbookRepository(inputPath, outputPath string, logger arbor.ILogger) *WorkbookRepository {
	return &WorkbookRepository{
		inputPath:  inputPath,
		outputPath: outputPath,
		logger:     logger,
	}
}

// LoadEntities reads the first sheet. The header row maps columns by label or key; rows
// without a name are ignored. A missing workbook is created empty and yields no entities.
func (r *WorkbookRepository) LoadEntities(ctx context.Context) ([]models.Entity, error) {
	if _, err := os.Stat(r.inputPath); errors.Is(err, os.ErrNotExist) {
		r.logger.Warn().Str("path", r.inputPath).Msg("Input workbook not found, creating an empty one")
		if err := writeWorkbook(r.inputPath, [][]string{{models.Columns[0].Header, models.Columns[1].Header}}); err != nil {
			r.logger.Warn().Err(err).Str("path", r.inputPath).Msg("Failed to create empty input workbook")
		}
		return []models.Entity{}, nil
	}

	f, err := excelize.OpenFile(r.inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", r.inputPath, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return []models.Entity{}, nil
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return []models.Entity{}, nil
	}

	keys := make([]string, len(rows[0]))
	hasName := false
	for i, header := range rows[0] {
		if key, ok := models.ColumnKeyForHeader(header); ok {
			keys[i] = key
			hasName = hasName || key == models.ColumnName
		}
	}
	if !hasName {
		return nil, fmt.Errorf("workbook %s has no %q column", r.inputPath, models.Columns[0].Header)
	}

	entities := make([]models.Entity, 0, len(rows)-1)
	for _, row := range rows[1:] {
		var e models.Entity
		for i, cell := range row {
			if i < len(keys) && keys[i] != "" {
				e.Set(keys[i], strings.TrimSpace(cell))
			}
		}
		if e.Name == "" {
			continue
		}
		entities = append(entities, e)
	}

	r.logger.Info().
		Str("path", r.inputPath).
		Int("entities", len(entities)).
		Msg("Loaded entity list")

	return entities, nil
}

// SaveResults writes the header and one row per entity in models.Columns order
func (r *WorkbookRepository) SaveResults(ctx context.Context, entities []models.Entity) error {
	if len(entities) == 0 {
		r.logger.Warn().Msg("No results to save")
		return nil
	}

	rows := make([][]string, 0, len(entities)+1)
	rows = append(rows, models.HeaderRow())
	for _, e := range entities {
		rows = append(rows, e.Row())
	}

	if err := writeWorkbook(r.outputPath, rows); err != nil {
		return err
	}

	r.logger.Info().
		Str("path", r.outputPath).
		Int("rows", len(entities)).
		Msg("Results saved")
	return nil
}

func writeWorkbook(path string, rows [][]string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", path, err)
	}
	return nil
}
