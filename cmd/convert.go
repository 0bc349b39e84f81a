package cmd

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"
	_ "modernc.org/sqlite"
)

// convertCmd turns a workbook into a SQLite database, one table per sheet,
// so big spreadsheets can be browsed with sort/filter pushed down to SQL.
var convertCmd = &cobra.Command{
	Use:   "convert <in.xlsx> <out.db>",
	Short: "Convert a spreadsheet to a SQLite database, one table per sheet",
	Args:  cobra.ExactArgs(2),
	RunE:  runConvert,
}

func runConvert(cmd *cobra.Command, args []string) error {
	inPath, outPath := args[0], args[1]

	f, err := excelize.OpenFile(inPath)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	db, err := sql.Open("sqlite", outPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		if err := writeSheet(db, sheet, rows[0], rows[1:]); err != nil {
			return fmt.Errorf("sheet %q: %w", sheet, err)
		}
		fmt.Printf("wrote table %q (%d rows)\n", sheet, len(rows)-1)
	}
	return nil
}

func writeSheet(db *sql.DB, table string, headers []string, rows [][]string) error {
	quoted := make([]string, len(headers))
	marks := make([]string, len(headers))
	for i, h := range headers {
		if h == "" {
			h = fmt.Sprintf("col_%d", i+1)
		}
		quoted[i] = `"` + strings.ReplaceAll(h, `"`, `""`) + `"`
		marks[i] = "?"
	}
	qTable := `"` + strings.ReplaceAll(table, `"`, `""`) + `"`

	if _, err := db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", qTable)); err != nil {
		return err
	}
	if _, err := db.Exec(fmt.Sprintf("CREATE TABLE %s (%s)", qTable, strings.Join(quoted, ", "))); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(fmt.Sprintf("INSERT INTO %s VALUES (%s)", qTable, strings.Join(marks, ", ")))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		args := make([]any, len(headers))
		for i := range headers {
			if i < len(row) && row[i] != "" {
				args[i] = row[i]
			}
		}
		if _, err := stmt.Exec(args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}
