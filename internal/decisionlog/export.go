package decisionlog

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// WriteCSV writes records as a CSV download with a header row.
func WriteCSV(w io.Writer, recs []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "decisionlog: write csv header")
	}
	for _, r := range recs {
		if err := cw.Write(r.Row()); err != nil {
			return eris.Wrap(err, "decisionlog: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "decisionlog: flush csv")
}

// WriteXLSX writes records as a single-sheet workbook.
func WriteXLSX(w io.Writer, recs []Record) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("decisions")
	if err != nil {
		return eris.Wrap(err, "decisionlog: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range Columns {
		header.AddCell().SetString(c)
	}
	for _, r := range recs {
		row := sheet.AddRow()
		row.AddCell().SetString(r.Timestamp.Format(TimeLayout))
		row.AddCell().SetFloat(r.Temperature)
		row.AddCell().SetFloat(r.Humidity)
		row.AddCell().SetInt(int(r.Moisture))
		row.AddCell().SetString(r.Crop)
		row.AddCell().SetInt(int(r.Prediction))
	}

	return eris.Wrap(f.Write(w), "decisionlog: write xlsx")
}
