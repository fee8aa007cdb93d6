package audit

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

// WriteDecisionsCSV menulis log keputusan otorisasi sebagai CSV.
func WriteDecisionsCSV(w io.Writer, rows []DecisionRow) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"At", "Principal", "Class", "Company", "Resource", "Action", "Outcome", "Reason"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			row.At.UTC().Format(time.RFC3339),
			strconv.FormatInt(row.PrincipalID, 10),
			row.Class,
			formatCompany(row.CompanyID),
			row.Resource,
			row.Action,
			row.Outcome,
			row.Reason,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// formatCompany mengosongkan kolom untuk baris level platform.
func formatCompany(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
