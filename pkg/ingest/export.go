package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/raterudder/facilityenergy/pkg/types"
)

// WriteCSV writes recs as CSV with a header row of timestamp followed by every
// series for the given number of banks. Records with fewer banks leave the
// missing columns empty.
func WriteCSV(w io.Writer, recs []types.HourlyRecord, banks int) error {
	names := types.SeriesNames(banks)
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"timestamp"}, names...)); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	row := make([]string, len(names)+1)
	for _, rec := range recs {
		series := rec.Series()
		row[0] = rec.Timestamp.UTC().Format(time.RFC3339)
		for i, name := range names {
			if v, ok := series[name]; ok {
				row[i+1] = strconv.FormatFloat(v, 'f', -1, 64)
			} else {
				row[i+1] = ""
			}
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
