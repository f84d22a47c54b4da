package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/Shivanand-hulikatti/library-borrowing/internal/model"
)

// CSVHeader is the first row of every borrow history export.
var CSVHeader = []string{"Book Title", "Date From", "Date To", "Status"}

// ExportCSV renders account's own borrow history as CSV.
func (l *Ledger) ExportCSV(ctx context.Context, account *model.Account) ([]byte, error) {
	reqs, err := l.ListForAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := WriteHistoryCSV(&buf, reqs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteHistoryCSV writes the header row followed by one row per request.
func WriteHistoryCSV(w io.Writer, reqs []model.BorrowRequest) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range reqs {
		row := []string{r.BookTitle, r.DateFrom.String(), r.DateTo.String(), string(r.Status)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
