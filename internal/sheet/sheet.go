// Package sheet reads the participant roster from a Google Sheet and writes
// per-contest result columns back to it.
//
// Row 1 is the header. Columns A, B and C hold the participant id, display
// name and LeetCode identity; every other column is a result column addressed
// by its header text.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/papapumpkin/contestguard/internal/retry"
)

// ErrNoSpreadsheet is returned by Open when no spreadsheet id is configured.
var ErrNoSpreadsheet = errors.New("sheet: no spreadsheet id")

// valueInput makes the API store values exactly as sent.
const valueInput = "RAW"

// Options configures access to one worksheet.
type Options struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	Tab             string `mapstructure:"tab"`
	CredentialsFile string `mapstructure:"credentials_file"`
	// CredentialsJSON is a service account key; it takes precedence over
	// CredentialsFile.
	CredentialsJSON string `mapstructure:"credentials_json"`
	// Timeout bounds each individual API call.
	Timeout time.Duration `mapstructure:"timeout"`
}

// Participant is one roster row.
type Participant struct {
	ID       string
	Name     string
	Identity string
	// Row is the 1-based sheet row the participant was read from.
	Row int
}

// Cell is a value destined for one row of a column.
type Cell struct {
	Row   int
	Value string
}

// Sheet is a worksheet handle.
type Sheet struct {
	svc     *sheets.Service
	id      string
	tab     string
	policy  retry.Policy
	timeout time.Duration
	logger  *slog.Logger
}

// Open authenticates and returns a handle for the configured worksheet.
// Every API call is retried under policy. Extra client options are appended
// after the credential options.
func Open(ctx context.Context, opts Options, policy retry.Policy, logger *slog.Logger, extra ...option.ClientOption) (*Sheet, error) {
	if opts.SpreadsheetID == "" {
		return nil, ErrNoSpreadsheet
	}
	if opts.Tab == "" {
		opts.Tab = "Sheet1"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	var clientOpts []option.ClientOption
	switch {
	case opts.CredentialsJSON != "":
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(opts.CredentialsJSON)))
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	clientOpts = append(clientOpts, option.WithScopes(sheets.SpreadsheetsScope))
	clientOpts = append(clientOpts, extra...)

	svc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("sheet: creating service: %w", err)
	}
	return &Sheet{
		svc:     svc,
		id:      opts.SpreadsheetID,
		tab:     opts.Tab,
		policy:  policy,
		timeout: opts.Timeout,
		logger:  logger.With("component", "sheet", "tab", opts.Tab),
	}, nil
}

// a1 qualifies ref with the worksheet name.
func (s *Sheet) a1(ref string) string {
	return "'" + strings.ReplaceAll(s.tab, "'", "''") + "'!" + ref
}

func (s *Sheet) get(ctx context.Context, ref string) ([][]any, error) {
	vr, err := call(ctx, s, "read "+ref, func(ctx context.Context) (*sheets.ValueRange, error) {
		return s.svc.Spreadsheets.Values.Get(s.id, s.a1(ref)).Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("sheet: reading %s: %w", ref, err)
	}
	return vr.Values, nil
}

// Participants reads the roster. Rows without an identity are skipped and
// logged; fully blank rows are skipped silently.
func (s *Sheet) Participants(ctx context.Context) ([]Participant, error) {
	rows, err := s.get(ctx, "A:C")
	if err != nil {
		return nil, err
	}

	var out []Participant
	for i, row := range rows {
		if i == 0 {
			continue
		}
		rowNum := i + 1
		p := Participant{
			ID:       cellString(row, 0),
			Name:     cellString(row, 1),
			Identity: cellString(row, 2),
			Row:      rowNum,
		}
		switch {
		case p.Name == "" && p.Identity == "":
			continue
		case p.Identity == "":
			s.logger.Warn("skipping participant without identity", "row", rowNum, "name", p.Name)
			continue
		}
		out = append(out, p)
	}
	s.logger.Info("read participants", "count", len(out))
	return out, nil
}

func cellString(row []any, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[i]))
}

// EnsureColumn returns the 1-based index of the column whose header is
// header, creating it after the last used header cell when absent.
func (s *Sheet) EnsureColumn(ctx context.Context, header string) (int, error) {
	rows, err := s.get(ctx, "1:1")
	if err != nil {
		return 0, err
	}
	var headers []any
	if len(rows) > 0 {
		headers = rows[0]
	}
	for i := range headers {
		if cellString(headers, i) == header {
			return i + 1, nil
		}
	}

	col := len(headers) + 1
	ref := ColumnLetter(col) + "1"
	_, err = call(ctx, s, "create column", func(ctx context.Context) (*sheets.UpdateValuesResponse, error) {
		return s.svc.Spreadsheets.Values.Update(s.id, s.a1(ref), &sheets.ValueRange{
			Values: [][]any{{header}},
		}).ValueInputOption(valueInput).Context(ctx).Do()
	})
	if err != nil {
		return 0, fmt.Errorf("sheet: creating column %q: %w", header, err)
	}
	s.logger.Info("created column", "header", header, "column", ColumnLetter(col))
	return col, nil
}

// WriteColumn writes cells into column col. Cells that carry a row are
// written to that row in one batch. If any cell lacks a row the values are
// written in order starting at row 2 instead.
func (s *Sheet) WriteColumn(ctx context.Context, col int, cells []Cell) error {
	if len(cells) == 0 {
		return nil
	}
	letter := ColumnLetter(col)

	aligned := true
	for _, c := range cells {
		if c.Row < 2 {
			aligned = false
			break
		}
	}
	if !aligned {
		return s.writeSequential(ctx, letter, cells)
	}

	data := make([]*sheets.ValueRange, 0, len(cells))
	for _, c := range cells {
		data = append(data, &sheets.ValueRange{
			Range:  s.a1(fmt.Sprintf("%s%d", letter, c.Row)),
			Values: [][]any{{c.Value}},
		})
	}
	_, err := call(ctx, s, "write column", func(ctx context.Context) (*sheets.BatchUpdateValuesResponse, error) {
		return s.svc.Spreadsheets.Values.BatchUpdate(s.id, &sheets.BatchUpdateValuesRequest{
			ValueInputOption: valueInput,
			Data:             data,
		}).Context(ctx).Do()
	})
	if err != nil {
		return fmt.Errorf("sheet: writing column %s: %w", letter, err)
	}
	s.logger.Info("wrote column", "column", letter, "cells", len(cells))
	return nil
}

func (s *Sheet) writeSequential(ctx context.Context, letter string, cells []Cell) error {
	values := make([][]any, len(cells))
	for i, c := range cells {
		values[i] = []any{c.Value}
	}
	ref := fmt.Sprintf("%s2:%s%d", letter, letter, len(cells)+1)
	_, err := call(ctx, s, "write column", func(ctx context.Context) (*sheets.UpdateValuesResponse, error) {
		return s.svc.Spreadsheets.Values.Update(s.id, s.a1(ref), &sheets.ValueRange{
			Values: values,
		}).ValueInputOption(valueInput).Context(ctx).Do()
	})
	if err != nil {
		return fmt.Errorf("sheet: writing column %s: %w", letter, err)
	}
	s.logger.Warn("wrote column sequentially from row 2", "column", letter, "cells", len(cells))
	return nil
}
