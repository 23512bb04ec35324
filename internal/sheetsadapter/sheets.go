// Package sheetsadapter implements the Sheet Adapter (C7): a thin
// bridge to the Google Sheets API for reading audit input rows and
// writing verdict columns back.
package sheetsadapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/domainlink/linkauditor/internal/linkaudit"
)

// Adapter implements linkaudit.SheetAdapter against the real Sheets
// API.
type Adapter struct {
	svc *sheets.Service
}

// New builds an Adapter using the given API key or service-account
// credentials file, mirroring how the teacher wires Google Cloud
// clients: a thin constructor taking client options, no hidden global
// state.
func New(ctx context.Context, opts ...option.ClientOption) (*Adapter, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("new sheets service: %w", err)
	}
	return &Adapter{svc: svc}, nil
}

// GetMetadata resolves every sheet gid within a spreadsheet to its
// sheet name.
func (a *Adapter) GetMetadata(_ context.Context, spreadsheetID string) (linkaudit.SpreadsheetMetadata, error) {
	resp, err := a.svc.Spreadsheets.Get(spreadsheetID).Fields("sheets(properties(sheetId,title))").Do()
	if err != nil {
		return linkaudit.SpreadsheetMetadata{}, fmt.Errorf("get spreadsheet metadata: %w", err)
	}
	names := make(map[int64]string, len(resp.Sheets))
	for _, sh := range resp.Sheets {
		if sh.Properties == nil {
			continue
		}
		names[sh.Properties.SheetId] = sh.Properties.Title
	}
	return linkaudit.SpreadsheetMetadata{SheetNames: names}, nil
}

// Read returns the URL and target-domain columns, skipping the header
// row. A blank per-row target falls back to defaultTarget.
func (a *Adapter) Read(
	_ context.Context,
	ref linkaudit.SpreadsheetRef,
	sheetName, urlCol, targetCol, resultRange, defaultTarget string,
) (linkaudit.SheetReadResult, error) {
	urlRange := fmt.Sprintf("%s!%s:%s", sheetName, urlCol, urlCol)
	urlResp, err := a.svc.Spreadsheets.Values.Get(ref.SpreadsheetID, urlRange).Do()
	if err != nil {
		return linkaudit.SheetReadResult{}, fmt.Errorf("read url column: %w", err)
	}

	targetRange := fmt.Sprintf("%s!%s:%s", sheetName, targetCol, targetCol)
	targetResp, err := a.svc.Spreadsheets.Values.Get(ref.SpreadsheetID, targetRange).Do()
	if err != nil {
		return linkaudit.SheetReadResult{}, fmt.Errorf("read target column: %w", err)
	}

	result := linkaudit.SheetReadResult{}
	seen := make(map[string]bool)
	for i := range urlResp.Values {
		if i == 0 {
			continue // header
		}
		result.TotalRows++
		url := cellString(urlResp.Values, i)
		if url == "" {
			continue
		}
		target := defaultTarget
		if t := cellString(targetResp.Values, i); t != "" {
			target = t
		}
		result.URLs = append(result.URLs, url)
		result.Targets = append(result.Targets, target)
		if !seen[url] {
			seen[url] = true
			result.UniqueURLs++
		}
	}
	result.HasExistingData = hasDataBeyondHeader(a.svc.Spreadsheets.Values, resultRange, ref.SpreadsheetID, sheetName)
	return result, nil
}

// cellString safely reads rows[idx][0] as a string, tolerating ragged
// API responses (trailing blank cells are omitted by Sheets).
func cellString(rows [][]interface{}, idx int) string {
	if idx < 0 || idx >= len(rows) || len(rows[idx]) == 0 {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(rows[idx][0]))
}

func hasDataBeyondHeader(values *sheets.SpreadsheetsValuesService, resultRange, spreadsheetID, sheetName string) bool {
	anchor, _, err := parseA1TopLeft(resultRange)
	if err != nil {
		return false
	}
	r := fmt.Sprintf("%s!%s", sheetName, anchor)
	resp, err := values.Get(spreadsheetID, r).Do()
	if err != nil {
		return false
	}
	return len(resp.Values) > 0
}

// WriteVerdicts writes the five fixed result columns for each row,
// anchored at resultRange's top-left cell.
func (a *Adapter) WriteVerdicts(_ context.Context, ref linkaudit.SpreadsheetRef, sheetName, resultRange string, verdicts []linkaudit.SheetRow) error {
	if len(verdicts) == 0 {
		return nil
	}
	anchorCol, anchorRow, err := parseA1TopLeft(resultRange)
	if err != nil {
		return fmt.Errorf("parse result range: %w", err)
	}
	anchorColIdx, err := columnToIndex(anchorCol)
	if err != nil {
		return fmt.Errorf("parse result range column: %w", err)
	}

	maxRow := 0
	for _, v := range verdicts {
		if v.RowIndex > maxRow {
			maxRow = v.RowIndex
		}
	}
	rows := make([][]interface{}, maxRow+1)
	for i := range rows {
		rows[i] = []interface{}{"", "", "", "", ""}
	}
	for _, v := range verdicts {
		rows[v.RowIndex] = []interface{}{
			string(v.Status),
			v.ResponseCode,
			v.Indexable,
			v.NonIndexableReason,
			v.LinkFound,
		}
	}

	endCol, err := indexToColumn(anchorColIdx + linkaudit.ResultRangeWidth - 1)
	if err != nil {
		return fmt.Errorf("compute result range end column: %w", err)
	}
	writeRange := fmt.Sprintf("%s!%s%d:%s%d", sheetName, anchorCol, anchorRow, endCol, anchorRow+maxRow)

	_, err = a.svc.Spreadsheets.Values.Update(ref.SpreadsheetID, writeRange, &sheets.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").Do()
	if err != nil {
		return fmt.Errorf("update result range: %w", err)
	}
	return nil
}

// Format applies the per-row colour scheme: green for ok, yellow for
// ok+canonicalised, red for problem. Header styling is left alone;
// this only colours the data rows just written. Failure here is
// best-effort from the caller's perspective -- Format itself still
// returns the error so the caller can log it.
func (a *Adapter) Format(_ context.Context, ref linkaudit.SpreadsheetRef, sheetName, resultRange string, verdicts []linkaudit.SheetRow) error {
	if len(verdicts) == 0 {
		return nil
	}
	anchorCol, anchorRow, err := parseA1TopLeft(resultRange)
	if err != nil {
		return fmt.Errorf("parse result range: %w", err)
	}
	anchorColIdx, err := columnToIndex(anchorCol)
	if err != nil {
		return fmt.Errorf("parse result range column: %w", err)
	}

	sheetID, err := a.resolveSheetID(ref.SpreadsheetID, sheetName)
	if err != nil {
		return err
	}

	requests := make([]*sheets.Request, 0, len(verdicts))
	for _, v := range verdicts {
		rowIdx := int64(anchorRow - 1 + v.RowIndex) // sheets API grid rows are 0-based
		requests = append(requests, &sheets.Request{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    rowIdx,
					EndRowIndex:      rowIdx + 1,
					StartColumnIndex: int64(anchorColIdx),
					EndColumnIndex:   int64(anchorColIdx + linkaudit.ResultRangeWidth),
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						BackgroundColor: colorFor(v),
					},
				},
				Fields: "userEnteredFormat.backgroundColor",
			},
		})
	}

	_, err = a.svc.Spreadsheets.BatchUpdate(ref.SpreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}).Do()
	if err != nil {
		return fmt.Errorf("batch format update: %w", err)
	}
	return nil
}

func (a *Adapter) resolveSheetID(spreadsheetID, sheetName string) (int64, error) {
	resp, err := a.svc.Spreadsheets.Get(spreadsheetID).Fields("sheets(properties(sheetId,title))").Do()
	if err != nil {
		return 0, fmt.Errorf("resolve sheet id: %w", err)
	}
	for _, sh := range resp.Sheets {
		if sh.Properties != nil && sh.Properties.Title == sheetName {
			return sh.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found", sheetName)
}

func colorFor(v linkaudit.SheetRow) *sheets.Color {
	switch {
	case v.Status == linkaudit.LinkStateProblem:
		return &sheets.Color{Red: 0.96, Green: 0.8, Blue: 0.8}
	case v.NonIndexableReason == "canonicalised":
		return &sheets.Color{Red: 1, Green: 0.95, Blue: 0.7}
	default:
		return &sheets.Color{Red: 0.85, Green: 0.95, Blue: 0.85}
	}
}

// parseA1TopLeft extracts the column letters and row number from the
// first cell reference of an A1-notation range like "D2:H1000".
func parseA1TopLeft(rangeA1 string) (col string, row int, err error) {
	first := strings.SplitN(rangeA1, ":", 2)[0]
	i := 0
	for i < len(first) && (first[i] >= 'A' && first[i] <= 'Z' || first[i] >= 'a' && first[i] <= 'z') {
		i++
	}
	if i == 0 {
		return "", 0, fmt.Errorf("invalid A1 range %q", rangeA1)
	}
	col = strings.ToUpper(first[:i])
	if i == len(first) {
		return col, 1, nil
	}
	row, err = strconv.Atoi(first[i:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid A1 row in %q: %w", rangeA1, err)
	}
	return col, row, nil
}

// columnToIndex converts "A" -> 0, "B" -> 1, ... "AA" -> 26.
func columnToIndex(col string) (int, error) {
	if col == "" {
		return 0, fmt.Errorf("empty column")
	}
	idx := 0
	for _, c := range strings.ToUpper(col) {
		if c < 'A' || c > 'Z' {
			return 0, fmt.Errorf("invalid column letter %q", col)
		}
		idx = idx*26 + int(c-'A'+1)
	}
	return idx - 1, nil
}

// indexToColumn is columnToIndex's inverse.
func indexToColumn(idx int) (string, error) {
	if idx < 0 {
		return "", fmt.Errorf("negative column index")
	}
	idx++
	var b []byte
	for idx > 0 {
		rem := (idx - 1) % 26
		b = append([]byte{byte('A' + rem)}, b...)
		idx = (idx - 1) / 26
	}
	return string(b), nil
}
