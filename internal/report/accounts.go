// Package report reads the account lists, encodes the pre-patch and
// post-patch CSV reports and renders them as HTML email bodies.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/patchwatch/patchwatch/internal/core"
)

// Account list columns.
const (
	ColAccountID = "account_id"
	ColRoleName  = "role_name"
	ColRegion    = "region"
)

// ReadAccounts parses an account list CSV with the header
// account_id,role_name,region. Blank lines are ignored; a row missing any
// field is a *core.MalformedInput.
func ReadAccounts(r io.Reader) ([]core.AccountContext, error) {
	records, idx, err := readWithHeader(r, ColAccountID, ColRoleName, ColRegion)
	if err != nil {
		return nil, err
	}

	accounts := make([]core.AccountContext, 0, len(records))
	for i, rec := range records {
		acct := core.AccountContext{
			AccountID: field(rec, idx[ColAccountID]),
			RoleName:  field(rec, idx[ColRoleName]),
			Region:    field(rec, idx[ColRegion]),
		}
		if acct.AccountID == "" || acct.RoleName == "" || acct.Region == "" {
			return nil, &core.MalformedInput{
				Field:  fmt.Sprintf("accounts row %d", i+2),
				Value:  strings.Join(rec, ","),
				Reason: "account_id, role_name and region are required",
			}
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

// ReadAccountsFile opens path and parses it with ReadAccounts.
func ReadAccountsFile(path string) ([]core.AccountContext, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening accounts file: %w", err)
	}
	defer f.Close()

	accounts, err := ReadAccounts(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return accounts, nil
}

// ReadSharedAccountFile returns the first row of a one-row account CSV.
func ReadSharedAccountFile(path string) (core.AccountContext, error) {
	accounts, err := ReadAccountsFile(path)
	if err != nil {
		return core.AccountContext{}, err
	}
	if len(accounts) == 0 {
		return core.AccountContext{}, fmt.Errorf("%s: no shared account row", path)
	}
	return accounts[0], nil
}

// readWithHeader reads every record and maps the required column names to
// their positions.
func readWithHeader(r io.Reader, required ...string) ([][]string, map[string]int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, &core.MalformedInput{Field: "csv header", Reason: "file is empty"}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading csv header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		// Spreadsheet exports sometimes carry a UTF-8 BOM on the first cell.
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, col := range required {
		if _, ok := idx[col]; !ok {
			return nil, nil, &core.MalformedInput{Field: "csv header", Value: strings.Join(header, ","), Reason: "missing column " + col}
		}
	}

	var records [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading csv: %w", err)
		}
		if blank(rec) {
			continue
		}
		records = append(records, rec)
	}
	return records, idx, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
