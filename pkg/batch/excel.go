package batch

import (
	"fmt"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/merakimate/merakimate/pkg/reconcile"
	"github.com/merakimate/merakimate/pkg/util"
)

// Sheet and column names of the VPN exclusion workbook.
const (
	SheetOrganizations = "Organizations"
	SheetIPList        = "IPList"
	SheetAppList       = "AppList"

	ColumnOrganizationID = "OrganizationId"
	ColumnIP             = "IP"
	ColumnAppID          = "id"
	ColumnAppName        = "name"
)

// VpnWorkbook holds the rows of a VPN exclusion workbook.
type VpnWorkbook struct {
	Organizations []string
	IPs           []map[string]any
	Apps          []map[string]any
}

// ReadVpnWorkbook loads the Organizations and IPList sheets and, when
// present, the AppList sheet.
func ReadVpnWorkbook(path string) (*VpnWorkbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	orgs, err := sheetRows(f, SheetOrganizations)
	if err != nil {
		return nil, err
	}
	wb := &VpnWorkbook{}
	for _, row := range orgs {
		if id := text(row[ColumnOrganizationID]); id != "" && !slices.Contains(wb.Organizations, id) {
			wb.Organizations = append(wb.Organizations, id)
		}
	}
	if len(wb.Organizations) == 0 {
		return nil, fmt.Errorf("%w: %s: no %s values in sheet %s",
			util.ErrValidationFailed, path, ColumnOrganizationID, SheetOrganizations)
	}

	if wb.IPs, err = sheetRows(f, SheetIPList); err != nil {
		return nil, err
	}
	if slices.Contains(f.GetSheetList(), SheetAppList) {
		if wb.Apps, err = sheetRows(f, SheetAppList); err != nil {
			return nil, err
		}
	}
	return wb, nil
}

// sheetRows returns the data rows of sheet keyed by header cell.
func sheetRows(f *excelize.File, sheet string) ([]map[string]any, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: sheet %s: %v", util.ErrValidationFailed, sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}
	out := make([]map[string]any, 0, len(rows)-1)
	for _, row := range rows[1:] {
		m := make(map[string]any, len(header))
		blank := true
		for i, h := range header {
			if h == "" || i >= len(row) {
				continue
			}
			if v := strings.TrimSpace(row[i]); v != "" {
				m[h] = v
				blank = false
			}
		}
		if !blank {
			out = append(out, m)
		}
	}
	return out, nil
}

// Exclusions yields one VPN exclusion per (network, IP). Push records
// carry the full {protocol: any, destination, port: any} rule; remove
// records carry only the destination.
func (wb *VpnWorkbook) Exclusions(networks []string, mode reconcile.Mode) Source {
	return newRowSource(wb.IPs, func(_ int, row map[string]any) ([]Entry, error) {
		v, err := required(row, ColumnIP)
		if err != nil {
			return nil, err
		}
		dest := v[0]
		if !util.IsValidIPv4(dest) && !util.IsValidIPv4CIDR(dest) {
			return nil, invalid(ColumnIP, "%q is not an IPv4 address or CIDR", dest)
		}
		rec := reconcile.Record{"protocol": "any", "destination": dest, "port": "any"}
		if mode == reconcile.ModeRemove {
			rec = reconcile.Record{"destination": dest}
		}
		entries := make([]Entry, len(networks))
		for i, n := range networks {
			entries[i] = Entry{Scope: reconcile.Scope{Kind: reconcile.KindVpnExclusion, ID: n}, Record: rec.Clone()}
		}
		return entries, nil
	})
}

// MajorApps yields one major-application entry per (network, AppList row).
func (wb *VpnWorkbook) MajorApps(networks []string) Source {
	return newRowSource(wb.Apps, func(_ int, row map[string]any) ([]Entry, error) {
		v, err := required(row, ColumnAppID)
		if err != nil {
			return nil, err
		}
		rec := reconcile.Record{"id": v[0]}
		if name := text(row[ColumnAppName]); name != "" {
			rec["name"] = name
		}
		entries := make([]Entry, len(networks))
		for i, n := range networks {
			entries[i] = Entry{Scope: reconcile.Scope{Kind: reconcile.KindVpnMajorApp, ID: n}, Record: rec.Clone()}
		}
		return entries, nil
	})
}
