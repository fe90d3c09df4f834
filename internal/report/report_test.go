package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/patchwatch/patchwatch/internal/core"
)

func TestReadAccounts(t *testing.T) {
	in := "account_id,role_name,region\n111111111111,PatchRole,us-east-1\n\n222222222222, PatchRole ,eu-west-1\n"
	accounts, err := ReadAccounts(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	want := core.AccountContext{AccountID: "222222222222", RoleName: "PatchRole", Region: "eu-west-1"}
	if accounts[1] != want {
		t.Errorf("got %+v, want %+v", accounts[1], want)
	}
}

func TestReadAccountsColumnOrderAndBOM(t *testing.T) {
	in := "\ufeffregion,account_id,role_name\nus-west-2,333333333333,Ops\n"
	accounts, err := ReadAccounts(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadAccounts: %v", err)
	}
	if accounts[0].AccountID != "333333333333" || accounts[0].Region != "us-west-2" {
		t.Errorf("unexpected account %+v", accounts[0])
	}
}

func TestReadAccountsRejectsBadInput(t *testing.T) {
	for name, in := range map[string]string{
		"empty":          "",
		"missing column": "account_id,region\n1,us-east-1\n",
		"missing value":  "account_id,role_name,region\n111111111111,,us-east-1\n",
	} {
		if _, err := ReadAccounts(strings.NewReader(in)); !core.IsMalformedInput(err) {
			t.Errorf("%s: expected MalformedInput, got %v", name, err)
		}
	}
}

func TestReadSharedAccountFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.csv")
	os.WriteFile(path, []byte("account_id,role_name,region\n999999999999,ReportRole,us-east-1\n888888888888,Other,us-east-1\n"), 0600)

	acct, err := ReadSharedAccountFile(path)
	if err != nil {
		t.Fatalf("ReadSharedAccountFile: %v", err)
	}
	if acct.AccountID != "999999999999" || acct.RoleName != "ReportRole" {
		t.Errorf("expected first row, got %+v", acct)
	}

	empty := filepath.Join(t.TempDir(), "empty.csv")
	os.WriteFile(empty, []byte("account_id,role_name,region\n"), 0600)
	if _, err := ReadSharedAccountFile(empty); err == nil {
		t.Error("expected error for header-only file")
	}
}

func sampleRows() []core.PrePatchRow {
	return []core.PrePatchRow{
		{AccountID: "111111111111", Region: "us-east-1", RoleName: "PatchRole", WindowID: "mw-0a", WindowName: "mmpatching-app", TargetInstanceCount: 3},
		{AccountID: "111111111111", Region: "us-east-1", RoleName: "PatchRole", WindowID: "mw-0b", WindowName: "mmpatching, db", TargetInstanceCount: 0},
		{AccountID: "222222222222", Region: "eu-west-1", RoleName: "PatchRole", WindowID: "mw-0c", WindowName: "mmpatching-web", TargetInstanceCount: 5},
	}
}

func TestPrePatchCSVRoundTrip(t *testing.T) {
	data, err := EncodePrePatch(sampleRows())
	if err != nil {
		t.Fatalf("EncodePrePatch: %v", err)
	}
	firstLine := strings.SplitN(string(data), "\n", 2)[0]
	if firstLine != "AccountId,Region,RoleName,MaintenanceWindowId,MaintenanceWindowName,TargetInstanceCount" {
		t.Errorf("unexpected header %q", firstLine)
	}

	rows, err := DecodePrePatch(data)
	if err != nil {
		t.Fatalf("DecodePrePatch: %v", err)
	}
	if len(rows) != 3 || rows[1].WindowName != "mmpatching, db" || rows[2].TargetInstanceCount != 5 {
		t.Errorf("unexpected rows %+v", rows)
	}
}

func TestDecodePrePatchEmpty(t *testing.T) {
	rows, err := DecodePrePatch(nil)
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected no rows, got %v %v", rows, err)
	}
	rows, err = DecodePrePatch([]byte(strings.Join(PrePatchHeader, ",") + "\n"))
	if err != nil || len(rows) != 0 {
		t.Fatalf("header-only file: expected no rows, got %v %v", rows, err)
	}
}

func TestDecodePrePatchValidates(t *testing.T) {
	header := strings.Join(PrePatchHeader, ",") + "\n"
	for name, body := range map[string]string{
		"bad count":      "111111111111,us-east-1,PatchRole,mw-0a,x,three\n",
		"negative count": "111111111111,us-east-1,PatchRole,mw-0a,x,-1\n",
		"no window id":   "111111111111,us-east-1,PatchRole,,x,1\n",
		"no role":        "111111111111,us-east-1,,mw-0a,x,1\n",
	} {
		if _, err := DecodePrePatch([]byte(header + body)); !core.IsMalformedInput(err) {
			t.Errorf("%s: expected MalformedInput, got %v", name, err)
		}
	}
}

func TestPostPatchCSVRoundTrip(t *testing.T) {
	pre := sampleRows()
	in := []core.PostPatchRow{
		{PrePatchRow: pre[0], Success: 2, Failure: 1, Status: core.StatusResolved},
		{PrePatchRow: pre[2], Status: core.StatusUnknown, Error: "throttled"},
	}
	data, err := EncodePostPatch(in)
	if err != nil {
		t.Fatalf("EncodePostPatch: %v", err)
	}
	out, err := DecodePostPatch(data)
	if err != nil {
		t.Fatalf("DecodePostPatch: %v", err)
	}
	if out[0].Success != 2 || out[0].Failure != 1 || out[1].Status != core.StatusUnknown {
		t.Errorf("unexpected rows %+v", out)
	}
}

func TestDecodePostPatchWithoutStatusColumn(t *testing.T) {
	data := "AccountId,Region,RoleName,MaintenanceWindowId,MaintenanceWindowName,TargetInstanceCount,Success,Failure\n" +
		"111111111111,us-east-1,PatchRole,mw-0a,app,2,2,0\n"
	rows, err := DecodePostPatch([]byte(data))
	if err != nil {
		t.Fatalf("DecodePostPatch: %v", err)
	}
	if rows[0].Status != core.StatusResolved || rows[0].Success != 2 {
		t.Errorf("unexpected row %+v", rows[0])
	}
}

func TestSummarizeExcludesUnknown(t *testing.T) {
	pre := sampleRows()
	got := Summarize([]core.PostPatchRow{
		{PrePatchRow: pre[0], Success: 2, Failure: 1, Status: core.StatusResolved},
		{PrePatchRow: pre[1], Success: 7, Failure: 7, Status: core.StatusUnknown},
		{PrePatchRow: pre[2], Success: 5, Status: core.StatusResolved},
	})
	want := Totals{Windows: 3, Targets: 8, Success: 7, Failure: 1, Unknown: 1}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestPrettifyHeader(t *testing.T) {
	cases := map[string]string{
		"TargetInstanceCount":   "Target Instance Count",
		"AccountId":             "Account Id",
		"MaintenanceWindowName": "Maintenance Window Name",
		"Success":               "Success",
	}
	for in, want := range cases {
		if got := PrettifyHeader(in); got != want {
			t.Errorf("PrettifyHeader(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderPrePatchHTML(t *testing.T) {
	rows := sampleRows()
	rows[0].WindowName = "<script>"
	body, err := RenderPrePatchHTML(rows)
	if err != nil {
		t.Fatalf("RenderPrePatchHTML: %v", err)
	}

	for _, want := range []string{
		introPre,
		"<th>Account Id</th><th>Maintenance Window Name</th><th>Target Instance Count</th>",
		`<td rowspan="2" style="vertical-align:middle;">111111111111</td>`,
		`<td rowspan="1" style="vertical-align:middle;">222222222222</td>`,
		"&lt;script&gt;",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q\n%s", want, body)
		}
	}
	for _, hidden := range []string{"mw-0a", "eu-west-1", "PatchRole", "Maintenance Window Id"} {
		if strings.Contains(body, hidden) {
			t.Errorf("body must not contain %q", hidden)
		}
	}
	if strings.Count(body, "111111111111") != 1 {
		t.Error("merged account cell must render once")
	}
}

func TestRenderPostPatchHTML(t *testing.T) {
	pre := sampleRows()
	body, err := RenderPostPatchHTML([]core.PostPatchRow{
		{PrePatchRow: pre[0], Success: 2, Failure: 1, Status: core.StatusResolved},
		{PrePatchRow: pre[2], Status: core.StatusUnknown},
	})
	if err != nil {
		t.Fatalf("RenderPostPatchHTML: %v", err)
	}
	for _, want := range []string{introPost, "<th>Success</th><th>Failure</th><th>Status</th>", "2 succeeded, 1 failed, 1 with unknown status"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q\n%s", want, body)
		}
	}
}

func TestRenderEmpty(t *testing.T) {
	body, err := RenderPrePatchHTML(nil)
	if err != nil {
		t.Fatalf("RenderPrePatchHTML: %v", err)
	}
	if !strings.Contains(body, EmptyMessage) || strings.Contains(body, "<table") {
		t.Errorf("unexpected empty body:\n%s", body)
	}
}
