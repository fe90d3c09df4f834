package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"unicode"

	"github.com/patchwatch/patchwatch/internal/core"
)

// Columns present in the CSV but left out of the email table.
var hiddenColumns = map[string]bool{
	ColWindowID:       true,
	ColRegionReport:   true,
	ColRoleNameReport: true,
}

const (
	introPre  = "Below are the Maintenance Windows running today:"
	introPost = "Below is the Post Patch Status of Maintenance windows:"
	// EmptyMessage is the whole body sent when there are no rows.
	EmptyMessage = "No Maintenance Windows running today."
)

// Email subjects per phase.
const (
	SubjectPre  = "Maintenance Windows Running Today"
	SubjectPost = "Post Patch Status Report"
)

type cell struct {
	Value   string
	Rowspan int // 0 renders no rowspan attribute
	Skip    bool
}

type htmlView struct {
	Empty   bool
	Intro   string
	Headers []string
	Rows    [][]cell
	Totals  *Totals
}

var emailTemplate = template.Must(template.New("email").Parse(`<html>
<body>
{{- if .Empty}}
  <p>` + EmptyMessage + `</p>
{{- else}}
  <p>Hello Team,</p>
  <p>{{.Intro}}</p>
  <table border="1" cellpadding="6" cellspacing="0" style="border-collapse:collapse; font-family:Arial, sans-serif; font-size:13px;">
    <tr style="background-color:#f2f2f2; font-weight:bold;">
      {{- range .Headers}}<th>{{.}}</th>{{end -}}
    </tr>
    {{- range .Rows}}
    <tr>
      {{- range .}}{{if not .Skip}}{{if .Rowspan}}<td rowspan="{{.Rowspan}}" style="vertical-align:middle;">{{.Value}}</td>{{else}}<td>{{.Value}}</td>{{end}}{{end}}{{end -}}
    </tr>
    {{- end}}
  </table>
  {{- with .Totals}}
  <p>Total: {{.Windows}} windows, {{.Targets}} targets, {{.Success}} succeeded, {{.Failure}} failed{{if .Unknown}}, {{.Unknown}} with unknown status{{end}}.</p>
  {{- end}}
  <br>
  <p>Regards,<br>Patch Automation</p>
{{- end}}
</body>
</html>
`))

// RenderPrePatchHTML renders the "running today" email body.
func RenderPrePatchHTML(rows []core.PrePatchRow) (string, error) {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, preRecord(r))
	}
	return render(introPre, PrePatchHeader, records, nil)
}

// RenderPostPatchHTML renders the post-patch status email body with totals.
func RenderPostPatchHTML(rows []core.PostPatchRow) (string, error) {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, postRecord(r))
	}
	totals := Summarize(rows)
	return render(introPost, PostPatchHeader, records, &totals)
}

func render(intro string, header []string, records [][]string, totals *Totals) (string, error) {
	view := htmlView{Empty: len(records) == 0, Intro: intro, Totals: totals}
	if !view.Empty {
		view.Headers, view.Rows = buildTable(header, records)
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("rendering email: %w", err)
	}
	return buf.String(), nil
}

// buildTable drops hidden columns and merges consecutive AccountId cells with
// rowspan.
func buildTable(header []string, records [][]string) ([]string, [][]cell) {
	var keep []int
	var headers []string
	accountCol := -1
	for i, h := range header {
		if hiddenColumns[h] {
			continue
		}
		if h == ColAccountIDReport {
			accountCol = len(keep)
		}
		keep = append(keep, i)
		headers = append(headers, PrettifyHeader(h))
	}

	rows := make([][]cell, len(records))
	for r, rec := range records {
		rows[r] = make([]cell, len(keep))
		for c, i := range keep {
			rows[r][c] = cell{Value: rec[i]}
		}
	}

	if accountCol >= 0 {
		for start := 0; start < len(rows); {
			end := start + 1
			for end < len(rows) && rows[end][accountCol].Value == rows[start][accountCol].Value {
				rows[end][accountCol].Skip = true
				end++
			}
			rows[start][accountCol].Rowspan = end - start
			start = end
		}
	}
	return headers, rows
}

// PrettifyHeader splits a CamelCase column name into words:
// TargetInstanceCount becomes "Target Instance Count".
func PrettifyHeader(h string) string {
	var b strings.Builder
	for i, r := range h {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
