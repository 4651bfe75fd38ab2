package text2sqlctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"
)

type answer struct {
	RunID         string `json:"run_id"`
	Question      string `json:"question"`
	Outcome       string `json:"outcome"`
	FailureReason string `json:"failure_reason"`
	Error         string `json:"error"`
	Attempts      []struct {
		Number int    `json:"number"`
		SQL    string `json:"sql"`
		Status string `json:"status"`
		Error  string `json:"error"`
	} `json:"attempts"`
	Diagnoses []struct {
		ErrorText     string `json:"error_text"`
		DiagnosisText string `json:"diagnosis_text"`
	} `json:"diagnoses"`
	SQL       string   `json:"sql"`
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated"`
}

type schemaContext struct {
	Dialect     string   `json:"dialect"`
	TotalTables int      `json:"total_tables"`
	Text        string   `json:"text"`
	Warnings    []string `json:"warnings"`
}

func decode(raw []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		return failed("decode response: %v", err)
	}
	return nil
}

func renderAnswer(w io.Writer, raw []byte, maxRows int) error {
	var a answer
	if err := decode(raw, &a); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", pterm.Bold.Sprint("Question:"), a.Question)
	switch a.Outcome {
	case "success":
		fmt.Fprintf(&b, "%s answered after %d attempt(s)\n", pterm.FgGreen.Sprint("Outcome:"), len(a.Attempts))
	case "out_of_scope":
		fmt.Fprintf(&b, "%s the question does not ask for data from the database\n", pterm.FgYellow.Sprint("Outcome:"))
	default:
		fmt.Fprintf(&b, "%s %s", pterm.FgRed.Sprint("Outcome:"), a.Outcome)
		if a.FailureReason != "" {
			fmt.Fprintf(&b, " (%s)", a.FailureReason)
		}
		if a.Error != "" {
			fmt.Fprintf(&b, ": %s", a.Error)
		}
		b.WriteString("\n")
	}

	if a.SQL != "" {
		fmt.Fprintf(&b, "\n%s\n  %s\n", pterm.Bold.Sprint("SQL:"), a.SQL)
	}
	if len(a.Columns) > 0 {
		table, err := renderRows(a.Columns, a.Rows, maxRows)
		if err != nil {
			return err
		}
		b.WriteString("\n")
		b.WriteString(table)
		if hidden := len(a.Rows) - shown(len(a.Rows), maxRows); hidden > 0 {
			fmt.Fprintf(&b, "... and %d more rows\n", hidden)
		}
		if a.Truncated {
			b.WriteString("(result truncated by the server row limit)\n")
		}
	}

	if len(a.Attempts) > 1 || len(a.Diagnoses) > 0 {
		history, err := renderHistory(a)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "\n%s\n%s", pterm.Bold.Sprint("Attempts:"), history)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func shown(total, maxRows int) int {
	if maxRows <= 0 || total < maxRows {
		return total
	}
	return maxRows
}

func renderRows(columns []string, rows [][]any, maxRows int) (string, error) {
	data := pterm.TableData{columns}
	for _, row := range rows[:shown(len(rows), maxRows)] {
		cells := make([]string, len(row))
		for i, value := range row {
			cells[i] = formatValue(value)
		}
		data = append(data, cells)
	}
	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return "", fmt.Errorf("render result table: %w", err)
	}
	return rendered + "\n", nil
}

func renderHistory(a answer) (string, error) {
	items := make([]pterm.BulletListItem, 0, len(a.Attempts)+len(a.Diagnoses))
	for i, attempt := range a.Attempts {
		items = append(items, pterm.BulletListItem{Level: 0, Text: fmt.Sprintf("#%d %s: %s", attempt.Number, attempt.Status, attempt.SQL)})
		if attempt.Error != "" {
			items = append(items, pterm.BulletListItem{Level: 1, Text: "error: " + firstLine(attempt.Error)})
		}
		if i < len(a.Diagnoses) {
			items = append(items, pterm.BulletListItem{Level: 1, Text: "diagnosis: " + firstLine(a.Diagnoses[i].DiagnosisText)})
		}
	}
	rendered, err := pterm.DefaultBulletList.WithItems(items).Srender()
	if err != nil {
		return "", fmt.Errorf("render attempts: %w", err)
	}
	return rendered, nil
}

func renderSchema(w io.Writer, raw []byte) error {
	var s schemaContext
	if err := decode(raw, &s); err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(s.Text, "\n"))
	b.WriteString("\n")
	if len(s.Warnings) > 0 {
		items := make([]pterm.BulletListItem, 0, len(s.Warnings))
		for _, warning := range s.Warnings {
			items = append(items, pterm.BulletListItem{Level: 0, Text: warning})
		}
		rendered, err := pterm.DefaultBulletList.WithItems(items).Srender()
		if err != nil {
			return fmt.Errorf("render warnings: %w", err)
		}
		fmt.Fprintf(&b, "\n%s\n%s", pterm.FgYellow.Sprint("Warnings:"), rendered)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// outcomeError turns a failed run into a non-zero exit.
func outcomeError(raw []byte) error {
	var a answer
	if err := decode(raw, &a); err != nil {
		return err
	}
	if a.Outcome == "failure" {
		return failed("run %s failed: %s", a.RunID, a.FailureReason)
	}
	return nil
}

func formatValue(value any) string {
	if value == nil {
		return "NULL"
	}
	return fmt.Sprint(value)
}

func firstLine(value string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(value), "\n")
	return line
}
