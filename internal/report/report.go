// Package report renders the ledger for humans and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/shehryarbajwa/serpwatch/internal/ledger"
	"github.com/shehryarbajwa/serpwatch/pkg/models"
)

// Totals counts entries by outcome
type Totals struct {
	Entries   int `json:"entries"`
	Clicked   int `json:"clicked"`
	Found     int `json:"found"`
	NotFound  int `json:"notFound"`
	Abandoned int `json:"abandoned"`
}

// Count tallies the entries of groups.
func Count(groups []ledger.Group) Totals {
	var t Totals
	for _, g := range groups {
		for _, e := range g.Entries {
			t.Entries++
			switch {
			case e.Result.Kind == models.KindFoundAndClicked:
				t.Clicked++
			case e.Result.Kind == models.KindFound:
				t.Found++
			case e.Result.Kind == models.KindNotFound:
				t.NotFound++
			default:
				t.Abandoned++
			}
		}
	}
	return t
}

// Print writes the grouped summary: one block per task, one line per
// search term and keyword.
func Print(w io.Writer, groups []ledger.Group) error {
	header := color.New(color.FgCyan, color.Bold).SprintFunc()
	termColor := color.New(color.Bold).SprintFunc()

	if _, err := fmt.Fprintln(w, header("==== Summary ====")); err != nil {
		return err
	}

	for _, g := range groups {
		fmt.Fprintf(w, "\n%s %s\n", header(fmt.Sprintf("Task %d:", g.Task+1)), g.PrimaryTerm)
		for _, e := range g.Entries {
			fmt.Fprintf(w, "  %s -> %s: %s\n", termColor(e.Term), e.Keyword, statusColor(e.Result)(e.Status))
		}
	}

	t := Count(groups)
	_, err := fmt.Fprintf(w, "\n%d entries: %d clicked, %d found, %d not found, %d failed\n",
		t.Entries, t.Clicked, t.Found, t.NotFound, t.Abandoned)
	return err
}

func statusColor(r models.AttemptResult) func(a ...interface{}) string {
	switch r.Kind {
	case models.KindFoundAndClicked:
		return color.New(color.FgGreen, color.Bold).SprintFunc()
	case models.KindFound:
		return color.New(color.FgGreen).SprintFunc()
	case models.KindNotFound:
		return color.New(color.FgYellow).SprintFunc()
	}
	return color.New(color.FgRed, color.Bold).SprintFunc()
}

// Document is the JSON export of one run
type Document struct {
	GeneratedAt time.Time      `json:"generatedAt"`
	Totals      Totals         `json:"totals"`
	Tasks       []ledger.Group `json:"tasks"`
}

// WriteJSON writes groups as an indented Document.
func WriteJSON(w io.Writer, groups []ledger.Group) error {
	if groups == nil {
		groups = []ledger.Group{}
	}

	doc := Document{
		GeneratedAt: time.Now().UTC(),
		Totals:      Count(groups),
		Tasks:       groups,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
