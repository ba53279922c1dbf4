// Package tasks reads search tasks from CSV rows or command-line arguments.
package tasks

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/serpwatch/pkg/models"
)

// ErrNoTasks is returned when the source holds no valid row.
var ErrNoTasks = errors.New("no valid tasks")

// Read parses rows of the form term[,term...],keyword. Rows with fewer than
// two non-empty fields are skipped with a warning.
func Read(r io.Reader, logger *zap.Logger) ([]models.SearchTask, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var tasks []models.SearchTask
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read tasks at row %d: %w", line, err)
		}

		if line == 1 && len(record) > 0 {
			record[0] = strings.TrimPrefix(record[0], "\ufeff")
		}

		task, ok := parseRow(record)
		if !ok {
			logger.Warn("skipping malformed task row", zap.Int("row", line), zap.Strings("fields", record))
			continue
		}
		tasks = append(tasks, task)
	}

	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}
	return tasks, nil
}

// ReadFile reads tasks from a CSV file
func ReadFile(path string, logger *zap.Logger) ([]models.SearchTask, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tasks file: %w", err)
	}
	defer file.Close()

	tasks, err := Read(file, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	logger.Info("tasks loaded", zap.String("file", path), zap.Int("tasks", len(tasks)))
	return tasks, nil
}

// FromArgs builds a task from positional arguments: one search term
// followed by one or more keywords.
func FromArgs(args []string) (models.SearchTask, error) {
	if len(args) < 2 {
		return models.SearchTask{}, fmt.Errorf("expected a search term and at least one keyword, got %d arguments", len(args))
	}

	term := strings.TrimSpace(args[0])
	if term == "" {
		return models.SearchTask{}, errors.New("search term is empty")
	}

	var keywords []string
	for _, a := range args[1:] {
		if k := strings.TrimSpace(a); k != "" {
			keywords = append(keywords, k)
		}
	}
	if len(keywords) == 0 {
		return models.SearchTask{}, errors.New("no non-empty keyword given")
	}

	return models.SearchTask{PrimaryTerm: term, TargetKeywords: keywords}, nil
}

func parseRow(fields []string) (models.SearchTask, bool) {
	if len(fields) < 2 {
		return models.SearchTask{}, false
	}

	keyword := strings.TrimSpace(fields[len(fields)-1])
	if keyword == "" {
		return models.SearchTask{}, false
	}

	var terms []string
	for _, f := range fields[:len(fields)-1] {
		if t := strings.TrimSpace(f); t != "" {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		return models.SearchTask{}, false
	}

	task := models.SearchTask{PrimaryTerm: terms[0], TargetKeywords: []string{keyword}}
	if len(terms) > 1 {
		task.AuxiliaryTerms = terms[1:]
	}
	return task, true
}
