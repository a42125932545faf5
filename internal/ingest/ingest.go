// Package ingest turns uploaded incident spreadsheets into store batches.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/nocassist/nocassist/internal/incident"
	"github.com/nocassist/nocassist/internal/observability"
	"github.com/nocassist/nocassist/internal/schema"
)

var (
	ErrEmptyFile           = errors.New("file has no data rows")
	ErrMissingTenantColumn = errors.New("file is missing the tenant column")
	ErrUnknownColumn       = errors.New("unknown column")
	ErrMissingTenantValue  = errors.New("row has no tenant value")
	ErrUnsupportedFormat   = errors.New("unsupported file format")
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatFromName picks the parser from a file extension.
func FormatFromName(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(name))) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

type Parser struct {
	registry *schema.Registry
}

func NewParser(registry *schema.Registry) *Parser {
	return &Parser{registry: registry}
}

// Parse reads the whole file. Headers are matched to registry columns after
// trimming and folding spaces and dashes to underscores; any unmatched header
// rejects the file.
func (p *Parser) Parse(format Format, body io.Reader) (incident.Batch, error) {
	var records [][]string
	var err error
	switch format {
	case FormatCSV:
		records, err = readCSV(body)
	case FormatXLSX:
		records, err = readXLSX(body)
	default:
		return incident.Batch{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return incident.Batch{}, err
	}
	return p.build(records)
}

func (p *Parser) build(records [][]string) (incident.Batch, error) {
	if len(records) == 0 {
		return incident.Batch{}, ErrEmptyFile
	}

	header := records[0]
	columns := make([]string, len(header))
	seen := make(map[string]int, len(header))
	tenantIdx := -1
	for i, raw := range header {
		if i == 0 {
			raw = strings.TrimPrefix(raw, "\ufeff")
		}
		name := NormalizeHeader(raw)
		declared, ok := p.registry.Lookup(name)
		if !ok {
			return incident.Batch{}, fmt.Errorf("%w: %q", ErrUnknownColumn, strings.TrimSpace(raw))
		}
		if prev, dup := seen[declared]; dup {
			return incident.Batch{}, fmt.Errorf("column %q appears twice (positions %d and %d)", declared, prev+1, i+1)
		}
		seen[declared] = i
		columns[i] = declared
		if declared == p.registry.TenantColumn() {
			tenantIdx = i
		}
	}
	if tenantIdx < 0 {
		return incident.Batch{}, fmt.Errorf("%w: %q", ErrMissingTenantColumn, p.registry.TenantColumn())
	}

	batch := incident.Batch{Columns: columns}
	for n, record := range records[1:] {
		line := n + 2
		if blank(record) {
			continue
		}
		if len(record) > len(columns) {
			return incident.Batch{}, fmt.Errorf("row %d has %d values for %d columns", line, len(record), len(columns))
		}
		row := make([]string, len(columns))
		for i, cell := range record {
			row[i] = strings.TrimSpace(cell)
		}
		if row[tenantIdx] == "" {
			return incident.Batch{}, fmt.Errorf("%w: row %d", ErrMissingTenantValue, line)
		}
		batch.Rows = append(batch.Rows, row)
	}
	if len(batch.Rows) == 0 {
		return incident.Batch{}, ErrEmptyFile
	}
	return batch, nil
}

func NormalizeHeader(raw string) string {
	name := strings.TrimSpace(raw)
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	return name
}

func blank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func readCSV(body io.Reader) ([][]string, error) {
	reader := csv.NewReader(body)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return records, nil
}

// readXLSX reads the first sheet of the workbook.
func readXLSX(body io.Reader) ([][]string, error) {
	file, err := excelize.OpenReader(body)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = file.Close() }()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

// Service parses an upload and appends it to the incident store as one batch.
type Service struct {
	parser *Parser
	store  incident.Store
	logger *slog.Logger
}

func NewService(registry *schema.Registry, store incident.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{parser: NewParser(registry), store: store, logger: logger}
}

func (s *Service) Ingest(ctx context.Context, filename string, body io.Reader) (incident.AppendResult, error) {
	start := time.Now()
	format, err := FormatFromName(filename)
	if err != nil {
		return incident.AppendResult{}, err
	}
	batch, err := s.parser.Parse(format, body)
	if err != nil {
		return incident.AppendResult{}, err
	}
	result, err := s.store.Append(ctx, batch)
	if err != nil {
		return incident.AppendResult{}, fmt.Errorf("append batch: %w", err)
	}
	observability.ObserveIngest(result.Records, time.Since(start))
	s.logger.Info("incident file ingested",
		slog.String("file", filepath.Base(filename)),
		slog.String("format", string(format)),
		slog.Int("records", result.Records),
		slog.Int("tenants", len(result.Tenants)),
	)
	return result, nil
}
