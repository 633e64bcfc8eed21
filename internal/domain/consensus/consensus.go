// Package consensus supplies the expected-rank table the risk scorer compares
// picks against. Ingestion of consensus data is external; this package reads
// the table it produces.
package consensus

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/okian/draftwatch/pkg/logger"
)

// Sentinel kinds for consensus errors.
var (
	ErrNoTable    = errors.New("consensus table not loaded")
	ErrBadRecord  = errors.New("malformed consensus record")
	ErrEmptyTable = errors.New("consensus table is empty")
)

// Table maps item ids to their expected rank. It is read-only once returned.
type Table map[string]float64

// Rank returns the expected rank of itemID, or fallback when unknown.
func (t Table) Rank(itemID string, fallback float64) float64 {
	if r, ok := t[itemID]; ok {
		return r
	}
	return fallback
}

// Provider returns the current consensus table.
type Provider interface {
	Table(ctx context.Context) (Table, error)
}

// Static is a fixed in-memory Provider.
type Static Table

// Table implements Provider.
func (s Static) Table(context.Context) (Table, error) {
	return Table(s), nil
}

// Header aliases accepted for the two columns.
var (
	itemColumns = []string{"item_id", "item", "id", "name"}
	rankColumns = []string{"expected_rank", "rank", "adp", "position_rank"}
)

// Parse reads a CSV table of item id and expected rank. A header row naming
// the columns is optional; without one the first two columns are used. Lines
// starting with # are ignored.
func Parse(r io.Reader) (Table, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	itemCol, rankCol := 0, 1
	table := make(Table)
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 {
			if i, j, ok := headerColumns(record); ok {
				itemCol, rankCol = i, j
				continue
			}
		}
		if len(record) <= itemCol || len(record) <= rankCol {
			return nil, fmt.Errorf("line %d: %w", line, ErrBadRecord)
		}
		item := strings.TrimSpace(record[itemCol])
		rank, err := strconv.ParseFloat(strings.TrimSpace(record[rankCol]), 64)
		if item == "" || err != nil || rank <= 0 {
			return nil, fmt.Errorf("line %d: %w", line, ErrBadRecord)
		}
		table[item] = rank
	}
	if len(table) == 0 {
		return nil, ErrEmptyTable
	}
	return table, nil
}

func headerColumns(record []string) (int, int, bool) {
	find := func(aliases []string) int {
		for i, field := range record {
			f := strings.ToLower(strings.TrimSpace(field))
			for _, a := range aliases {
				if f == a {
					return i
				}
			}
		}
		return -1
	}
	i, j := find(itemColumns), find(rankColumns)
	return i, j, i >= 0 && j >= 0
}

// FileProvider serves a table loaded from a CSV file and reloads it on demand
// or on an interval. A failed reload keeps the previous table.
type FileProvider struct {
	path   string
	logger logger.Logger

	mu       sync.RWMutex
	table    Table
	loadedAt time.Time
}

// NewFileProvider loads path once and returns the provider.
func NewFileProvider(ctx context.Context, path string, l logger.Logger) (*FileProvider, error) {
	if l == nil {
		l = logger.Named("consensus")
	}
	p := &FileProvider{path: path, logger: l}
	if err := p.Refresh(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Table implements Provider.
func (p *FileProvider) Table(context.Context) (Table, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.table == nil {
		return nil, ErrNoTable
	}
	return p.table, nil
}

// LoadedAt reports when the current table was read.
func (p *FileProvider) LoadedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loadedAt
}

// Refresh re-reads the file.
func (p *FileProvider) Refresh(ctx context.Context) error {
	f, err := os.Open(p.path)
	if err != nil {
		return fmt.Errorf("open consensus table: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			p.logger.Warn(ctx, "close consensus table", logger.Error(cerr))
		}
	}()

	table, err := Parse(f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.table = table
	p.loadedAt = time.Now()
	p.mu.Unlock()

	p.logger.Info(ctx, "consensus table loaded",
		logger.String("path", p.path),
		logger.Int("items", len(table)),
	)
	return nil
}

// Run refreshes the table every interval until ctx is cancelled.
func (p *FileProvider) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				p.logger.Warn(ctx, "consensus refresh failed, keeping previous table", logger.Error(err))
			}
		}
	}
}
