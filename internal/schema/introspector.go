// Package schema describes the connected database to the query generator.
package schema

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"sql-assistant/internal/common/config"
	"sql-assistant/internal/common/database"
	apperrors "sql-assistant/internal/common/errors"
	"sql-assistant/internal/common/logger"
	"sql-assistant/internal/common/metrics"
	"sql-assistant/internal/models"
)

// Introspector renders one CREATE TABLE block per table followed by a few
// sample rows, which is the context the generator prompt expects.
type Introspector struct {
	db     *sql.DB
	driver string
	cfg    config.SchemaConfig
	cache  Cache
	logger logger.Logger
}

// New returns an introspector over db. cache may be nil.
func New(db *sql.DB, driver string, cfg config.SchemaConfig, cache Cache, log logger.Logger) *Introspector {
	return &Introspector{
		db:     db,
		driver: driver,
		cfg:    cfg,
		cache:  cache,
		logger: log.WithFields(map[string]interface{}{"component": "schema", "driver": driver}),
	}
}

func (i *Introspector) DescribeSchema(ctx context.Context) (models.SchemaContext, error) {
	key := i.cacheKey()
	if sc, ok := i.fromCache(ctx, key); ok {
		return *sc, nil
	}

	sc, err := i.describe(ctx)
	if err != nil {
		return models.SchemaContext{}, apperrors.NewSchemaUnavailableError(err)
	}

	if i.cacheEnabled() {
		if err := i.cache.Set(ctx, key, &sc, config.Millis(i.cfg.CacheTTL)); err != nil {
			i.logger.Warn("failed to cache schema", map[string]interface{}{"error": err.Error()})
		}
	}

	i.logger.Info("schema described", map[string]interface{}{
		"tables": len(sc.Tables),
		"chars":  len(sc.Description),
	})
	return sc, nil
}

func (i *Introspector) describe(ctx context.Context) (models.SchemaContext, error) {
	q, err := queriesFor(i.driver)
	if err != nil {
		return models.SchemaContext{}, err
	}

	tables, err := listTables(ctx, i.db, q)
	if err != nil {
		return models.SchemaContext{}, err
	}
	tables = i.filter(tables)

	blocks := make([]string, 0, len(tables))
	for _, table := range tables {
		cols, err := listColumns(ctx, i.db, q, table)
		if err != nil {
			return models.SchemaContext{}, err
		}

		block := createTable(i.driver, table, cols)
		if i.cfg.SampleRows > 0 {
			sample, err := i.sampleRows(ctx, table)
			if err != nil {
				return models.SchemaContext{}, err
			}
			block += "\n\n" + sample
		}
		blocks = append(blocks, block)
	}

	return models.SchemaContext{
		Dialect:     database.DialectName(i.driver),
		Tables:      tables,
		Description: strings.Join(blocks, "\n\n\n"),
	}, nil
}

func (i *Introspector) filter(tables []string) []string {
	if len(i.cfg.IncludeTables) == 0 {
		return tables
	}

	allowed := make(map[string]struct{}, len(i.cfg.IncludeTables))
	for _, t := range i.cfg.IncludeTables {
		allowed[strings.ToLower(t)] = struct{}{}
	}

	var out []string
	for _, t := range tables {
		if _, ok := allowed[strings.ToLower(t)]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (i *Introspector) sampleRows(ctx context.Context, table string) (string, error) {
	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", database.QuoteIdent(i.driver, table), i.cfg.SampleRows)

	rows, err := i.db.QueryContext(ctx, query)
	if err != nil {
		return "", fmt.Errorf("sample %s: %w", table, err)
	}
	defer rows.Close()

	t, err := database.ScanRows(rows, i.cfg.SampleRows)
	if err != nil {
		return "", fmt.Errorf("sample %s: %w", table, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "/*\n%d rows from %s table:\n", i.cfg.SampleRows, table)
	sb.WriteString(strings.Join(t.Columns, "\t"))
	for _, row := range t.Rows {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = truncateCell(database.FormatValue(v))
		}
		sb.WriteString("\n" + strings.Join(cells, "\t"))
	}
	sb.WriteString("\n*/")
	return sb.String(), nil
}

func createTable(driver, table string, cols []Column) string {
	lines := make([]string, len(cols))
	for j, c := range cols {
		line := "\t" + c.Name + " " + strings.ToUpper(c.Type)
		if !c.Nullable {
			line += " NOT NULL"
		}
		lines[j] = line
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", database.QuoteIdent(driver, table), strings.Join(lines, ",\n"))
}

func truncateCell(s string) string {
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}

func (i *Introspector) cacheEnabled() bool {
	return i.cache != nil && i.cfg.CacheEnabled
}

func (i *Introspector) fromCache(ctx context.Context, key string) (*models.SchemaContext, bool) {
	if !i.cacheEnabled() {
		return nil, false
	}

	sc, err := i.cache.Get(ctx, key)
	switch {
	case err == nil:
		metrics.SchemaCacheLookups.WithLabelValues("hit").Inc()
		return sc, true
	case errors.Is(err, ErrCacheMiss):
		metrics.SchemaCacheLookups.WithLabelValues("miss").Inc()
	default:
		metrics.SchemaCacheLookups.WithLabelValues("error").Inc()
		i.logger.Warn("schema cache lookup failed", map[string]interface{}{"error": err.Error()})
	}
	return nil, false
}

// cacheKey changes whenever the rendered output would.
func (i *Introspector) cacheKey() string {
	tables := append([]string(nil), i.cfg.IncludeTables...)
	sort.Strings(tables)

	h := sha1.Sum([]byte(fmt.Sprintf("%s|%d", strings.Join(tables, ","), i.cfg.SampleRows)))
	return "schema:" + i.driver + ":" + hex.EncodeToString(h[:8])
}
