package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	perrors "github.com/polyroute/polyroute/internal/errors"
	"github.com/polyroute/polyroute/pkg/types"
)

// SQLiteCatalog implements Catalog on a SQLite database.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// NewSQLiteCatalog opens (or creates) a SQLite catalog at dbPath.
func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &SQLiteCatalog{db: db, dbPath: dbPath}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}

	// Read connection pool, opened after the schema exists
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_query_only=1")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	c.readDB = readDB

	return c, nil
}

func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// wrapErr classifies a database error. Busy and locked errors are retryable.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *perrors.PolyrouteError
	if errors.As(err, &pe) {
		return err
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return perrors.NewCatalogError(perrors.CodeBusy, op, err)
		case sqlite3.ErrConstraint:
			return perrors.NewCatalogError(perrors.CodeConflict, op, err)
		}
	}
	return perrors.NewCatalogError(perrors.CodeCatalogFailed, op, err)
}

// withTx runs fn inside a write transaction.
func (c *SQLiteCatalog) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return wrapErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return wrapErr(op, err)
	}
	return nil
}

func (c *SQLiteCatalog) loadTable(ctx context.Context, q queryer, tableID int64) (*types.Table, error) {
	t := &types.Table{ID: tableID}
	var tiering sql.NullString
	var pt string
	err := q.QueryRowContext(ctx,
		`SELECT name, partition_type, partition_column_id, tiering FROM tables WHERE id = ?`, tableID).
		Scan(&t.Name, &pt, &t.PartitionColumnID, &tiering)
	if err == sql.ErrNoRows {
		return nil, perrors.NotFound("table", tableID)
	}
	if err != nil {
		return nil, err
	}
	t.PartitionType = types.PartitionType(pt)
	if tiering.Valid && tiering.String != "" {
		var policy types.TieringPolicy
		if err := json.Unmarshal([]byte(tiering.String), &policy); err != nil {
			return nil, fmt.Errorf("decode tiering of table %d: %w", tableID, err)
		}
		t.Tiering = &policy
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, name, type, position FROM columns WHERE table_id = ? ORDER BY position`, tableID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		col := types.Column{TableID: tableID}
		var ct string
		if err := rows.Scan(&col.ID, &col.Name, &ct, &col.Position); err != nil {
			rows.Close()
			return nil, err
		}
		col.Type = types.ColumnType(ct)
		t.Columns = append(t.Columns, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	t.PartitionIDs, err = c.installedPartitionIDs(ctx, q, tableID)
	if err != nil {
		return nil, err
	}
	t.NumPartitions = len(t.PartitionIDs)

	t.Placements = make(map[int64][]int64)
	rows, err = q.QueryContext(ctx, `
		SELECT cp.adapter_id, cp.column_id FROM column_placements cp
		JOIN columns c ON c.id = cp.column_id
		WHERE cp.table_id = ? ORDER BY cp.adapter_id, c.position`, tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var adapterID, columnID int64
		if err := rows.Scan(&adapterID, &columnID); err != nil {
			return nil, err
		}
		t.Placements[adapterID] = append(t.Placements[adapterID], columnID)
	}
	return t, rows.Err()
}

func (c *SQLiteCatalog) installedPartitionIDs(ctx context.Context, q queryer, tableID int64) ([]int64, error) {
	return queryIDs(ctx, q,
		`SELECT id FROM partitions WHERE table_id = ? AND position IS NOT NULL ORDER BY position`, tableID)
}

func queryIDs(ctx context.Context, q queryer, query string, args ...interface{}) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetTable returns a table with its partitions and placements.
func (c *SQLiteCatalog) GetTable(ctx context.Context, tableID int64) (*types.Table, error) {
	t, err := c.loadTable(ctx, c.readDB, tableID)
	return t, wrapErr("get table", err)
}

// GetTableByName returns a table by case-insensitive name.
func (c *SQLiteCatalog) GetTableByName(ctx context.Context, name string) (*types.Table, error) {
	var id int64
	err := c.readDB.QueryRowContext(ctx, `SELECT id FROM tables WHERE name = ?`, strings.TrimSpace(name)).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, perrors.NotFound("table", name)
	}
	if err != nil {
		return nil, wrapErr("get table by name", err)
	}
	return c.GetTable(ctx, id)
}

// ListTables returns all tables ordered by id.
func (c *SQLiteCatalog) ListTables(ctx context.Context) ([]*types.Table, error) {
	ids, err := queryIDs(ctx, c.readDB, `SELECT id FROM tables ORDER BY id`)
	if err != nil {
		return nil, wrapErr("list tables", err)
	}
	out := make([]*types.Table, 0, len(ids))
	for _, id := range ids {
		t, err := c.GetTable(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func scanPlacements(rows *sql.Rows) ([]types.ColumnPlacement, error) {
	defer rows.Close()
	var out []types.ColumnPlacement
	for rows.Next() {
		var p types.ColumnPlacement
		var pt string
		if err := rows.Scan(&p.AdapterID, &p.TableID, &p.ColumnID, &pt); err != nil {
			return nil, err
		}
		p.PlacementType = types.PlacementType(pt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetColumnPlacements returns every placement of a column ordered by adapter.
func (c *SQLiteCatalog) GetColumnPlacements(ctx context.Context, columnID int64) ([]types.ColumnPlacement, error) {
	rows, err := c.readDB.QueryContext(ctx, `
		SELECT adapter_id, table_id, column_id, placement_type FROM column_placements
		WHERE column_id = ? ORDER BY adapter_id`, columnID)
	if err != nil {
		return nil, wrapErr("get column placements", err)
	}
	out, err := scanPlacements(rows)
	return out, wrapErr("get column placements", err)
}

// GetColumnPlacementsOnAdapter returns the placements of a table on one adapter.
func (c *SQLiteCatalog) GetColumnPlacementsOnAdapter(ctx context.Context, adapterID, tableID int64) ([]types.ColumnPlacement, error) {
	rows, err := c.readDB.QueryContext(ctx, `
		SELECT adapter_id, table_id, column_id, placement_type FROM column_placements
		WHERE adapter_id = ? AND table_id = ? ORDER BY column_id`, adapterID, tableID)
	if err != nil {
		return nil, wrapErr("get column placements on adapter", err)
	}
	out, err := scanPlacements(rows)
	return out, wrapErr("get column placements on adapter", err)
}

// GetPartitionsOnDataPlacement returns the partition ids an adapter stores for a table.
func (c *SQLiteCatalog) GetPartitionsOnDataPlacement(ctx context.Context, adapterID, tableID int64) ([]int64, error) {
	ids, err := queryIDs(ctx, c.readDB, `
		SELECT pp.partition_id FROM partition_placements pp
		JOIN partitions p ON p.id = pp.partition_id
		WHERE pp.adapter_id = ? AND pp.table_id = ?
		ORDER BY p.position, p.id`, adapterID, tableID)
	if ids == nil && err == nil {
		ids = []int64{}
	}
	return ids, wrapErr("get partitions on data placement", err)
}

// GetColumnPlacementsByPartition returns the placements of a column whose
// adapter stores the given partition.
func (c *SQLiteCatalog) GetColumnPlacementsByPartition(ctx context.Context, tableID, partitionID, columnID int64) ([]types.ColumnPlacement, error) {
	rows, err := c.readDB.QueryContext(ctx, `
		SELECT cp.adapter_id, cp.table_id, cp.column_id, cp.placement_type FROM column_placements cp
		JOIN partition_placements pp ON pp.adapter_id = cp.adapter_id AND pp.table_id = cp.table_id
		WHERE cp.table_id = ? AND cp.column_id = ? AND pp.partition_id = ?
		ORDER BY cp.adapter_id`, tableID, columnID, partitionID)
	if err != nil {
		return nil, wrapErr("get column placements by partition", err)
	}
	out, err := scanPlacements(rows)
	return out, wrapErr("get column placements by partition", err)
}

const partitionColumns = `id, table_id, name, partition_key, qualifiers, is_unbound, record_count, tier`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPartition(row rowScanner) (*types.Partition, error) {
	var p types.Partition
	var qualifiers, tier string
	if err := row.Scan(&p.ID, &p.TableID, &p.Name, &p.PartitionKey, &qualifiers,
		&p.IsUnbound, &p.RecordCount, &tier); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(qualifiers), &p.Qualifiers); err != nil {
		return nil, fmt.Errorf("decode qualifiers of partition %d: %w", p.ID, err)
	}
	p.Tier = types.Tier(tier)
	return &p, nil
}

// GetPartition retrieves a single partition by id.
func (c *SQLiteCatalog) GetPartition(ctx context.Context, partitionID int64) (*types.Partition, error) {
	row := c.readDB.QueryRowContext(ctx, `SELECT `+partitionColumns+` FROM partitions WHERE id = ?`, partitionID)
	p, err := scanPartition(row)
	if err == sql.ErrNoRows {
		return nil, perrors.NotFound("partition", partitionID)
	}
	return p, wrapErr("get partition", err)
}

// GetPartitionsByTable returns the partitions of a table in table order.
func (c *SQLiteCatalog) GetPartitionsByTable(ctx context.Context, tableID int64) ([]*types.Partition, error) {
	var exists int
	err := c.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tables WHERE id = ?`, tableID).Scan(&exists)
	if err != nil {
		return nil, wrapErr("get partitions by table", err)
	}
	if exists == 0 {
		return nil, perrors.NotFound("table", tableID)
	}

	rows, err := c.readDB.QueryContext(ctx, `SELECT `+partitionColumns+` FROM partitions
		WHERE table_id = ? AND position IS NOT NULL ORDER BY position`, tableID)
	if err != nil {
		return nil, wrapErr("get partitions by table", err)
	}
	defer rows.Close()

	var out []*types.Partition
	for rows.Next() {
		p, err := scanPartition(rows)
		if err != nil {
			return nil, wrapErr("get partitions by table", err)
		}
		out = append(out, p)
	}
	return out, wrapErr("get partitions by table", rows.Err())
}

// GetAdapter retrieves a registered adapter.
func (c *SQLiteCatalog) GetAdapter(ctx context.Context, adapterID int64) (*types.Adapter, error) {
	a := &types.Adapter{ID: adapterID}
	err := c.readDB.QueryRowContext(ctx, `SELECT unique_name FROM adapters WHERE id = ?`, adapterID).Scan(&a.UniqueName)
	if err == sql.ErrNoRows {
		return nil, perrors.NotFound("adapter", adapterID)
	}
	if err != nil {
		return nil, wrapErr("get adapter", err)
	}
	return a, nil
}

// ListAdapters returns all registered adapters ordered by id.
func (c *SQLiteCatalog) ListAdapters(ctx context.Context) ([]*types.Adapter, error) {
	rows, err := c.readDB.QueryContext(ctx, `SELECT id, unique_name FROM adapters ORDER BY id`)
	if err != nil {
		return nil, wrapErr("list adapters", err)
	}
	defer rows.Close()
	var out []*types.Adapter
	for rows.Next() {
		var a types.Adapter
		if err := rows.Scan(&a.ID, &a.UniqueName); err != nil {
			return nil, wrapErr("list adapters", err)
		}
		out = append(out, &a)
	}
	return out, wrapErr("list adapters", rows.Err())
}

// RegisterAdapter adds a store under a unique name.
func (c *SQLiteCatalog) RegisterAdapter(ctx context.Context, uniqueName string) (*types.Adapter, error) {
	name := strings.TrimSpace(uniqueName)
	if name == "" {
		return nil, perrors.NewValidationError(perrors.CodeInvalidArgument, "adapter name must not be empty")
	}
	var a *types.Adapter
	err := c.withTx(ctx, "register adapter", func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM adapters WHERE unique_name = ?`, name).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return conflict("adapter %q already exists", name)
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO adapters (unique_name) VALUES (?)`, name)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		a = &types.Adapter{ID: id, UniqueName: name}
		return nil
	})
	return a, err
}

// CreateTable creates an unpartitioned table with one implicit partition.
func (c *SQLiteCatalog) CreateTable(ctx context.Context, name string, columns []types.ColumnDef) (*types.Table, error) {
	if err := validateColumnDefs(name, columns); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)

	var tableID int64
	err := c.withTx(ctx, "create table", func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tables WHERE name = ?`, name).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return conflict("table %q already exists", name)
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO tables (name, partition_type) VALUES (?, ?)`,
			name, string(types.PartitionNone))
		if err != nil {
			return err
		}
		if tableID, err = res.LastInsertId(); err != nil {
			return err
		}
		for i, def := range columns {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO columns (table_id, name, type, position) VALUES (?, ?, ?, ?)`,
				tableID, strings.TrimSpace(def.Name), string(def.Type), i); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO partitions (table_id, position) VALUES (?, 0)`, tableID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.loadTableForWrite(ctx, tableID)
}

// loadTableForWrite reads through the write connection so that a caller
// observes its own committed write without depending on reader visibility.
func (c *SQLiteCatalog) loadTableForWrite(ctx context.Context, tableID int64) (*types.Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.loadTable(ctx, c.db, tableID)
	return t, wrapErr("load table", err)
}

func requireTable(ctx context.Context, tx *sql.Tx, tableID int64) error {
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tables WHERE id = ?`, tableID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return perrors.NotFound("table", tableID)
	}
	return nil
}

// DropTable removes a table with its partitions and placements.
func (c *SQLiteCatalog) DropTable(ctx context.Context, tableID int64) error {
	return c.withTx(ctx, "drop table", func(tx *sql.Tx) error {
		if err := requireTable(ctx, tx, tableID); err != nil {
			return err
		}
		for _, stmt := range []string{
			`DELETE FROM partition_placements WHERE table_id = ?`,
			`DELETE FROM column_placements WHERE table_id = ?`,
			`DELETE FROM partitions WHERE table_id = ?`,
			`DELETE FROM columns WHERE table_id = ?`,
			`DELETE FROM tables WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, tableID); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddColumnPlacement places a column on an adapter.
func (c *SQLiteCatalog) AddColumnPlacement(ctx context.Context, placement types.ColumnPlacement) error {
	if placement.PlacementType == "" {
		placement.PlacementType = types.PlacementManual
	}
	return c.withTx(ctx, "add column placement", func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM adapters WHERE id = ?`, placement.AdapterID).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return perrors.NotFound("adapter", placement.AdapterID)
		}
		if err := requireTable(ctx, tx, placement.TableID); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM columns WHERE id = ? AND table_id = ?`,
			placement.ColumnID, placement.TableID).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return perrors.NotFound("column", placement.ColumnID)
		}
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM column_placements WHERE adapter_id = ? AND column_id = ?`,
			placement.AdapterID, placement.ColumnID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return conflict("column %d is already placed on adapter %d", placement.ColumnID, placement.AdapterID)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO column_placements (adapter_id, table_id, column_id, placement_type) VALUES (?, ?, ?, ?)`,
			placement.AdapterID, placement.TableID, placement.ColumnID, string(placement.PlacementType))
		return err
	})
}

// DeleteColumnPlacement removes a column from an adapter.
func (c *SQLiteCatalog) DeleteColumnPlacement(ctx context.Context, adapterID, columnID int64) error {
	return c.withTx(ctx, "delete column placement", func(tx *sql.Tx) error {
		var tableID int64
		err := tx.QueryRowContext(ctx, `SELECT table_id FROM column_placements WHERE adapter_id = ? AND column_id = ?`,
			adapterID, columnID).Scan(&tableID)
		if err == sql.ErrNoRows {
			return perrors.NotFound("column placement", fmt.Sprintf("{%d %d}", adapterID, columnID))
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM column_placements WHERE adapter_id = ? AND column_id = ?`,
			adapterID, columnID); err != nil {
			return err
		}
		var remaining int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM column_placements WHERE adapter_id = ? AND table_id = ?`,
			adapterID, tableID).Scan(&remaining); err != nil {
			return err
		}
		if remaining == 0 {
			_, err = tx.ExecContext(ctx, `DELETE FROM partition_placements WHERE adapter_id = ? AND table_id = ?`,
				adapterID, tableID)
		}
		return err
	})
}

// UpdatePartitionsOnDataPlacement replaces the partitions an adapter stores for a table.
func (c *SQLiteCatalog) UpdatePartitionsOnDataPlacement(ctx context.Context, adapterID, tableID int64, partitionIDs []int64) error {
	return c.withTx(ctx, "update data placement", func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM adapters WHERE id = ?`, adapterID).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return perrors.NotFound("adapter", adapterID)
		}
		if err := requireTable(ctx, tx, tableID); err != nil {
			return err
		}
		installed, err := c.installedPartitionIDs(ctx, tx, tableID)
		if err != nil {
			return err
		}
		member := make(map[int64]bool, len(installed))
		for _, id := range installed {
			member[id] = true
		}
		for _, id := range partitionIDs {
			if !member[id] {
				return conflict("partition %d is not part of table %d", id, tableID)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM partition_placements WHERE adapter_id = ? AND table_id = ?`,
			adapterID, tableID); err != nil {
			return err
		}
		for _, id := range partitionIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO partition_placements (adapter_id, table_id, partition_id) VALUES (?, ?, ?)`,
				adapterID, tableID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteDataPlacement removes every placement of a table on an adapter.
func (c *SQLiteCatalog) DeleteDataPlacement(ctx context.Context, adapterID, tableID int64) error {
	return c.withTx(ctx, "delete data placement", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM column_placements WHERE adapter_id = ? AND table_id = ?`,
			adapterID, tableID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM partition_placements WHERE adapter_id = ? AND table_id = ?`,
			adapterID, tableID)
		return err
	})
}

// AddPartition creates a partition that is not yet part of the table's partition list.
func (c *SQLiteCatalog) AddPartition(ctx context.Context, partition types.Partition) (int64, error) {
	qualifiers, err := json.Marshal(nonNil(partition.Qualifiers))
	if err != nil {
		return 0, fmt.Errorf("catalog: encode qualifiers: %w", err)
	}
	var id int64
	err = c.withTx(ctx, "add partition", func(tx *sql.Tx) error {
		if err := requireTable(ctx, tx, partition.TableID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO partitions (table_id, name, partition_key, qualifiers, is_unbound, record_count, tier)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			partition.TableID, partition.Name, partition.PartitionKey, string(qualifiers),
			partition.IsUnbound, partition.RecordCount, string(partition.Tier))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// PartitionTable installs a partition function and its partitions.
func (c *SQLiteCatalog) PartitionTable(ctx context.Context, tableID int64, partitionType types.PartitionType, columnID int64, partitionIDs []int64) error {
	return c.withTx(ctx, "partition table", func(tx *sql.Tx) error {
		if err := requireTable(ctx, tx, tableID); err != nil {
			return err
		}
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM columns WHERE id = ? AND table_id = ?`,
			columnID, tableID).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return perrors.NotFound("column", columnID)
		}

		keep := make(map[int64]bool, len(partitionIDs))
		for _, id := range partitionIDs {
			var owner int64
			err := tx.QueryRowContext(ctx, `SELECT table_id FROM partitions WHERE id = ?`, id).Scan(&owner)
			if err == sql.ErrNoRows {
				return perrors.NotFound("partition", id)
			}
			if err != nil {
				return err
			}
			if owner != tableID {
				return conflict("partition %d belongs to table %d", id, owner)
			}
			keep[id] = true
		}

		old, err := c.installedPartitionIDs(ctx, tx, tableID)
		if err != nil {
			return err
		}
		for _, id := range old {
			if keep[id] {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM partition_placements WHERE partition_id = ?`, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM partitions WHERE id = ?`, id); err != nil {
				return err
			}
		}
		for pos, id := range partitionIDs {
			if _, err := tx.ExecContext(ctx, `UPDATE partitions SET position = ? WHERE id = ?`, pos, id); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE tables SET partition_type = ?, partition_column_id = ? WHERE id = ?`,
			string(partitionType), columnID, tableID)
		return err
	})
}

// MergeTable reverts a table to a single implicit partition.
func (c *SQLiteCatalog) MergeTable(ctx context.Context, tableID int64) (int64, error) {
	var implicitID int64
	err := c.withTx(ctx, "merge table", func(tx *sql.Tx) error {
		if err := requireTable(ctx, tx, tableID); err != nil {
			return err
		}
		adapters, err := queryIDs(ctx, tx,
			`SELECT DISTINCT adapter_id FROM partition_placements WHERE table_id = ? ORDER BY adapter_id`, tableID)
		if err != nil {
			return err
		}
		var records int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(record_count), 0) FROM partitions WHERE table_id = ? AND position IS NOT NULL`,
			tableID).Scan(&records); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM partition_placements WHERE table_id = ?`, tableID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM partitions WHERE table_id = ?`, tableID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO partitions (table_id, record_count, position) VALUES (?, ?, 0)`, tableID, records)
		if err != nil {
			return err
		}
		if implicitID, err = res.LastInsertId(); err != nil {
			return err
		}
		for _, adapterID := range adapters {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO partition_placements (adapter_id, table_id, partition_id) VALUES (?, ?, ?)`,
				adapterID, tableID, implicitID); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE tables SET partition_type = ?, partition_column_id = 0, tiering = NULL WHERE id = ?`,
			string(types.PartitionNone), tableID)
		return err
	})
	return implicitID, err
}

func (c *SQLiteCatalog) updatePartition(ctx context.Context, op, stmt string, partitionID int64, arg interface{}) error {
	return c.withTx(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, stmt, arg, partitionID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return perrors.NotFound("partition", partitionID)
		}
		return nil
	})
}

// UpdateRecordCount adds delta to a partition's record count.
func (c *SQLiteCatalog) UpdateRecordCount(ctx context.Context, partitionID, delta int64) error {
	return c.updatePartition(ctx, "update record count",
		`UPDATE partitions SET record_count = record_count + ? WHERE id = ?`, partitionID, delta)
}

// UpdatePartitionTier records the temperature class of a partition.
func (c *SQLiteCatalog) UpdatePartitionTier(ctx context.Context, partitionID int64, tier types.Tier) error {
	return c.updatePartition(ctx, "update partition tier",
		`UPDATE partitions SET tier = ? WHERE id = ?`, partitionID, string(tier))
}

// UpdateTiering sets or clears the tiering policy of a table.
func (c *SQLiteCatalog) UpdateTiering(ctx context.Context, tableID int64, policy *types.TieringPolicy) error {
	var encoded interface{}
	if policy != nil {
		b, err := json.Marshal(policy)
		if err != nil {
			return fmt.Errorf("catalog: encode tiering: %w", err)
		}
		encoded = string(b)
	}
	return c.withTx(ctx, "update tiering", func(tx *sql.Tx) error {
		if err := requireTable(ctx, tx, tableID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tables SET tiering = ? WHERE id = ?`, encoded, tableID); err != nil {
			return err
		}
		if policy == nil {
			_, err := tx.ExecContext(ctx, `UPDATE partitions SET tier = '' WHERE table_id = ?`, tableID)
			return err
		}
		return nil
	})
}

// Dump returns a consistent copy of the whole catalog.
func (c *SQLiteCatalog) Dump(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("dump", err)
	}
	defer tx.Rollback()

	snap := &Snapshot{Version: SnapshotVersion, CreatedAt: time.Now().UTC()}

	rows, err := tx.QueryContext(ctx, `SELECT id, unique_name FROM adapters ORDER BY id`)
	if err != nil {
		return nil, wrapErr("dump adapters", err)
	}
	for rows.Next() {
		var a types.Adapter
		if err := rows.Scan(&a.ID, &a.UniqueName); err != nil {
			rows.Close()
			return nil, wrapErr("dump adapters", err)
		}
		snap.Adapters = append(snap.Adapters, a)
	}
	rows.Close()

	tableIDs, err := queryIDs(ctx, tx, `SELECT id FROM tables ORDER BY id`)
	if err != nil {
		return nil, wrapErr("dump tables", err)
	}
	for _, id := range tableIDs {
		t, err := c.loadTable(ctx, tx, id)
		if err != nil {
			return nil, wrapErr("dump tables", err)
		}
		t.Placements = nil
		snap.Tables = append(snap.Tables, *t)
	}

	prow, err := tx.QueryContext(ctx, `SELECT `+partitionColumns+` FROM partitions
		WHERE position IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, wrapErr("dump partitions", err)
	}
	for prow.Next() {
		p, err := scanPartition(prow)
		if err != nil {
			prow.Close()
			return nil, wrapErr("dump partitions", err)
		}
		snap.Partitions = append(snap.Partitions, *p)
	}
	prow.Close()

	crow, err := tx.QueryContext(ctx, `SELECT adapter_id, table_id, column_id, placement_type
		FROM column_placements ORDER BY column_id, adapter_id`)
	if err != nil {
		return nil, wrapErr("dump column placements", err)
	}
	if snap.ColumnPlacements, err = scanPlacements(crow); err != nil {
		return nil, wrapErr("dump column placements", err)
	}

	drow, err := tx.QueryContext(ctx, `
		SELECT pp.adapter_id, pp.table_id, pp.partition_id FROM partition_placements pp
		JOIN partitions p ON p.id = pp.partition_id
		ORDER BY pp.table_id, pp.adapter_id, p.position`)
	if err != nil {
		return nil, wrapErr("dump data placements", err)
	}
	defer drow.Close()
	for drow.Next() {
		var adapterID, tableID, partitionID int64
		if err := drow.Scan(&adapterID, &tableID, &partitionID); err != nil {
			return nil, wrapErr("dump data placements", err)
		}
		n := len(snap.DataPlacements)
		if n == 0 || snap.DataPlacements[n-1].AdapterID != adapterID || snap.DataPlacements[n-1].TableID != tableID {
			snap.DataPlacements = append(snap.DataPlacements, DataPlacement{AdapterID: adapterID, TableID: tableID})
			n++
		}
		snap.DataPlacements[n-1].PartitionIDs = append(snap.DataPlacements[n-1].PartitionIDs, partitionID)
	}
	return snap, wrapErr("dump data placements", drow.Err())
}

// Restore loads a snapshot into an empty catalog.
func (c *SQLiteCatalog) Restore(ctx context.Context, snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return perrors.NewCatalogError(perrors.CodeConflict, "invalid snapshot", err)
	}
	return c.withTx(ctx, "restore", func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT (SELECT COUNT(*) FROM adapters) + (SELECT COUNT(*) FROM tables)`).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return conflict("restore requires an empty catalog")
		}

		for _, a := range snap.Adapters {
			if _, err := tx.ExecContext(ctx, `INSERT INTO adapters (id, unique_name) VALUES (?, ?)`, a.ID, a.UniqueName); err != nil {
				return err
			}
		}
		positions := make(map[int64]int)
		for _, t := range snap.Tables {
			var tiering interface{}
			if t.Tiering != nil {
				b, err := json.Marshal(t.Tiering)
				if err != nil {
					return err
				}
				tiering = string(b)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tables (id, name, partition_type, partition_column_id, tiering) VALUES (?, ?, ?, ?, ?)`,
				t.ID, t.Name, string(t.PartitionType), t.PartitionColumnID, tiering); err != nil {
				return err
			}
			for _, col := range t.Columns {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO columns (id, table_id, name, type, position) VALUES (?, ?, ?, ?, ?)`,
					col.ID, t.ID, col.Name, string(col.Type), col.Position); err != nil {
					return err
				}
			}
			for pos, pid := range t.PartitionIDs {
				positions[pid] = pos
			}
		}
		for _, p := range snap.Partitions {
			qualifiers, err := json.Marshal(nonNil(p.Qualifiers))
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO partitions (id, table_id, name, partition_key, qualifiers, is_unbound, record_count, tier, position)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				p.ID, p.TableID, p.Name, p.PartitionKey, string(qualifiers), p.IsUnbound,
				p.RecordCount, string(p.Tier), positions[p.ID]); err != nil {
				return err
			}
		}
		for _, cp := range snap.ColumnPlacements {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO column_placements (adapter_id, table_id, column_id, placement_type) VALUES (?, ?, ?, ?)`,
				cp.AdapterID, cp.TableID, cp.ColumnID, string(cp.PlacementType)); err != nil {
				return err
			}
		}
		for _, dp := range snap.DataPlacements {
			for _, pid := range dp.PartitionIDs {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO partition_placements (adapter_id, table_id, partition_id) VALUES (?, ?, ?)`,
					dp.AdapterID, dp.TableID, pid); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Close closes both database connections.
func (c *SQLiteCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	if c.readDB != nil {
		if err := c.readDB.Close(); err != nil {
			firstErr = err
		}
	}
	if err := c.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
