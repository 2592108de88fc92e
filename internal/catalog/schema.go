package catalog

// Schema for the SQLite catalog (catalog.db). The database is the source of
// truth for tables, partitions and placements when the sqlite backend is
// configured.

// CreateAdaptersTableSQL creates the registered stores table.
const CreateAdaptersTableSQL = `
CREATE TABLE IF NOT EXISTS adapters (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    unique_name TEXT NOT NULL UNIQUE COLLATE NOCASE
)`

// CreateTablesTableSQL creates the logical tables table. Tiering columns are
// NULL when hot/cold processing is disabled.
const CreateTablesTableSQL = `
CREATE TABLE IF NOT EXISTS tables (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE COLLATE NOCASE,
    partition_type TEXT NOT NULL DEFAULT 'NONE',
    partition_column_id INTEGER NOT NULL DEFAULT 0,
    tiering TEXT
)`

// CreateColumnsTableSQL creates the columns table.
const CreateColumnsTableSQL = `
CREATE TABLE IF NOT EXISTS columns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    table_id INTEGER NOT NULL REFERENCES tables(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    position INTEGER NOT NULL
)`

// CreatePartitionsTableSQL creates the partitions table. Position is NULL
// while a partition is staged and not yet installed on its table.
const CreatePartitionsTableSQL = `
CREATE TABLE IF NOT EXISTS partitions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    table_id INTEGER NOT NULL REFERENCES tables(id) ON DELETE CASCADE,
    name TEXT NOT NULL DEFAULT '',
    partition_key TEXT NOT NULL DEFAULT '',
    qualifiers TEXT NOT NULL DEFAULT '[]',
    is_unbound INTEGER NOT NULL DEFAULT 0,
    record_count INTEGER NOT NULL DEFAULT 0,
    tier TEXT NOT NULL DEFAULT '',
    position INTEGER
)`

// CreateColumnPlacementsTableSQL creates the column placements table.
const CreateColumnPlacementsTableSQL = `
CREATE TABLE IF NOT EXISTS column_placements (
    adapter_id INTEGER NOT NULL REFERENCES adapters(id),
    table_id INTEGER NOT NULL REFERENCES tables(id) ON DELETE CASCADE,
    column_id INTEGER NOT NULL REFERENCES columns(id) ON DELETE CASCADE,
    placement_type TEXT NOT NULL,
    PRIMARY KEY (adapter_id, column_id)
)`

// CreatePartitionPlacementsTableSQL records which partitions each adapter
// stores for a table (the data placement).
const CreatePartitionPlacementsTableSQL = `
CREATE TABLE IF NOT EXISTS partition_placements (
    adapter_id INTEGER NOT NULL REFERENCES adapters(id),
    table_id INTEGER NOT NULL REFERENCES tables(id) ON DELETE CASCADE,
    partition_id INTEGER NOT NULL REFERENCES partitions(id) ON DELETE CASCADE,
    PRIMARY KEY (adapter_id, partition_id)
)`

// CreateIndexesSQL creates the lookup indexes used by routing queries.
var CreateIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_columns_table ON columns(table_id, position)`,
	`CREATE INDEX IF NOT EXISTS idx_partitions_table ON partitions(table_id, position)`,
	`CREATE INDEX IF NOT EXISTS idx_column_placements_column ON column_placements(column_id, adapter_id)`,
	`CREATE INDEX IF NOT EXISTS idx_column_placements_table ON column_placements(table_id, adapter_id)`,
	`CREATE INDEX IF NOT EXISTS idx_partition_placements_table ON partition_placements(table_id, adapter_id)`,
}

// AllSchemaSQL returns all schema creation statements in dependency order.
func AllSchemaSQL() []string {
	stmts := []string{
		CreateAdaptersTableSQL,
		CreateTablesTableSQL,
		CreateColumnsTableSQL,
		CreatePartitionsTableSQL,
		CreateColumnPlacementsTableSQL,
		CreatePartitionPlacementsTableSQL,
	}
	return append(stmts, CreateIndexesSQL...)
}
