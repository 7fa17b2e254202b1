package mysql

import "fmt"

const schemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	queue_key VARCHAR(128) NOT NULL,
	data %s NOT NULL,
	entry_count INT NOT NULL DEFAULT 0,
	updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	PRIMARY KEY (queue_key),
	INDEX idx_entry_count_updated_at (entry_count, updated_at)
);`

const (
	dataJSON   = "JSON"
	dataBinary = "LONGBLOB"
)

// Schema returns the schema for a queue table with a JSON data column.
func Schema(table string) (string, error) {
	return buildSchema(table, dataJSON)
}

// SchemaBinary returns the schema for a queue table with a LONGBLOB data column.
func SchemaBinary(table string) (string, error) {
	return buildSchema(table, dataBinary)
}

func buildSchema(table, dataType string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(schemaTemplate, name, dataType), nil
}
