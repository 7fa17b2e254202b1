package mysql

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("actionqueue mysql: db is required")
	// ErrTableNameRequired is returned when the table name is empty.
	ErrTableNameRequired = errors.New("actionqueue mysql: table name is required")
	// ErrInvalidTableName is returned when the table name has disallowed characters.
	ErrInvalidTableName = errors.New("actionqueue mysql: invalid table name")
	// ErrQueueKeyRequired is returned when the queue key is empty.
	ErrQueueKeyRequired = errors.New("actionqueue mysql: queue key is required")
	// ErrQueueKeyTooLong is returned when the queue key does not fit the key column.
	ErrQueueKeyTooLong = errors.New("actionqueue mysql: queue key is too long")
	// ErrPruneBeforeRequired is returned when the prune cutoff is missing.
	ErrPruneBeforeRequired = errors.New("actionqueue mysql: prune before time is required")
	// ErrPruneBatchInvalid is returned when the prune batch size is negative.
	ErrPruneBatchInvalid = errors.New("actionqueue mysql: prune batch size must be non-negative")
	// ErrPruneRetentionInvalid is returned when the prune retention is not positive.
	ErrPruneRetentionInvalid = errors.New("actionqueue mysql: prune retention must be positive")
)
