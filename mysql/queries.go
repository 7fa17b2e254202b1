package mysql

import "fmt"

type queries struct {
	selectOne  string
	upsert     string
	deleteOne  string
	pruneEmpty string
}

func newQueries(table string) queries {
	return queries{
		selectOne: fmt.Sprintf("SELECT data FROM %s WHERE queue_key = ?", table),
		upsert: fmt.Sprintf(
			"INSERT INTO %s (queue_key, data, entry_count, updated_at) VALUES (?, ?, ?, ?) AS new "+
				"ON DUPLICATE KEY UPDATE data = new.data, entry_count = new.entry_count, updated_at = new.updated_at",
			table,
		),
		deleteOne: fmt.Sprintf("DELETE FROM %s WHERE queue_key = ?", table),
		pruneEmpty: fmt.Sprintf(
			"DELETE FROM %s WHERE entry_count = 0 AND updated_at <= ? ORDER BY updated_at LIMIT ?",
			table,
		),
	}
}
