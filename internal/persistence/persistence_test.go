package persistence

import "testing"

// The Store's methods all require a live Postgres connection (*pgxpool.Pool
// has no in-package fake to substitute, and this repo's test suite never
// touches a database). Coverage here is limited to the parts that are pure:
// the schema text itself.
func TestSchema_DeclaresExpectedTables(t *testing.T) {
	for _, table := range []string{
		"crawl_sessions", "pages", "word_frequencies", "links",
		"session_metrics_timeseries", "error_events",
	} {
		if !containsTable(Schema, table) {
			t.Errorf("Schema missing CREATE TABLE for %q", table)
		}
	}
}

func containsTable(schema, table string) bool {
	needle := "TABLE IF NOT EXISTS " + table
	for i := 0; i+len(needle) <= len(schema); i++ {
		if schema[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
