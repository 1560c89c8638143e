package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the few differences between the supported SQL backends.
type Dialect struct {
	Name   string
	Driver string

	// Serial is the column definition of an auto-incremented integer primary key.
	Serial    string
	JSON      string
	Timestamp string

	// Positional placeholders ($1, $2, ...) instead of '?'.
	Positional bool
}

var (
	Postgres = Dialect{
		Name:       "postgres",
		Driver:     "postgres",
		Serial:     "SERIAL PRIMARY KEY",
		JSON:       "JSON",
		Timestamp:  "TIMESTAMPTZ",
		Positional: true,
	}
	SQLite = Dialect{
		Name:      "sqlite",
		Driver:    "sqlite3",
		Serial:    "INTEGER PRIMARY KEY AUTOINCREMENT",
		JSON:      "TEXT",
		Timestamp: "TIMESTAMP",
	}
)

// Rebind rewrites '?' placeholders into the dialect's form.
func (d Dialect) Rebind(query string) string {
	if !d.Positional {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// expand substitutes the dialect column types into a schema statement.
func (d Dialect) expand(stmt string) string {
	return strings.NewReplacer(
		"{serial}", d.Serial,
		"{json}", d.JSON,
		"{timestamp}", d.Timestamp,
	).Replace(stmt)
}
