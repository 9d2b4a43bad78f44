package repository

import "github.com/lib/pq"

// pqStringArray adapts a []string to Postgres TEXT[] wire format for
// ExecContext/QueryRowContext arguments.
func pqStringArray(values []string) any {
	return pq.Array(values)
}

// pqStringArrayScan adapts a *[]string destination for Scan against a
// Postgres TEXT[] column.
func pqStringArrayScan(dest *[]string) any {
	return pq.Array(dest)
}
