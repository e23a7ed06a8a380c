package ingest

// Table is a parsed tabular upload. Rows may be ragged; callers must not assume
// len(row) == len(Columns).
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Head returns at most n leading rows.
func (t *Table) Head(n int) [][]string {
	if t == nil {
		return nil
	}
	if n < 0 || n > len(t.Rows) {
		n = len(t.Rows)
	}
	return t.Rows[:n]
}
