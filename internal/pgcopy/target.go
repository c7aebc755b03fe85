// Package pgcopy streams rows into database tables over the bulk-copy wire
// protocol: a producer-side manager accumulates per-target buffers and a
// single background writer goroutine per connection applies deletions and
// COPY data in order.
package pgcopy

import (
	"strings"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
)

// Target describes one copy destination table.
type Target struct {
	// Name is the schema-qualified table name.
	Name string
	// Columns is the ordered column list; empty means all columns.
	Columns []string
	// IDColumn is the column used when deleting objects.
	IDColumn string
}

// SameCopyTarget reports whether rows for both targets can share one COPY
// operation.
func (t *Target) SameCopyTarget(o *Target) bool {
	if t == o {
		return true
	}
	if t.Name != o.Name || len(t.Columns) != len(o.Columns) {
		return false
	}
	for i := range t.Columns {
		if t.Columns[i] != o.Columns[i] {
			return false
		}
	}
	return true
}

// CopySQL returns the COPY statement that opens this target.
func (t *Target) CopySQL() string {
	var sb strings.Builder
	sb.WriteString("COPY ")
	sb.WriteString(t.Name)
	if len(t.Columns) > 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(t.Columns, ", "))
		sb.WriteString(")")
	}
	sb.WriteString(" FROM STDIN")
	return sb.String()
}

// MaxBufferSize is the threshold at which a buffer is handed to the writer.
const MaxBufferSize = 10 * 1024 * 1024

// Buffer carries copy rows for one target plus the ids that must be deleted
// before those rows are inserted.
type Buffer struct {
	Target     *Target
	Deletables []osm.ID
	Data       []byte
}

func newBuffer(t *Target) *Buffer {
	return &Buffer{Target: t, Data: make([]byte, 0, 64*1024)}
}
