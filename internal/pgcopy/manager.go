package pgcopy

import (
	"strconv"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
)

// Manager is the producer side of the copy pipeline. It fills buffers row by
// row and hands them to the writer thread when they grow past the size
// threshold, when the target switches, or when an SQL command or barrier
// needs ordering.
//
// Manager is owned by the producer goroutine and is not safe for concurrent
// use.
type Manager struct {
	thread  *Thread
	current *Buffer
	columns int
	hash    bool
	hashLen int
}

// NewManager builds a manager feeding the given writer thread.
func NewManager(thread *Thread) *Manager {
	return &Manager{thread: thread}
}

// NewLine starts a row for the given target, flushing the pending buffer if
// it is incompatible or full.
func (m *Manager) NewLine(target *Target) {
	if m.current != nil &&
		(!m.current.Target.SameCopyTarget(target) || len(m.current.Data) > MaxBufferSize) {
		m.thread.Send(m.current)
		m.current = nil
	}
	if m.current == nil {
		m.current = newBuffer(target)
	}
	m.columns = 0
}

func (m *Manager) sep() {
	if m.columns > 0 {
		m.current.Data = append(m.current.Data, '\t')
	}
	m.columns++
}

// AddColumn appends a text column with COPY escaping.
func (m *Manager) AddColumn(value string) {
	m.sep()
	m.current.Data = appendEscaped(m.current.Data, value)
}

// AddInt appends an integer column.
func (m *Manager) AddInt(value int64) {
	m.sep()
	m.current.Data = strconv.AppendInt(m.current.Data, value, 10)
}

// AddFloat appends a floating-point column.
func (m *Manager) AddFloat(value float64) {
	m.sep()
	m.current.Data = strconv.AppendFloat(m.current.Data, value, 'g', -1, 64)
}

// AddRaw appends a column value that needs no escaping, such as hex-encoded
// geometry.
func (m *Manager) AddRaw(value string) {
	m.sep()
	m.current.Data = append(m.current.Data, value...)
}

// AddNull appends a NULL column.
func (m *Manager) AddNull() {
	m.sep()
	m.current.Data = append(m.current.Data, '\\', 'N')
}

// NewHash starts a key-value-map column.
func (m *Manager) NewHash() {
	m.sep()
	m.hash = true
	m.hashLen = 0
}

// AddHashElem appends one "key"=>"value" pair to the open hash column.
func (m *Manager) AddHashElem(key, value string) {
	if m.hashLen > 0 {
		m.current.Data = append(m.current.Data, ',')
	}
	m.hashLen++
	m.current.Data = append(m.current.Data, '"')
	m.current.Data = appendHashEscaped(m.current.Data, key)
	m.current.Data = append(m.current.Data, '"', '=', '>', '"')
	m.current.Data = appendHashEscaped(m.current.Data, value)
	m.current.Data = append(m.current.Data, '"')
}

// FinishHash closes the hash column.
func (m *Manager) FinishHash() {
	m.hash = false
}

// FinishLine terminates the row.
func (m *Manager) FinishLine() {
	m.current.Data = append(m.current.Data, '\n')
}

// DeleteID marks an id for deletion in the current target. The deletion is
// guaranteed to run before any row added after this call is inserted.
func (m *Manager) DeleteID(target *Target, id osm.ID) {
	m.NewLine(target)
	m.current.Deletables = append(m.current.Deletables, id)
}

// ExecSQL runs a statement in order: previously filled buffers are flushed
// first.
func (m *Manager) ExecSQL(sql string) {
	m.Flush()
	m.thread.ExecSQL(sql)
}

// Sync flushes and blocks until the writer has processed everything queued
// so far.
func (m *Manager) Sync() {
	m.Flush()
	m.thread.Sync()
}

// Flush hands any pending buffer to the writer.
func (m *Manager) Flush() {
	if m.current != nil {
		m.thread.Send(m.current)
		m.current = nil
	}
}
