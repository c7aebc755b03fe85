package pgcopy

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osm2pgsql-dev/osm2pgsql-sub000/internal/osm"
)

// recordingExecutor logs every database interaction in order.
type recordingExecutor struct {
	mu  sync.Mutex
	ops []string
}

func (e *recordingExecutor) record(op string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops = append(e.ops, op)
}

func (e *recordingExecutor) operations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.ops))
	copy(out, e.ops)
	return out
}

func (e *recordingExecutor) Exec(_ context.Context, sql string) error {
	e.record("EXEC: " + sql)
	return nil
}

func (e *recordingExecutor) CopyFrom(_ context.Context, r io.Reader, sql string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	e.record("COPY: " + sql + " <<" + string(data) + ">>")
	return nil
}

func (e *recordingExecutor) Close(context.Context) error {
	e.record("CLOSE")
	return nil
}

func testTarget(name string) *Target {
	return &Target{Name: name, Columns: []string{"osm_id", "way"}, IDColumn: "osm_id"}
}

func TestEscape(t *testing.T) {
	assert.Equal(t, []byte(`plain`), appendEscaped(nil, "plain"))
	assert.Equal(t, []byte("a\\\tb"), appendEscaped(nil, "a\tb"))
	assert.Equal(t, []byte("a\\\nb"), appendEscaped(nil, "a\nb"))
	assert.Equal(t, []byte("a\\\rb"), appendEscaped(nil, "a\rb"))
	assert.Equal(t, []byte(`a\\b`), appendEscaped(nil, `a\b`))
}

// The hash escaping contract is byte-exact: a quote becomes two backslashes
// plus the quote, a backslash becomes four backslashes.
func TestHashEscape(t *testing.T) {
	assert.Equal(t, `\\"`, string(appendHashEscaped(nil, `"`)))
	assert.Equal(t, `\\\\`, string(appendHashEscaped(nil, `\`)))
	assert.Equal(t, "a\\\nb", string(appendHashEscaped(nil, "a\nb")))
	assert.Equal(t, `k\\"ey`, string(appendHashEscaped(nil, `k"ey`)))
}

func TestTargetCompatibility(t *testing.T) {
	a := testTarget("planet_point")
	b := testTarget("planet_point")
	c := testTarget("planet_line")
	d := &Target{Name: "planet_point", Columns: []string{"osm_id"}, IDColumn: "osm_id"}

	assert.True(t, a.SameCopyTarget(b))
	assert.False(t, a.SameCopyTarget(c))
	assert.False(t, a.SameCopyTarget(d))
}

func TestCopySQL(t *testing.T) {
	assert.Equal(t, "COPY planet_point (osm_id, way) FROM STDIN", testTarget("planet_point").CopySQL())
	assert.Equal(t, "COPY t FROM STDIN", (&Target{Name: "t"}).CopySQL())
}

func newTestThread(t *testing.T) (*Thread, *recordingExecutor) {
	t.Helper()
	exec := &recordingExecutor{}
	thread := NewThread(nil, exec)
	thread.fatal = func(msg string, err error) {
		t.Fatalf("%s: %v", msg, err)
	}
	return thread, exec
}

func TestWriterTransactionLifecycle(t *testing.T) {
	thread, exec := newTestThread(t)
	thread.Finish()

	ops := exec.operations()
	require.Len(t, ops, 4)
	assert.Equal(t, "EXEC: SET synchronous_commit TO off", ops[0])
	assert.Equal(t, "EXEC: BEGIN", ops[1])
	assert.Equal(t, "EXEC: COMMIT", ops[2])
	assert.Equal(t, "CLOSE", ops[3])
}

// Delete-before-insert: the DELETE must run before the buffer's rows are
// copied, so a modify is never masked by its own delete.
func TestDeleteBeforeInsert(t *testing.T) {
	thread, exec := newTestThread(t)
	mgr := NewManager(thread)

	target := testTarget("planet_point")
	mgr.DeleteID(target, 5)
	mgr.NewLine(target)
	mgr.AddInt(5)
	mgr.AddColumn("pt")
	mgr.FinishLine()
	mgr.Sync()
	thread.Finish()

	ops := exec.operations()
	deleteIdx, copyIdx := -1, -1
	for i, op := range ops {
		if strings.HasPrefix(op, "EXEC: DELETE FROM planet_point WHERE osm_id IN (5)") {
			deleteIdx = i
		}
		if strings.HasPrefix(op, "COPY: COPY planet_point") {
			copyIdx = i
		}
	}
	require.GreaterOrEqual(t, deleteIdx, 0, "delete statement missing: %v", ops)
	require.GreaterOrEqual(t, copyIdx, 0, "copy missing: %v", ops)
	assert.Less(t, deleteIdx, copyIdx, "delete must precede the insert")
	assert.Contains(t, ops[copyIdx], "5\tpt\n")
}

// The DELETE statement keeps the space before WHERE.
func TestDeleteSQLSpacing(t *testing.T) {
	thread, exec := newTestThread(t)
	mgr := NewManager(thread)

	mgr.DeleteID(testTarget("planet_line"), 1)
	mgr.DeleteID(testTarget("planet_line"), 2)
	mgr.Sync()
	thread.Finish()

	found := false
	for _, op := range exec.operations() {
		if op == "EXEC: DELETE FROM planet_line WHERE osm_id IN (1,2)" {
			found = true
		}
	}
	assert.True(t, found, "ops: %v", exec.operations())
}

// Switching targets finishes the open COPY before the next one starts.
func TestTargetSwitchFlushes(t *testing.T) {
	thread, exec := newTestThread(t)
	mgr := NewManager(thread)

	point := testTarget("planet_point")
	line := testTarget("planet_line")

	mgr.NewLine(point)
	mgr.AddInt(1)
	mgr.AddColumn("a")
	mgr.FinishLine()

	mgr.NewLine(line)
	mgr.AddInt(2)
	mgr.AddColumn("b")
	mgr.FinishLine()

	mgr.Sync()
	thread.Finish()

	ops := exec.operations()
	var copies []string
	for _, op := range ops {
		if strings.HasPrefix(op, "COPY: ") {
			copies = append(copies, op)
		}
	}
	require.Len(t, copies, 2)
	assert.Contains(t, copies[0], "planet_point")
	assert.Contains(t, copies[0], "1\ta\n")
	assert.Contains(t, copies[1], "planet_line")
	assert.Contains(t, copies[1], "2\tb\n")
}

// Compatible buffers stream into one COPY operation.
func TestSameTargetSharesCopy(t *testing.T) {
	thread, exec := newTestThread(t)
	mgr := NewManager(thread)

	target := testTarget("planet_point")
	mgr.NewLine(target)
	mgr.AddInt(1)
	mgr.AddColumn("a")
	mgr.FinishLine()
	mgr.Flush()

	mgr.NewLine(target)
	mgr.AddInt(2)
	mgr.AddColumn("b")
	mgr.FinishLine()
	mgr.Sync()
	thread.Finish()

	var copies []string
	for _, op := range exec.operations() {
		if strings.HasPrefix(op, "COPY: ") {
			copies = append(copies, op)
		}
	}
	require.Len(t, copies, 1, "both buffers must share one COPY")
	assert.Contains(t, copies[0], "1\ta\n2\tb\n")
}

// An SQL command finishes the open COPY first and runs in order.
func TestExecSQLOrdering(t *testing.T) {
	thread, exec := newTestThread(t)
	mgr := NewManager(thread)

	target := testTarget("planet_point")
	mgr.NewLine(target)
	mgr.AddInt(1)
	mgr.AddColumn("a")
	mgr.FinishLine()
	mgr.ExecSQL("ANALYZE planet_point")
	mgr.Sync()
	thread.Finish()

	ops := exec.operations()
	copyIdx, sqlIdx := -1, -1
	for i, op := range ops {
		if strings.HasPrefix(op, "COPY: ") {
			copyIdx = i
		}
		if op == "EXEC: ANALYZE planet_point" {
			sqlIdx = i
		}
	}
	require.GreaterOrEqual(t, copyIdx, 0)
	require.GreaterOrEqual(t, sqlIdx, 0)
	assert.Less(t, copyIdx, sqlIdx)
}

func TestRowSerialization(t *testing.T) {
	thread, exec := newTestThread(t)
	mgr := NewManager(thread)

	target := &Target{
		Name:     "planet_point",
		Columns:  []string{"osm_id", "name", "tags", "way"},
		IDColumn: "osm_id",
	}
	mgr.NewLine(target)
	mgr.AddInt(42)
	mgr.AddNull()
	mgr.NewHash()
	mgr.AddHashElem("name", `Ca"fe`)
	mgr.AddHashElem("note", `back\slash`)
	mgr.FinishHash()
	mgr.AddRaw("0101000020110F0000")
	mgr.FinishLine()
	mgr.Sync()
	thread.Finish()

	var copied string
	for _, op := range exec.operations() {
		if strings.HasPrefix(op, "COPY: ") {
			copied = op
		}
	}
	want := "42\t\\N\t" +
		`"name"=>"Ca\\"fe","note"=>"back\\\\slash"` +
		"\t0101000020110F0000\n"
	assert.Contains(t, copied, want)
}

func TestBufferThresholdHandsOff(t *testing.T) {
	thread, exec := newTestThread(t)
	mgr := NewManager(thread)

	target := testTarget("planet_point")
	big := strings.Repeat("x", MaxBufferSize/4)
	for i := 0; i < 6; i++ {
		mgr.NewLine(target)
		mgr.AddInt(int64(i))
		mgr.AddColumn(big)
		mgr.FinishLine()
	}
	mgr.Sync()
	thread.Finish()

	// All rows arrive despite intermediate hand-offs.
	joined := strings.Join(exec.operations(), "")
	for i := 0; i < 6; i++ {
		assert.Contains(t, joined, string(rune('0'+i))+"\t")
	}
}

func TestManagerDeleteAccumulates(t *testing.T) {
	thread, exec := newTestThread(t)
	mgr := NewManager(thread)

	target := testTarget("planet_point")
	for _, id := range []osm.ID{1, 2, 3} {
		mgr.DeleteID(target, id)
	}
	mgr.Sync()
	thread.Finish()

	found := false
	for _, op := range exec.operations() {
		if op == "EXEC: DELETE FROM planet_point WHERE osm_id IN (1,2,3)" {
			found = true
		}
	}
	assert.True(t, found, "ops: %v", exec.operations())
}
