package pgcopy

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Executor is the database surface the writer needs. Production use wraps a
// pgx connection; tests substitute a recorder.
type Executor interface {
	Exec(ctx context.Context, sql string) error
	// CopyFrom runs the given COPY ... FROM STDIN statement, reading the
	// text-format rows from r until EOF.
	CopyFrom(ctx context.Context, r io.Reader, sql string) error
	Close(ctx context.Context) error
}

type pgxExecutor struct {
	conn *pgx.Conn
}

func (e *pgxExecutor) Exec(ctx context.Context, sql string) error {
	_, err := e.conn.Exec(ctx, sql)
	return err
}

func (e *pgxExecutor) CopyFrom(ctx context.Context, r io.Reader, sql string) error {
	_, err := e.conn.PgConn().CopyFrom(ctx, r, sql)
	return err
}

func (e *pgxExecutor) Close(ctx context.Context) error {
	return e.conn.Close(ctx)
}

// Connect opens a database connection for a writer thread.
func Connect(ctx context.Context, conninfo string) (Executor, error) {
	conn, err := pgx.Connect(ctx, conninfo)
	if err != nil {
		return nil, fmt.Errorf("connection to database failed: %w", err)
	}
	return &pgxExecutor{conn: conn}, nil
}

// queueDepth bounds the writer queue. The producer blocks when the writer
// falls this far behind.
const queueDepth = 64

type command interface{ isCommand() }

type copyCmd struct{ buf *Buffer }
type sqlCmd struct{ sql string }
type syncCmd struct{ barrier chan struct{} }
type finishCmd struct{}

func (copyCmd) isCommand()   {}
func (sqlCmd) isCommand()    {}
func (syncCmd) isCommand()   {}
func (finishCmd) isCommand() {}

// inflight tracks a COPY operation that is open on the connection. Data is
// streamed through a pipe into the executor's CopyFrom, which runs until the
// pipe is closed.
type inflight struct {
	target *Target
	pw     *io.PipeWriter
	done   chan error
}

// Thread is the background writer. Exactly one goroutine owns the database
// connection; the producer talks to it through a bounded single-producer
// single-consumer queue. A database error terminates the process after a
// one-line diagnostic, matching the no-silent-data-loss contract.
type Thread struct {
	log   *zap.Logger
	exec  Executor
	queue chan command
	done  chan struct{}

	inflight *inflight

	// fatal reports an unrecoverable database error. Overridable for tests;
	// the default exits the process.
	fatal func(msg string, err error)
}

// NewThread starts a writer on the given connection. The connection is
// wrapped into one long transaction with synchronous_commit off; Finish
// commits it.
func NewThread(log *zap.Logger, exec Executor) *Thread {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("db-writer")

	t := &Thread{
		log:   log,
		exec:  exec,
		queue: make(chan command, queueDepth),
		done:  make(chan struct{}),
	}
	t.fatal = func(msg string, err error) {
		t.log.Fatal(msg, zap.Error(err))
	}
	go t.worker()
	return t
}

// Send hands a filled buffer to the writer. The buffer must not be touched
// by the producer afterwards.
func (t *Thread) Send(buf *Buffer) {
	t.queue <- copyCmd{buf: buf}
}

// ExecSQL queues an SQL statement. Any open COPY is finished first.
func (t *Thread) ExecSQL(sql string) {
	t.queue <- sqlCmd{sql: sql}
}

// Sync blocks until every previously queued command has been executed.
func (t *Thread) Sync() {
	barrier := make(chan struct{})
	t.queue <- syncCmd{barrier: barrier}
	<-barrier
}

// Finish drains the queue, commits the transaction and closes the
// connection. It blocks until the writer has terminated.
func (t *Thread) Finish() {
	t.queue <- finishCmd{}
	<-t.done
}

func (t *Thread) worker() {
	ctx := context.Background()
	defer close(t.done)

	// Delay commits so they do not throttle the bulk load.
	if err := t.exec.Exec(ctx, "SET synchronous_commit TO off"); err != nil {
		t.fatal("db writer thread failed", err)
		return
	}
	if err := t.exec.Exec(ctx, "BEGIN"); err != nil {
		t.fatal("db writer thread failed", err)
		return
	}

	for cmd := range t.queue {
		var err error
		switch c := cmd.(type) {
		case copyCmd:
			err = t.writeToDB(ctx, c.buf)
		case sqlCmd:
			if err = t.finishCopy(); err == nil {
				err = t.exec.Exec(ctx, c.sql)
			}
		case syncCmd:
			err = t.finishCopy()
			close(c.barrier)
		case finishCmd:
			if err = t.finishCopy(); err == nil {
				t.log.Info("committing transaction")
				if err = t.exec.Exec(ctx, "COMMIT"); err == nil {
					err = t.exec.Close(ctx)
				}
			}
			if err != nil {
				t.fatal("db writer thread failed", err)
			}
			return
		}
		if err != nil {
			t.fatal("db writer thread failed", err)
			return
		}
	}
}

// writeToDB applies one buffer: deletions always run before the rows are
// inserted and force any open COPY to finish first, as does a target switch.
func (t *Thread) writeToDB(ctx context.Context, buf *Buffer) error {
	if len(buf.Deletables) > 0 ||
		(t.inflight != nil && !buf.Target.SameCopyTarget(t.inflight.target)) {
		if err := t.finishCopy(); err != nil {
			return err
		}
	}

	if len(buf.Deletables) > 0 {
		if err := t.deleteRows(ctx, buf); err != nil {
			return err
		}
	}

	if t.inflight == nil {
		t.startCopy(ctx, buf.Target)
	}

	if _, err := t.inflight.pw.Write(buf.Data); err != nil {
		return fmt.Errorf("copy data for %s: %w", buf.Target.Name, err)
	}
	return nil
}

func (t *Thread) deleteRows(ctx context.Context, buf *Buffer) error {
	var sb strings.Builder
	sb.Grow(len(buf.Target.Name) + len(buf.Deletables)*15 + 30)
	sb.WriteString("DELETE FROM ")
	sb.WriteString(buf.Target.Name)
	sb.WriteString(" WHERE ")
	sb.WriteString(buf.Target.IDColumn)
	sb.WriteString(" IN (")
	for i, id := range buf.Deletables {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(int64(id), 10))
	}
	sb.WriteByte(')')
	return t.exec.Exec(ctx, sb.String())
}

func (t *Thread) startCopy(ctx context.Context, target *Target) {
	pr, pw := io.Pipe()
	fl := &inflight{target: target, pw: pw, done: make(chan error, 1)}
	go func() {
		err := t.exec.CopyFrom(ctx, pr, target.CopySQL())
		// Unblock the writer side if COPY failed mid-stream.
		pr.CloseWithError(err)
		fl.done <- err
	}()
	t.inflight = fl
}

func (t *Thread) finishCopy() error {
	if t.inflight == nil {
		return nil
	}
	fl := t.inflight
	t.inflight = nil
	if err := fl.pw.Close(); err != nil {
		return fmt.Errorf("copy end for %s: %w", fl.target.Name, err)
	}
	if err := <-fl.done; err != nil {
		return fmt.Errorf("copy end for %s: %w", fl.target.Name, err)
	}
	return nil
}
