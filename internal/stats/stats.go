// Package stats reports import progress: object counters with periodic rate
// logging.
package stats

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const reportInterval = 30 * time.Second

// Progress counts processed objects and logs throughput periodically until
// stopped. Counter methods are safe for concurrent use.
type Progress struct {
	log *zap.Logger

	start     atomic.Int64 // unix nanos of the current phase
	nodes     atomic.Int64
	ways      atomic.Int64
	relations atomic.Int64

	stop chan struct{}
	done chan struct{}
}

// NewProgress starts a progress reporter.
func NewProgress(log *zap.Logger) *Progress {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Progress{
		log:  log.Named("progress"),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	p.start.Store(time.Now().UnixNano())
	go p.run()
	return p
}

func (p *Progress) run() {
	defer close(p.done)
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.report()
		case <-p.stop:
			return
		}
	}
}

func (p *Progress) report() {
	elapsed := time.Duration(time.Now().UnixNano() - p.start.Load())
	secs := elapsed.Seconds()
	if secs <= 0 {
		return
	}
	nodes := p.nodes.Load()
	ways := p.ways.Load()
	rels := p.relations.Load()
	p.log.Info("progress",
		zap.Int64("nodes", nodes),
		zap.Int64("ways", ways),
		zap.Int64("relations", rels),
		zap.Int64("nodes_per_sec", int64(float64(nodes)/secs)),
		zap.Int64("ways_per_sec", int64(float64(ways)/secs)),
		zap.Duration("elapsed", elapsed.Round(time.Second)))
}

func (p *Progress) AddNodes(n int)     { p.nodes.Add(int64(n)) }
func (p *Progress) AddWays(n int)      { p.ways.Add(int64(n)) }
func (p *Progress) AddRelations(n int) { p.relations.Add(int64(n)) }

// Reset zeroes the counters for the next phase.
func (p *Progress) Reset() {
	p.report()
	p.nodes.Store(0)
	p.ways.Store(0)
	p.relations.Store(0)
	p.start.Store(time.Now().UnixNano())
}

// Stop prints a final report and shuts the reporter down.
func (p *Progress) Stop() {
	close(p.stop)
	<-p.done
	p.report()
}
