package progrock

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vito/progrock"
	"go.trai.ch/apkforge/internal/core/ports"
	"go.trai.ch/apkforge/internal/ui/style"
)

var _ progrock.Writer = (*StatusPrinter)(nil)

// StatusPrinter is a progrock.Writer that logs one line per finished vertex.
// Output of a failed vertex is replayed after its status line.
type StatusPrinter struct {
	log ports.Logger

	mu       sync.Mutex
	output   map[string]*bytes.Buffer
	started  map[string]time.Time
	reported map[string]bool
}

// NewStatusPrinter creates a StatusPrinter logging through log.
func NewStatusPrinter(log ports.Logger) *StatusPrinter {
	return &StatusPrinter{
		log:      log,
		output:   make(map[string]*bytes.Buffer),
		started:  make(map[string]time.Time),
		reported: make(map[string]bool),
	}
}

// WriteStatus consumes one status update.
func (p *StatusPrinter) WriteStatus(update *progrock.StatusUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, l := range update.GetLogs() {
		buf, ok := p.output[l.GetVertex()]
		if !ok {
			buf = &bytes.Buffer{}
			p.output[l.GetVertex()] = buf
		}
		buf.Write(l.GetData())
	}

	for _, v := range update.GetVertexes() {
		id := v.GetId()
		if v.GetStarted() != nil {
			if _, ok := p.started[id]; !ok {
				p.started[id] = v.GetStarted().AsTime()
			}
		}
		if p.reported[id] {
			continue
		}

		switch {
		case v.GetCached():
			p.reported[id] = true
			p.log.Info(fmt.Sprintf("%s %s %s", style.Dot, v.GetName(), style.Faint("cached")))
		case v.GetCompleted() != nil && v.GetError() != "":
			p.reported[id] = true
			p.log.Warn(fmt.Sprintf("%s %s: %s", style.Cross, v.GetName(), v.GetError()))
			p.replay(id)
		case v.GetCompleted() != nil:
			p.reported[id] = true
			elapsed := ""
			if start, ok := p.started[id]; ok {
				elapsed = " " + style.Faint(v.GetCompleted().AsTime().Sub(start).Round(time.Millisecond).String())
			}
			p.log.Info(fmt.Sprintf("%s %s%s", style.Check, v.GetName(), elapsed))
		}
	}
	return nil
}

func (p *StatusPrinter) replay(id string) {
	buf, ok := p.output[id]
	if !ok {
		return
	}
	for line := range strings.SplitSeq(strings.TrimRight(buf.String(), "\n"), "\n") {
		p.log.Info("  " + line)
	}
	delete(p.output, id)
}

// Close does nothing; every line is written as soon as it is known.
func (p *StatusPrinter) Close() error {
	return nil
}
