package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/memmaker/voxelterrain/engine/util"
)

// progressReporter prints build progress. On a terminal it redraws a single
// status line every frame, otherwise it logs a line whenever a chunk finished.
type progressReporter struct {
	w      io.Writer
	live   bool
	width  int
	drawn  bool
	logged int
}

func newProgressReporter(f *os.File) *progressReporter {
	p := &progressReporter{w: f}
	fd := int(f.Fd())
	if term.IsTerminal(fd) {
		p.live = true
		if w, _, err := term.GetSize(fd); err == nil {
			p.width = w
		}
	}
	return p
}

func (p *progressReporter) Frame(frame, published, ready, failed, total, queued int) {
	if !p.live {
		if ready+failed != p.logged {
			p.logged = ready + failed
			util.LogSystemInfo("build progress", "frame", frame, "ready", ready, "failed", failed, "total", total, "queued", queued)
		}
		return
	}
	line := fmt.Sprintf("frame %d  %s %d/%d chunks  +%d  failed %d  queued %d", frame, bar(ready+failed, total, 20), ready, total, published, failed, queued)
	if p.width > 0 && len(line) > p.width-1 {
		line = line[:p.width-1]
	}
	fmt.Fprintf(p.w, "\r%s\x1b[K", line)
	p.drawn = true
}

// Close ends the status line.
func (p *progressReporter) Close() {
	if p.drawn {
		fmt.Fprintln(p.w)
	}
}

func bar(n, total, size int) string {
	if total <= 0 {
		return "[" + strings.Repeat(" ", size) + "]"
	}
	filled := n * size / total
	if filled > size {
		filled = size
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(" ", size-filled) + "]"
}
