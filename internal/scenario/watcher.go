package scenario

import (
	"bytes"
	"strings"
	"sync"
)

// lineWatcher はノードのステータス出力を行単位で監視する io.Writer
type lineWatcher struct {
	name   string
	onLine func(name, line string)

	mu      sync.Mutex
	pending []byte
}

func (w *lineWatcher) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.pending = append(w.pending, p...)
	var lines []string
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(w.pending[:i]))
		w.pending = w.pending[i+1:]
	}
	w.mu.Unlock()

	for _, line := range lines {
		w.onLine(w.name, strings.TrimRight(line, "\r"))
	}
	return len(p), nil
}
