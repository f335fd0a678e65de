package query

import (
	"bufio"
	"os"
)

// loadContext reads lines [lineStart-before, lineEnd+after] (1-based,
// inclusive) from absPath, returning the before/after slices separately
// from the match's own lines. Missing or unreadable files return
// (nil, nil, err); the caller treats that as "no context available"
// rather than a hard failure.
func loadContext(absPath string, lineStart, lineEnd, before, after int) ([]string, []string, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = f.Close() }()

	wantFrom := lineStart - before
	if wantFrom < 1 {
		wantFrom = 1
	}
	wantTo := lineEnd + after

	var beforeLines, afterLines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for sc.Scan() {
		line++
		if line < wantFrom {
			continue
		}
		if line > wantTo {
			break
		}
		switch {
		case line < lineStart:
			beforeLines = append(beforeLines, sc.Text())
		case line > lineEnd:
			afterLines = append(afterLines, sc.Text())
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return beforeLines, afterLines, nil
}
