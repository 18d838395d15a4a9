package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"digipub/internal/config"
)

const (
	maxLineBytes = 1024 * 1024
	pollInterval = 250 * time.Millisecond
)

// Query selects lines from a log file.
type Query struct {
	// Lines bounds the trailing window when Offset is negative.
	Lines int
	// Offset resumes after a previous Page. Negative reads the tail.
	Offset int64
	// Wait is how long Read polls for new lines when none are available.
	Wait time.Duration
	// Match keeps only lines containing every term.
	Match []string
}

// Page is one batch of lines and the offset to resume from.
type Page struct {
	Lines  []string
	Offset int64
}

// DaemonLogPath is the pointer to the current daemon run's log.
func DaemonLogPath(cfg *config.Config) string {
	return filepath.Join(cfg.LogDir(), "digipubd.log")
}

// Read returns lines selected by q. A missing file is an empty page at offset zero.
func Read(ctx context.Context, path string, q Query) (Page, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Page{}, nil
		}
		return Page{Offset: q.Offset}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return Page{Offset: q.Offset}, fmt.Errorf("log path %q is a directory", path)
	}

	var page Page
	if q.Offset < 0 {
		page, err = readTail(path, q.Lines, q.Match)
	} else {
		offset := q.Offset
		if offset > info.Size() {
			// truncated or rotated underneath us
			offset = 0
		}
		page, err = readFrom(path, offset, q.Match)
	}
	if err != nil || len(page.Lines) > 0 || q.Wait <= 0 {
		return page, err
	}
	return poll(ctx, path, page.Offset, q.Wait, q.Match)
}

// Follow emits the initial window and then every matching appended line until
// ctx is cancelled.
func Follow(ctx context.Context, path string, q Query, emit func(string)) error {
	page, err := Read(ctx, path, Query{Lines: q.Lines, Offset: q.Offset, Match: q.Match})
	if err != nil {
		return err
	}
	for {
		for _, line := range page.Lines {
			emit(line)
		}
		page, err = Read(ctx, path, Query{Offset: page.Offset, Wait: time.Second, Match: q.Match})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func readTail(path string, limit int, match []string) (Page, error) {
	file, err := os.Open(path)
	if err != nil {
		return Page{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return Page{}, fmt.Errorf("seek log file: %w", err)
		}
		return Page{Offset: end}, nil
	}

	ring := make([]string, limit)
	count, next := 0, 0
	end, err := scan(file, match, func(line string) {
		ring[next] = line
		next = (next + 1) % limit
		if count < limit {
			count++
		}
	})
	if err != nil {
		return Page{}, err
	}

	lines := make([]string, count)
	start := 0
	if count == limit {
		start = next
	}
	for i := range lines {
		lines[i] = ring[(start+i)%limit]
	}
	return Page{Lines: lines, Offset: end}, nil
}

func readFrom(path string, offset int64, match []string) (Page, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Page{}, nil
		}
		return Page{Offset: offset}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return Page{Offset: offset}, fmt.Errorf("seek log file: %w", err)
	}
	var lines []string
	end, err := scan(file, match, func(line string) { lines = append(lines, line) })
	if err != nil {
		return Page{Offset: offset}, err
	}
	return Page{Lines: lines, Offset: end}, nil
}

// scan feeds matching lines to keep and returns the offset after the last
// complete line so a partially written line is read again on the next call.
func scan(file *os.File, match []string, keep func(string)) (int64, error) {
	start, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("determine log offset: %w", err)
	}
	reader := bufio.NewReaderSize(file, 64*1024)
	consumed := start
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return consumed, nil
			}
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		if len(line) > maxLineBytes {
			continue
		}
		line = strings.TrimRight(line, "\r\n")
		if matches(line, match) {
			keep(line)
		}
	}
}

func matches(line string, terms []string) bool {
	for _, term := range terms {
		if term != "" && !strings.Contains(line, term) {
			return false
		}
	}
	return true
}

func poll(ctx context.Context, path string, offset int64, wait time.Duration, match []string) (Page, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Page{Offset: offset}, ctx.Err()
		case <-ticker.C:
		}
		page, err := readFrom(path, offset, match)
		if err != nil {
			return page, err
		}
		if len(page.Lines) > 0 || !time.Now().Before(deadline) {
			return page, nil
		}
		offset = page.Offset
	}
}
