package us

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	fetchedFile   = ".fetched"
	completedFile = ".last-completed"
)

// checkpoint records backfill progress so an interrupted run resumes where
// it stopped. .fetched lists the symbols handled for the current end date,
// one "SYMBOL<TAB>ok|empty" line each; .last-completed holds the last end
// date that was fully processed.
type checkpoint struct {
	mu     sync.Mutex
	dir    string
	done   map[string]bool // symbol -> returned bars
	file   *os.File
	writer *bufio.Writer
}

func openCheckpoint(dir string) (*checkpoint, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	c := &checkpoint{dir: dir, done: make(map[string]bool)}

	if data, err := os.ReadFile(filepath.Join(dir, fetchedFile)); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			sym, status, ok := strings.Cut(strings.TrimSpace(line), "\t")
			if !ok || sym == "" {
				continue
			}
			c.done[sym] = status == "ok"
		}
	}
	if err := c.open(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *checkpoint) open() error {
	f, err := os.OpenFile(filepath.Join(c.dir, fetchedFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", fetchedFile, err)
	}
	c.file = f
	c.writer = bufio.NewWriter(f)
	return nil
}

// Done reports whether symbol was already handled.
func (c *checkpoint) Done(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.done[symbol]
	return ok
}

// Mark records symbols as handled. hits holds the symbols that returned
// bars; the rest are recorded as empty.
func (c *checkpoint) Mark(symbols []string, hits map[string]bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sym := range symbols {
		status := "empty"
		if hits[sym] {
			status = "ok"
		}
		c.done[sym] = hits[sym]
		if _, err := fmt.Fprintf(c.writer, "%s\t%s\n", sym, status); err != nil {
			return fmt.Errorf("writing %s: %w", fetchedFile, err)
		}
	}
	return c.writer.Flush()
}

// Empty returns the handled symbols that had no bars, sorted.
func (c *checkpoint) Empty() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for sym, ok := range c.done {
		if !ok {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// Completed returns the last fully processed end date, or "".
func (c *checkpoint) Completed() string {
	data, err := os.ReadFile(filepath.Join(c.dir, completedFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (c *checkpoint) Complete(date string) error {
	return os.WriteFile(filepath.Join(c.dir, completedFile), []byte(date), 0o644)
}

// Reset forgets the handled symbols, e.g. when a new end date starts.
func (c *checkpoint) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file != nil {
		c.file.Close()
	}
	c.done = make(map[string]bool)
	if err := os.Remove(filepath.Join(c.dir, fetchedFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", fetchedFile, err)
	}
	return c.open()
}

func (c *checkpoint) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writer != nil {
		c.writer.Flush()
	}
	if c.file != nil {
		return c.file.Close()
	}
	return nil
}
