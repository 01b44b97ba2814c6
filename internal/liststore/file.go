package liststore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ppiankov/trustgate/internal/model"
)

// fileName returns the list file name for a level.
func fileName(level model.TrustLevel) string {
	return string(level) + ".list"
}

// readListFile parses a list file: one identity or pattern per line,
// blank lines and "#" comments ignored. A missing file is an empty list.
func readListFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("liststore: open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("liststore: read %s: %w", filepath.Base(path), err)
	}
	return entries, nil
}

// writeListFile replaces the list file atomically: write a temp file,
// fsync it, rename over the original, then fsync the directory so the
// rename itself survives a crash.
func writeListFile(path string, level model.TrustLevel, entries []string) error {
	sorted := append([]string(nil), entries...)
	sort.Strings(sorted)

	var b strings.Builder
	fmt.Fprintf(&b, "# trustgate %s list\n", level)
	for _, e := range sorted {
		b.WriteString(e)
		b.WriteByte('\n')
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("liststore: create temp file: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("liststore: write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("liststore: sync %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("liststore: close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("liststore: rename %s: %w", filepath.Base(path), err)
	}
	return syncDir(filepath.Dir(path))
}

// appendListFile adds one entry to the end of the list file and fsyncs it.
// A missing file is created with the header. A torn final line from an
// earlier crash is terminated first so the entry lands on its own line.
func appendListFile(path string, level model.TrustLevel, entry string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("liststore: open %s: %w", filepath.Base(path), err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("liststore: stat %s: %w", filepath.Base(path), err)
	}

	var b strings.Builder
	if info.Size() == 0 {
		fmt.Fprintf(&b, "# trustgate %s list\n", level)
	} else {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, info.Size()-1); err != nil {
			f.Close()
			return fmt.Errorf("liststore: read %s: %w", filepath.Base(path), err)
		}
		if last[0] != '\n' {
			b.WriteByte('\n')
		}
	}
	b.WriteString(entry)
	b.WriteByte('\n')

	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return fmt.Errorf("liststore: write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("liststore: sync %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("liststore: close %s: %w", filepath.Base(path), err)
	}
	if info.Size() == 0 {
		return syncDir(filepath.Dir(path))
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("liststore: open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("liststore: sync dir: %w", err)
	}
	return nil
}
