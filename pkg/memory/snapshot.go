package memory

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mesh-intelligence/unitofwork/pkg/schema"
	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// SnapshotExt is the extension of the per-table snapshot files.
const SnapshotExt = ".jsonl"

// Open returns a provider whose rows are loaded from dir and saved back to
// dir by Close. dir is created if needed.
func Open(model *schema.Model, dir string, opts ...Option) (*Provider, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	p := New(model, opts...)
	if err := p.Load(dir); err != nil {
		return nil, err
	}
	p.dir = dir
	return p, nil
}

// Save writes each table to dir/<table>.jsonl, one JSON object per row in
// insertion order. Every file is replaced atomically. Save waits for a
// running transaction to finish.
func (p *Provider) Save(dir string) error {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return types.ErrProviderClosed
	}
	return p.save(dir)
}

func (p *Provider) save(dir string) error {
	names := make([]string, 0, len(p.tables))
	for name := range p.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := p.tables[name]
		lines := make([][]byte, 0, len(t.rows))
		for _, r := range t.rows {
			b, err := json.Marshal(r.cols)
			if err != nil {
				return fmt.Errorf("encode %s row: %w", name, err)
			}
			lines = append(lines, b)
		}
		if err := writeJSONL(filepath.Join(dir, name+SnapshotExt), lines); err != nil {
			return fmt.Errorf("save %s: %w", name, err)
		}
	}
	return nil
}

// Load replaces every table's rows with the contents of dir. A missing file
// leaves its table empty and lines that are not JSON objects are skipped.
// Identity sequences continue after the largest loaded value. Load waits for
// a running transaction to finish.
func (p *Provider) Load(dir string) error {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return types.ErrProviderClosed
	}

	loaded := make(map[string][]*record, len(p.tables))
	for name, t := range p.tables {
		lines, err := readJSONL(filepath.Join(dir, name+SnapshotExt))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
		for _, line := range lines {
			r, err := t.decode(line)
			if err != nil {
				continue
			}
			loaded[name] = append(loaded[name], r)
		}
	}
	for name, t := range p.tables {
		t.rows = loaded[name]
		t.seq = 0
		if t.identity == "" {
			continue
		}
		for _, r := range t.rows {
			if n, ok := r.cols[t.identity].(int64); ok && n > t.seq {
				t.seq = n
			}
		}
	}
	return nil
}

// decode rebuilds a record from one JSON object. Mapped columns decode into
// their member's Go type; other numbers become int64 when integral.
func (t *table) decode(line []byte) (*record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, err
	}
	cols := make(row, len(raw))
	for col, msg := range raw {
		if m, ok := t.members[col]; ok {
			target := m.ScanTarget()
			if err := json.Unmarshal(msg, target); err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			cols[col] = normalize(m.ScannedValue(target))
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(msg))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				v = i
			} else if f, err := n.Float64(); err == nil {
				v = f
			}
		}
		cols[col] = v
	}
	return &record{cols: cols}, nil
}

// readJSONL returns the non-empty, valid JSON lines of path.
func readJSONL(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		lines = append(lines, bytes.Clone(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return lines, nil
}

// writeJSONL replaces path with lines using the temp-file, fsync, rename
// pattern.
func writeJSONL(path string, lines [][]byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		if _, err := w.Write(line); err != nil {
			return fmt.Errorf("writing record: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("writing newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing buffer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
