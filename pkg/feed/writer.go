// Package feed stores interaction records as JSONL shards, one or more per
// simulated day, with a JSON index carrying per-day and per-item totals.
package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cpunion/adsim/pkg/types"
)

// Shard file naming: day-DDDD-PPP.jsonl.
const (
	ShardPrefix = "day-"
	ShardSuffix = ".jsonl"
	IndexFile   = "index.json"

	DefaultMaxRecordsPerShard = 500
)

// Writer appends records to the shard of their day and opens a further part
// when that shard is full. It is safe for concurrent use.
type Writer struct {
	mu sync.Mutex

	dir                string
	indexPath          string
	maxRecordsPerShard int

	idx *Index

	curName string
	curFile *os.File
	curBuf  *bufio.Writer
}

// WriterConfig configures OpenWriter. With Append set an existing feed is
// resumed; otherwise its shards are removed and writing starts empty.
type WriterConfig struct {
	Dir                string
	MaxRecordsPerShard int
	Append             bool
}

// OpenWriter opens a feed directory for writing. When resuming a directory
// whose index is missing, the index is rebuilt from the shard files.
func OpenWriter(cfg WriterConfig) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, errors.New("feed dir is required")
	}
	if cfg.MaxRecordsPerShard <= 0 {
		cfg.MaxRecordsPerShard = DefaultMaxRecordsPerShard
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, err
	}

	w := &Writer{
		dir:                cfg.Dir,
		indexPath:          filepath.Join(cfg.Dir, IndexFile),
		maxRecordsPerShard: cfg.MaxRecordsPerShard,
	}
	if cfg.Append {
		idx, err := LoadIndex(w.indexPath)
		if errors.Is(err, os.ErrNotExist) {
			idx, err = scanIndex(cfg.Dir, cfg.MaxRecordsPerShard)
		}
		if err != nil {
			return nil, err
		}
		w.idx = idx
	} else {
		if err := removeShards(cfg.Dir); err != nil {
			return nil, err
		}
		w.idx = newIndex(cfg.MaxRecordsPerShard)
	}
	w.idx.MaxRecordsPerShard = cfg.MaxRecordsPerShard

	if err := SaveIndexAtomic(w.indexPath, w.idx); err != nil {
		return nil, err
	}
	return w, nil
}

// RecordInteraction appends rec to the shard of rec.Day.
func (w *Writer) RecordInteraction(ctx context.Context, rec types.InteractionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.idx == nil {
		return errors.New("writer closed")
	}
	shard, err := w.shardFor(rec.Day)
	if err != nil {
		return err
	}
	if _, err := w.curBuf.Write(line); err != nil {
		return err
	}
	if err := w.curBuf.Flush(); err != nil {
		return err
	}
	shard.Records++
	w.idx.count(rec)
	return SaveIndexAtomic(w.indexPath, w.idx)
}

// shardFor returns the newest shard of day with room left, registering a
// new part when there is none, and points the open file at it.
func (w *Writer) shardFor(day int) (*Shard, error) {
	last := -1
	for i := range w.idx.Shards {
		if w.idx.Shards[i].Day == day {
			last = i
		}
	}
	if last >= 0 && w.idx.Shards[last].Records < w.maxRecordsPerShard {
		s := &w.idx.Shards[last]
		return s, w.open(s.File)
	}

	part := 1
	if last >= 0 {
		part = w.idx.Shards[last].Part + 1
	}
	name := shardFileName(day, part)
	w.idx.Shards = append(w.idx.Shards, Shard{Day: day, Part: part, File: name})
	sortShards(w.idx.Shards)
	for i := range w.idx.Shards {
		if w.idx.Shards[i].File == name {
			return &w.idx.Shards[i], w.open(name)
		}
	}
	return nil, fmt.Errorf("shard %s not registered", name)
}

func (w *Writer) open(name string) error {
	if w.curName == name && w.curFile != nil {
		return nil
	}
	if err := w.closeCurrent(); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w.curName = name
	w.curFile = f
	w.curBuf = bufio.NewWriter(f)
	return nil
}

func (w *Writer) closeCurrent() error {
	if w.curFile == nil {
		return nil
	}
	err := w.curBuf.Flush()
	if cerr := w.curFile.Close(); err == nil {
		err = cerr
	}
	w.curName, w.curFile, w.curBuf = "", nil, nil
	return err
}

// Close flushes the open shard and saves the index.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.idx == nil {
		return nil
	}
	err := w.closeCurrent()
	if serr := SaveIndexAtomic(w.indexPath, w.idx); err == nil {
		err = serr
	}
	w.idx = nil
	return err
}

func shardFileName(day, part int) string {
	return fmt.Sprintf("%s%04d-%03d%s", ShardPrefix, day, part, ShardSuffix)
}

func parseShardName(name string) (day, part int, ok bool) {
	if !strings.HasPrefix(name, ShardPrefix) || !strings.HasSuffix(name, ShardSuffix) {
		return 0, 0, false
	}
	mid := strings.TrimSuffix(strings.TrimPrefix(name, ShardPrefix), ShardSuffix)
	d, p, found := strings.Cut(mid, "-")
	if !found {
		return 0, 0, false
	}
	day, err := strconv.Atoi(d)
	if err != nil {
		return 0, 0, false
	}
	part, err = strconv.Atoi(p)
	if err != nil || part <= 0 {
		return 0, 0, false
	}
	return day, part, true
}

func sortShards(shards []Shard) {
	sort.Slice(shards, func(i, j int) bool {
		if shards[i].Day != shards[j].Day {
			return shards[i].Day < shards[j].Day
		}
		return shards[i].Part < shards[j].Part
	})
}

func removeShards(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, _, ok := parseShardName(e.Name()); ok || e.Name() == IndexFile {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
