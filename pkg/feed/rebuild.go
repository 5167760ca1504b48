package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/cpunion/adsim/pkg/types"
)

// RebuildFromLogs replaces the feed under outDir with the interaction
// records found in logPaths, ordered by day, creation time and id. Any JSONL
// file of records works as input, including the shards of another feed.
// Lines that do not decode are skipped and counted in the returned skip
// total.
func RebuildFromLogs(ctx context.Context, outDir string, logPaths []string, maxRecordsPerShard int) (*Index, int, error) {
	var (
		records []types.InteractionRecord
		skipped int
	)
	for _, path := range logPaths {
		recs, n, err := readLog(path)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, recs...)
		skipped += n
	}

	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	w, err := OpenWriter(WriterConfig{Dir: outDir, MaxRecordsPerShard: maxRecordsPerShard})
	if err != nil {
		return nil, 0, err
	}
	for _, rec := range records {
		if err := w.RecordInteraction(ctx, rec); err != nil {
			w.Close()
			return nil, 0, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, 0, err
	}
	idx, err := LoadIndex(w.indexPath)
	return idx, skipped, err
}

func readLog(path string) ([]types.InteractionRecord, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var (
		out     []types.InteractionRecord
		skipped int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.InteractionRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.ID == "" {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", path, err)
	}
	return out, skipped, nil
}
