package feed

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cpunion/adsim/pkg/types"
)

// Index describes a feed: its shards in (day, part) order plus running
// totals per simulated day and per content item.
type Index struct {
	Version            int            `json:"version"`
	GeneratedAt        time.Time      `json:"generated_at"`
	MaxRecordsPerShard int            `json:"max_records_per_shard,omitempty"`
	Shards             []Shard        `json:"shards"`
	Days               []DaySummary   `json:"days"`
	Content            map[string]int `json:"content"` // Exposures per ad_id
	TotalRecords       int            `json:"total_records"`
}

// Shard is one JSONL file holding records of a single day.
type Shard struct {
	Day     int    `json:"day"`
	Part    int    `json:"part"`
	File    string `json:"file"` // Relative to the feed directory
	Records int    `json:"records"`
}

// DaySummary counts the reactions recorded on one day.
type DaySummary struct {
	Day      int `json:"day"`
	Records  int `json:"records"`
	Clicks   int `json:"clicks"`
	Likes    int `json:"likes"`
	Dislikes int `json:"dislikes"`
	Shares   int `json:"shares"`
	Ignores  int `json:"ignores"`
}

func newIndex(maxRecordsPerShard int) *Index {
	return &Index{
		Version:            1,
		MaxRecordsPerShard: maxRecordsPerShard,
		Content:            make(map[string]int),
	}
}

// Day returns the summary for day, zero when nothing was recorded.
func (idx *Index) Day(day int) DaySummary {
	for _, d := range idx.Days {
		if d.Day == day {
			return d
		}
	}
	return DaySummary{Day: day}
}

func (idx *Index) count(rec types.InteractionRecord) {
	i := sort.Search(len(idx.Days), func(i int) bool { return idx.Days[i].Day >= rec.Day })
	if i == len(idx.Days) || idx.Days[i].Day != rec.Day {
		idx.Days = append(idx.Days, DaySummary{})
		copy(idx.Days[i+1:], idx.Days[i:])
		idx.Days[i] = DaySummary{Day: rec.Day}
	}
	d := &idx.Days[i]
	d.Records++
	r := rec.Reaction
	if r.Ignore {
		d.Ignores++
	}
	if r.Click {
		d.Clicks++
	}
	if r.Like {
		d.Likes++
	}
	if r.Dislike {
		d.Dislikes++
	}
	if r.Share > 0 {
		d.Shares++
	}
	if idx.Content == nil {
		idx.Content = make(map[string]int)
	}
	idx.Content[rec.ContentID]++
	idx.TotalRecords++
}

// LoadIndex reads an index file.
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	idx := &Index{}
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if idx.Version == 0 {
		idx.Version = 1
	}
	if idx.Content == nil {
		idx.Content = make(map[string]int)
	}
	return idx, nil
}

// SaveIndexAtomic writes idx through a temporary file.
func SaveIndexAtomic(path string, idx *Index) error {
	idx.GeneratedAt = time.Now()
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// scanIndex rebuilds an index by decoding every shard file in dir.
func scanIndex(dir string, maxRecordsPerShard int) (*Index, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	idx := newIndex(maxRecordsPerShard)
	for _, e := range entries {
		day, part, ok := parseShardName(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		idx.Shards = append(idx.Shards, Shard{Day: day, Part: part, File: e.Name()})
	}
	sortShards(idx.Shards)
	for i := range idx.Shards {
		recs, err := readShard(filepath.Join(dir, idx.Shards[i].File))
		if err != nil {
			return nil, err
		}
		idx.Shards[i].Records = len(recs)
		for _, rec := range recs {
			idx.count(rec)
		}
	}
	return idx, nil
}

// ReadRecent returns up to limit records, newest first. A non-positive
// limit returns every record.
func ReadRecent(dir string, limit int) ([]types.InteractionRecord, error) {
	idx, err := LoadIndex(filepath.Join(dir, IndexFile))
	if err != nil {
		return nil, err
	}
	var out []types.InteractionRecord
	for i := len(idx.Shards) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		recs, err := readShard(filepath.Join(dir, idx.Shards[i].File))
		if err != nil {
			return nil, err
		}
		for j := len(recs) - 1; j >= 0 && (limit <= 0 || len(out) < limit); j-- {
			out = append(out, recs[j])
		}
	}
	return out, nil
}

func readShard(path string) ([]types.InteractionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []types.InteractionRecord
	scanner := bufio.NewScanner(f)
	// Records carry the prompt, so lines can be long.
	scanner.Buffer(make([]byte, 0, 256*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.InteractionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}
