package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// GroupAssignment places one agent in a social group from Day onwards.
type GroupAssignment struct {
	AgentID string `json:"user_id"`
	Group   string `json:"group"`
	Day     *int   `json:"day,omitempty"`
}

// LoadGroups reads group assignments from a CSV file (user_id, group and an
// optional day column) or a JSON array, and returns them keyed by day.
// Rows without a day use defaultDay. Rows with an empty group are dropped.
func LoadGroups(path string, defaultDay int) (map[int]map[string]string, error) {
	var (
		rows []GroupAssignment
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		rows, err = readGroupCSV(path)
	} else {
		rows, err = readGroupJSON(path)
	}
	if err != nil {
		return nil, err
	}

	out := make(map[int]map[string]string)
	for i, r := range rows {
		if r.AgentID == "" {
			return nil, fmt.Errorf("%s: row %d has no user_id", path, i+1)
		}
		if strings.TrimSpace(r.Group) == "" {
			continue
		}
		day := defaultDay
		if r.Day != nil {
			day = *r.Day
		}
		if day < 0 {
			return nil, fmt.Errorf("%s: row %d has negative day %d", path, i+1, day)
		}
		if out[day] == nil {
			out[day] = make(map[string]string)
		}
		out[day][r.AgentID] = strings.TrimSpace(r.Group)
	}
	return out, nil
}

func readGroupJSON(path string) ([]GroupAssignment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []GroupAssignment
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return rows, nil
}

func readGroupCSV(path string) ([]GroupAssignment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", path, err)
	}
	idCol, groupCol, dayCol := -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "user_id":
			idCol = i
		case "group":
			groupCol = i
		case "day":
			dayCol = i
		}
	}
	if idCol < 0 || groupCol < 0 {
		return nil, fmt.Errorf("%s: header needs user_id and group columns", path)
	}

	var rows []GroupAssignment
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		field := func(i int) string {
			if i >= 0 && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		row := GroupAssignment{AgentID: field(idCol), Group: field(groupCol)}
		if s := field(dayCol); s != "" {
			d, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: day: %w", path, line, err)
			}
			row.Day = &d
		}
		rows = append(rows, row)
	}
}
