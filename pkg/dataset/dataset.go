// Package dataset loads agent profiles and content catalogs from disk.
package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cpunion/adsim/pkg/rng"
	"github.com/cpunion/adsim/pkg/types"
)

// StringList decodes a JSON list, a single string, or a serialized list
// such as "['baker', 'writer']" into []string.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		if string(data) == "null" {
			*l = nil
			return nil
		}
		return fmt.Errorf("expected list or string, got %s", data)
	}
	*l = ParseList(s)
	return nil
}

// ParseList splits a serialized list. Brackets and quotes are stripped; a
// plain value becomes a one-element list.
func ParseList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "[]" {
		return nil
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		s = s[1 : len(s)-1]
	} else {
		return []string{s}
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.Trim(strings.TrimSpace(part), `'"`)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

type agentRecord struct {
	ID               string     `json:"user_id"`
	Gender           string     `json:"gender"`
	Age              int        `json:"age"`
	Profession       StringList `json:"profession"`
	Hobby            StringList `json:"hobby"`
	Family           string     `json:"family"`
	Friends          StringList `json:"friends"`
	ActivityLevel    *float64   `json:"activity_level"`
	RiskTolerance    *float64   `json:"risk_tolerance"`
	SocialEngagement *float64   `json:"social_engagement"`
	Persona          string     `json:"persona"`
}

func (r agentRecord) agent() types.Agent {
	a := types.Agent{
		ID:               r.ID,
		Gender:           r.Gender,
		Age:              r.Age,
		Profession:       r.Profession,
		Hobby:            r.Hobby,
		Family:           r.Family,
		Friends:          r.Friends,
		ActivityLevel:    0.5,
		RiskTolerance:    0.5,
		SocialEngagement: 0.5,
		Persona:          r.Persona,
	}
	if r.ActivityLevel != nil {
		a.ActivityLevel = *r.ActivityLevel
	}
	if r.RiskTolerance != nil {
		a.RiskTolerance = *r.RiskTolerance
	}
	if r.SocialEngagement != nil {
		a.SocialEngagement = *r.SocialEngagement
	}
	return a
}

// LoadAgents reads agent profiles from a JSON array or a CSV file with a
// header row. Propensity features default to 0.5. Duplicate and empty ids
// are rejected.
func LoadAgents(path string) ([]types.Agent, error) {
	var (
		recs []agentRecord
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		recs, err = readAgentCSV(path)
	} else {
		recs, err = readAgentJSON(path)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(recs))
	out := make([]types.Agent, 0, len(recs))
	for i, r := range recs {
		if r.ID == "" {
			return nil, fmt.Errorf("%s: agent %d has no user_id", path, i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("%s: duplicate agent %s", path, r.ID)
		}
		seen[r.ID] = true
		out = append(out, r.agent())
	}
	return out, nil
}

func readAgentJSON(path string) ([]agentRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var recs []agentRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return recs, nil
}

func readAgentCSV(path string) ([]agentRecord, error) {
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
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	get := func(row []string, name string) string {
		if i, ok := col[name]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	float := func(row []string, name string) (*float64, error) {
		s := get(row, name)
		if s == "" {
			return nil, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return &v, nil
	}

	var recs []agentRecord
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		rec := agentRecord{
			ID:         get(row, "user_id"),
			Gender:     get(row, "gender"),
			Profession: ParseList(get(row, "profession")),
			Hobby:      ParseList(get(row, "hobby")),
			Family:     get(row, "family"),
			Friends:    ParseList(get(row, "friends")),
			Persona:    get(row, "persona"),
		}
		if age := get(row, "age"); age != "" {
			v, err := strconv.ParseFloat(age, 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: age: %w", path, line, err)
			}
			rec.Age = int(v)
		}
		for name, dst := range map[string]**float64{
			"activity_level":    &rec.ActivityLevel,
			"risk_tolerance":    &rec.RiskTolerance,
			"social_engagement": &rec.SocialEngagement,
		} {
			v, err := float(row, name)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: %w", path, line, err)
			}
			*dst = v
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// LoadContent reads a JSON array of content items. List attributes accept
// the same encodings as agent lists. Items start inactive with score 0.
func LoadContent(path string) ([]types.ContentItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	seen := make(map[string]bool, len(raw))
	out := make([]types.ContentItem, 0, len(raw))
	for i, msg := range raw {
		item, err := decodeItem(msg)
		if err != nil {
			return nil, fmt.Errorf("%s: item %d: %w", path, i, err)
		}
		if item.ID == "" {
			return nil, fmt.Errorf("%s: item %d has no ad_id", path, i)
		}
		if seen[item.ID] {
			return nil, fmt.Errorf("%s: duplicate item %s", path, item.ID)
		}
		seen[item.ID] = true
		item.IsActive = false
		item.Score = 0
		out = append(out, item)
	}
	return out, nil
}

func decodeItem(msg json.RawMessage) (types.ContentItem, error) {
	var lists struct {
		DominantColors StringList `json:"dominant_colors"`
		ObjectList     StringList `json:"object_list"`
		EntryDay       any        `json:"day_of_entry"`
	}
	if err := json.Unmarshal(msg, &lists); err != nil {
		return types.ContentItem{}, err
	}

	// Decode the remaining fields with the list keys removed so their
	// alternative encodings do not trip the typed decoder.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil {
		return types.ContentItem{}, err
	}
	delete(fields, "dominant_colors")
	delete(fields, "object_list")
	delete(fields, "day_of_entry")
	rest, err := json.Marshal(fields)
	if err != nil {
		return types.ContentItem{}, err
	}
	var item types.ContentItem
	if err := json.Unmarshal(rest, &item); err != nil {
		return types.ContentItem{}, err
	}
	item.DominantColors = lists.DominantColors
	item.ObjectList = lists.ObjectList

	day, err := entryDay(lists.EntryDay)
	if err != nil {
		return types.ContentItem{}, err
	}
	item.EntryDay = day
	return item, nil
}

// entryDay accepts a number, a numeric string, or null.
func entryDay(v any) (*int, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case float64:
		d := int(x)
		return &d, nil
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("day_of_entry: %w", err)
		}
		d := int(f)
		return &d, nil
	default:
		return nil, fmt.Errorf("day_of_entry: unsupported value %v", v)
	}
}

// AssignEntryDays gives every item without an entry day one of days
// 1..days, at most perDay items per day. Items are visited in an order
// shuffled by rng(experimentID, "ENTRY"); items beyond days*perDay enter on
// day 1. It returns the number of items assigned. A non-positive days or
// perDay leaves items untouched.
func AssignEntryDays(items []types.ContentItem, days, perDay int, experimentID string) int {
	if days <= 0 || perDay <= 0 {
		return 0
	}
	var pending []int
	for i := range items {
		if items[i].EntryDay == nil {
			pending = append(pending, i)
		}
	}
	// Shuffle over id order so the result does not depend on file order.
	sort.Slice(pending, func(a, b int) bool { return items[pending[a]].ID < items[pending[b]].ID })
	r := rng.New(experimentID, "ENTRY")
	r.Shuffle(len(pending), func(a, b int) { pending[a], pending[b] = pending[b], pending[a] })

	for n, i := range pending {
		day := n/perDay + 1
		if day > days {
			day = 1
		}
		items[i].EntryDay = &day
	}
	return len(pending)
}

// EntrySchedule returns item ids grouped by entry day. Items without an
// entry day are listed under day 0.
func EntrySchedule(items []types.ContentItem) map[int][]string {
	out := make(map[int][]string)
	for _, it := range items {
		day := 0
		if it.EntryDay != nil {
			day = *it.EntryDay
		}
		out[day] = append(out[day], it.ID)
	}
	for day := range out {
		sort.Strings(out[day])
	}
	return out
}
