package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cpunion/adsim/pkg/feed"
)

// setupWorkspace writes a config and a small content catalog into a temp
// directory. No agent file is written, so a synthetic population is used.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ADSIM_LLM_BACKEND", "mock")
	t.Setenv("ADSIM_DATA_DIR", "")

	content := `[
		{"ad_id":"ad1","group":"sports","emotion_label":"joy","description":"Running shoes on a track","day_of_entry":1},
		{"ad_id":"ad2","group":"food","message_type":"discount","description":"Half price pizza","day_of_entry":1},
		{"ad_id":"ad3","group":"tech","visual_style":"minimal","day_of_entry":2}
	]`
	if err := os.WriteFile(filepath.Join(dir, "content.json"), []byte(content), 0644); err != nil {
		t.Fatalf("write content: %v", err)
	}

	cfg := fmt.Sprintf(`experiment_id: cli_test
agents_count: 12
agents_exposed_to_ad: 4
max_ads_shown_per_day: 2
simulation_days: 3
concurrency: 2
paths:
  data_dir: %s
log:
  level: error
`, dir)
	if err := os.WriteFile(filepath.Join(dir, "adsim.yaml"), []byte(cfg), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootCmd := newRootCmd()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestCLI_RunStepStatus(t *testing.T) {
	dir := setupWorkspace(t)
	cfgPath := filepath.Join(dir, "adsim.yaml")

	out, err := runCLI(t, "run", "--config", cfgPath, "--days", "2")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Day 1:") || !strings.Contains(out, "Day 2:") {
		t.Errorf("missing day summaries:\n%s", out)
	}
	for _, name := range []string{"simulation_state.yaml", "interactions.db", "trace.jsonl.zst", "feed/index.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}

	out, err = runCLI(t, "status", "--config", cfgPath, "--json")
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	var view statusView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if view.State.CurrentDay != 2 || !view.State.Started {
		t.Errorf("unexpected state %+v", view.State)
	}
	if len(view.Stats) == 0 {
		t.Fatal("expected content stats")
	}
	exposures := 0
	for _, s := range view.Stats {
		exposures += s.Exposures
	}
	idx, err := feed.LoadIndex(filepath.Join(dir, "feed", feed.IndexFile))
	if err != nil {
		t.Fatalf("load feed index: %v", err)
	}
	if idx.TotalRecords != exposures {
		t.Errorf("feed has %d records, database has %d", idx.TotalRecords, exposures)
	}
	if len(view.Groups) == 0 {
		t.Error("expected the synthetic population to seed groups")
	}
	if len(view.Days) != 2 {
		t.Fatalf("expected feed summaries for 2 days, got %+v", view.Days)
	}
	if view.Days[0].Records+view.Days[1].Records != exposures {
		t.Errorf("feed day totals %+v do not add up to %d exposures", view.Days, exposures)
	}
	if fmt.Sprint(view.Entries[1]) != "[ad1 ad2]" || fmt.Sprint(view.Entries[2]) != "[ad3]" {
		t.Errorf("unexpected entry schedule %v", view.Entries)
	}

	out, err = runCLI(t, "step", "--config", cfgPath)
	if err != nil {
		t.Fatalf("step: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Started day 3") {
		t.Errorf("expected day 3 to start:\n%s", out)
	}

	// run finishes the open day and stops at simulation_days.
	out, err = runCLI(t, "run", "--config", cfgPath)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Simulation at day 3") {
		t.Errorf("expected to stop at day 3:\n%s", out)
	}

	out, err = runCLI(t, "status", "--config", cfgPath)
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	for _, want := range []string{"Day:          3", "Next up:      -", "day 2: ad3", "By day:"} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %q:\n%s", want, out)
		}
	}
}

func TestCLI_StatusFallsBackToFeed(t *testing.T) {
	dir := setupWorkspace(t)
	cfgPath := filepath.Join(dir, "adsim.yaml")
	if out, err := runCLI(t, "run", "--config", cfgPath, "--days", "1"); err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	dbFiles, _ := filepath.Glob(filepath.Join(dir, "interactions.db*"))
	for _, f := range dbFiles {
		if err := os.Remove(f); err != nil {
			t.Fatalf("remove %s: %v", f, err)
		}
	}

	out, err := runCLI(t, "status", "--config", cfgPath, "--json", "--recent", "3")
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	var view statusView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if len(view.Stats) != 0 {
		t.Errorf("expected an empty database, got %+v", view.Stats)
	}
	if len(view.Recent) != 3 {
		t.Fatalf("expected 3 recent interactions from the feed, got %+v", view.Recent)
	}
	for _, r := range view.Recent {
		if r.Day != 1 || r.AgentID == "" || r.ContentID == "" {
			t.Errorf("unexpected feed interaction %+v", r)
		}
	}
}

func TestCLI_FeedRebuildAndTrace(t *testing.T) {
	dir := setupWorkspace(t)
	cfgPath := filepath.Join(dir, "adsim.yaml")
	if out, err := runCLI(t, "run", "--config", cfgPath, "--days", "2"); err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	idx, err := feed.LoadIndex(filepath.Join(dir, "feed", feed.IndexFile))
	if err != nil {
		t.Fatalf("load feed index: %v", err)
	}
	shards, _ := filepath.Glob(filepath.Join(dir, "feed", feed.ShardPrefix+"*"+feed.ShardSuffix))
	if len(shards) == 0 {
		t.Fatal("expected feed shards")
	}

	rebuilt := filepath.Join(dir, "rebuilt")
	args := append([]string{"feed", "rebuild", "--config", cfgPath, "--out", rebuilt, "--max-per-shard", "3"}, shards...)
	out, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("feed rebuild: %v\n%s", err, out)
	}
	want := fmt.Sprintf("Rebuilt feed with %d records over 2 days", idx.TotalRecords)
	if !strings.Contains(out, want) {
		t.Errorf("expected %q in:\n%s", want, out)
	}
	copied, err := feed.LoadIndex(filepath.Join(rebuilt, feed.IndexFile))
	if err != nil {
		t.Fatalf("load rebuilt index: %v", err)
	}
	for ad, n := range idx.Content {
		if copied.Content[ad] != n {
			t.Errorf("ad %s: rebuilt %d, original %d", ad, copied.Content[ad], n)
		}
	}

	if _, err := runCLI(t, "feed", "rebuild", "--config", cfgPath); err == nil {
		t.Error("expected an error without log files")
	}

	out, err = runCLI(t, "trace", "--config", cfgPath)
	if err != nil {
		t.Fatalf("trace: %v\n%s", err, out)
	}
	if !strings.Contains(out, "recorded") || !strings.Contains(out, "\n1 ") || !strings.Contains(out, "\n2 ") {
		t.Errorf("unexpected trace summary:\n%s", out)
	}
	out, err = runCLI(t, "trace", "--config", cfgPath, "--day", "9")
	if err != nil || !strings.Contains(out, "No exposures traced") {
		t.Errorf("expected no exposures on day 9, got %q, %v", out, err)
	}
}

func TestDescribe(t *testing.T) {
	long := strings.Repeat("é", 100)
	got := describe(long)
	if !utf8.ValidString(got) {
		t.Fatalf("describe cut a rune: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 80 || !strings.HasSuffix(got, "...") {
		t.Errorf("describe(%d runes) = %d runes %q", 100, n, got)
	}
	if got := describe("  short  "); got != "short" {
		t.Errorf("describe(short) = %q", got)
	}
	if got := describe(""); got != "(no description)" {
		t.Errorf("describe(empty) = %q", got)
	}
}

func TestCLI_GroupsImport(t *testing.T) {
	dir := setupWorkspace(t)
	cfgPath := filepath.Join(dir, "adsim.yaml")
	groups := filepath.Join(dir, "groups.csv")
	if err := os.WriteFile(groups, []byte("user_id,group,day\nuser_01,vip,\nuser_02,vip,\nuser_03,casual,4\n"), 0644); err != nil {
		t.Fatalf("write groups: %v", err)
	}

	out, err := runCLI(t, "groups", "import", groups, "--config", cfgPath, "--day", "1")
	if err != nil {
		t.Fatalf("import: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Imported 3 assignments over 2 days") {
		t.Errorf("unexpected import output:\n%s", out)
	}

	out, err = runCLI(t, "groups", "show", "--config", cfgPath, "--day", "4")
	if err != nil {
		t.Fatalf("show: %v\n%s", err, out)
	}
	if !strings.Contains(out, "vip") || !strings.Contains(out, "casual") {
		t.Errorf("unexpected groups:\n%s", out)
	}

	out, _ = runCLI(t, "groups", "show", "--config", cfgPath, "--day", "0")
	if !strings.Contains(out, "No groups assigned on day 0") {
		t.Errorf("expected no groups on day 0:\n%s", out)
	}

	if _, err := runCLI(t, "groups", "import", "--config", cfgPath); err == nil {
		t.Error("expected an error without a file argument")
	}
}

func TestCLI_InvalidConfig(t *testing.T) {
	dir := setupWorkspace(t)
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("experiment_id: x\nmax_ads_shown_per_day: -1\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := runCLI(t, "run", "--config", bad)
	if err == nil || !strings.Contains(err.Error(), "max_ads_shown_per_day") {
		t.Errorf("expected a configuration error, got %v", err)
	}
}

func TestCLI_Version(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil || !strings.Contains(out, version) {
		t.Errorf("version output %q, %v", out, err)
	}
}
