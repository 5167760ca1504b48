package simulation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/cpunion/adsim/pkg/types"
)

// Exposure outcomes.
const (
	OutcomeRecorded    = "recorded"
	OutcomeGenerate    = "generate_failed"
	OutcomeParse       = "parse_failed"
	OutcomePrompt      = "prompt_failed"
	OutcomeRecordError = "record_failed"
)

// ExposureLog captures one exposure for analysis.
type ExposureLog struct {
	Timestamp   time.Time             `json:"timestamp"`
	Day         int                   `json:"day"`
	AgentID     string                `json:"agent_id"`
	ContentID   string                `json:"content_id"`
	Group       string                `json:"group,omitempty"`
	Events      []string              `json:"events,omitempty"`
	Prompt      string                `json:"prompt,omitempty"`
	Response    string                `json:"response,omitempty"`
	Reaction    *types.Reaction       `json:"reaction,omitempty"`
	State       *types.EmotionalState `json:"emotional_state,omitempty"`
	Score       float64               `json:"score"`
	Deactivated bool                  `json:"deactivated,omitempty"`
	Requeued    bool                  `json:"requeued,omitempty"`
	Outcome     string                `json:"outcome"`
	Error       string                `json:"error,omitempty"`
	DurationMS  int64                 `json:"duration_ms"`
}

// EventLogger records exposures for later analysis.
type EventLogger interface {
	LogEvent(ExposureLog) error
	Close() error
}

// JSONLLogger writes each exposure as a JSON line. Paths ending in ".zst"
// are zstd compressed.
type JSONLLogger struct {
	mu      sync.Mutex
	file    *os.File
	encoder *zstd.Encoder
	writer  *bufio.Writer
}

// NewJSONLLogger creates a JSONL logger at the given path.
func NewJSONLLogger(path string) (*JSONLLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	l := &JSONLLogger{file: file}

	var w io.Writer = file
	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		l.encoder = enc
		w = enc
	}
	l.writer = bufio.NewWriter(w)
	return l, nil
}

// LogEvent writes a single exposure as JSONL.
func (l *JSONLLogger) LogEvent(ev ExposureLog) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if l.encoder != nil {
		// Compressed frames are flushed on Close.
		return nil
	}
	return l.writer.Flush()
}

// Close flushes and closes the logger.
func (l *JSONLLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer != nil {
		_ = l.writer.Flush()
	}
	if l.encoder != nil {
		_ = l.encoder.Close()
	}
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// ReadExposureLog reads every line of a trace file written by JSONLLogger.
func ReadExposureLog(path string) ([]ExposureLog, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	var out []ExposureLog
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev ExposureLog
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("decode trace line: %w", err)
		}
		out = append(out, ev)
	}
	return out, scanner.Err()
}
