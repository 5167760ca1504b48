// Package interaction turns raw model output into validated reactions.
package interaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cpunion/adsim/pkg/llm"
	"github.com/cpunion/adsim/pkg/types"
)

// ErrUnparseable marks response text that is not a JSON object.
var ErrUnparseable = errors.New("unparseable response")

// Response field names.
const (
	FieldIgnore   = "ignore"
	FieldClick    = "click"
	FieldLike     = "like"
	FieldDislike  = "dislike"
	FieldShare    = "share"
	FieldReaction = "reaction_description"
	DeltaSuffix   = "_change"
)

// CleanResponse strips surrounding whitespace and a markdown code fence.
func CleanResponse(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		if nl := strings.IndexByte(cleaned, '\n'); nl != -1 {
			cleaned = strings.TrimSpace(cleaned[nl:])
		}
		cleaned = strings.TrimSpace(strings.TrimSuffix(cleaned, "```"))
	}
	return cleaned
}

// ParseResponse decodes model output into a loose field map. Empty text and
// a bare "{}" are reported as llm.ErrEmptyResponse; anything that is not a
// JSON object is ErrUnparseable.
func ParseResponse(text string) (map[string]any, error) {
	cleaned := CleanResponse(text)
	if cleaned == "" {
		return nil, llm.ErrEmptyResponse
	}
	if !strings.HasPrefix(cleaned, "{") || !strings.HasSuffix(cleaned, "}") {
		return nil, fmt.Errorf("%w: not a JSON object", ErrUnparseable)
	}

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty object", llm.ErrEmptyResponse)
	}
	return raw, nil
}

// Validate normalizes a loose response into a Reaction. Missing fields take
// their zero value, flags are coerced to booleans, share to 0 or 1, and
// ignore wins over every other action. A response with no action at all
// becomes an ignore. Validate never fails.
func Validate(raw map[string]any) types.Reaction {
	r := types.Reaction{
		Ignore:  toBool(raw[FieldIgnore]),
		Click:   toBool(raw[FieldClick]),
		Like:    toBool(raw[FieldLike]),
		Dislike: toBool(raw[FieldDislike]),
	}
	if toBool(raw[FieldShare]) {
		r.Share = 1
	}
	if s, ok := raw[FieldReaction].(string); ok {
		r.ReactionDescription = s
	}
	for _, axis := range types.Axes {
		r.Deltas.Set(axis, toFloat(raw[string(axis)+DeltaSuffix]))
	}

	if r.Ignore {
		r.Click, r.Like, r.Dislike, r.Share = false, false, false, 0
	}
	if !r.Ignore && !r.Click && !r.Like && !r.Dislike && r.Share == 0 {
		r.Ignore = true
	}
	return r
}

// DeltaMap returns the reaction deltas keyed by axis name.
func DeltaMap(r types.Reaction) map[string]float64 {
	return r.Deltas.Map()
}

// toBool coerces a decoded JSON value. Strings parse as booleans when they
// can; any other non-empty string counts as true.
func toBool(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case json.Number:
		f, err := x.Float64()
		return err == nil && f != 0
	case float64:
		return x != 0
	case int:
		return x != 0
	case string:
		s := strings.TrimSpace(x)
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f != 0
		}
		return s != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

// toFloat coerces a decoded JSON value to a finite number, 0 when it is not
// one.
func toFloat(v any) float64 {
	f := rawFloat(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func rawFloat(v any) float64 {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0
		}
		return f
	case float64:
		return x
	case int:
		return float64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
