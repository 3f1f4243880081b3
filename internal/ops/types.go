package ops

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"livebridge/internal/feed"
	"livebridge/internal/schema"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Decimal is a human decimal accepted as a JSON/YAML string or number.
type Decimal struct {
	decimal.Decimal
}

func (d *Decimal) UnmarshalYAML(n *yaml.Node) error {
	v, err := decimal.NewFromString(strings.TrimSpace(n.Value))
	if err != nil {
		return fmt.Errorf("line %d: decimal %q: %w", n.Line, n.Value, err)
	}
	d.Decimal = v
	return nil
}

// Scaled converts d into an integer with scale decimal places.
func (d Decimal) Scaled(scale schema.Scale) int64 {
	return feed.Scaled(d.Decimal, scale)
}

// Duration accepts "1m30s" style strings, or integer nanoseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration %s: want string or integer", b)
		}
		*d = Duration(n)
		return nil
	}
	return d.parse(s)
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if err := d.parse(n.Value); err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	return nil
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}
