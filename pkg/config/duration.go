package config

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads and writes day and week units.
type Duration time.Duration

// ParseDuration parses strings such as "250ms", "60s", "7d" or "1w2d".
func ParseDuration(s string) (Duration, error) {
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parse duration %q", s)
	}
	return Duration(d), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string {
	return str2duration.String(time.Duration(d))
}

// UnmarshalYAML accepts a duration string or a plain number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Newf("line %d: duration must be a scalar", value.Line)
	}
	if value.Tag == "!!int" {
		var secs int64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*d = parsed
	return nil
}

// MarshalYAML writes d in its compact string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}
