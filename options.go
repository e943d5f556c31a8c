package tubes

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	timeoutKey  string = "timeout"
	delayKey    string = "delay"
	priorityKey string = "priority"

	defaultTimeout  time.Duration = 10 * time.Minute
	defaultPriority uint32        = 1000
)

// Options are the enqueue options of a job. Durations are milliseconds
// (numbers or numeric strings), Go duration strings or time.Duration values.
// The timeout, delay and priority keys drive the put; every other key is sent
// along with the payload as metadata.
type Options map[string]any

// With sets the option value.
func (o Options) With(name string, value any) Options {
	o[name] = value
	return o
}

// Has checks if the option is set.
func (o Options) Has(name string) bool {
	_, ok := o[name]
	return ok
}

// Timeout is the job TTR, default 10 minutes.
func (o Options) Timeout() time.Duration {
	return o.Duration(timeoutKey, defaultTimeout)
}

// Delay before the job becomes ready, default none.
func (o Options) Delay() time.Duration {
	return o.Duration(delayKey, 0)
}

// Priority of the job, lower is more urgent, default 1000.
func (o Options) Priority() uint32 {
	value, ok := o[priorityKey]
	if !ok {
		return defaultPriority
	}

	n, ok := number(value)
	if !ok || n < 0 || n > math.MaxUint32 {
		return defaultPriority
	}

	return uint32(n)
}

// Duration must return option value as duration or return default value.
func (o Options) Duration(name string, d time.Duration) time.Duration {
	value, ok := o[name]
	if !ok || value == nil {
		return d
	}

	switch v := value.(type) {
	case time.Duration:
		return v
	case string:
		if strings.IndexFunc(v, isUnit) >= 0 {
			res, err := time.ParseDuration(v)
			if err != nil {
				return d
			}
			return res
		}
	}

	ms, ok := number(value)
	if !ok || ms < 0 {
		return d
	}

	return time.Duration(ms * float64(time.Millisecond))
}

// Metadata returns a copy of the options without the enqueue control keys.
func (o Options) Metadata() map[string]any {
	meta := make(map[string]any, len(o))
	for k, v := range o {
		switch k {
		case timeoutKey, delayKey, priorityKey:
			continue
		default:
			meta[k] = v
		}
	}

	return meta
}

func number(value any) (float64, bool) {
	switch v := value.(type) {
	// the most probable case, values decoded from json
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case uint32:
		return float64(v), true
	case json.Number:
		res, err := v.Float64()
		return res, err == nil
	case string:
		res, err := strconv.ParseFloat(v, 64)
		return res, err == nil
	default:
		return 0, false
	}
}

func isUnit(r rune) bool {
	return r == 'h' || r == 'm' || r == 's' || r == 'u' || r == 'µ' || r == 'n'
}
