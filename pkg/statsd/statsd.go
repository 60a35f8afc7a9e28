// Package statsd wraps the few statsd calls the runtime makes. It hides the datadog dependency so
// the rest of the code only deals with tick and system timings. Until Init is called every call is
// a no-op.
package statsd

import (
	"sync"
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

// Namespace prefixes every metric name.
const Namespace = "ecs."

var mu sync.RWMutex //nolint:gochecknoglobals // guards client

var client ddstatsd.ClientInterface = &ddstatsd.NoOpClient{} //nolint:gochecknoglobals // process wide client

// Client returns the current statsd client.
func Client() ddstatsd.ClientInterface {
	mu.RLock()
	defer mu.RUnlock()
	return client
}

// SetClient replaces the statsd client. Passing nil restores the no-op client.
func SetClient(c ddstatsd.ClientInterface) {
	mu.Lock()
	defer mu.Unlock()
	if c == nil {
		c = &ddstatsd.NoOpClient{}
	}
	client = c
}

// Init connects the client to a statsd agent at address. tags are attached to every metric.
func Init(address string, tags []string) error {
	if address == "" {
		return eris.New("address must not be empty")
	}
	opts := []ddstatsd.Option{ddstatsd.WithNamespace(Namespace)}
	if len(tags) > 0 {
		opts = append(opts, ddstatsd.WithTags(tags))
	}

	newClient, err := ddstatsd.New(address, opts...)
	if err != nil {
		return eris.Wrapf(err, "failed to create statsd client for %s", address)
	}
	SetClient(newClient)
	return nil
}

// EmitTickStat records the duration of a tick stage that started at start.
func EmitTickStat(start time.Time, stage string, tags ...string) {
	timing("tick", time.Since(start), append(tags, "stage:"+stage))
}

// EmitSystemStat records how long a system took.
func EmitSystemStat(d time.Duration, system string, tags ...string) {
	timing("system", d, append(tags, "system:"+system))
}

// Gauge records a point-in-time value such as the number of live entities.
func Gauge(name string, value float64, tags ...string) {
	if err := Client().Gauge(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("failed to emit gauge")
	}
}

func timing(name string, d time.Duration, tags []string) {
	if err := Client().Timing(name, d, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("failed to emit timing")
	}
}
