package env

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

type builtin struct {
	make            func() Env
	maxEpisodeSteps int
}

var builtins = map[string]builtin{
	"Pendulum-v0":              {make: func() Env { return NewPendulum() }, maxEpisodeSteps: 200},
	"MountainCarContinuous-v0": {make: func() Env { return NewMountainCar() }, maxEpisodeSteps: 999},
}

// Builtins lists the environment ids available without a gym server.
func Builtins() []string {
	ids := make([]string, 0, len(builtins))
	for id := range builtins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MaxEpisodeSteps returns the step limit registered for a built-in
// environment, or 0 for ids that are not built in. Remote environments are
// limited by the gym server.
func MaxEpisodeSteps(id string) int {
	return builtins[id].maxEpisodeSteps
}

// Options configures Make.
type Options struct {
	// GymAddr is the base URL of a gym-http-api server. Ids that are not
	// built in are created there.
	GymAddr string
	// Timeout bounds each request to the gym server.
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Make creates the environment registered under id.
func Make(id string, opts Options) (Env, error) {
	if b, ok := builtins[id]; ok {
		return b.make(), nil
	}
	if opts.GymAddr == "" {
		return nil, fmt.Errorf("%w %q (built in: %v; set a gym server address for others)", ErrUnknownEnv, id, Builtins())
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewRemote(opts.GymAddr, id, &http.Client{Timeout: timeout}, opts.Logger)
}
