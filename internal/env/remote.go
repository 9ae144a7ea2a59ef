package env

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

const maxResponseBody = 1 << 20

// Remote drives an environment hosted by a gym-http-api server.
type Remote struct {
	baseURL    string
	envID      string
	instanceID string
	client     *http.Client
	logger     zerolog.Logger

	obsSpace    Box
	actionSpace Box
	render      bool
}

type spaceInfo struct {
	Info struct {
		Name  string    `json:"name"`
		Shape []int     `json:"shape"`
		Low   []float64 `json:"low"`
		High  []float64 `json:"high"`
	} `json:"info"`
}

// NewRemote creates envID on the server at baseURL and fetches its spaces.
func NewRemote(baseURL, envID string, client *http.Client, logger zerolog.Logger) (*Remote, error) {
	if client == nil {
		client = http.DefaultClient
	}
	r := &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		envID:   envID,
		client:  client,
		logger:  logger.With().Str("component", "gym_remote").Str("env_id", envID).Logger(),
	}

	var created struct {
		InstanceID string `json:"instance_id"`
	}
	if err := r.do(http.MethodPost, "/v1/envs/", map[string]string{"env_id": envID}, &created); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", envID, err)
	}
	if created.InstanceID == "" {
		return nil, fmt.Errorf("failed to create %s: server returned no instance id", envID)
	}
	r.instanceID = created.InstanceID

	var err error
	if r.actionSpace, err = r.fetchSpace("action_space"); err != nil {
		return nil, err
	}
	if r.obsSpace, err = r.fetchSpace("observation_space"); err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("instance_id", r.instanceID).
		Int("obs_dim", r.obsSpace.Dim()).
		Int("action_dim", r.actionSpace.Dim()).
		Msg("Remote environment created")
	return r, nil
}

func (r *Remote) fetchSpace(name string) (Box, error) {
	var info spaceInfo
	if err := r.do(http.MethodGet, r.instancePath(name), nil, &info); err != nil {
		return Box{}, fmt.Errorf("failed to get %s: %w", name, err)
	}
	if info.Info.Name != "Box" {
		return Box{}, fmt.Errorf("%s is %q, only Box spaces are supported", name, info.Info.Name)
	}
	return NewBox(info.Info.Low, info.Info.High)
}

func (r *Remote) instancePath(op string) string {
	return fmt.Sprintf("/v1/envs/%s/%s/", r.instanceID, op)
}

func (r *Remote) ObservationSpace() Box { return r.obsSpace }

func (r *Remote) ActionSpace() Box { return r.actionSpace }

// Seed is recorded only; gym-http-api exposes no seeding endpoint.
func (r *Remote) Seed(seed int64) {
	r.logger.Debug().Int64("seed", seed).Msg("Remote environments cannot be seeded, ignoring")
}

func (r *Remote) Reset() ([]float64, error) {
	var resp struct {
		Observation []float64 `json:"observation"`
	}
	if err := r.do(http.MethodPost, r.instancePath("reset"), struct{}{}, &resp); err != nil {
		return nil, fmt.Errorf("failed to reset: %w", err)
	}
	if err := checkObservation(resp.Observation, r.obsSpace); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	return resp.Observation, nil
}

func (r *Remote) Step(action []float64) ([]float64, float64, bool, error) {
	if err := checkAction(action, r.actionSpace); err != nil {
		return nil, 0, false, err
	}
	req := struct {
		Action []float64 `json:"action"`
		Render bool      `json:"render"`
	}{Action: action, Render: r.render}
	r.render = false

	var resp struct {
		Observation []float64 `json:"observation"`
		Reward      float64   `json:"reward"`
		Done        bool      `json:"done"`
	}
	if err := r.do(http.MethodPost, r.instancePath("step"), req, &resp); err != nil {
		return nil, 0, false, fmt.Errorf("failed to step: %w", err)
	}
	if err := checkObservation(resp.Observation, r.obsSpace); err != nil {
		return nil, 0, false, fmt.Errorf("step: %w", err)
	}
	return resp.Observation, resp.Reward, resp.Done, nil
}

// Render asks the server to render the next step.
func (r *Remote) Render() error {
	r.render = true
	return nil
}

func (r *Remote) Close() error {
	if r.instanceID == "" {
		return nil
	}
	if err := r.do(http.MethodPost, r.instancePath("close"), struct{}{}, nil); err != nil {
		return fmt.Errorf("failed to close %s: %w", r.instanceID, err)
	}
	r.instanceID = ""
	return nil
}

func (r *Remote) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, r.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("gym server returned %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("gym server returned %d", resp.StatusCode)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
