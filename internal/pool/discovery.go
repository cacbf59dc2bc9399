package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jberon/kiln/internal/logging"
	"github.com/jberon/kiln/internal/models"
)

// DiscoveredModel is one model a probe found an endpoint serving.
type DiscoveredModel struct {
	// Name is the model name as the endpoint reports it.
	Name string

	// ParameterSize is the reported parameter count, e.g. "7.6B".
	// Empty when the endpoint does not say.
	ParameterSize string

	// Loaded is true when the model is resident in memory right now.
	Loaded bool
}

// EndpointResult is the per-endpoint outcome of one discovery pass.
type EndpointResult struct {
	// Endpoint is the probed base URL.
	Endpoint string `json:"endpoint"`

	// Models is how many models the endpoint reported.
	Models int `json:"models"`

	// Loaded is how many of those are resident in memory.
	Loaded int `json:"loaded"`

	// Err carries the probe failure, empty on success.
	Err string `json:"err,omitempty"`
}

// DiscoveryReport describes what one discovery pass did to the roster.
type DiscoveryReport struct {
	// Endpoints lists per-endpoint probe results, config order.
	Endpoints []EndpointResult `json:"endpoints"`

	// Added is how many fresh slots joined the roster.
	Added int `json:"added"`

	// Kept is how many existing slots survived, busy stragglers included.
	Kept int `json:"kept"`

	// Removed is how many idle slots left the roster because their
	// (model, endpoint) pair is no longer served.
	Removed int `json:"removed"`
}

// EndpointProber lists the models an endpoint currently serves.
type EndpointProber interface {
	Probe(ctx context.Context, endpoint string) ([]DiscoveredModel, error)
}

// Discover probes every configured endpoint and merges the results into
// the roster: new (model, endpoint) pairs get fresh slots, existing
// pairs keep their slot with its counters and busy state, vanished
// pairs are dropped unless busy (a busy straggler stays until released
// and falls off a later pass). Probe failures are per-endpoint, never
// fatal to the pass.
func (s *Service) Discover(ctx context.Context) (DiscoveryReport, error) {
	if s.prober == nil {
		return DiscoveryReport{}, ErrNoProber
	}

	type pair struct {
		model    DiscoveredModel
		endpoint string
	}

	var report DiscoveryReport
	found := make(map[string]pair)
	var order []string

	for _, endpoint := range s.cfg.Endpoints {
		probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
		discovered, err := s.prober.Probe(probeCtx, endpoint)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("endpoint probe failed")
			report.Endpoints = append(report.Endpoints, EndpointResult{
				Endpoint: endpoint,
				Err:      err.Error(),
			})
			continue
		}

		result := EndpointResult{Endpoint: endpoint, Models: len(discovered)}
		for _, dm := range discovered {
			if dm.Loaded {
				result.Loaded++
			}
			key := pairKey(dm.Name, endpoint)
			if _, ok := found[key]; ok {
				continue
			}
			found[key] = pair{model: dm, endpoint: endpoint}
			order = append(order, key)
		}
		report.Endpoints = append(report.Endpoints, result)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]*models.ModelSlot, 0, len(order))
	kept := make(map[string]bool, len(s.slots))
	for _, slot := range s.slots {
		key := pairKey(slot.Model, slot.Endpoint)
		if _, ok := found[key]; ok {
			next = append(next, slot)
			kept[key] = true
			report.Kept++
			continue
		}
		if slot.Busy {
			next = append(next, slot)
			report.Kept++
			s.logger.Warn().
				Str("slot_id", slot.ID).
				Str("model", slot.Model).
				Str("endpoint", slot.Endpoint).
				Msg("busy slot no longer served, keeping until release")
			continue
		}
		report.Removed++
		s.logger.Info().
			Str("slot_id", slot.ID).
			Str("model", slot.Model).
			Str("endpoint", slot.Endpoint).
			Msg("slot removed")
	}

	for _, key := range order {
		if kept[key] {
			continue
		}
		p := found[key]
		slot := &models.ModelSlot{
			ID:       uuid.New().String(),
			Model:    p.model.Name,
			Endpoint: p.endpoint,
			Role:     s.mapping.RoleOf(p.model.Name),
		}
		next = append(next, slot)
		report.Added++
		s.logger.Info().
			Str("slot_id", slot.ID).
			Str("model", slot.Model).
			Str("endpoint", slot.Endpoint).
			Str("role", string(slot.Role)).
			Str("parameter_size", p.model.ParameterSize).
			Bool("loaded", p.model.Loaded).
			Msg("slot added")
	}

	s.slots = next
	return report, nil
}

func pairKey(model, endpoint string) string {
	return model + "@" + endpoint
}

// HTTPProber probes Ollama-compatible endpoints: /api/tags for the
// served models, /api/ps for the subset resident in memory.
type HTTPProber struct {
	client *http.Client
	logger zerolog.Logger
}

// NewHTTPProber creates a prober with its own timeout-bounded client.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultConfig().ProbeTimeout
	}
	return &HTTPProber{
		client: &http.Client{Timeout: timeout},
		logger: logging.Component("prober"),
	}
}

type ollamaModelList struct {
	Models []struct {
		Name    string `json:"name"`
		Details struct {
			ParameterSize string `json:"parameter_size"`
		} `json:"details"`
	} `json:"models"`
}

// Probe lists the models one endpoint serves. An unreachable /api/ps is
// not an error; older servers do not have it.
func (p *HTTPProber) Probe(ctx context.Context, endpoint string) ([]DiscoveredModel, error) {
	base := strings.TrimRight(endpoint, "/")

	var tags ollamaModelList
	if err := p.getJSON(ctx, base+"/api/tags", &tags); err != nil {
		return nil, fmt.Errorf("probe %s: %w", endpoint, err)
	}

	loaded := make(map[string]bool)
	var ps ollamaModelList
	if err := p.getJSON(ctx, base+"/api/ps", &ps); err != nil {
		p.logger.Debug().Err(err).Str("endpoint", endpoint).Msg("loaded-model probe failed")
	} else {
		for _, m := range ps.Models {
			loaded[m.Name] = true
		}
	}

	out := make([]DiscoveredModel, 0, len(tags.Models))
	for _, m := range tags.Models {
		out = append(out, DiscoveredModel{
			Name:          m.Name,
			ParameterSize: m.Details.ParameterSize,
			Loaded:        loaded[m.Name],
		})
	}
	return out, nil
}

func (p *HTTPProber) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
