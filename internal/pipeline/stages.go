package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"montage/internal/collab"
	"montage/internal/config"
	"montage/internal/jobs"
	"montage/internal/resilience"
	"montage/internal/services"
	"montage/internal/stage"
)

// collabStage is a pipeline stage backed by an external collaborator
// with optional fallback endpoints. Handlers are stateless and shared
// across concurrent jobs.
type collabStage struct {
	key      jobs.Stage
	service  config.Service
	clients  []*collab.Client
	limiter  *resilience.Limiter
	policy   resilience.Policy
	breakers *resilience.BreakerSet
	tracker  *Tracker

	buildInput func(*jobs.Job) (any, error)
	validate   func(json.RawMessage) error
}

// RegisterDefaults wires the full stage set: a local planning stage, the
// five collaborator stages from configuration, and a local finalizer.
func (m *Manager) RegisterDefaults() {
	m.Register(jobs.StageInitializing, newInitStage())
	for _, key := range []jobs.Stage{
		jobs.StageResearching,
		jobs.StageScripting,
		jobs.StageAssetSourcing,
		jobs.StageAudioGeneration,
		jobs.StageVideoAssembly,
	} {
		m.Register(key, m.newCollabStage(key))
	}
	m.Register(jobs.StageFinalizing, newFinalizeStage(m.cfg))

	for name, svc := range m.cfg.Services {
		m.monitor.Register(name, svc.Critical)
	}
}

func (m *Manager) newCollabStage(key jobs.Stage) *collabStage {
	svc := m.cfg.ServiceFor(string(key))

	clients := make([]*collab.Client, 0, 1+len(svc.FallbackEndpoints))
	clients = append(clients, collab.NewClient(collab.Config{
		Name:           string(key),
		Endpoint:       svc.Endpoint,
		APIKey:         svc.APIKey,
		Model:          svc.Model,
		TimeoutSeconds: svc.TimeoutSeconds,
	}))
	for i, endpoint := range svc.FallbackEndpoints {
		clients = append(clients, collab.NewClient(collab.Config{
			Name:           fmt.Sprintf("%s#%d", key, i+2),
			Endpoint:       endpoint,
			APIKey:         svc.APIKey,
			Model:          svc.Model,
			TimeoutSeconds: svc.TimeoutSeconds,
		}))
	}

	s := &collabStage{
		key:      key,
		service:  svc,
		clients:  clients,
		limiter:  m.limiters.For(svc.RateClass),
		policy:   resilience.PolicyFromConfig(m.cfg.Retry),
		breakers: m.breakers,
		tracker:  m.tracker,
	}
	s.buildInput = inputBuilder(key)
	s.validate = payloadValidator(key)
	return s
}

// Prepare verifies the stage's prerequisites are present on the job.
func (s *collabStage) Prepare(ctx context.Context, job *jobs.Job) error {
	_, err := s.buildInput(job)
	return err
}

// Execute invokes the collaborator chain and records the stage result.
// A token acquisition happens per attempt so throttling is retried like
// any other transient failure, without charging the collaborator's
// breaker. Non-critical stages absorb exhaustion and record a skipped
// result instead of failing the job.
func (s *collabStage) Execute(ctx context.Context, job *jobs.Job) error {
	input, err := s.buildInput(job)
	if err != nil {
		return err
	}

	chain := resilience.NewChain(s.policy, s.breakers, func(a resilience.Attempt) {
		if a.Err != nil {
			job.RecordAttempt(s.key)
		}
	})

	targets := make([]resilience.Target, 0, len(s.clients))
	for _, client := range s.clients {
		client := client
		targets = append(targets, resilience.Target{
			Name:    client.Name(),
			Acquire: s.limiter.Acquire,
			Invoke: func(ctx context.Context) (json.RawMessage, error) {
				return client.Invoke(ctx, string(s.key), input)
			},
		})
	}

	payload, winner, err := chain.Execute(ctx, string(s.key), targets)
	if err != nil {
		if !s.service.Critical && services.Classify(err) != services.KindValidation {
			skipped, encErr := json.Marshal(map[string]any{
				"skipped": true,
				"reason":  services.Message(err),
			})
			if encErr != nil {
				return err
			}
			job.SetResult(s.key, skipped)
			return nil
		}
		return err
	}

	if err := s.validate(payload); err != nil {
		return services.Wrap(services.ErrFatal, string(s.key), "validate",
			fmt.Sprintf("%s returned malformed payload", winner), err)
	}
	job.SetResult(s.key, payload)
	return nil
}

// HealthCheck probes the primary collaborator endpoint.
func (s *collabStage) HealthCheck(ctx context.Context) stage.Health {
	if len(s.clients) == 0 || s.service.Endpoint == "" {
		return stage.Unhealthy(string(s.key), "no endpoint configured")
	}
	if err := s.clients[0].HealthCheck(ctx); err != nil {
		return stage.Unhealthy(string(s.key), err.Error())
	}
	return stage.Healthy(string(s.key))
}

func inputBuilder(key jobs.Stage) func(*jobs.Job) (any, error) {
	switch key {
	case jobs.StageResearching:
		return func(job *jobs.Job) (any, error) {
			return map[string]any{
				"topic": job.Prompt,
				"scope": job.Style,
			}, nil
		}
	case jobs.StageScripting:
		return func(job *jobs.Job) (any, error) {
			var research stage.ResearchData
			if err := stage.DecodeResult(job, jobs.StageResearching, &research); err != nil {
				return nil, err
			}
			return map[string]any{
				"prompt":           job.Prompt,
				"research":         research,
				"duration_seconds": job.DurationSeconds,
				"style":            job.Style,
			}, nil
		}
	case jobs.StageAssetSourcing:
		return func(job *jobs.Job) (any, error) {
			var script stage.Script
			if err := stage.DecodeResult(job, jobs.StageScripting, &script); err != nil {
				return nil, err
			}
			descriptions := make([]string, 0, len(script.Scenes))
			for _, scene := range script.Scenes {
				descriptions = append(descriptions, scene.Description)
			}
			return map[string]any{
				"scene_descriptions": descriptions,
				"style":              job.Style,
				"quality":            job.Quality,
			}, nil
		}
	case jobs.StageAudioGeneration:
		return func(job *jobs.Job) (any, error) {
			var script stage.Script
			if err := stage.DecodeResult(job, jobs.StageScripting, &script); err != nil {
				return nil, err
			}
			lines := make([]string, 0, len(script.Scenes))
			for _, scene := range script.Scenes {
				lines = append(lines, scene.Dialogue)
			}
			return map[string]any{
				"script_text": strings.Join(lines, "\n"),
				"voice":       job.Voice,
			}, nil
		}
	case jobs.StageVideoAssembly:
		return func(job *jobs.Job) (any, error) {
			var script stage.Script
			if err := stage.DecodeResult(job, jobs.StageScripting, &script); err != nil {
				return nil, err
			}
			var assets stage.AssetCollection
			if err := stage.DecodeResult(job, jobs.StageAssetSourcing, &assets); err != nil {
				return nil, err
			}
			input := map[string]any{
				"script":  script,
				"assets":  assets,
				"quality": job.Quality,
			}
			// Audio is non-critical; an upstream skip assembles silent video.
			var audio stage.AudioAssets
			if err := stage.DecodeResult(job, jobs.StageAudioGeneration, &audio); err == nil && len(audio.VoiceFiles) > 0 {
				input["audio"] = audio
			}
			return input, nil
		}
	default:
		return func(job *jobs.Job) (any, error) {
			return nil, services.Wrap(services.ErrFatal, string(key), "build", "unknown collaborator stage", nil)
		}
	}
}

func payloadValidator(key jobs.Stage) func(json.RawMessage) error {
	switch key {
	case jobs.StageResearching:
		return func(raw json.RawMessage) error {
			var data stage.ResearchData
			if err := json.Unmarshal(raw, &data); err != nil {
				return err
			}
			if len(data.Facts) == 0 && len(data.KeyPoints) == 0 {
				return fmt.Errorf("research payload carries no facts")
			}
			return nil
		}
	case jobs.StageScripting:
		return func(raw json.RawMessage) error {
			var script stage.Script
			if err := json.Unmarshal(raw, &script); err != nil {
				return err
			}
			if len(script.Scenes) == 0 {
				return fmt.Errorf("script payload carries no scenes")
			}
			return nil
		}
	case jobs.StageAssetSourcing:
		return func(raw json.RawMessage) error {
			var assets stage.AssetCollection
			if err := json.Unmarshal(raw, &assets); err != nil {
				return err
			}
			if len(assets.Images) == 0 && len(assets.Videos) == 0 {
				return fmt.Errorf("asset payload carries no assets")
			}
			return nil
		}
	case jobs.StageAudioGeneration:
		return func(raw json.RawMessage) error {
			var audio stage.AudioAssets
			return json.Unmarshal(raw, &audio)
		}
	case jobs.StageVideoAssembly:
		return func(raw json.RawMessage) error {
			var assembly stage.AssemblyResult
			if err := json.Unmarshal(raw, &assembly); err != nil {
				return err
			}
			if assembly.VideoFile == "" {
				return fmt.Errorf("assembly payload carries no video file")
			}
			return nil
		}
	default:
		return func(raw json.RawMessage) error { return nil }
	}
}
