// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"grimm.is/stackveil/internal/config"
	"grimm.is/stackveil/internal/errors"
	"grimm.is/stackveil/internal/profile"
)

// ConfigPipeline validates a configuration and applies its profiles in
// stages.
type ConfigPipeline struct {
	stages []ConfigStage
	store  profile.Store
}

// ConfigStage represents a single stage in the configuration pipeline
type ConfigStage struct {
	Name        string
	Description string
	Validator   func(*config.Config) error
	Executor    func(*config.Config) error
	Optional    bool // If true, pipeline continues on failure
}

// PipelineResult contains the results of pipeline execution
type PipelineResult struct {
	StageResults   map[string]*StageResult
	Order          []string
	OverallSuccess bool
	Duration       time.Duration
	Timestamp      time.Time
	TotalErrors    int
	TotalWarnings  int
}

// StageResult contains the result of a single pipeline stage
type StageResult struct {
	Success  bool
	Error    error
	Duration time.Duration
}

// NewConfigPipeline creates the default pipeline writing into store.
func NewConfigPipeline(store profile.Store) *ConfigPipeline {
	return &ConfigPipeline{
		store: store,
		stages: []ConfigStage{
			{
				Name:        "validate",
				Description: "Validate configuration structure and profile ranges",
				Validator:   validateConfig,
			},
			{
				Name:        "install-profiles",
				Description: "Write TCP and JA3 profiles into the store",
				Executor:    installProfiles(store),
			},
			{
				Name:        "verify-profiles",
				Description: "Read installed profiles back and compare",
				Executor:    verifyProfiles(store),
				Optional:    true,
			},
		},
	}
}

// Execute runs the configuration pipeline
func (cp *ConfigPipeline) Execute(ctx context.Context, cfg *config.Config) (*PipelineResult, error) {
	result := &PipelineResult{
		StageResults: make(map[string]*StageResult),
		Timestamp:    time.Now(),
	}

	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	for _, stage := range cp.stages {
		if err := ctx.Err(); err != nil {
			return result, errors.Wrap(err, errors.KindUnavailable, "pipeline cancelled")
		}

		stageStart := time.Now()
		stageResult := &StageResult{Success: true}

		if stage.Validator != nil {
			if err := stage.Validator(cfg); err != nil {
				stageResult.Success = false
				stageResult.Error = err
			}
		}

		if stage.Executor != nil && stageResult.Success {
			if err := stage.Executor(cfg); err != nil {
				stageResult.Success = false
				stageResult.Error = err
			}
		}

		stageResult.Duration = time.Since(stageStart)
		result.StageResults[stage.Name] = stageResult
		result.Order = append(result.Order, stage.Name)

		if stageResult.Success {
			continue
		}
		if stage.Optional {
			result.TotalWarnings++
			continue
		}
		result.TotalErrors++
		return result, errors.Wrapf(stageResult.Error, errors.GetKind(stageResult.Error), "pipeline failed at stage %s", stage.Name)
	}

	result.OverallSuccess = true
	return result, nil
}

// AddStage adds a custom stage to the pipeline
func (cp *ConfigPipeline) AddStage(stage ConfigStage) {
	cp.stages = append(cp.stages, stage)
}

// RemoveStage removes a stage from the pipeline
func (cp *ConfigPipeline) RemoveStage(name string) {
	for i, stage := range cp.stages {
		if stage.Name == name {
			cp.stages = append(cp.stages[:i], cp.stages[i+1:]...)
			break
		}
	}
}

// GetStages returns all pipeline stages
func (cp *ConfigPipeline) GetStages() []ConfigStage {
	return cp.stages
}

// Apply runs the default pipeline for cfg against the engine's store.
func (e *Engine) Apply(ctx context.Context, cfg *config.Config) (*PipelineResult, error) {
	res, err := NewConfigPipeline(e.Store()).Execute(ctx, cfg)
	if err == nil {
		tcp, ja3 := len(cfg.TCPProfiles), len(cfg.JA3Profiles)
		e.logger.Info("Profiles applied", "tcp", tcp, "ja3", ja3, "warnings", res.TotalWarnings)
	}
	return res, err
}

func validateConfig(cfg *config.Config) error {
	if errs := cfg.Validate(); errs.HasErrors() {
		return errors.Wrap(errs, errors.KindValidation, "configuration invalid")
	}
	return nil
}

func installProfiles(store profile.Store) func(*config.Config) error {
	return func(cfg *config.Config) error {
		return config.Install(cfg, store)
	}
}

func verifyProfiles(store profile.Store) func(*config.Config) error {
	return func(cfg *config.Config) error {
		var errs []error
		for _, p := range cfg.TCPProfiles {
			got, ok := store.LookupTCP(p.PID)
			if !ok || got != p.Profile() {
				errs = append(errs, errors.Errorf(errors.KindInternal, "tcp_profile %q not readable for pid %d", p.Name, p.PID))
			}
		}
		for _, p := range cfg.JA3Profiles {
			want, err := p.Profile()
			if err != nil {
				continue
			}
			got, ok := store.LookupJA3(p.PID)
			if !ok || got != want {
				errs = append(errs, errors.Errorf(errors.KindInternal, "ja3_profile %q not readable for pid %d", p.Name, p.PID))
			}
		}
		return errors.Join(errs...)
	}
}

// PrintSummary writes a human-readable summary of pipeline results
func (pr *PipelineResult) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "\nPipeline Execution Results (%.2fs):\n", pr.Duration.Seconds())
	fmt.Fprintf(w, "Overall Success: %t\n", pr.OverallSuccess)
	fmt.Fprintf(w, "Total Errors: %d\n", pr.TotalErrors)
	fmt.Fprintf(w, "Total Warnings: %d\n", pr.TotalWarnings)
	fmt.Fprintf(w, "\nStage Results:\n")
	for _, name := range pr.Order {
		result := pr.StageResults[name]
		status := "✅"
		if !result.Success {
			status = "⚠️"
		}
		fmt.Fprintf(w, "  %s %s: %.2fs", status, name, result.Duration.Seconds())
		if result.Error != nil {
			fmt.Fprintf(w, " - %s", result.Error.Error())
		}
		fmt.Fprintf(w, "\n")
	}
}
