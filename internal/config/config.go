// Package config loads and persists `.ai-framework.json`, the per-project
// configuration file. Known sections parse into typed structs; unknown keys
// are carried through read-modify-write untouched so other tools sharing the
// file never lose data.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Sensitivity controls the minimum confidence a learning proposal needs
// before it is surfaced.
type Sensitivity string

const (
	SensitivityConservative Sensitivity = "conservative"
	SensitivityModerate     Sensitivity = "moderate"
	SensitivityAggressive   Sensitivity = "aggressive"
)

var sensitivityConfidence = map[Sensitivity]float64{
	SensitivityConservative: 0.7,
	SensitivityModerate:     0.5,
	SensitivityAggressive:   0.3,
}

// NormalizeSensitivity maps a raw string onto a known sensitivity, or "".
func NormalizeSensitivity(s string) Sensitivity {
	switch Sensitivity(strings.ToLower(strings.TrimSpace(s))) {
	case SensitivityConservative:
		return SensitivityConservative
	case SensitivityModerate:
		return SensitivityModerate
	case SensitivityAggressive:
		return SensitivityAggressive
	}
	return ""
}

// ProjectConfig identifies the project.
type ProjectConfig struct {
	Name string `json:"name,omitempty"`
	Root string `json:"root,omitempty"`
}

// LearningConfig gates the adaptive learning pipeline.
type LearningConfig struct {
	GlobalEnabled          bool        `json:"global_enabled"`
	Sensitivity            Sensitivity `json:"sensitivity,omitempty"`
	MaxProposalsPerSession int         `json:"max_proposals_per_session,omitempty"`
	CooldownDays           int         `json:"cooldown_days,omitempty"`
	WarmupHours            int         `json:"warmup_hours,omitempty"`
	CommitsPerTrigger      int         `json:"commits_per_trigger,omitempty"`
}

// MinConfidence derives the proposal confidence floor from the sensitivity.
func (l LearningConfig) MinConfidence() float64 {
	if c, ok := sensitivityConfidence[l.Sensitivity]; ok {
		return c
	}
	return sensitivityConfidence[SensitivityConservative]
}

// RetrievalConfig selects which corpora are searchable and how to reach the
// external code-search binary.
type RetrievalConfig struct {
	CodeEnabled       bool   `json:"code_enabled"`
	GovernanceEnabled bool   `json:"governance_enabled"`
	CodeBinary        string `json:"code_binary,omitempty"`
	EmbedModel        string `json:"embed_model,omitempty"`
}

// OrchestrationConfig bounds the spec execution loop.
type OrchestrationConfig struct {
	MaxReviewIterations int `json:"max_review_iterations,omitempty"`
	StaleBusyHours      int `json:"stale_busy_hours,omitempty"`
}

// Config is the typed view of `.ai-framework.json`.
type Config struct {
	Project       ProjectConfig       `json:"project"`
	Learning      LearningConfig      `json:"learning"`
	Retrieval     RetrievalConfig     `json:"retrieval"`
	Orchestration OrchestrationConfig `json:"orchestration"`

	// raw holds the full document so unknown keys survive Save.
	raw rawDocument
}

// Default returns a config with all defaults applied and no file backing.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Learning.Sensitivity == "" {
		c.Learning.Sensitivity = SensitivityConservative
	} else if s := NormalizeSensitivity(string(c.Learning.Sensitivity)); s != "" {
		c.Learning.Sensitivity = s
	} else {
		c.Learning.Sensitivity = SensitivityConservative
	}
	if c.Learning.MaxProposalsPerSession <= 0 {
		c.Learning.MaxProposalsPerSession = 3
	}
	if c.Learning.CooldownDays <= 0 {
		c.Learning.CooldownDays = 7
	}
	if c.Learning.WarmupHours <= 0 {
		c.Learning.WarmupHours = 24
	}
	if c.Learning.CommitsPerTrigger <= 0 {
		c.Learning.CommitsPerTrigger = 5
	}
	if c.Retrieval.CodeBinary == "" {
		c.Retrieval.CodeBinary = "vexor"
	}
	if c.Retrieval.EmbedModel == "" {
		c.Retrieval.EmbedModel = "all-MiniLM-L6-v2"
	}
	if c.Orchestration.MaxReviewIterations <= 0 {
		c.Orchestration.MaxReviewIterations = 3
	}
	if c.Orchestration.StaleBusyHours <= 0 {
		c.Orchestration.StaleBusyHours = 4
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AI_FRAMEWORK_LEARNING_ENABLED"); v != "" {
		c.Learning.GlobalEnabled = strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	}
	if v := os.Getenv("AI_FRAMEWORK_CODE_BINARY"); v != "" {
		c.Retrieval.CodeBinary = v
	}
}

// FileName is the canonical config file name at the project root.
const FileName = ".ai-framework.json"

// DataDir resolves the daemon data directory: AI_FRAMEWORK_DATA_DIR when
// set, otherwise ~/.ai-framework/data.
func DataDir() string {
	if dir := os.Getenv("AI_FRAMEWORK_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".ai-framework", "data")
	}
	return filepath.Join(home, ".ai-framework", "data")
}
