// Package config defines the deployment configuration: YAML file with
// defaults, FRONTDESK_* environment overrides, and ${VAR} expansion for
// secrets. All domain-tuning thresholds (endpointing, backoff, buffers)
// live here rather than as constants in logic.
package config

import (
	"fmt"
	"time"

	"github.com/frontdesk-ai/frontdesk/pkg/audio"
	"github.com/frontdesk-ai/frontdesk/pkg/dispatch"
	"github.com/frontdesk-ai/frontdesk/pkg/memory"
	"github.com/frontdesk-ai/frontdesk/pkg/resilience"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig          `yaml:"server"`
	Logging    LoggingConfig         `yaml:"logging"`
	Agent      AgentConfig           `yaml:"agent"`
	Audio      AudioConfig           `yaml:"audio"`
	Turns      TurnsConfig           `yaml:"turns"`
	Memory     memory.Config         `yaml:"memory"`
	Dispatch   DispatchConfig        `yaml:"dispatch"`
	Reconnect  resilience.Policy     `yaml:"reconnect"`
	Store      StoreConfig           `yaml:"store"`
	Greeting   string                `yaml:"greeting"`
	System     string                `yaml:"system"`
	Transfer   TransferConfig        `yaml:"transfer"`
	Functions  []dispatch.Definition `yaml:"functions"`
}

// ServerConfig configures the HTTP/websocket listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// AgentConfig points at the speech-agent service.
type AgentConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// AudioConfig shapes the transcoding path.
type AudioConfig struct {
	Carrier audio.Format `yaml:"carrier"`
	Agent   audio.Format `yaml:"agent"`
	// ChunkMS is the aggregation unit per transmitted chunk (100–200ms).
	ChunkMS int `yaml:"chunk_ms"`
	// HoldMS bounds the audio held while the agent link reconnects.
	HoldMS int `yaml:"hold_ms"`
}

// TurnsConfig holds endpointing and barge-in tuning.
type TurnsConfig struct {
	SilenceMS           int     `yaml:"silence_ms"`
	MaxUtteranceMS      int     `yaml:"max_utterance_ms"`
	BargeInSensitivity  float64 `yaml:"barge_in_sensitivity"`
}

// DispatchConfig bounds the shared function-call worker pool.
type DispatchConfig struct {
	Workers        int           `yaml:"workers"`
	Queue          int           `yaml:"queue"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
}

// StoreConfig points at the call-record database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// TransferConfig names the human-fallback destination.
type TransferConfig struct {
	Number string `yaml:"number"`
}

// Defaults returns a complete default configuration.
func Defaults() Config {
	return Config{
		Server:  ServerConfig{Addr: ":8090"},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Agent:   AgentConfig{URL: "wss://speech.example.com/v1/live"},
		Audio: AudioConfig{
			Carrier: audio.CarrierDefault(),
			Agent:   audio.AgentDefault(),
			ChunkMS: 120,
			HoldMS:  3000,
		},
		Turns: TurnsConfig{
			SilenceMS:          700,
			MaxUtteranceMS:     9000,
			BargeInSensitivity: 0.5,
		},
		Memory: memory.DefaultConfig(),
		Dispatch: DispatchConfig{
			Workers:        8,
			Queue:          32,
			DefaultTimeout: 3 * time.Second,
			MaxAttempts:    2,
		},
		Reconnect: resilience.DefaultPolicy(),
		Store:     StoreConfig{Path: "data/frontdesk.db"},
		Greeting:  "Thanks for calling, this is the front desk assistant. How can I help you today?",
		System:    "You are a friendly dental front desk assistant. Keep replies short and conversational.",
		Functions: DefaultFunctions(),
	}
}

// DefaultFunctions is the standard business-operation registry shipped in
// config. Deployments add or replace entries without code changes.
func DefaultFunctions() []dispatch.Definition {
	return []dispatch.Definition{
		{
			Name:        "lookup_appointment",
			Description: "Find a patient's existing appointments by name and phone number.",
			Handler:     "lookup_appointment",
			Params: []dispatch.ParamSpec{
				{Name: "patient_name", Type: "string", Description: "Full patient name", Required: true},
				{Name: "phone", Type: "string", Description: "Callback phone number"},
			},
			Timeout: 3 * time.Second,
		},
		{
			Name:        "book_appointment",
			Description: "Book an appointment for a patient at a requested time.",
			Handler:     "book_appointment",
			Params: []dispatch.ParamSpec{
				{Name: "patient_name", Type: "string", Description: "Full patient name", Required: true},
				{Name: "phone", Type: "string", Description: "Callback phone number", Required: true},
				{Name: "service", Type: "string", Description: "Requested service", Required: true},
				{Name: "preferred_time", Type: "string", Description: "Requested date and time", Required: true},
			},
			Timeout: 5 * time.Second,
		},
		{
			Name:        "check_insurance",
			Description: "Check whether an insurance plan is accepted.",
			Handler:     "check_insurance",
			Params: []dispatch.ParamSpec{
				{Name: "carrier", Type: "string", Description: "Insurance carrier name", Required: true},
				{Name: "plan", Type: "string", Description: "Plan name or group"},
			},
			Timeout: 3 * time.Second,
		},
		{
			Name:        "triage_urgency",
			Description: "Classify how urgent the caller's dental issue is.",
			Handler:     "triage_urgency",
			Params: []dispatch.ParamSpec{
				{Name: "complaint", Type: "string", Description: "Caller's description of the problem", Required: true},
			},
			Timeout: 2 * time.Second,
		},
		{
			Name:        "take_message",
			Description: "Record a message for the front desk staff.",
			Handler:     "take_message",
			Params: []dispatch.ParamSpec{
				{Name: "patient_name", Type: "string", Description: "Caller name", Required: true},
				{Name: "phone", Type: "string", Description: "Callback phone number", Required: true},
				{Name: "message", Type: "string", Description: "The message", Required: true},
			},
			Timeout: 2 * time.Second,
		},
		{
			Name:        "transfer_to_human",
			Description: "Transfer the caller to front desk staff.",
			Handler:     "transfer_to_human",
			Params: []dispatch.ParamSpec{
				{Name: "reason", Type: "string", Description: "Why the caller needs a human"},
			},
			Timeout: 2 * time.Second,
		},
	}
}

// Validate checks the configuration for unusable values.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr is required")
	}
	if c.Agent.URL == "" {
		return fmt.Errorf("config: agent.url is required")
	}
	if !c.Audio.Carrier.Valid() {
		return fmt.Errorf("config: audio.carrier format is not usable")
	}
	if !c.Audio.Agent.Valid() {
		return fmt.Errorf("config: audio.agent format is not usable")
	}
	if c.Audio.ChunkMS < 20 || c.Audio.ChunkMS > 500 {
		return fmt.Errorf("config: audio.chunk_ms must be between 20 and 500")
	}
	if c.Turns.SilenceMS <= 0 {
		return fmt.Errorf("config: turns.silence_ms must be positive")
	}
	if c.Turns.MaxUtteranceMS <= c.Turns.SilenceMS {
		return fmt.Errorf("config: turns.max_utterance_ms must exceed turns.silence_ms")
	}
	if c.Turns.BargeInSensitivity < 0 || c.Turns.BargeInSensitivity > 1 {
		return fmt.Errorf("config: turns.barge_in_sensitivity must be within [0,1]")
	}
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("config: dispatch.workers must be positive")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("config: store.path is required")
	}
	seen := make(map[string]struct{}, len(c.Functions))
	for i, def := range c.Functions {
		if def.Name == "" {
			return fmt.Errorf("config: functions[%d] has no name", i)
		}
		if _, dup := seen[def.Name]; dup {
			return fmt.Errorf("config: duplicate function %q", def.Name)
		}
		seen[def.Name] = struct{}{}
	}
	return nil
}
