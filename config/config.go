package config

import (
	"fmt"
	"time"
)

// Defaults for the tuning knobs.
const (
	DefaultDifficulty        = 2
	DefaultPetitionThreshold = 300
	DefaultCommitInterval    = 5 * time.Second
	DefaultCommitBatchSize   = 10
	DefaultListenPort        = 4000
)

// Config collects the ledger and replication tuning knobs a deployment
// sets once at startup.
type Config struct {
	Difficulty        int           `json:"difficulty"`
	PetitionThreshold int           `json:"petition_threshold"`
	CommitInterval    time.Duration `json:"commit_interval"`
	CommitBatchSize   int           `json:"commit_batch_size"`
	ListenPort        int           `json:"listen_port"`
	Peers             []string      `json:"peers,omitempty"`
	StorageDir        string        `json:"storage_dir,omitempty"`
}

// DefaultConfig returns a config with every knob at its default.
func DefaultConfig() Config {
	return Config{
		Difficulty:        DefaultDifficulty,
		PetitionThreshold: DefaultPetitionThreshold,
		CommitInterval:    DefaultCommitInterval,
		CommitBatchSize:   DefaultCommitBatchSize,
		ListenPort:        DefaultListenPort,
	}
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if c.Difficulty < 0 || c.Difficulty > 8 {
		return fmt.Errorf("difficulty %d outside [0,8]", c.Difficulty)
	}
	if c.PetitionThreshold < 1 {
		return fmt.Errorf("petition threshold %d must be positive", c.PetitionThreshold)
	}
	if c.CommitInterval <= 0 {
		return fmt.Errorf("commit interval %s must be positive", c.CommitInterval)
	}
	if c.CommitBatchSize < 1 {
		return fmt.Errorf("commit batch size %d must be positive", c.CommitBatchSize)
	}
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listen port %d outside [0,65535]", c.ListenPort)
	}
	return nil
}
