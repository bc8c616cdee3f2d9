// Package config holds the yaml configuration surface and the wiring
// that turns a parsed config into live collaborators.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Logger struct {
	Level string `yaml:"level"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

type Global struct {
	Logger Logger `yaml:"logger"`
	Server Server `yaml:"server"`
}

// Source identifies the remote account and credentials.
type Source struct {
	AccessToken string `yaml:"access_token"`
	AccountID   string `yaml:"account_id"`
	UserID      string `yaml:"user_id"`
	BaseURL     string `yaml:"base_url"`
}

// Extract tunes the sync window and request shaping.
type Extract struct {
	StartDate          string   `yaml:"start_date"`
	EndDate            string   `yaml:"end_date"`
	SpecifiedIDs       []string `yaml:"specified_ids"`
	OnlyActive         bool     `yaml:"only_active"`
	OnlyTimeRange      bool     `yaml:"only_time_range"`
	InsightsBufferDays int      `yaml:"insights_buffer_days"`
	InsightsChunkDays  int      `yaml:"insights_chunk_days"`
	ResultReturnLimit  int      `yaml:"result_return_limit"`
	BatchRequestSize   int      `yaml:"batch_request_size"`
	RetryMaxAttempts   int      `yaml:"retry_max_attempts"`
	RetryFactorSecs    int      `yaml:"retry_factor_seconds"`
}

type FilesystemState struct {
	Dir string `yaml:"dir"`
}

type PostgresState struct {
	ConnectionString string `yaml:"connection_string"`
}

type S3Target struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Prefix         string `yaml:"prefix"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

type MongoState struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// State selects the bookmark store backend.
type State struct {
	Type       string          `yaml:"type"`
	ID         string          `yaml:"id"`
	Filesystem FilesystemState `yaml:"filesystem"`
	Postgres   PostgresState   `yaml:"postgres"`
	S3         S3Target        `yaml:"s3"`
	Mongo      MongoState      `yaml:"mongo"`
}

type LocalArchive struct {
	Path   string `yaml:"path"`
	Prefix string `yaml:"prefix"`
}

// Archive configures the optional parquet archiver.
type Archive struct {
	Type      string       `yaml:"type"`
	BatchSize int          `yaml:"batch_size"`
	Local     LocalArchive `yaml:"local"`
	S3        S3Target     `yaml:"s3"`
}

// Emitter selects output destinations. Stdout defaults to on when
// nothing else is configured.
type Emitter struct {
	Stdout  *bool   `yaml:"stdout"`
	Kafka   string  `yaml:"kafka"`
	Archive Archive `yaml:"archive"`
}

type AdSync struct {
	Global  Global  `yaml:"global"`
	Source  Source  `yaml:"source"`
	Extract Extract `yaml:"extract"`
	State   State   `yaml:"state"`
	Emitter Emitter `yaml:"emitter"`
}

func NewAdSyncFromFile(fpath string) (*AdSync, error) {
	bs, err := os.ReadFile(fpath)
	if err != nil {
		return nil, err
	}

	var adsync AdSync
	if err := yaml.Unmarshal(bs, &adsync); err != nil {
		return nil, err
	}
	return &adsync, nil
}

func (c *AdSync) Validate() error {
	if c.Source.AccessToken == "" {
		return fmt.Errorf("source.access_token is required")
	}
	if c.Source.AccountID == "" {
		return fmt.Errorf("source.account_id is required")
	}
	if c.Extract.StartDate == "" {
		return fmt.Errorf("extract.start_date is required")
	}
	if _, err := time.Parse(time.RFC3339, c.Extract.StartDate); err != nil {
		return fmt.Errorf("extract.start_date: %w", err)
	}
	if c.Extract.EndDate != "" {
		if _, err := time.Parse(time.RFC3339, c.Extract.EndDate); err != nil {
			return fmt.Errorf("extract.end_date: %w", err)
		}
	}
	return nil
}

// StartTime returns the parsed sync window start. Validate guarantees
// the parse succeeds.
func (c *AdSync) StartTime() time.Time {
	t, _ := time.Parse(time.RFC3339, c.Extract.StartDate)
	return t
}

// EndTime returns the parsed window end and whether one was configured.
func (c *AdSync) EndTime() (time.Time, bool) {
	if c.Extract.EndDate == "" {
		return time.Time{}, false
	}
	t, _ := time.Parse(time.RFC3339, c.Extract.EndDate)
	return t, true
}

// StateID returns the identifier the bookmark document is stored under.
func (c *AdSync) StateID() string {
	if c.State.ID != "" {
		return c.State.ID
	}
	return c.Source.AccountID
}

// StdoutEnabled reports whether records go to stdout. On by default.
func (c *AdSync) StdoutEnabled() bool {
	if c.Emitter.Stdout == nil {
		return true
	}
	return *c.Emitter.Stdout
}
