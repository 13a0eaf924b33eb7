package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Job describes one extraction to run against a page.
type Job struct {
	// Name identifies the job in logs and output. Defaults to the
	// instruction when empty.
	Name string `yaml:"name"`

	// URL is the page to navigate to before extracting.
	URL string `yaml:"url"`

	// Instruction is the natural-language extraction instruction.
	Instruction string `yaml:"instruction"`

	// Schema is the inline JSON schema for the extracted data. Mutually
	// exclusive with SchemaFile.
	Schema string `yaml:"schema"`

	// SchemaFile points to a JSON schema on disk.
	SchemaFile string `yaml:"schema_file"`

	// Model overrides the provider's default model for this job.
	Model string `yaml:"model"`
}

// JobFile is the top-level shape of a batch job YAML file.
type JobFile struct {
	Jobs []Job `yaml:"jobs"`

	// FilePath records where the jobs were loaded from.
	FilePath string `yaml:"-"`
}

// LoadJobs loads and validates a batch job file.
func LoadJobs(path string) (*JobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	var jobFile JobFile
	if err := yaml.Unmarshal(data, &jobFile); err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}
	jobFile.FilePath = path

	if err := jobFile.Validate(); err != nil {
		return nil, err
	}
	return &jobFile, nil
}

// Validate checks every job for the required fields and a parseable schema.
func (f *JobFile) Validate() error {
	if len(f.Jobs) == 0 {
		return fmt.Errorf("job file contains no jobs")
	}

	for i, job := range f.Jobs {
		if strings.TrimSpace(job.URL) == "" {
			return fmt.Errorf("job %d (%s): url is required", i, job.DisplayName())
		}
		if strings.TrimSpace(job.Instruction) == "" {
			return fmt.Errorf("job %d (%s): instruction is required", i, job.DisplayName())
		}
		if job.Schema != "" && job.SchemaFile != "" {
			return fmt.Errorf("job %d (%s): schema and schema_file are mutually exclusive", i, job.DisplayName())
		}
		if job.Schema != "" && !json.Valid([]byte(job.Schema)) {
			return fmt.Errorf("job %d (%s): inline schema is not valid JSON", i, job.DisplayName())
		}
	}
	return nil
}

// ResolveSchema returns the job's JSON schema, reading the schema file when
// one is configured. Relative schema paths resolve against the job file's
// directory.
func (f *JobFile) ResolveSchema(job Job) (json.RawMessage, error) {
	if job.Schema != "" {
		return json.RawMessage(job.Schema), nil
	}
	if job.SchemaFile == "" {
		return nil, fmt.Errorf("job %s has no schema", job.DisplayName())
	}

	path := job.SchemaFile
	if !filepath.IsAbs(path) && f.FilePath != "" {
		path = filepath.Join(filepath.Dir(f.FilePath), path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("schema file %s is not valid JSON", path)
	}
	return json.RawMessage(data), nil
}

// DisplayName returns the job's log-facing name.
func (j Job) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	if j.Instruction != "" {
		return j.Instruction
	}
	return "unnamed"
}
