// Package main provides the harvest CLI: LLM-driven structured extraction
// from live web pages. It navigates a browser session to a target page,
// captures the visible text with spatial annotations, and asks an LLM backend
// to return data matching a caller-provided JSON schema.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/entrhq/harvest/pkg/browser"
	"github.com/entrhq/harvest/pkg/browser/scripts"
	appconfig "github.com/entrhq/harvest/pkg/config"
	"github.com/entrhq/harvest/pkg/extract"
	"github.com/entrhq/harvest/pkg/llm"
	"github.com/entrhq/harvest/pkg/logging"
	"github.com/entrhq/harvest/pkg/types"
)

const (
	version     = "0.1.0" // Version of the harvest extraction tool
	sessionName = "harvest"
)

// Config holds the application configuration
type Config struct {
	URL         string
	Instruction string
	Schema      string
	SchemaFile  string
	JobsFile    string

	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	NoCache  bool

	Headed     bool
	ConfigPath string
	Output     string

	ShowVersion bool
}

func main() {
	// Parse command line flags
	config := parseFlags()

	// Show version if requested
	if config.ShowVersion {
		fmt.Printf("harvest v%s\n", version)
		return
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Create context with signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	// Run the application
	if runErr := run(ctx, config); runErr != nil {
		cancel()
		log.Fatalf("Application error: %v", runErr)
	}
}

// parseFlags parses command line flags and environment variables
func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.URL, "url", "", "Page URL to extract from")
	flag.StringVar(&config.Instruction, "instruction", "", "Natural-language extraction instruction")
	flag.StringVar(&config.Schema, "schema", "", "Inline JSON schema for the extracted data")
	flag.StringVar(&config.SchemaFile, "schema-file", "", "Path to a JSON schema file")
	flag.StringVar(&config.JobsFile, "jobs", "", "Path to a YAML batch job file (overrides -url/-instruction)")
	flag.StringVar(&config.Provider, "provider", "", "LLM backend: openai or anthropic (default from config)")
	flag.StringVar(&config.Model, "model", "", "Model to use (default per backend)")
	flag.StringVar(&config.BaseURL, "base-url", "", "API base URL override")
	flag.StringVar(&config.APIKey, "api-key", "", "API key (or set OPENAI_API_KEY / ANTHROPIC_API_KEY)")
	flag.BoolVar(&config.NoCache, "no-cache", false, "Disable the response cache")
	flag.BoolVar(&config.Headed, "headed", false, "Run the browser with a visible window")
	flag.StringVar(&config.ConfigPath, "config", "", "Path to the configuration file (default ~/.harvest/config.json)")
	flag.StringVar(&config.Output, "output", "", "Write extracted JSON to this file instead of stdout")
	flag.BoolVar(&config.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "harvest - LLM-driven structured web extraction\n\n")
		fmt.Fprintf(os.Stderr, "Usage: harvest [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY       OpenAI API key\n")
		fmt.Fprintf(os.Stderr, "  OPENAI_BASE_URL      OpenAI API base URL (for compatible APIs)\n")
		fmt.Fprintf(os.Stderr, "  ANTHROPIC_API_KEY    Anthropic API key\n")
		fmt.Fprintf(os.Stderr, "  ANTHROPIC_BASE_URL   Anthropic API base URL\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Single extraction\n")
		fmt.Fprintf(os.Stderr, "  harvest -url https://news.ycombinator.com -instruction \"extract the top story\" -schema-file story.json\n")
		fmt.Fprintf(os.Stderr, "\n  # Batch extraction\n")
		fmt.Fprintf(os.Stderr, "  harvest -jobs jobs.yaml -output results.json\n")
		fmt.Fprintf(os.Stderr, "\n  # Anthropic backend with a visible browser\n")
		fmt.Fprintf(os.Stderr, "  harvest -provider anthropic -headed -url https://example.com -instruction \"extract the heading\" -schema '{\"type\":\"object\"}'\n")
	}

	flag.Parse()
	return config
}

// validate checks that the configuration is valid
func (c *Config) validate() error {
	if c.JobsFile != "" {
		return nil
	}

	if c.URL == "" {
		return fmt.Errorf("a page URL is required: use -url or a -jobs file")
	}
	if c.Instruction == "" {
		return fmt.Errorf("an extraction instruction is required: use -instruction or a -jobs file")
	}
	if c.Schema == "" && c.SchemaFile == "" {
		return fmt.Errorf("a JSON schema is required: use -schema or -schema-file")
	}
	if c.Schema != "" && c.SchemaFile != "" {
		return fmt.Errorf("-schema and -schema-file are mutually exclusive")
	}
	return nil
}

// run executes the main application logic
func run(ctx context.Context, config *Config) error {
	// Initialize global configuration (LLM, allowlist, and browser sections)
	if err := appconfig.Initialize(config.ConfigPath); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	logger, err := logging.NewLogger("harvest")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	provider, err := appconfig.BuildProvider(appconfig.ProviderSettings{
		Provider: config.Provider,
		Model:    config.Model,
		BaseURL:  config.BaseURL,
		APIKey:   config.APIKey,
		NoCache:  config.NoCache,
	}, logger)
	if err != nil {
		return err
	}

	jobFile, err := loadJobs(config)
	if err != nil {
		return err
	}

	manager := browser.NewSessionManager()
	if err := manager.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize browser: %w", err)
	}
	defer func() {
		if shutdownErr := manager.Shutdown(); shutdownErr != nil {
			logger.Errorf("browser shutdown failed: %v", shutdownErr)
		}
	}()

	session, err := manager.StartSession(sessionName, sessionOptions(config))
	if err != nil {
		return fmt.Errorf("failed to start browser session: %w", err)
	}

	extractor := extract.NewExtractor(provider, extract.NewAnnotator(session, logger), logger)

	results := make(map[string]interface{}, len(jobFile.Jobs))
	settleTimeout := 0.0
	if browserConfig := appconfig.GetBrowser(); browserConfig != nil {
		settleTimeout = browserConfig.GetDOMSettleTimeoutMs()
	}

	for _, job := range jobFile.Jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !appconfig.IsURLAllowed(job.URL) {
			return fmt.Errorf("job %s: URL %q is not permitted by the allowlist", job.DisplayName(), job.URL)
		}

		schema, err := jobFile.ResolveSchema(job)
		if err != nil {
			return fmt.Errorf("job %s: %w", job.DisplayName(), err)
		}

		logger.Infof("navigating to %s", job.URL)
		if err := session.Navigate(job.URL, browser.NavigateOptions{}); err != nil {
			return fmt.Errorf("job %s: navigation failed: %w", job.DisplayName(), err)
		}

		data, err := extractor.Extract(ctx, extract.ExtractionRequest{
			Instruction:        job.Instruction,
			Schema:             &llm.ResponseSchema{Name: "extraction", Schema: schema},
			ModelName:          job.Model,
			DOMSettleTimeoutMs: settleTimeout,
		})
		if err != nil {
			return fmt.Errorf("job %s: %w", job.DisplayName(), err)
		}

		results[job.DisplayName()] = data
	}

	return writeResults(config, jobFile, results)
}

// loadJobs builds the job list from the batch file or the single-job flags.
func loadJobs(config *Config) (*appconfig.JobFile, error) {
	if config.JobsFile != "" {
		return appconfig.LoadJobs(config.JobsFile)
	}

	jobFile := &appconfig.JobFile{
		Jobs: []appconfig.Job{{
			URL:         config.URL,
			Instruction: config.Instruction,
			Schema:      config.Schema,
			SchemaFile:  config.SchemaFile,
			Model:       config.Model,
		}},
	}
	if err := jobFile.Validate(); err != nil {
		return nil, err
	}
	return jobFile, nil
}

// sessionOptions derives browser session options from flags and config.
func sessionOptions(config *Config) browser.SessionOptions {
	opts := browser.SessionOptions{
		Headless:   !config.Headed,
		InitScript: scripts.DOMScript(),
	}

	browserConfig := appconfig.GetBrowser()
	if browserConfig == nil {
		return opts
	}

	if !config.Headed {
		opts.Headless = browserConfig.GetHeadless()
	}
	if width, height := browserConfig.GetViewport(); width > 0 && height > 0 {
		opts.Viewport = &types.Viewport{Width: width, Height: height}
	}
	if timeout := browserConfig.GetTimeoutMs(); timeout > 0 {
		opts.Timeout = timeout
	}
	return opts
}

// writeResults emits the extracted data as indented JSON. Single-job runs
// emit the bare object; batch runs emit a map keyed by job name.
func writeResults(config *Config, jobFile *appconfig.JobFile, results map[string]interface{}) error {
	var payload interface{} = results
	if len(jobFile.Jobs) == 1 {
		payload = results[jobFile.Jobs[0].DisplayName()]
	}

	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	if config.Output != "" {
		if err := os.WriteFile(config.Output, append(encoded, '\n'), 0600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		return nil
	}

	fmt.Println(string(encoded))
	return nil
}
