package research

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configDirName = "research_cfg"

// ConfigDir returns the workspace-local configuration directory.
func ConfigDir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, configDirName)
}

// DefaultConfigPath returns research_cfg/config.yaml within the workspace.
func DefaultConfigPath(workspace string) string {
	return filepath.Join(ConfigDir(workspace), "config.yaml")
}

// Config carries every knob of the research pipeline. The filter and gate
// thresholds are deliberately configuration rather than constants: they are
// empirical tuning values with no derivation, so retuning them must not
// require a code change.
type Config struct {
	Version string      `yaml:"version"`
	Model   ModelConfig `yaml:"model"`

	// OutputDir is where documents and notes files are created.
	OutputDir string `yaml:"output_dir"`
	// StateDir holds workflow snapshots, message logs, and the sqlite stores.
	StateDir string `yaml:"state_dir"`

	Search    SearchConfig    `yaml:"search"`
	Scrape    ScrapeConfig    `yaml:"scrape"`
	ToolLoop  ToolLoopConfig  `yaml:"tool_loop"`
	Review    ReviewConfig    `yaml:"review"`
	Curiosity CuriosityConfig `yaml:"curiosity"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ModelConfig selects the chat model and generation defaults.
type ModelConfig struct {
	Name              string  `yaml:"name"`
	Endpoint          string  `yaml:"endpoint"`
	Temperature       float64 `yaml:"temperature"`
	SynthTemperature  float64 `yaml:"synth_temperature"`
	FactTemperature   float64 `yaml:"fact_temperature"`
	RepetitionPenalty float64 `yaml:"repetition_penalty"`
	MaxTokens         int     `yaml:"max_tokens"`
	Debug             bool    `yaml:"debug"`
}

// SearchConfig tunes result filtering and ranking.
type SearchConfig struct {
	// Provider selects the search backend: duckduckgo, brave, or tavily.
	Provider string `yaml:"provider"`
	// APIKey authenticates against providers that require one (brave, tavily).
	APIKey string `yaml:"api_key"`
	// MaxResults caps how many results a provider returns per query.
	MaxResults int `yaml:"max_results"`
	// TopicOverlapThreshold is the minimum fraction of topic words that must
	// appear in a result's title/snippet for it to survive filtering.
	TopicOverlapThreshold float64 `yaml:"topic_overlap_threshold"`
	// RerankCandidates caps how many filtered results go to the LLM reranker.
	RerankCandidates int `yaml:"rerank_candidates"`
	// CrossLinkCandidates caps how many results get the cross-link bonus scan.
	CrossLinkCandidates int `yaml:"crosslink_candidates"`
	// BlacklistedDomains are never scraped.
	BlacklistedDomains []string `yaml:"blacklisted_domains"`
	// IrrelevantPathMarkers reject URLs whose path contains any of these.
	IrrelevantPathMarkers []string `yaml:"irrelevant_path_markers"`
}

// ScrapeConfig tunes the parallel fetch and extraction pipeline.
type ScrapeConfig struct {
	Workers            int `yaml:"workers"`
	GatherCap          int `yaml:"gather_cap"`
	MinContentLength   int `yaml:"min_content_length"`
	HardBlockLimit     int `yaml:"hard_block_limit"`
	MinSentences       int `yaml:"min_sentences"`
	MinSentenceWords   int `yaml:"min_sentence_words"`
	ExtractBatchSize   int `yaml:"extract_batch_size"`
	ExtractCharLimit   int `yaml:"extract_char_limit"`
	CrossRefExcerpt    int `yaml:"crossref_excerpt"`
}

// ToolLoopConfig bounds the agentic tool-calling loop.
type ToolLoopConfig struct {
	MaxToolCalls int `yaml:"max_tool_calls"`
	MaxRetries   int `yaml:"max_retries"`
}

// ReviewConfig tunes the fact-check passes.
type ReviewConfig struct {
	MinDocumentLength int `yaml:"min_document_length"`
	MinCitations      int `yaml:"min_citations"`
	SliceMin          int `yaml:"slice_min"`
	SliceMax          int `yaml:"slice_max"`
	MaxFindings       int `yaml:"max_findings"`
}

// CuriosityConfig bounds the deep-dive phase.
type CuriosityConfig struct {
	MaxTopics       int `yaml:"max_topics"`
	TopTopics       int `yaml:"top_topics"`
	SourcesPerTopic int `yaml:"sources_per_topic"`
}

// LoggingConfig describes log output.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	EventFile string `yaml:"event_file"`
	LLMDebug  bool   `yaml:"llm_debug"`
}

// DefaultConfig returns the pipeline defaults used when no config file exists.
func DefaultConfig(workspace string) *Config {
	if workspace == "" {
		workspace = "."
	}
	return &Config{
		Version: "1.0.0",
		Model: ModelConfig{
			Name:              "llama3.1",
			Endpoint:          "http://localhost:11434",
			Temperature:       0.1,
			SynthTemperature:  0.3,
			FactTemperature:   0.05,
			RepetitionPenalty: 1.15,
			MaxTokens:         2048,
		},
		OutputDir: filepath.Join(workspace, "research_output"),
		StateDir:  filepath.Join(ConfigDir(workspace), "state"),
		Search: SearchConfig{
			Provider:              "duckduckgo",
			MaxResults:            10,
			TopicOverlapThreshold: 0.5,
			RerankCandidates:      12,
			CrossLinkCandidates:   6,
			BlacklistedDomains: []string{
				"pinterest.com", "facebook.com", "instagram.com", "tiktok.com",
				"quora.com", "answers.com", "fandom.com",
			},
			IrrelevantPathMarkers: []string{
				"/tag/", "/tags/", "/category/", "/login", "/signup",
				"/cart", "/privacy", "/terms", "/sitemap",
			},
		},
		Scrape: ScrapeConfig{
			Workers:          5,
			GatherCap:        20,
			MinContentLength: 200,
			HardBlockLimit:   3,
			MinSentences:     2,
			MinSentenceWords: 8,
			ExtractBatchSize: 3,
			ExtractCharLimit: 8000,
			CrossRefExcerpt:  3000,
		},
		ToolLoop: ToolLoopConfig{MaxToolCalls: 5, MaxRetries: 2},
		Review: ReviewConfig{
			MinDocumentLength: 1000,
			MinCitations:      3,
			SliceMin:          3000,
			SliceMax:          6000,
			MaxFindings:       10,
		},
		Curiosity: CuriosityConfig{
			MaxTopics:       10,
			TopTopics:       5,
			SourcesPerTopic: 2,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig loads the config file or returns defaults when it is missing.
func LoadConfig(path, workspace string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(workspace), nil
		}
		return nil, err
	}
	cfg := DefaultConfig(workspace)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config back to disk, creating the directory when needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
