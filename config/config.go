package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the scour service.
type Config struct {
	General     GeneralConfig     `mapstructure:"general"`
	Server      ServerConfig      `mapstructure:"server"`
	Providers   ProvidersConfig   `mapstructure:"providers"`
	Planner     PlannerConfig     `mapstructure:"planner"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	RAG         RAGConfig         `mapstructure:"rag"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Events      EventsConfig      `mapstructure:"events"`
	Workflow    WorkflowConfig    `mapstructure:"workflow"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// ProvidersConfig contains search provider credentials and limits.
type ProvidersConfig struct {
	Serper  ProviderConfig `mapstructure:"serper"`
	Brave   ProviderConfig `mapstructure:"brave"`
	NewsAPI ProviderConfig `mapstructure:"newsapi"`
}

// ProviderConfig is the per-adapter configuration.
type ProviderConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	Endpoint   string        `mapstructure:"endpoint"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// PlannerConfig contains the per-intent planning table.
type PlannerConfig struct {
	Intents map[string]IntentConfig `mapstructure:"intents"`
}

// IntentConfig is one row of the intent table: which providers to consult and
// with what quality bar.
type IntentConfig struct {
	Providers           []string      `mapstructure:"providers"`
	QualityThreshold    float64       `mapstructure:"quality_threshold"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ExpectedResultCount int           `mapstructure:"expected_result_count"`
}

// AggregationConfig contains scoring weights and heuristics. The constants are
// deliberately configuration, not code.
type AggregationConfig struct {
	RelevanceWeight   float64            `mapstructure:"relevance_weight"`
	CredibilityWeight float64            `mapstructure:"credibility_weight"`
	FreshnessWeight   float64            `mapstructure:"freshness_weight"`
	TrustedSuffixes   map[string]float64 `mapstructure:"trusted_suffixes"`
	BaseCredibility   float64            `mapstructure:"base_credibility"`
	FreshDays         int                `mapstructure:"fresh_days"`
	StaleDays         int                `mapstructure:"stale_days"`
	FreshnessFloor    float64            `mapstructure:"freshness_floor"`
	UnknownFreshness  float64            `mapstructure:"unknown_freshness"`
}

// EmbeddingConfig selects and configures the embedding backend.
type EmbeddingConfig struct {
	Backend    string        `mapstructure:"backend"` // openai or ollama
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// RAGConfig contains retrieval thresholds and caps.
type RAGConfig struct {
	ChunkSize           int     `mapstructure:"chunk_size"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	TopKPerQuery        int     `mapstructure:"top_k_per_query"`
	MaxPassages         int     `mapstructure:"max_passages"`
	MaxSubQuestions     int     `mapstructure:"max_sub_questions"`
}

// FetchConfig configures document content retrieval before chunking.
type FetchConfig struct {
	Backend    string        `mapstructure:"backend"` // http or chromedp
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxChars   int           `mapstructure:"max_chars"`
	MaxSources int           `mapstructure:"max_sources"`
	UserAgent  string        `mapstructure:"user_agent"`
}

// StorageConfig contains run/suspension store settings.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"` // postgres or badger
	Postgres PostgresConfig `mapstructure:"postgres"`
	Badger   BadgerConfig   `mapstructure:"badger"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL     string        `mapstructure:"url"`
	Host    string        `mapstructure:"host"`
	Port    string        `mapstructure:"port"`
	User    string        `mapstructure:"user"`
	Pass    string        `mapstructure:"password"`
	DBName  string        `mapstructure:"dbname"`
	SSLMode string        `mapstructure:"sslmode"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DSN assembles a connection string from the discrete fields unless a full URL
// was supplied.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Pass, p.Host, port, p.DBName, ssl)
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// BadgerConfig contains the embedded store settings.
type BadgerConfig struct {
	Dir string `mapstructure:"dir"`
}

// EventsConfig configures event sinks.
type EventsConfig struct {
	BufferSize int         `mapstructure:"buffer_size"`
	Redis      RedisConfig `mapstructure:"redis"`
	Stream     string      `mapstructure:"stream"`
	MaxLen     int64       `mapstructure:"max_len"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis sink should be wired at all.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

// WorkflowConfig contains state machine policy settings.
type WorkflowConfig struct {
	ReviewEnabled bool          `mapstructure:"review_enabled"`
	ReviewTopN    int           `mapstructure:"review_top_n"`
	Reaper        ReaperConfig  `mapstructure:"reaper"`
	StepTimeout   time.Duration `mapstructure:"step_timeout"`
}

// ReaperConfig governs expiry of abandoned suspensions. Disabled by default:
// suspensions are durable indefinitely unless an operator opts in.
type ReaperConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"` // cron expression
	TTL      time.Duration `mapstructure:"ttl"`
}

func (w WorkflowConfig) Validate() error {
	if w.Reaper.Enabled {
		if strings.TrimSpace(w.Reaper.Schedule) == "" {
			return fmt.Errorf("workflow.reaper.schedule required when reaper is enabled")
		}
		if w.Reaper.TTL <= 0 {
			return fmt.Errorf("workflow.reaper.ttl must be positive when reaper is enabled")
		}
	}
	return nil
}

// Normalize applies defaults for unset aggregation values.
func (a AggregationConfig) Normalize() AggregationConfig {
	if a.RelevanceWeight == 0 && a.CredibilityWeight == 0 && a.FreshnessWeight == 0 {
		a.RelevanceWeight, a.CredibilityWeight, a.FreshnessWeight = 0.5, 0.3, 0.2
	}
	if len(a.TrustedSuffixes) == 0 {
		a.TrustedSuffixes = map[string]float64{".edu": 0.95, ".gov": 0.95, ".org": 0.8}
	}
	if a.BaseCredibility == 0 {
		a.BaseCredibility = 0.5
	}
	if a.FreshDays == 0 {
		a.FreshDays = 7
	}
	if a.StaleDays == 0 {
		a.StaleDays = 90
	}
	if a.FreshnessFloor == 0 {
		a.FreshnessFloor = 0.2
	}
	if a.UnknownFreshness == 0 {
		a.UnknownFreshness = 0.5
	}
	return a
}

func (a AggregationConfig) Validate() error {
	sum := a.RelevanceWeight + a.CredibilityWeight + a.FreshnessWeight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("aggregation weights must sum to 1.0, got %.2f", sum)
	}
	if a.StaleDays <= a.FreshDays {
		return fmt.Errorf("aggregation.stale_days must exceed fresh_days")
	}
	return nil
}

// Normalize applies defaults for unset RAG values.
func (r RAGConfig) Normalize() RAGConfig {
	if r.ChunkSize == 0 {
		r.ChunkSize = 4000
	}
	if r.SimilarityThreshold == 0 {
		r.SimilarityThreshold = 0.65
	}
	if r.TopKPerQuery == 0 {
		r.TopKPerQuery = 8
	}
	if r.MaxPassages == 0 {
		r.MaxPassages = 10
	}
	if r.MaxSubQuestions == 0 {
		r.MaxSubQuestions = 3
	}
	return r
}

// Load reads configuration from the given path (or the default search paths)
// and environment variables prefixed with SCOUR_.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetDefault("general.default_timeout", 30*time.Second)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("providers.serper.max_results", 10)
	v.SetDefault("providers.brave.max_results", 10)
	v.SetDefault("providers.newsapi.max_results", 10)
	v.SetDefault("embedding.backend", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.timeout", 20*time.Second)
	v.SetDefault("fetch.backend", "http")
	v.SetDefault("fetch.timeout", 15*time.Second)
	v.SetDefault("fetch.max_chars", 40000)
	v.SetDefault("fetch.max_sources", 5)
	v.SetDefault("storage.backend", "badger")
	v.SetDefault("storage.badger.dir", "./data/runs")
	v.SetDefault("events.buffer_size", 256)
	v.SetDefault("events.stream", "scour:events")
	v.SetDefault("events.max_len", 10000)
	v.SetDefault("workflow.review_top_n", 5)
	v.SetDefault("workflow.step_timeout", 2*time.Minute)
	for intent, row := range defaultIntentTable {
		v.SetDefault("planner.intents."+intent+".providers", row.Providers)
		v.SetDefault("planner.intents."+intent+".quality_threshold", row.QualityThreshold)
		v.SetDefault("planner.intents."+intent+".timeout", row.Timeout)
		v.SetDefault("planner.intents."+intent+".expected_result_count", row.ExpectedResultCount)
	}

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("SCOUR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults and env cover a minimal setup.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.Aggregation = cfg.Aggregation.Normalize()
	cfg.RAG = cfg.RAG.Normalize()

	if err := cfg.Aggregation.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Workflow.Validate(); err != nil {
		return nil, err
	}
	if cfg.Storage.Backend == "postgres" {
		if err := cfg.Storage.Postgres.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// defaultIntentTable mirrors the planner's built-in expectations; every value
// can be overridden from the config file.
var defaultIntentTable = map[string]IntentConfig{
	"research":     {Providers: []string{"serper", "brave"}, QualityThreshold: 0.7, Timeout: 10 * time.Second, ExpectedResultCount: 10},
	"quick_lookup": {Providers: []string{"serper"}, QualityThreshold: 0.6, Timeout: 3 * time.Second, ExpectedResultCount: 5},
	"real_time":    {Providers: []string{"newsapi", "brave"}, QualityThreshold: 0.6, Timeout: 5 * time.Second, ExpectedResultCount: 10},
	"academic":     {Providers: []string{"serper", "brave"}, QualityThreshold: 0.9, Timeout: 15 * time.Second, ExpectedResultCount: 8},
	"code":         {Providers: []string{"serper"}, QualityThreshold: 0.7, Timeout: 8 * time.Second, ExpectedResultCount: 8},
}
