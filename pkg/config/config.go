package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout"`
		TimeFormat string `yaml:"time_format"`
		Collect    bool   `yaml:"collect"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORSOrigins     []string      `yaml:"cors_origins" default:"[\"*\"]"`
		RateLimit       struct {
			RPS   float64 `yaml:"rps" default:"0.2"`
			Burst int     `yaml:"burst" default:"3"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Storage struct {
		Backend string `yaml:"backend" default:"clickhouse" validate:"oneof=clickhouse memory"`
	} `yaml:"storage"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1" validate:"gte=-1,lte=1"`
		Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=none gzip snappy lz4 zstd"`
		Topics       struct {
			ModelTrained string `yaml:"model_trained" default:"gridcast.model.trained"`
			DriftReport  string `yaml:"drift_report" default:"gridcast.drift.report"`
			Tuning       string `yaml:"tuning" default:"gridcast.tuning.completed"`
			Logs         string `yaml:"logs" default:"gridcast.logs"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"100ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"50"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"gridcast-scheduler"`
			Workers    int           `yaml:"workers" default:"1" validate:"gte=1"`
			RetryMax   int           `yaml:"retry_max" default:"3" validate:"gte=0"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"10s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"gridcast.drift.report.dlq"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"gridcast"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		Compress         bool          `yaml:"compress"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled      bool          `yaml:"enabled"`
		Addr         string        `yaml:"addr" default:"localhost:6379"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size" default:"10"`
		MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
		PoolTimeout  time.Duration `yaml:"pool_timeout" default:"30s"`
	} `yaml:"redis"`
	Source struct {
		BaseURL          string        `yaml:"base_url"`
		APIKey           string        `yaml:"api_key"`
		Timeout          time.Duration `yaml:"timeout" default:"30s"`
		AuxSeries        []string      `yaml:"aux_series"`
		RPS              float64       `yaml:"rps" default:"5"`
		FailureThreshold uint32        `yaml:"failure_threshold" default:"5"`
		OpenTimeout      time.Duration `yaml:"open_timeout" default:"1m"`
	} `yaml:"source"`
	Queue struct {
		Workers    int           `yaml:"workers" default:"2" validate:"gte=1"`
		RetryLimit int           `yaml:"retry_limit" default:"2"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"1m"`
		MaxDelay   time.Duration `yaml:"max_retry_delay" default:"15m"`
		JobTimeout time.Duration `yaml:"job_timeout" default:"30m"`
		KeyPrefix  string        `yaml:"key_prefix" default:"gridcast:queue"`
	} `yaml:"queue"`
	Features struct {
		SequenceWindow int       `yaml:"sequence_window" default:"24" validate:"gte=1,lte=168"`
		Epsilon        float64   `yaml:"epsilon" default:"1" validate:"gt=0"`
		AuxLookbackDay int       `yaml:"aux_lookback_days" default:"7" validate:"gte=1"`
		PriceBins      []float64 `yaml:"price_bins" default:"[0,25,50,75,100,150,250]"`
		DemandBins     []float64 `yaml:"demand_bins" default:"[20000,30000,40000,50000,60000]"`
		HourBins       []float64 `yaml:"hour_bins" default:"[6,12,18,22]"`
		RenewableBins  []float64 `yaml:"renewable_bins" default:"[0.1,0.25,0.4,0.6]"`
	} `yaml:"features"`
	Pipeline struct {
		MinTrainingRows int           `yaml:"min_training_rows" default:"100" validate:"gte=1"`
		LookbackDays    int           `yaml:"lookback_days" default:"365" validate:"gte=1"`
		TrainSplit      float64       `yaml:"train_split" default:"0.70" validate:"gt=0,lt=1"`
		ValSplit        float64       `yaml:"val_split" default:"0.15" validate:"gt=0,lt=1"`
		Seed            uint64        `yaml:"seed" default:"42"`
		TrainerTimeout  time.Duration `yaml:"trainer_timeout" default:"10m"`
	} `yaml:"pipeline"`
	Ensemble struct {
		MaxIterations int     `yaml:"max_iterations" default:"500" validate:"gte=1"`
		Tolerance     float64 `yaml:"tolerance" default:"0.000001" validate:"gt=0"`
		InitialStep   float64 `yaml:"initial_step" default:"0.1" validate:"gt=0,lte=1"`
	} `yaml:"ensemble"`
	Tuning struct {
		Trials  int                             `yaml:"trials" default:"20" validate:"gte=1"`
		Folds   int                             `yaml:"folds" default:"5" validate:"gte=2"`
		Workers int                             `yaml:"workers" default:"4" validate:"gte=1"`
		Spaces  map[string]map[string][]float64 `yaml:"spaces"`
	} `yaml:"tuning"`
	Drift struct {
		PerformanceWeight float64       `yaml:"performance_weight" default:"0.5" validate:"gte=0"`
		FeatureWeight     float64       `yaml:"feature_weight" default:"0.5" validate:"gte=0"`
		LowThreshold      float64       `yaml:"low_threshold" default:"0.15" validate:"gt=0"`
		RetrainThreshold  float64       `yaml:"retrain_threshold" default:"0.30" validate:"gt=0"`
		RecentWindow      time.Duration `yaml:"recent_window" default:"168h"`
		AutoRetrain       bool          `yaml:"auto_retrain"`
		RetrainCooldown   time.Duration `yaml:"retrain_cooldown" default:"6h"`
		Features          []string      `yaml:"features" default:"[\"price\",\"demand\",\"temperature\",\"wind_speed\",\"renewable_ratio\"]"`
	} `yaml:"drift"`
	Forecast struct {
		MaxHorizon int           `yaml:"max_horizon" default:"168" validate:"gte=1"`
		ZScore     float64       `yaml:"z_score" default:"1.96" validate:"gt=0"`
		CacheTTL   time.Duration `yaml:"cache_ttl" default:"5m"`
	} `yaml:"forecast"`
}

var validate = validator.New()

// Default returns a configuration populated only from struct defaults.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, fills defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// An empty path starts from defaults.
func LoadWithEnv(path string) (*Config, error) {
	var (
		c   *Config
		err error
	)
	if path == "" {
		c, err = Default()
	} else {
		c, err = Load(path)
	}
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("GRIDCAST_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("GRIDCAST_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("SOURCE_API_KEY"); v != "" {
		c.Source.APIKey = v
	}
	if v := os.Getenv("GRIDCAST_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("GRIDCAST_SEED: %w", err)
		}
		c.Pipeline.Seed = seed
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Pipeline.TrainSplit+c.Pipeline.ValSplit >= 1 {
		return fmt.Errorf("pipeline.train_split + pipeline.val_split must be below 1, got %.2f",
			c.Pipeline.TrainSplit+c.Pipeline.ValSplit)
	}
	if c.Drift.PerformanceWeight+c.Drift.FeatureWeight == 0 {
		return fmt.Errorf("drift weights cannot both be zero")
	}
	if c.Drift.LowThreshold >= c.Drift.RetrainThreshold {
		return fmt.Errorf("drift.low_threshold (%.2f) must be below drift.retrain_threshold (%.2f)",
			c.Drift.LowThreshold, c.Drift.RetrainThreshold)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Storage.Backend == "clickhouse" && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required for the clickhouse backend")
	}
	for _, bins := range [][]float64{c.Features.PriceBins, c.Features.DemandBins, c.Features.HourBins, c.Features.RenewableBins} {
		for i := 1; i < len(bins); i++ {
			if bins[i] <= bins[i-1] {
				return fmt.Errorf("bin thresholds must be strictly ascending: %v", bins)
			}
		}
	}
	return nil
}
