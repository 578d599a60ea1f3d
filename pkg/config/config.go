package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Instrument names one tracked instrument/timeframe pair.
type Instrument struct {
	ID        string `yaml:"id" validate:"required"`
	Timeframe string `yaml:"timeframe" default:"1h" validate:"oneof=5m 15m 1h 4h 1d"`
}

// TIWeights blends the Trend Integrity sub-terms.
type TIWeights struct {
	Support         float64 `yaml:"support" default:"0.55"`
	Alignment       float64 `yaml:"alignment" default:"0.35"`
	Coherence       float64 `yaml:"coherence" default:"0.10"`
	StructuralBoost float64 `yaml:"structural_boost" default:"0.15" validate:"gte=0,lte=0.5"`
}

// TSWeights blends the Trend Strength sub-terms.
type TSWeights struct {
	Oscillator  float64 `yaml:"oscillator" default:"0.5"`
	Directional float64 `yaml:"directional" default:"0.5"`
}

// OXWeights blends the Overextension sub-terms.
type OXWeights struct {
	Rails      float64 `yaml:"rails" default:"0.80"`
	Bands      float64 `yaml:"bands" default:"0.15"`
	Surge      float64 `yaml:"surge" default:"0.05"`
	DecayBoost float64 `yaml:"decay_boost" default:"0.33" validate:"gte=0,lte=1"`
}

// DXWeights blends the Deep-Zone Buy sub-terms.
type DXWeights struct {
	Location      float64 `yaml:"location" default:"0.45"`
	Exhaustion    float64 `yaml:"exhaustion" default:"0.25"`
	Relief        float64 `yaml:"relief" default:"0.25"`
	Curl          float64 `yaml:"curl" default:"0.05"`
	DecaySuppress float64 `yaml:"decay_suppress" default:"0.5" validate:"gte=0,lte=1"`
}

// EDXWeights blends the Expansion Decay sub-terms.
type EDXWeights struct {
	Curvature     float64 `yaml:"curvature" default:"0.30"`
	Structure     float64 `yaml:"structure" default:"0.25"`
	Participation float64 `yaml:"participation" default:"0.20"`
	Asymmetry     float64 `yaml:"asymmetry" default:"0.15"`
	Rollover      float64 `yaml:"rollover" default:"0.10"`
}

// ScoreWeights groups the five quality-score weight tables.
type ScoreWeights struct {
	TI  TIWeights  `yaml:"ti"`
	TS  TSWeights  `yaml:"ts"`
	OX  OXWeights  `yaml:"ox"`
	DX  DXWeights  `yaml:"dx"`
	EDX EDXWeights `yaml:"edx"`
}

// EngineConfig holds every tunable of the classifier core. It is immutable
// during evaluation; the tracker swaps it atomically between bars.
type EngineConfig struct {
	// Periods are the six EMA periods, strictly increasing.
	Periods []int `yaml:"periods" default:"[5,10,20,50,100,200]" validate:"len=6"`

	// Acceleration window formula constants: win = max(min, round(period/div)).
	MicroDiv int `yaml:"micro_div" default:"15" validate:"gt=0"`
	MesoDiv  int `yaml:"meso_div" default:"5" validate:"gt=0"`
	BaseDiv  int `yaml:"base_div" default:"2" validate:"gt=0"`
	MicroMin int `yaml:"micro_min" default:"5" validate:"gt=0"`
	MesoMin  int `yaml:"meso_min" default:"10" validate:"gt=0"`
	BaseMin  int `yaml:"base_min" default:"20" validate:"gt=0"`

	NoiseBandMult float64 `yaml:"noise_band_mult" default:"0.2" validate:"gt=0"`
	HaloMult      float64 `yaml:"halo_mult" default:"0.5" validate:"gt=0"`

	// ConfirmBars is the persistence requirement for entry/cancel/reset
	// confirmation. Emergency exit is always single-bar.
	ConfirmBars  int `yaml:"confirm_bars" default:"3" validate:"gte=1"`
	SmoothPeriod int `yaml:"smooth_period" default:"20" validate:"gte=1"`

	GateTI float64 `yaml:"gate_ti" default:"0.45" validate:"gte=0,lte=1"`
	GateTS float64 `yaml:"gate_ts" default:"0.58" validate:"gte=0,lte=1"`

	// Safety valves, both off by default.
	CooldownBars int  `yaml:"cooldown_bars" default:"0" validate:"gte=0"`
	RelaxS1Entry bool `yaml:"relax_s1_entry" default:"false"`

	Weights ScoreWeights `yaml:"weights"`
}

type Config struct {
	Environment string `yaml:"environment" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Kafka struct {
		Brokers       []string `yaml:"brokers" validate:"min=1"`
		BarsTopic     string   `yaml:"bars_topic" default:"regimepull.bars"`
		SnapshotTopic string   `yaml:"snapshot_topic" default:"regimepull.snapshots"`
		RequiredAcks  int      `yaml:"required_acks" default:"1"`
		Compression   string   `yaml:"compression" default:"snappy"`
		Producer      struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"regimepull"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"1024"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"regimepull"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr" default:"localhost:6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		TTL      time.Duration `yaml:"ttl" default:"2m"`
	} `yaml:"redis"`
	Feed struct {
		Enabled        bool          `yaml:"enabled"`
		URL            string        `yaml:"url"`
		APIKey         string        `yaml:"api_key"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	} `yaml:"feed"`
	Instruments []Instrument `yaml:"instruments" validate:"min=1,dive"`
	Engine      EngineConfig `yaml:"engine"`
	Log         struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
}

var validate = validator.New()

// Load reads a YAML configuration file, applies defaults, and fails fast on
// any invalid value. No bar is ever processed with a broken configuration.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("FEED_API_KEY"); v != "" {
		c.Feed.APIKey = v
	}

	// env overrides bypass Load's check, re-validate
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks structural tags plus the cross-field engine invariants.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	return c.Engine.Validate()
}

// Validate enforces the engine invariants that struct tags cannot express:
// strictly increasing periods and weight tables that sum to one.
func (e *EngineConfig) Validate() error {
	for i := 1; i < len(e.Periods); i++ {
		if e.Periods[i] <= e.Periods[i-1] {
			return fmt.Errorf("engine.periods must be strictly increasing, got %v", e.Periods)
		}
	}
	if e.Periods[0] <= 0 {
		return fmt.Errorf("engine.periods must be positive, got %v", e.Periods)
	}

	sums := map[string]float64{
		"ti":  e.Weights.TI.Support + e.Weights.TI.Alignment + e.Weights.TI.Coherence,
		"ts":  e.Weights.TS.Oscillator + e.Weights.TS.Directional,
		"ox":  e.Weights.OX.Rails + e.Weights.OX.Bands + e.Weights.OX.Surge,
		"dx":  e.Weights.DX.Location + e.Weights.DX.Exhaustion + e.Weights.DX.Relief + e.Weights.DX.Curl,
		"edx": e.Weights.EDX.Curvature + e.Weights.EDX.Structure + e.Weights.EDX.Participation + e.Weights.EDX.Asymmetry + e.Weights.EDX.Rollover,
	}
	for name, sum := range sums {
		if math.Abs(sum-1.0) > 1e-3 {
			return fmt.Errorf("engine.weights.%s must sum to 1.0, got %.4f", name, sum)
		}
	}
	return nil
}
