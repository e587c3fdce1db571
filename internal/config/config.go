package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

// ModelConfig controls first-run provisioning of the acoustic model archive.
type ModelConfig struct {
	Dir        string `yaml:"dir"`
	SourceURL  string `yaml:"source_url"`
	MarkerFile string `yaml:"marker_file"`
}

// ASRConfig configures the recognition engine constructed at startup.
type ASRConfig struct {
	Backend        string `yaml:"backend"` // whisper, exec, mock
	ModelPath      string `yaml:"model_path"`
	TokensPath     string `yaml:"tokens_path"`
	Command        string `yaml:"command"`
	Language       string `yaml:"language"`
	NumThreads     int    `yaml:"num_threads"`
	SampleRate     int    `yaml:"sample_rate"`
	FeatureDim     int    `yaml:"feature_dim"`
	DecodingMethod string `yaml:"decoding_method"`
	MaxActivePaths int    `yaml:"max_active_paths"`
	Debug          bool   `yaml:"debug"`
}

type TranscriptsConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRecords    int    `yaml:"max_records"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type Config struct {
	ServiceName string            `yaml:"service_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Model       ModelConfig       `yaml:"model"`
	ASR         ASRConfig         `yaml:"asr"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
	Bus         BusConfig         `yaml:"bus"`
}

func Default() Config {
	return Config{
		ServiceName: "verbad",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 5000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Model: ModelConfig{
			Dir:        "./model",
			SourceURL:  "",
			MarkerFile: "model_ready",
		},
		ASR: ASRConfig{
			Backend:        "whisper",
			ModelPath:      "./model/model.bin",
			NumThreads:     1,
			SampleRate:     16000,
			FeatureDim:     80,
			DecodingMethod: "greedy_search",
			MaxActivePaths: 4,
		},
		Transcripts: TranscriptsConfig{
			Path:          "./data/verba-transcripts.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxRecords:    10000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "VERBA_SERVICE_NAME")
	overrideString(&cfg.Environment, "VERBA_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VERBA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VERBA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VERBA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VERBA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VERBA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VERBA_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Model.Dir, "VERBA_MODEL_DIR")
	overrideString(&cfg.Model.SourceURL, "VERBA_MODEL_SOURCE_URL")
	overrideString(&cfg.Model.MarkerFile, "VERBA_MODEL_MARKER_FILE")
	overrideString(&cfg.ASR.Backend, "VERBA_ASR_BACKEND")
	overrideString(&cfg.ASR.ModelPath, "VERBA_ASR_MODEL_PATH")
	overrideString(&cfg.ASR.TokensPath, "VERBA_ASR_TOKENS_PATH")
	overrideString(&cfg.ASR.Command, "VERBA_ASR_COMMAND")
	overrideString(&cfg.ASR.Language, "VERBA_ASR_LANGUAGE")
	overrideInt(&cfg.ASR.NumThreads, "VERBA_ASR_NUM_THREADS")
	overrideInt(&cfg.ASR.SampleRate, "VERBA_ASR_SAMPLE_RATE")
	overrideInt(&cfg.ASR.FeatureDim, "VERBA_ASR_FEATURE_DIM")
	overrideString(&cfg.ASR.DecodingMethod, "VERBA_ASR_DECODING_METHOD")
	overrideInt(&cfg.ASR.MaxActivePaths, "VERBA_ASR_MAX_ACTIVE_PATHS")
	overrideBool(&cfg.ASR.Debug, "VERBA_ASR_DEBUG")
	overrideString(&cfg.Transcripts.Path, "VERBA_TRANSCRIPTS_PATH")
	overrideString(&cfg.Transcripts.RetentionMode, "VERBA_TRANSCRIPTS_RETENTION_MODE")
	overrideInt(&cfg.Transcripts.RetentionDays, "VERBA_TRANSCRIPTS_RETENTION_DAYS")
	overrideInt(&cfg.Transcripts.MaxRecords, "VERBA_TRANSCRIPTS_MAX_RECORDS")
	overrideBool(&cfg.Transcripts.VacuumOnStart, "VERBA_TRANSCRIPTS_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "VERBA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VERBA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VERBA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "VERBA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "VERBA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VERBA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VERBA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VERBA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VERBA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VERBA_BUS_CONNECT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Model.Dir == "" {
		return errors.New("model.dir must not be empty")
	}
	if cfg.Model.MarkerFile == "" {
		return errors.New("model.marker_file must not be empty")
	}
	switch cfg.ASR.Backend {
	case "whisper", "exec", "mock":
	default:
		return errors.New("asr.backend must be one of whisper|exec|mock")
	}
	if cfg.ASR.Backend == "whisper" && cfg.ASR.ModelPath == "" {
		return errors.New("asr.model_path must be set when backend=whisper")
	}
	if cfg.ASR.Backend == "exec" && cfg.ASR.Command == "" {
		return errors.New("asr.command must be set when backend=exec")
	}
	if cfg.ASR.NumThreads <= 0 {
		return errors.New("asr.num_threads must be positive")
	}
	if cfg.ASR.SampleRate <= 0 {
		return errors.New("asr.sample_rate must be positive")
	}
	if cfg.ASR.FeatureDim <= 0 {
		return errors.New("asr.feature_dim must be positive")
	}
	switch cfg.ASR.DecodingMethod {
	case "greedy_search", "modified_beam_search":
	default:
		return errors.New("asr.decoding_method must be one of greedy_search|modified_beam_search")
	}
	if cfg.ASR.DecodingMethod == "modified_beam_search" && cfg.ASR.MaxActivePaths <= 0 {
		return errors.New("asr.max_active_paths must be positive for beam search")
	}
	switch cfg.Transcripts.RetentionMode {
	case "ephemeral", "persistent":
	default:
		return errors.New("transcripts.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.Transcripts.RetentionMode == "persistent" && cfg.Transcripts.Path == "" {
		return errors.New("transcripts.path must not be empty")
	}
	if cfg.Transcripts.RetentionDays < 0 {
		return errors.New("transcripts.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	return nil
}
