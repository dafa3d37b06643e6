package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
	TraceExporterOTLP   = "otlp"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`

	// TraceExporter is none, stdout or otlp. Empty picks otlp when an
	// endpoint is set.
	TraceExporter    string  `yaml:"trace_exporter"`
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Store       StoreConfig      `yaml:"store"`
	STT         STTConfig        `yaml:"stt"`
	Classifier  ClassifierConfig `yaml:"classifier"`
	Voting      VotingConfig     `yaml:"voting"`
	Broadcast   BroadcastConfig  `yaml:"broadcast"`
	Gateway     GatewayConfig    `yaml:"gateway"`
	Intake      IntakeConfig     `yaml:"intake"`
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

type StoreConfig struct {
	Path               string `yaml:"path"`
	BusyTimeoutMS      int    `yaml:"busy_timeout_ms"`
	AuditRetentionDays int    `yaml:"audit_retention_days"`
	VacuumOnStart      bool   `yaml:"vacuum_on_start"`
}

type STTConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	ModelPath  string `yaml:"model_path"`
	Language   string `yaml:"language"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type ClassifierConfig struct {
	Mode       string  `yaml:"mode"` // mock, ollama, exec, disabled
	Endpoint   string  `yaml:"endpoint"`
	Model      string  `yaml:"model"`
	Command    string  `yaml:"command"`
	TimeoutMS  int     `yaml:"timeout_ms"`
	MockIntent string  `yaml:"mock_intent"`
	MockScore  float64 `yaml:"mock_confidence"`
}

type VotingConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	RequireActiveMotion bool    `yaml:"require_active_motion"`
	MaxWriteRetries     int     `yaml:"max_write_retries"`
	KeepEvidence        bool    `yaml:"keep_evidence"`
}

type BroadcastConfig struct {
	SubscriberBuffer int    `yaml:"subscriber_buffer"`
	SendTimeoutMS    int    `yaml:"send_timeout_ms"`
	MirrorToBus      bool   `yaml:"mirror_to_bus"`
	SubjectPrefix    string `yaml:"subject_prefix"`
}

type GatewayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type IntakeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Subject string `yaml:"subject"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-vote",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:         "info",
			OTLPEndpoint:     "",
			OTLPInsecure:     true,
			PrometheusBind:   ":9091",
			TraceSampleRatio: 1,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path:               "./data/loqa-vote.db",
			BusyTimeoutMS:      5000,
			AuditRetentionDays: 90,
		},
		STT: STTConfig{
			Mode:       "mock",
			Language:   "en-US",
			SampleRate: 16000,
			Channels:   1,
			TimeoutMS:  30000,
		},
		Classifier: ClassifierConfig{
			Mode:      "disabled",
			Endpoint:  "http://localhost:11434",
			Model:     "llama3.2:latest",
			TimeoutMS: 3000,
		},
		Voting: VotingConfig{
			ConfidenceThreshold: 0.7,
			RequireActiveMotion: true,
			MaxWriteRetries:     5,
			KeepEvidence:        true,
		},
		Broadcast: BroadcastConfig{
			SubscriberBuffer: 64,
			SendTimeoutMS:    2000,
			MirrorToBus:      true,
			SubjectPrefix:    "vote",
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Path:    "/ws",
		},
		Intake: IntakeConfig{
			Enabled: true,
			Subject: "vote.cast",
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
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Telemetry.TraceExporter, "LOQA_TELEMETRY_TRACE_EXPORTER")
	overrideFloat(&cfg.Telemetry.TraceSampleRatio, "LOQA_TELEMETRY_TRACE_SAMPLE_RATIO")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "LOQA_STORE_PATH")
	overrideInt(&cfg.Store.BusyTimeoutMS, "LOQA_STORE_BUSY_TIMEOUT_MS")
	overrideInt(&cfg.Store.AuditRetentionDays, "LOQA_STORE_AUDIT_RETENTION_DAYS")
	overrideBool(&cfg.Store.VacuumOnStart, "LOQA_STORE_VACUUM_ON_START")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideInt(&cfg.STT.SampleRate, "LOQA_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "LOQA_STT_CHANNELS")
	overrideInt(&cfg.STT.TimeoutMS, "LOQA_STT_TIMEOUT_MS")
	overrideString(&cfg.Classifier.Mode, "LOQA_CLASSIFIER_MODE")
	overrideString(&cfg.Classifier.Endpoint, "LOQA_CLASSIFIER_ENDPOINT")
	overrideString(&cfg.Classifier.Model, "LOQA_CLASSIFIER_MODEL")
	overrideString(&cfg.Classifier.Command, "LOQA_CLASSIFIER_COMMAND")
	overrideInt(&cfg.Classifier.TimeoutMS, "LOQA_CLASSIFIER_TIMEOUT_MS")
	overrideString(&cfg.Classifier.MockIntent, "LOQA_CLASSIFIER_MOCK_INTENT")
	overrideFloat(&cfg.Classifier.MockScore, "LOQA_CLASSIFIER_MOCK_CONFIDENCE")
	overrideFloat(&cfg.Voting.ConfidenceThreshold, "LOQA_VOTING_CONFIDENCE_THRESHOLD")
	overrideBool(&cfg.Voting.RequireActiveMotion, "LOQA_VOTING_REQUIRE_ACTIVE_MOTION")
	overrideInt(&cfg.Voting.MaxWriteRetries, "LOQA_VOTING_MAX_WRITE_RETRIES")
	overrideBool(&cfg.Voting.KeepEvidence, "LOQA_VOTING_KEEP_EVIDENCE")
	overrideInt(&cfg.Broadcast.SubscriberBuffer, "LOQA_BROADCAST_SUBSCRIBER_BUFFER")
	overrideInt(&cfg.Broadcast.SendTimeoutMS, "LOQA_BROADCAST_SEND_TIMEOUT_MS")
	overrideBool(&cfg.Broadcast.MirrorToBus, "LOQA_BROADCAST_MIRROR_TO_BUS")
	overrideString(&cfg.Broadcast.SubjectPrefix, "LOQA_BROADCAST_SUBJECT_PREFIX")
	overrideBool(&cfg.Gateway.Enabled, "LOQA_GATEWAY_ENABLED")
	overrideString(&cfg.Gateway.Path, "LOQA_GATEWAY_PATH")
	overrideBool(&cfg.Intake.Enabled, "LOQA_INTAKE_ENABLED")
	overrideString(&cfg.Intake.Subject, "LOQA_INTAKE_SUBJECT")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Telemetry.TraceExporter {
	case "", TraceExporterNone, TraceExporterStdout:
	case TraceExporterOTLP:
		if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
			return errors.New("telemetry.otlp_endpoint is required for the otlp trace exporter")
		}
	default:
		return fmt.Errorf("telemetry.trace_exporter %q is not supported", cfg.Telemetry.TraceExporter)
	}
	if cfg.Telemetry.TraceSampleRatio < 0 || cfg.Telemetry.TraceSampleRatio > 1 {
		return errors.New("telemetry.trace_sample_ratio must be between 0 and 1")
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
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Store.AuditRetentionDays < 0 {
		return errors.New("store.audit_retention_days must be >= 0")
	}
	switch cfg.STT.Mode {
	case "mock", "exec":
	default:
		return errors.New("stt.mode must be one of mock|exec")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.STT.SampleRate <= 0 {
		return errors.New("stt.sample_rate must be positive")
	}
	if cfg.STT.Channels <= 0 {
		return errors.New("stt.channels must be positive")
	}
	switch cfg.Classifier.Mode {
	case "mock", "ollama", "exec", "disabled":
	default:
		return errors.New("classifier.mode must be one of mock|ollama|exec|disabled")
	}
	if cfg.Classifier.Mode == "ollama" && cfg.Classifier.Endpoint == "" {
		return errors.New("classifier.endpoint must be set when mode=ollama")
	}
	if cfg.Classifier.Mode == "exec" && cfg.Classifier.Command == "" {
		return errors.New("classifier.command must be set when mode=exec")
	}
	if cfg.Classifier.TimeoutMS <= 0 {
		return errors.New("classifier.timeout_ms must be positive")
	}
	if cfg.Voting.ConfidenceThreshold < 0 || cfg.Voting.ConfidenceThreshold > 1 {
		return errors.New("voting.confidence_threshold must be within [0, 1]")
	}
	if cfg.Voting.MaxWriteRetries < 0 {
		return errors.New("voting.max_write_retries must be >= 0")
	}
	if cfg.Broadcast.SubscriberBuffer <= 0 {
		return errors.New("broadcast.subscriber_buffer must be >= 1")
	}
	if cfg.Broadcast.MirrorToBus && cfg.Bus.Enabled && cfg.Broadcast.SubjectPrefix == "" {
		return errors.New("broadcast.subject_prefix must not be empty when mirroring to the bus")
	}
	if cfg.Gateway.Enabled && !strings.HasPrefix(cfg.Gateway.Path, "/") {
		return errors.New("gateway.path must start with /")
	}
	if cfg.Intake.Enabled && cfg.Bus.Enabled && cfg.Intake.Subject == "" {
		return errors.New("intake.subject must not be empty when intake is enabled")
	}
	return nil
}
