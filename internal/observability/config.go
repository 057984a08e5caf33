package observability

import (
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/smallbiznis/courseaccess/internal/config"
)

// Config holds logging and OTel export settings for the webhook service.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// rawEnv keeps every value as a string so a malformed variable falls back to
// its default instead of failing startup.
type rawEnv struct {
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string `env:"LOG_FORMAT" envDefault:"json"`
	Enabled        string `env:"OTEL_ENABLED"`
	Endpoint       string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Protocol       string `env:"OTEL_EXPORTER_OTLP_PROTOCOL" envDefault:"grpc"`
	TracesProtocol string `env:"OTEL_EXPORTER_OTLP_TRACES_PROTOCOL"`
	SamplingRatio  string `env:"OTEL_SAMPLING_RATIO"`
}

func LoadConfig(cfg config.Config) Config {
	var raw rawEnv
	_ = env.Parse(&raw)

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "courseaccess"
	}
	protocol := strings.TrimSpace(raw.Protocol)
	if traces := strings.TrimSpace(raw.TracesProtocol); traces != "" {
		protocol = traces
	}
	endpoint := strings.TrimSpace(raw.Endpoint)
	if endpoint == "" {
		endpoint = cfg.OTLPEndpoint
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             strings.ToLower(strings.TrimSpace(raw.LogLevel)),
		LogFormat:            strings.ToLower(strings.TrimSpace(raw.LogFormat)),
		OtelEnabled:          parseBool(raw.Enabled, false),
		OtelExporterEndpoint: endpoint,
		OtelExporterProtocol: strings.ToLower(protocol),
		OtelSamplingRatio:    parseRatio(raw.SamplingRatio, 1),
	}
}

// Debug enables stack traces and gin debug mode outside production-like environments.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func parseBool(value string, def bool) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return def
	}
	return parsed
}

func parseRatio(value string, def float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || parsed < 0 || parsed > 1 {
		return def
	}
	return parsed
}
