package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"toolgrid/internal/domain"
)

// Loader parses the declarative catalog into server definitions.
type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger.Named("catalog")}
}

func newCatalogViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setRuntimeDefaults(v)
	return v
}

func setRuntimeDefaults(v *viper.Viper) {
	v.SetDefault("checkIntervalSeconds", domain.DefaultCheckIntervalSeconds)
	v.SetDefault("failureThreshold", domain.DefaultFailureThreshold)
	v.SetDefault("heartbeatIntervalSeconds", domain.DefaultHeartbeatIntervalSeconds)
	v.SetDefault("heartbeatTTLSeconds", domain.DefaultHeartbeatTTLSeconds)
	v.SetDefault("reconcileIntervalSeconds", domain.DefaultReconcileIntervalSeconds)
	v.SetDefault("executionGraceSeconds", domain.DefaultExecutionGraceSeconds)
	v.SetDefault("sweepIntervalSeconds", domain.DefaultSweepIntervalSeconds)
	v.SetDefault("cacheL1Capacity", domain.DefaultCacheL1Capacity)
	v.SetDefault("eventBufferSize", domain.DefaultEventBufferSize)
	v.SetDefault("rpc.dialTimeoutSeconds", domain.DefaultRPCDialTimeoutSeconds)
	v.SetDefault("metrics.listenAddress", domain.DefaultMetricsListenAddress)
}

type rawCatalog struct {
	Servers          []rawServerSpec `mapstructure:"servers"`
	rawRuntimeConfig `mapstructure:",squash"`
}

type rawServerSpec struct {
	ID          string          `mapstructure:"id"`
	Name        string          `mapstructure:"name"`
	Description string          `mapstructure:"description"`
	Version     string          `mapstructure:"version"`
	Tags        []string        `mapstructure:"tags"`
	Actions     []rawActionSpec `mapstructure:"actions"`
}

type rawActionSpec struct {
	Name        string                  `mapstructure:"name"`
	Description string                  `mapstructure:"description"`
	Params      map[string]rawParamSpec `mapstructure:"params"`
	Examples    []string                `mapstructure:"examples"`
}

type rawParamSpec struct {
	Type     string `mapstructure:"type"`
	Required bool   `mapstructure:"required"`
	Default  any    `mapstructure:"default"`
}

type rawRuntimeConfig struct {
	CheckIntervalSeconds     int      `mapstructure:"checkIntervalSeconds"`
	FailureThreshold         int      `mapstructure:"failureThreshold"`
	HeartbeatIntervalSeconds int      `mapstructure:"heartbeatIntervalSeconds"`
	HeartbeatTTLSeconds      int      `mapstructure:"heartbeatTTLSeconds"`
	ReconcileIntervalSeconds int      `mapstructure:"reconcileIntervalSeconds"`
	ExecutionGraceSeconds    int      `mapstructure:"executionGraceSeconds"`
	SweepIntervalSeconds     int      `mapstructure:"sweepIntervalSeconds"`
	CacheL1Capacity          int      `mapstructure:"cacheL1Capacity"`
	EventBufferSize          int      `mapstructure:"eventBufferSize"`
	EssentialTools           []string `mapstructure:"essentialTools"`
	RPC                      struct {
		Endpoint           string `mapstructure:"endpoint"`
		DialTimeoutSeconds int    `mapstructure:"dialTimeoutSeconds"`
	} `mapstructure:"rpc"`
	Metrics struct {
		ListenAddress string `mapstructure:"listenAddress"`
	} `mapstructure:"metrics"`
}

// Load reads and validates the catalog at path. Any unreadable or
// malformed input fails with an INVALID_CONFIG error; nothing is applied
// partially.
func (l *Loader) Load(ctx context.Context, path string) (domain.Catalog, error) {
	const op = "catalog.Load"

	if path == "" {
		return domain.Catalog{}, domain.E(domain.CodeInvalidConfig, op, "catalog path is required", nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Catalog{}, domain.E(domain.CodeInvalidConfig, op, "", fmt.Errorf("read catalog: %w", err))
	}

	expanded, missing, err := expandConfigEnv(data)
	if err != nil {
		return domain.Catalog{}, domain.E(domain.CodeInvalidConfig, op, "", err)
	}
	if len(missing) > 0 {
		l.logger.Warn("missing environment variables in catalog",
			zap.String("path", path), zap.Strings("missing", missing))
	}

	v := newCatalogViper()
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return domain.Catalog{}, domain.E(domain.CodeInvalidConfig, op, "", fmt.Errorf("parse catalog: %w", err))
	}

	var cfg rawCatalog
	if err := v.Unmarshal(&cfg); err != nil {
		return domain.Catalog{}, domain.E(domain.CodeInvalidConfig, op, "", fmt.Errorf("decode catalog: %w", err))
	}

	if err := ctx.Err(); err != nil {
		return domain.Catalog{}, err
	}

	runtime, validationErrors := normalizeRuntimeConfig(cfg.rawRuntimeConfig)

	servers := make(map[string]domain.ServerDefinition, len(cfg.Servers))
	idSeen := make(map[string]struct{})
	for i, raw := range cfg.Servers {
		if _, exists := idSeen[raw.ID]; exists {
			validationErrors = append(validationErrors, fmt.Sprintf("servers[%d]: duplicate id %q", i, raw.ID))
		} else if raw.ID != "" {
			idSeen[raw.ID] = struct{}{}
		}

		spec, errs := normalizeServerSpec(raw, i)
		if len(errs) > 0 {
			validationErrors = append(validationErrors, errs...)
			continue
		}
		servers[spec.ID] = spec
	}

	if len(validationErrors) > 0 {
		return domain.Catalog{}, domain.E(domain.CodeInvalidConfig, op, "", errors.New(strings.Join(validationErrors, "; ")))
	}

	return domain.Catalog{
		Servers: servers,
		Runtime: runtime,
	}, nil
}

func normalizeServerSpec(raw rawServerSpec, index int) (domain.ServerDefinition, []string) {
	var errs []string

	if strings.TrimSpace(raw.ID) == "" {
		errs = append(errs, fmt.Sprintf("servers[%d]: id is required", index))
	}
	if len(raw.Actions) == 0 {
		errs = append(errs, fmt.Sprintf("servers[%d]: at least one action is required", index))
	}

	tools := make([]domain.ToolDefinition, 0, len(raw.Actions))
	actionSeen := make(map[string]struct{})
	for j, action := range raw.Actions {
		name := strings.TrimSpace(action.Name)
		if name == "" {
			errs = append(errs, fmt.Sprintf("servers[%d].actions[%d]: name is required", index, j))
			continue
		}
		if _, exists := actionSeen[name]; exists {
			errs = append(errs, fmt.Sprintf("servers[%d].actions[%d]: duplicate action %q", index, j, name))
			continue
		}
		actionSeen[name] = struct{}{}

		params := make(map[string]domain.ParameterSpec, len(action.Params))
		for paramName, param := range action.Params {
			if !isKnownParamType(param.Type) {
				errs = append(errs, fmt.Sprintf("servers[%d].actions[%d]: param %q has unknown type %q", index, j, paramName, param.Type))
				continue
			}
			params[paramName] = domain.ParameterSpec{
				Type:     param.Type,
				Required: param.Required,
				Default:  param.Default,
			}
		}

		tool := domain.ToolDefinition{
			Name:        name,
			Description: strings.TrimSpace(action.Description),
			Parameters:  params,
			Examples:    action.Examples,
		}
		// Every definition leaves the loader with a description and at
		// least one example, so downstream consumers never see empties.
		if tool.Description == "" {
			tool.Description = synthesizeDescription(name, params)
		}
		if len(tool.Examples) == 0 {
			tool.Examples = []string{synthesizeExample(name, params)}
		}
		tools = append(tools, tool)
	}

	if len(errs) > 0 {
		return domain.ServerDefinition{}, errs
	}

	displayName := strings.TrimSpace(raw.Name)
	if displayName == "" {
		displayName = raw.ID
	}

	return domain.ServerDefinition{
		ID:          raw.ID,
		Name:        displayName,
		Description: strings.TrimSpace(raw.Description),
		Version:     strings.TrimSpace(raw.Version),
		Tags:        raw.Tags,
		Tools:       tools,
	}, nil
}

func isKnownParamType(paramType string) bool {
	switch paramType {
	case "string", "integer", "number", "boolean", "array", "object":
		return true
	default:
		return false
	}
}

func normalizeRuntimeConfig(raw rawRuntimeConfig) (domain.RuntimeConfig, []string) {
	var errs []string

	if raw.CheckIntervalSeconds <= 0 {
		errs = append(errs, "checkIntervalSeconds must be > 0")
	}
	if raw.FailureThreshold < 1 {
		errs = append(errs, "failureThreshold must be >= 1")
	}
	if raw.HeartbeatIntervalSeconds <= 0 {
		errs = append(errs, "heartbeatIntervalSeconds must be > 0")
	}
	if raw.HeartbeatTTLSeconds <= raw.HeartbeatIntervalSeconds {
		errs = append(errs, "heartbeatTTLSeconds must exceed heartbeatIntervalSeconds")
	}
	if raw.ReconcileIntervalSeconds <= 0 {
		errs = append(errs, "reconcileIntervalSeconds must be > 0")
	}
	if raw.ExecutionGraceSeconds < 0 {
		errs = append(errs, "executionGraceSeconds must be >= 0")
	}
	if raw.SweepIntervalSeconds <= 0 {
		errs = append(errs, "sweepIntervalSeconds must be > 0")
	}
	if raw.CacheL1Capacity < 1 {
		errs = append(errs, "cacheL1Capacity must be >= 1")
	}
	if raw.EventBufferSize < 1 {
		errs = append(errs, "eventBufferSize must be >= 1")
	}
	if raw.RPC.DialTimeoutSeconds <= 0 {
		errs = append(errs, "rpc.dialTimeoutSeconds must be > 0")
	}

	return domain.RuntimeConfig{
		CheckIntervalSeconds:     raw.CheckIntervalSeconds,
		FailureThreshold:         raw.FailureThreshold,
		HeartbeatIntervalSeconds: raw.HeartbeatIntervalSeconds,
		HeartbeatTTLSeconds:      raw.HeartbeatTTLSeconds,
		ReconcileIntervalSeconds: raw.ReconcileIntervalSeconds,
		ExecutionGraceSeconds:    raw.ExecutionGraceSeconds,
		SweepIntervalSeconds:     raw.SweepIntervalSeconds,
		CacheL1Capacity:          raw.CacheL1Capacity,
		EventBufferSize:          raw.EventBufferSize,
		EssentialTools:           raw.EssentialTools,
		RPC: domain.RPCConfig{
			Endpoint:           strings.TrimSpace(raw.RPC.Endpoint),
			DialTimeoutSeconds: raw.RPC.DialTimeoutSeconds,
		},
		Metrics: domain.MetricsConfig{
			ListenAddress: raw.Metrics.ListenAddress,
		},
	}, errs
}
