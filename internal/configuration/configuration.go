package configuration

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/clambin/smokeping/internal/tags"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

const (
	DefaultBasename      = "ping"
	DefaultPingTimeout   = 2 * time.Second
	DefaultCheckInterval = 10 * time.Second
)

type Configuration struct {
	Basename      string
	PingTimeout   time.Duration
	CheckInterval time.Duration
	Tags          map[string]string
	UseFailureLog bool
	Targets       Targets
}

// Budget is the time available for probe rounds in one invocation of the check: one probe timeout less than
// the check interval, so the last round still finishes before the next invocation is due.
func (c Configuration) Budget() time.Duration {
	return c.CheckInterval - c.PingTimeout
}

// Target is one monitored address. A blank Address or nil Tags means the field was missing from the configuration.
type Target struct {
	Address string
	Tags    map[string]string
}

var _ slog.LogValuer = Targets{}

type Targets []Target

func (t Targets) LogValue() slog.Value {
	return slog.StringValue(strings.Join(t.Addresses(), ","))
}

func (t Targets) Addresses() []string {
	addresses := make([]string, len(t))
	for i, target := range t {
		addresses[i] = target.Address
	}
	return addresses
}

// Load reads the check configuration. Targets specified in the HOSTS environment variable or as arguments
// replace the configured instances.
func Load(v *viper.Viper, args []string) (Configuration, error) {
	cfg := Configuration{
		Basename:      DefaultBasename,
		PingTimeout:   DefaultPingTimeout,
		CheckInterval: DefaultCheckInterval,
		UseFailureLog: v.GetBool("init_config.use_failure_log"),
	}
	if basename := v.GetString("init_config.basename"); basename != "" {
		cfg.Basename = basename
	}
	if v.IsSet("init_config.ping_timeout") {
		cfg.PingTimeout = seconds(v.GetFloat64("init_config.ping_timeout"))
	}
	if v.IsSet("init_config.check_interval") {
		cfg.CheckInterval = seconds(v.GetFloat64("init_config.check_interval"))
	}

	globalTags, err := parseTags(v.Get("init_config.tags"))
	if err != nil {
		err = fmt.Errorf("init_config: %w", err)
	}
	if globalTags == nil {
		globalTags = make(map[string]string)
	}
	cfg.Tags = globalTags

	var targetErr error
	cfg.Targets, targetErr = getTargets(v, args)
	return cfg, multierr.Append(err, targetErr)
}

func getTargets(v *viper.Viper, args []string) (Targets, error) {
	if hosts := os.Getenv("HOSTS"); hosts != "" {
		return getTargetsFromEnv(hosts), nil
	}
	if len(args) > 0 {
		return getTargetsFromArgs(args), nil
	}
	return getTargetsFromViper(v)
}

func getTargetsFromEnv(hosts string) Targets {
	sep := " "
	if strings.Contains(hosts, ",") {
		sep = ","
	}
	var targetList Targets
	for _, host := range strings.Split(hosts, sep) {
		if host = strings.TrimSpace(host); host != "" {
			targetList = append(targetList, Target{Address: host, Tags: map[string]string{}})
		}
	}
	return targetList
}

func getTargetsFromArgs(args []string) Targets {
	targetList := make(Targets, 0, len(args))
	for _, arg := range args {
		targetList = append(targetList, Target{Address: arg, Tags: map[string]string{}})
	}
	return targetList
}

func getTargetsFromViper(v *viper.Viper) (Targets, error) {
	instances, ok := v.Get("instances").([]any)
	if !ok {
		if v.Get("instances") != nil {
			return nil, fmt.Errorf("instances: expected a list, got %T", v.Get("instances"))
		}
		return nil, nil
	}
	var targetList Targets
	var errs error
	for i, instance := range instances {
		target, err := parseInstance(instance)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("instance %d: %w", i, err))
			continue
		}
		targetList = append(targetList, target)
	}
	return targetList, errs
}

func parseInstance(instance any) (Target, error) {
	entry, ok := instance.(map[string]any)
	if !ok {
		return Target{}, fmt.Errorf("expected a mapping, got %T", instance)
	}
	var target Target
	if addr, ok := entry["addr"]; ok && addr != nil {
		if target.Address, ok = addr.(string); !ok {
			return Target{}, fmt.Errorf("addr: expected a string, got %T", addr)
		}
	}
	var err error
	if target.Tags, err = parseTags(entry["tags"]); err != nil {
		return Target{}, err
	}
	return target, nil
}

// parseTags accepts tags as a mapping or as a list of "key:value" strings. nil means no tags were configured
// and returns a nil map.
func parseTags(value any) (map[string]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		result := make(map[string]string, len(v))
		for key, val := range v {
			result[key] = fmt.Sprint(val)
		}
		return result, nil
	case map[string]string:
		result := make(map[string]string, len(v))
		for key, val := range v {
			result[key] = val
		}
		return result, nil
	case []any:
		entries := make([]string, len(v))
		for i, entry := range v {
			entries[i] = fmt.Sprint(entry)
		}
		return tags.Parse(entries), nil
	case []string:
		return tags.Parse(v), nil
	default:
		return nil, fmt.Errorf("tags: expected a mapping or a list, got %T", value)
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
