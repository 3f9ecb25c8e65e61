package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// MembershipConfig holds the hot-reloadable lifecycle tunables.
type MembershipConfig struct {
	// CacheTTLSeconds bounds how long a read-through membership lookup may be served
	// from cache. Mutating operations invalidate explicitly regardless of TTL.
	CacheTTLSeconds int `mapstructure:"cacheTTLSeconds"`

	// PendingMaxAgeHours is how long an abandoned PENDING membership survives
	// before the sweep expires it.
	PendingMaxAgeHours int `mapstructure:"pendingMaxAgeHours"`

	// SweepIntervalSeconds is the housekeeping sweep cadence.
	SweepIntervalSeconds int `mapstructure:"sweepIntervalSeconds"`
}

func DefaultMembershipConfig() MembershipConfig {
	return MembershipConfig{
		CacheTTLSeconds:      45,
		PendingMaxAgeHours:   72,
		SweepIntervalSeconds: 300,
	}
}

func (c MembershipConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c MembershipConfig) PendingMaxAge() time.Duration {
	return time.Duration(c.PendingMaxAgeHours) * time.Hour
}

func (c MembershipConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

type MembershipConfigHolder struct {
	current atomic.Value // holds MembershipConfig
}

func NewMembershipConfigHolder() (*MembershipConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("membership")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/homecare/config") // Volume-mounted config
	v.AddConfigPath("/etc/homecare")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("HOMECARE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultMembershipConfig()
		v.SetDefault("membership.cacheTTLSeconds", defaults.CacheTTLSeconds)
		v.SetDefault("membership.pendingMaxAgeHours", defaults.PendingMaxAgeHours)
		v.SetDefault("membership.sweepIntervalSeconds", defaults.SweepIntervalSeconds)
	}

	var cfg MembershipConfig
	if err := v.UnmarshalKey("membership", &cfg); err != nil {
		return nil, err
	}
	if err := validateMembershipConfig(cfg); err != nil {
		return nil, err
	}

	holder := &MembershipConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated MembershipConfig
		if err := v.UnmarshalKey("membership", &updated); err != nil {
			log.Printf("[membership-config] reload failed: %v", err)
			return
		}
		if err := validateMembershipConfig(updated); err != nil {
			log.Printf("[membership-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[membership-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticMembershipConfigHolder returns a holder fixed at cfg, with no file
// watching. Used by tests and embedded setups.
func NewStaticMembershipConfigHolder(cfg MembershipConfig) *MembershipConfigHolder {
	holder := &MembershipConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *MembershipConfigHolder) Get() MembershipConfig {
	return h.current.Load().(MembershipConfig)
}

func validateMembershipConfig(cfg MembershipConfig) error {
	if cfg.CacheTTLSeconds <= 0 {
		return errors.New("membership.cacheTTLSeconds must be positive")
	}
	if cfg.PendingMaxAgeHours <= 0 {
		return errors.New("membership.pendingMaxAgeHours must be positive")
	}
	if cfg.SweepIntervalSeconds <= 0 {
		return errors.New("membership.sweepIntervalSeconds must be positive")
	}
	return nil
}
