package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	IsolationReadCommitted  = "read_committed"
	IsolationRepeatableRead = "repeatable_read"
	IsolationSerializable   = "serializable"
)

// LedgerConfig holds the runtime knobs of the retainer coordinator.
type LedgerConfig struct {
	MaxAmount         int64         `mapstructure:"maxAmount"`
	CommitTimeout     time.Duration `mapstructure:"commitTimeout"`
	Isolation         string        `mapstructure:"isolation"`
	SynchronousCommit bool          `mapstructure:"synchronousCommit"`
	DefaultCurrency   string        `mapstructure:"defaultCurrency"`
	ReplenishStream   string        `mapstructure:"replenishStream"`
}

func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		MaxAmount:         999_999_999_999,
		CommitTimeout:     5 * time.Second,
		Isolation:         IsolationReadCommitted,
		SynchronousCommit: true,
		DefaultCurrency:   "USD",
		ReplenishStream:   "trustledger:replenishment",
	}
}

type LedgerConfigHolder struct {
	current atomic.Value // holds LedgerConfig
}

// NewStaticLedgerConfigHolder serves cfg without watching any file.
func NewStaticLedgerConfigHolder(cfg LedgerConfig) *LedgerConfigHolder {
	holder := &LedgerConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewLedgerConfigHolder(log *zap.Logger) (*LedgerConfigHolder, error) {
	log = log.Named("config.ledger")
	v := viper.New()

	v.SetConfigName("ledger")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/trustledger/config")
	v.AddConfigPath("/etc/trustledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TRUSTLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultLedgerConfig()
	v.SetDefault("ledger.maxAmount", defaults.MaxAmount)
	v.SetDefault("ledger.commitTimeout", defaults.CommitTimeout)
	v.SetDefault("ledger.isolation", defaults.Isolation)
	v.SetDefault("ledger.synchronousCommit", defaults.SynchronousCommit)
	v.SetDefault("ledger.defaultCurrency", defaults.DefaultCurrency)
	v.SetDefault("ledger.replenishStream", defaults.ReplenishStream)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := decodeLedgerConfig(v)
	if err != nil {
		return nil, err
	}

	holder := &LedgerConfigHolder{}
	holder.current.Store(cfg)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeLedgerConfig(v)
			if err != nil {
				log.Warn("ledger config reload ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("ledger config reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *LedgerConfigHolder) Get() LedgerConfig {
	return h.current.Load().(LedgerConfig)
}

func decodeLedgerConfig(v *viper.Viper) (LedgerConfig, error) {
	var cfg LedgerConfig
	if err := v.UnmarshalKey("ledger", &cfg); err != nil {
		return LedgerConfig{}, err
	}
	cfg.Isolation = strings.ToLower(strings.TrimSpace(cfg.Isolation))
	cfg.DefaultCurrency = strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	if err := ValidateLedgerConfig(cfg); err != nil {
		return LedgerConfig{}, err
	}
	return cfg, nil
}

func ValidateLedgerConfig(cfg LedgerConfig) error {
	if cfg.MaxAmount <= 0 {
		return errors.New("ledger.maxAmount must be positive")
	}
	if cfg.CommitTimeout <= 0 {
		return errors.New("ledger.commitTimeout must be positive")
	}
	switch cfg.Isolation {
	case IsolationReadCommitted, IsolationRepeatableRead, IsolationSerializable:
	default:
		return fmt.Errorf("ledger.isolation %q is not supported", cfg.Isolation)
	}
	if len(cfg.DefaultCurrency) != 3 {
		return errors.New("ledger.defaultCurrency must be a 3-letter code")
	}
	return nil
}
