package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// TrialInvoiceAmount controls what an invoice issued for a trialing
// subscription charges.
type TrialInvoiceAmount string

const (
	TrialInvoiceZero TrialInvoiceAmount = "zero"
	TrialInvoiceFull TrialInvoiceAmount = "full"
)

// BillingConfig holds hot-reloadable billing policy.
type BillingConfig struct {
	TrialInvoiceAmount      TrialInvoiceAmount `mapstructure:"trial_invoice_amount"`
	InvoiceDueDays          int                `mapstructure:"invoice_due_days"`
	InvoiceNumberMaxRetries int                `mapstructure:"invoice_number_max_retries"`
	DefaultCurrency         string             `mapstructure:"default_currency"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		TrialInvoiceAmount:      TrialInvoiceZero,
		InvoiceDueDays:          7,
		InvoiceNumberMaxRetries: 5,
		DefaultCurrency:         "usd",
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfig returns a holder that never reloads.
func NewStaticBillingConfig(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/meterly")
	v.AddConfigPath("$HOME/.meterly")
	v.AddConfigPath(".")

	v.SetEnvPrefix("METERLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.trial_invoice_amount", string(defaults.TrialInvoiceAmount))
	v.SetDefault("billing.invoice_due_days", defaults.InvoiceDueDays)
	v.SetDefault("billing.invoice_number_max_retries", defaults.InvoiceNumberMaxRetries)
	v.SetDefault("billing.default_currency", defaults.DefaultCurrency)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	cfg, err := decodeBillingConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfig(cfg)
	if !fileLoaded {
		return holder, nil
	}

	log = log.Named("billing.config")
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeBillingConfig(v)
		if err != nil {
			log.Warn("billing config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("billing config reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	if h == nil {
		return DefaultBillingConfig()
	}
	cfg, ok := h.current.Load().(BillingConfig)
	if !ok {
		return DefaultBillingConfig()
	}
	return cfg
}

func decodeBillingConfig(v *viper.Viper) (BillingConfig, error) {
	// Unmarshal walks every leaf key, so file values merge with defaults.
	var wrapper struct {
		Billing BillingConfig `mapstructure:"billing"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return BillingConfig{}, err
	}
	cfg := wrapper.Billing
	cfg.TrialInvoiceAmount = TrialInvoiceAmount(strings.ToLower(strings.TrimSpace(string(cfg.TrialInvoiceAmount))))
	cfg.DefaultCurrency = strings.ToLower(strings.TrimSpace(cfg.DefaultCurrency))
	if err := validateBillingConfig(cfg); err != nil {
		return BillingConfig{}, err
	}
	return cfg, nil
}

func validateBillingConfig(cfg BillingConfig) error {
	switch cfg.TrialInvoiceAmount {
	case TrialInvoiceZero, TrialInvoiceFull:
	default:
		return fmt.Errorf("billing.trial_invoice_amount must be %q or %q", TrialInvoiceZero, TrialInvoiceFull)
	}
	if cfg.InvoiceDueDays < 0 {
		return errors.New("billing.invoice_due_days cannot be negative")
	}
	if cfg.InvoiceNumberMaxRetries < 1 {
		return errors.New("billing.invoice_number_max_retries must be at least 1")
	}
	if cfg.DefaultCurrency == "" {
		return errors.New("billing.default_currency cannot be empty")
	}
	return nil
}
