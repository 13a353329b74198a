package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration struct
type Config struct {
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Genesis  GenesisConfig  `mapstructure:"genesis"`
	Accounts AccountsConfig `mapstructure:"accounts"`
	Storage  StorageConfig  `mapstructure:"storage"`
	REST     RESTConfig     `mapstructure:"rest"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// LedgerConfig holds the parameters used when a ledger is first created
type LedgerConfig struct {
	Owner    string `mapstructure:"owner"`
	ID       string `mapstructure:"id"`
	Fee      string `mapstructure:"fee"` // display units, see Decimals
	Decimals int32  `mapstructure:"decimals"`
}

// GenesisConfig describes an optional remittance funded on first start
type GenesisConfig struct {
	Depositor       string `mapstructure:"depositor"`
	Releaser        string `mapstructure:"releaser"`
	Secret          string `mapstructure:"secret"`
	Amount          string `mapstructure:"amount"`
	DurationSeconds uint64 `mapstructure:"durationSeconds"`
}

// Enabled reports whether a genesis remittance is configured.
func (g GenesisConfig) Enabled() bool {
	return g.Depositor != "" && g.Releaser != "" && g.Amount != ""
}

// AccountsConfig holds opening balances of the payout rail, keyed by hex
// address, in display units
type AccountsConfig struct {
	Initial map[string]string `mapstructure:"initial"`
}

// StorageConfig holds storage-related settings
type StorageConfig struct {
	Backend      string `mapstructure:"backend"`
	Path         string `mapstructure:"path"`
	OpenAttempts uint   `mapstructure:"openAttempts"`
}

// RESTConfig holds the HTTP transport settings
type RESTConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

// ScheduleConfig holds scheduler interval settings
type ScheduleConfig struct {
	ExpiryReport time.Duration `mapstructure:"expiryReport"`
}

// Load reads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("ledger.owner", "")
	v.SetDefault("ledger.id", "")
	v.SetDefault("ledger.fee", "0")
	v.SetDefault("ledger.decimals", 0)
	v.SetDefault("genesis.depositor", "")
	v.SetDefault("genesis.releaser", "")
	v.SetDefault("genesis.secret", "")
	v.SetDefault("genesis.amount", "")
	v.SetDefault("genesis.durationSeconds", 3600)
	v.SetDefault("storage.backend", "pebble")
	v.SetDefault("storage.path", "./data/remit")
	v.SetDefault("storage.openAttempts", 3)
	v.SetDefault("rest.addr", "0.0.0.0:8080")
	v.SetDefault("rest.shutdownTimeout", 5*time.Second)
	v.SetDefault("schedule.expiryReport", 60*time.Second)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("remit")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
