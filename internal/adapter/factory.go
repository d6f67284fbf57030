package adapter

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/unidb/internal/core"
)

// Factory is the strategy interface for creating adapters. Each backend
// registers one from its init function.
type Factory interface {
	// Create builds an unconnected adapter from the configuration.
	Create(config Config) (core.Adapter, error)

	// Type returns the type identifier for this factory (e.g., "redis", "dynamodb").
	Type() string

	// Validate checks the configuration section owned by this backend.
	Validate(config Config) error
}

// Config selects and configures a backend.
type Config struct {
	// Type is the registered adapter type.
	Type string `yaml:"type"`

	// Prefix is prepended to every table, key or collection name.
	Prefix string `yaml:"prefix"`

	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
	Redis    RedisConfig    `yaml:"redis"`
	MySQL    MySQLConfig    `yaml:"mysql"`

	// Logger receives adapter logs. Nil disables logging.
	Logger *zap.Logger `yaml:"-"`
}

// DynamoDBConfig configures the DynamoDB adapter.
type DynamoDBConfig struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"` // Optional, for LocalStack
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// RedisConfig configures the Redis adapter.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MySQLConfig configures the MySQL adapter.
type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

var (
	// factoryRegistry stores all registered adapter factories.
	factoryRegistry = make(map[string]Factory)

	// registryMutex protects the registry from concurrent access.
	registryMutex sync.RWMutex
)

// RegisterFactory registers an adapter factory.
// This is called automatically by each implementation's init() function.
func RegisterFactory(factory Factory) {
	if factory == nil {
		panic("factory cannot be nil")
	}
	if factory.Type() == "" {
		panic("factory type cannot be empty")
	}

	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, exists := factoryRegistry[factory.Type()]; exists {
		panic(fmt.Sprintf("factory for type %q is already registered", factory.Type()))
	}

	factoryRegistry[factory.Type()] = factory
}

// Validate checks config with the factory registered for config.Type.
func Validate(config Config) error {
	_, err := factoryFor(config)
	return err
}

// Create creates an adapter using the factory registered for config.Type.
func Create(config Config) (core.Adapter, error) {
	factory, err := factoryFor(config)
	if err != nil {
		return nil, err
	}
	return factory.Create(config)
}

func factoryFor(config Config) (Factory, error) {
	if config.Type == "" {
		return nil, fmt.Errorf("adapter type is required")
	}

	registryMutex.RLock()
	factory, exists := factoryRegistry[config.Type]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedAdapter, config.Type)
	}

	if err := factory.Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", config.Type, err)
	}
	return factory, nil
}

// GetRegisteredTypes returns the registered adapter types, sorted.
func GetRegisteredTypes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]string, 0, len(factoryRegistry))
	for t := range factoryRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsTypeRegistered checks if an adapter type is registered.
func IsTypeRegistered(adapterType string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	_, exists := factoryRegistry[adapterType]
	return exists
}
