package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "localhost", cfg.Database.Host)
			assert.Equal(t, "jobs_db", cfg.Database.Database)
			assert.Equal(t, "jobs_exchange", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, "jobs_queue", cfg.RabbitMQ.Queue.Name)
			assert.True(t, cfg.RabbitMQ.Publish.Confirm)
			assert.Equal(t, 5*time.Second, cfg.RabbitMQ.Publish.ConfirmTimeout)
			assert.Equal(t, 10, cfg.RabbitMQ.Consumer.PrefetchCount)
			assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
			assert.Equal(t, DelayStrategyRedis, cfg.Delay.Strategy)
			assert.Equal(t, 500*time.Millisecond, cfg.Delay.PollInterval)
			assert.Equal(t, uint(5), cfg.Worker.MaxTries)
			assert.Equal(t, 2*time.Second, cfg.Worker.BackoffBase)
			assert.True(t, cfg.Worker.PublishBeforeAck)
			assert.Equal(t, "job-api-service", cfg.App.Name)
		})
	}
}

func TestLoad_DefaultsDelayStrategy(t *testing.T) {
	cfg, err := Load("testdata/invalid_port.yaml")
	require.NoError(t, err)

	assert.Equal(t, DelayStrategyTTL, cfg.Delay.Strategy)
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "jobs_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "jobs_exchange"},
			Queue:    QueueConfig{Name: "jobs_queue"},
		},
		Delay: DelayConfig{Strategy: DelayStrategyTTL},
		Worker: WorkerConfig{
			Concurrency:     4,
			JobTimeout:      30 * time.Second,
			MaxTries:        3,
			BackoffBase:     time.Second,
			BackoffMax:      time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "invalid database port",
			mutate:    func(c *Config) { c.Database.Port = 0 },
			errString: "invalid database port",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name:      "invalid rabbitmq port",
			mutate:    func(c *Config) { c.RabbitMQ.Port = 70000 },
			errString: "invalid rabbitmq port",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "unknown delay strategy",
			mutate:    func(c *Config) { c.Delay.Strategy = "plugin" },
			errString: "unknown delay strategy",
		},
		{
			name:      "redis strategy without host",
			mutate:    func(c *Config) { c.Delay.Strategy = DelayStrategyRedis },
			errString: "redis host is required",
		},
		{
			name: "redis strategy with invalid port",
			mutate: func(c *Config) {
				c.Delay.Strategy = DelayStrategyRedis
				c.Redis.Host = "localhost"
			},
			errString: "invalid redis port",
		},
		{
			name: "redis strategy",
			mutate: func(c *Config) {
				c.Delay.Strategy = DelayStrategyRedis
				c.Redis = RedisConfig{Host: "localhost", Port: 6379}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		port      int
		errString string
	}{
		{name: "valid port", port: 8080},
		{name: "port too low", port: 0, errString: "invalid server port"},
		{name: "port too high", port: 70000, errString: "invalid server port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.Port = tt.port

			err := cfg.ValidateAPIConfig()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}

	t.Run("runs shared checks", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Database = ""

		err := cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(w *WorkerConfig)
		errString string
	}{
		{
			name:   "valid worker config",
			mutate: func(w *WorkerConfig) {},
		},
		{
			name:      "zero concurrency",
			mutate:    func(w *WorkerConfig) { w.Concurrency = 0 },
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "zero job timeout",
			mutate:    func(w *WorkerConfig) { w.JobTimeout = 0 },
			errString: "worker job_timeout must be greater than 0",
		},
		{
			name:      "zero max tries",
			mutate:    func(w *WorkerConfig) { w.MaxTries = 0 },
			errString: "worker max_tries must be greater than 0",
		},
		{
			name:      "negative backoff base",
			mutate:    func(w *WorkerConfig) { w.BackoffBase = -time.Second },
			errString: "worker backoff_base must not be negative",
		},
		{
			name:      "backoff max below base",
			mutate:    func(w *WorkerConfig) { w.BackoffMax = time.Millisecond },
			errString: "worker backoff_max must not be less than backoff_base",
		},
		{
			name:      "zero shutdown timeout",
			mutate:    func(w *WorkerConfig) { w.ShutdownTimeout = 0 },
			errString: "worker shutdown_timeout must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg.Worker)

			err := cfg.ValidateWorkerConfig()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}
