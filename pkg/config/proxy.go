package config

type Proxy struct {
	Version      string       `yaml:"version"`
	AdminServer  AdminServer  `yaml:"admin_server"`
	Log          Log          `yaml:"log"`
	ConfigCenter ConfigCenter `yaml:"config_center"`
	Pool         Pool         `yaml:"pool"`
	Executor     Executor     `yaml:"executor"`
	Providers    Providers    `yaml:"providers"`
}

type AdminServer struct {
	Addr            string `yaml:"addr"`
	MaxConnections  int    `yaml:"max_connections"`
	EnableBasicAuth bool   `yaml:"enable_basic_auth"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
}

type Log struct {
	Level   string  `yaml:"level"`
	Format  string  `yaml:"format"`
	LogFile LogFile `yaml:"log_file"`
}

type LogFile struct {
	Filename   string `yaml:"filename"`
	MaxSize    int    `yaml:"max_size"`
	MaxDays    int    `yaml:"max_days"`
	MaxBackups int    `yaml:"max_backups"`
}

type ConfigCenter struct {
	Type       string     `yaml:"type"`
	ConfigFile ConfigFile `yaml:"config_file"`
	ConfigEtcd ConfigEtcd `yaml:"config_etcd"`
}

type ConfigFile struct {
	Path string `yaml:"path"`
}

type ConfigEtcd struct {
	Addrs       []string `yaml:"addrs"`
	BasePath    string   `yaml:"base_path"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	StrictParse bool     `yaml:"strict_parse"`
}

// Pool sizes every per-endpoint connection pool.
type Pool struct {
	Capacity    int `yaml:"capacity"`
	IdleTimeout int `yaml:"idle_timeout"` // seconds
	MaxLifetime int `yaml:"max_lifetime"` // seconds
}

type Executor struct {
	DefaultTimeoutMs int `yaml:"default_timeout_ms"`
	MaxInFlight      int `yaml:"max_in_flight"`
	// "", log, opentracing or all
	Trace            string `yaml:"trace"`
}

// Providers overrides the database/sql driver used per server type,
// e.g. {postgresql: postgres} selects lib/pq instead of pgx.
type Providers struct {
	Drivers map[string]string `yaml:"drivers"`
}
