package bootstrap

import (
    "fmt"
    "os"
    "time"

    "gopkg.in/yaml.v2"

    "github.com/amirimatin/go-glusterd/pkg/errs"
    tlsx "github.com/amirimatin/go-glusterd/pkg/security/tlsconfig"
    "github.com/amirimatin/go-glusterd/pkg/store"
)

// Defaults.
const (
    DefaultWorkDir   = "/var/lib/glusterd"
    DefaultPort      = 4284
    DefaultAdminAddr = ":24007"
)

// Duration is a time.Duration written as "10s" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
    var s string
    if err := unmarshal(&s); err != nil { return err }
    v, err := time.ParseDuration(s)
    if err != nil { return fmt.Errorf("bad duration %q: %w", s, err) }
    *d = Duration(v)
    return nil
}

func (d Duration) MarshalYAML() (interface{}, error) { return time.Duration(d).String(), nil }

// GossipConfig enables memberlist liveness.
type GossipConfig struct {
    Enable      bool     `yaml:"enable"`
    Bind        string   `yaml:"bind"`
    Advertise   string   `yaml:"advertise"`
    Seeds       []string `yaml:"seeds"`
    EvictFailed bool     `yaml:"evictFailed"`
}

// Config holds every daemon setting. Zero fields take the defaults of
// Default().
type Config struct {
    WorkDir string `yaml:"workdir"`
    // Hostname is advertised to peers; defaults to os.Hostname().
    Hostname string `yaml:"hostname"`
    Port     int    `yaml:"port"`
    // Bind is the gateway listen address; defaults to ":<port>".
    Bind string `yaml:"bind"`
    // Admin is the HTTP admin address; "off" disables it.
    Admin string `yaml:"admin"`
    // Store is one of bolt, badger or memory.
    Store string `yaml:"store"`

    Seeds     []string `yaml:"seeds"`
    // SeedsSRV are DNS SRV names resolved to seed peers.
    SeedsSRV  []string `yaml:"seedsSRV"`
    PeersFile string   `yaml:"peersFile"`
    PeersEnv  string   `yaml:"peersEnv"`

    Gossip GossipConfig `yaml:"gossip"`
    TLS    tlsx.Options `yaml:"tls"`

    CallTimeout Duration `yaml:"callTimeout"`
    PeerTimeout Duration `yaml:"peerTimeout"`
    LockLease   Duration `yaml:"lockLease"`
    FollowPeers *bool    `yaml:"followPeers"`

    LogLevel string `yaml:"logLevel"`
    LogJSON  bool   `yaml:"logJSON"`
    Trace    bool   `yaml:"trace"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
    follow := true
    return Config{
        WorkDir:     DefaultWorkDir,
        Port:        DefaultPort,
        Admin:       DefaultAdminAddr,
        Store:       store.BackendBolt,
        CallTimeout: Duration(10 * time.Second),
        PeerTimeout: Duration(30 * time.Second),
        LockLease:   Duration(3 * time.Minute),
        FollowPeers: &follow,
    }
}

// LoadConfig reads a YAML file over Default(). Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
    cfg := Default()
    b, err := os.ReadFile(path)
    if err != nil { return cfg, err }
    if err := yaml.UnmarshalStrict(b, &cfg); err != nil { return cfg, fmt.Errorf("config %s: %w", path, err) }
    return cfg, cfg.Validate()
}

// Validate fills derived defaults and rejects impossible settings.
func (c *Config) Validate() error {
    d := Default()
    if c.WorkDir == "" { c.WorkDir = d.WorkDir }
    if c.Port == 0 { c.Port = d.Port }
    if c.Port < 0 || c.Port > 65535 { return errs.New(errs.InvalidArgument, "config: bad port %d", c.Port) }
    if c.Hostname == "" {
        h, err := os.Hostname()
        if err != nil { return errs.Wrap(errs.InvalidArgument, err, "config: hostname") }
        c.Hostname = h
    }
    if c.Bind == "" { c.Bind = fmt.Sprintf(":%d", c.Port) }
    if c.Store == "" { c.Store = d.Store }
    switch c.Store {
    case store.BackendBolt, store.BackendBadger, store.BackendMemory:
    default:
        return errs.New(errs.InvalidArgument, "config: unknown store %q", c.Store)
    }
    if c.CallTimeout <= 0 { c.CallTimeout = d.CallTimeout }
    if c.PeerTimeout <= 0 { c.PeerTimeout = d.PeerTimeout }
    if c.LockLease <= 0 { c.LockLease = d.LockLease }
    if c.FollowPeers == nil { c.FollowPeers = d.FollowPeers }
    if c.Gossip.Enable && c.Gossip.Bind == "" { return errs.New(errs.InvalidArgument, "config: gossip.bind is required") }
    return nil
}
