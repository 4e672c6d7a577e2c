package cli

import (
    "fmt"
    "os"
    "strings"

    "github.com/sirupsen/logrus"
    "github.com/spf13/cobra"

    "github.com/amirimatin/go-glusterd/pkg/bootstrap"
    "github.com/amirimatin/go-glusterd/pkg/internal/logutil"
    "github.com/amirimatin/go-glusterd/pkg/observability/tracing"
    "github.com/amirimatin/go-glusterd/pkg/store"
)

// daemonFlags mirror bootstrap.Config. Only flags set on the command line
// override the config file.
type daemonFlags struct {
    config string
    cfg    bootstrap.Config
    seeds  string
    gossip string
    follow bool
}

func (f *daemonFlags) bind(cmd *cobra.Command) {
    d := bootstrap.Default()
    pf := cmd.PersistentFlags()
    pf.StringVar(&f.config, "config", "", "YAML config file")
    pf.StringVar(&f.cfg.WorkDir, "workdir", d.WorkDir, "state directory")
    pf.StringVar(&f.cfg.Hostname, "hostname", "", "hostname advertised to peers (default os hostname)")
    pf.IntVar(&f.cfg.Port, "port", d.Port, "peer port advertised to peers")
    pf.StringVar(&f.cfg.Bind, "bind", "", "peer gateway listen address (default :<port>)")
    pf.StringVar(&f.cfg.Admin, "admin", d.Admin, "admin HTTP address, or off")
    pf.StringVar(&f.cfg.Store, "store", d.Store, "store backend: bolt|badger|memory")
    pf.StringVar(&f.seeds, "seeds", "", "comma separated peers probed on start")
    pf.StringVar(&f.cfg.PeersFile, "peers-file", "", "file (or glob) listing seed peers")
    pf.StringVar(&f.cfg.PeersEnv, "peers-env", "", "environment variable listing seed peers")
    pf.StringSliceVar(&f.cfg.SeedsSRV, "seeds-srv", nil, "DNS SRV names resolved to seed peers")
    pf.StringVar(&f.gossip, "gossip-bind", "", "enable memberlist liveness on this address")
    pf.StringVar(&f.cfg.Gossip.Advertise, "gossip-advertise", "", "memberlist advertise address")
    pf.BoolVar(&f.cfg.Gossip.EvictFailed, "gossip-evict", false, "detach peers that memberlist declares failed")
    pf.BoolVar(&f.follow, "follow-peers", true, "probe peers learned from a friend")
    pf.BoolVar(&f.cfg.TLS.Enable, "tls-enable", false, "enable mTLS on the gateway and admin API")
    pf.StringVar(&f.cfg.TLS.Dir, "tls-dir", "", "directory holding glusterfs.pem/.key/.ca")
    pf.BoolVar(&f.cfg.TLS.InsecureSkipVerify, "tls-skip-verify", false, "skip peer cert verification (DEV ONLY)")
    pf.StringVar(&f.cfg.LogLevel, "log-level", "info", "log level")
    pf.BoolVar(&f.cfg.LogJSON, "log-json", false, "JSON log output")
    pf.BoolVar(&f.cfg.Trace, "trace", false, "print OpenTelemetry spans to stdout")
}

// resolve loads the config file and applies changed flags over it.
func (f *daemonFlags) resolve(cmd *cobra.Command) (bootstrap.Config, error) {
    cfg := bootstrap.Default()
    if f.config != "" {
        c, err := bootstrap.LoadConfig(f.config)
        if err != nil { return cfg, err }
        cfg = c
    }
    set := func(name string, apply func()) {
        if cmd.Flags().Changed(name) || (f.config == "" && cmd.Flags().Lookup(name) != nil) { apply() }
    }
    set("workdir", func() { cfg.WorkDir = f.cfg.WorkDir })
    set("hostname", func() { cfg.Hostname = f.cfg.Hostname })
    set("port", func() {
        if cfg.Bind == fmt.Sprintf(":%d", cfg.Port) { cfg.Bind = "" }
        cfg.Port = f.cfg.Port
    })
    set("bind", func() { cfg.Bind = f.cfg.Bind })
    set("admin", func() { cfg.Admin = f.cfg.Admin })
    set("store", func() { cfg.Store = f.cfg.Store })
    set("peers-file", func() { cfg.PeersFile = f.cfg.PeersFile })
    set("peers-env", func() { cfg.PeersEnv = f.cfg.PeersEnv })
    set("seeds-srv", func() { cfg.SeedsSRV = f.cfg.SeedsSRV })
    set("gossip-advertise", func() { cfg.Gossip.Advertise = f.cfg.Gossip.Advertise })
    set("gossip-evict", func() { cfg.Gossip.EvictFailed = f.cfg.Gossip.EvictFailed })
    set("tls-enable", func() { cfg.TLS.Enable = f.cfg.TLS.Enable })
    set("tls-dir", func() { cfg.TLS.Dir = f.cfg.TLS.Dir })
    set("tls-skip-verify", func() { cfg.TLS.InsecureSkipVerify = f.cfg.TLS.InsecureSkipVerify })
    set("log-level", func() { cfg.LogLevel = f.cfg.LogLevel })
    set("log-json", func() { cfg.LogJSON = f.cfg.LogJSON })
    set("trace", func() { cfg.Trace = f.cfg.Trace })
    set("follow-peers", func() { v := f.follow; cfg.FollowPeers = &v })
    if cmd.Flags().Changed("seeds") {
        cfg.Seeds = nil
        for _, s := range strings.Split(f.seeds, ",") {
            if s = strings.TrimSpace(s); s != "" { cfg.Seeds = append(cfg.Seeds, s) }
        }
    }
    if cmd.Flags().Changed("gossip-bind") {
        cfg.Gossip.Enable = f.gossip != ""
        cfg.Gossip.Bind = f.gossip
    }
    return cfg, cfg.Validate()
}

func daemonLogger(cfg bootstrap.Config) *logrus.Logger {
    logutil.SetJSON(cfg.LogJSON)
    l := logutil.New()
    if cfg.LogLevel != "" {
        if lv, err := logrus.ParseLevel(cfg.LogLevel); err == nil { l.SetLevel(lv) }
    }
    return l
}

// NewDaemonCmd returns the glusterd root command. Without a subcommand it
// runs the daemon until SIGINT/SIGTERM.
func NewDaemonCmd() *cobra.Command {
    f := &daemonFlags{}
    cmd := &cobra.Command{
        Use:           "glusterd",
        Short:         "Storage pool management daemon",
        SilenceUsage:  true,
        SilenceErrors: true,
        Args:          cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := f.resolve(cmd)
            if err != nil { return err }
            l := daemonLogger(cfg)
            shutdown, err := tracing.Setup(cfg.Trace)
            if err != nil { return err }
            ctx, cancel := signalContext()
            defer cancel()
            defer func() { _ = shutdown(ctx) }()

            c, err := bootstrap.Run(ctx, cfg, l)
            if err != nil { return err }
            self := c.Self()
            l.WithFields(logrus.Fields{"uuid": self.ID.String(), "host": self.Hostname, "port": self.Port, "admin": cfg.Admin}).Info("glusterd started")
            <-ctx.Done()
            l.Info("shutting down")
            return c.Close()
        },
    }
    f.bind(cmd)
    cmd.AddCommand(newExportCmd(f), newImportCmd(f))
    return cmd
}

// newExportCmd dumps the local store as JSON. The daemon must be stopped
// for the bolt and badger backends.
func newExportCmd(f *daemonFlags) *cobra.Command {
    var out string
    cmd := &cobra.Command{
        Use:   "export",
        Short: "Write peers and volumes of the local store as JSON",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := f.resolve(cmd)
            if err != nil { return err }
            st, err := bootstrap.OpenStore(cfg, logutil.Discard())
            if err != nil { return err }
            defer st.Close()
            buf, err := store.Dump(st)
            if err != nil { return err }
            if out == "" || out == "-" {
                _, err = cmd.OutOrStdout().Write(append(buf, '\n'))
                return err
            }
            return os.WriteFile(out, buf, 0o600)
        },
    }
    cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
    return cmd
}

func newImportCmd(f *daemonFlags) *cobra.Command {
    return &cobra.Command{
        Use:   "import <file>",
        Short: "Load peers and volumes into the local store",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := f.resolve(cmd)
            if err != nil { return err }
            buf, err := os.ReadFile(args[0])
            if err != nil { return err }
            st, err := bootstrap.OpenStore(cfg, logutil.Discard())
            if err != nil { return err }
            defer st.Close()
            if err := store.Load(st, buf); err != nil { return fmt.Errorf("import: %w", err) }
            fmt.Fprintf(cmd.OutOrStdout(), "imported %s into %s\n", args[0], cfg.WorkDir)
            return nil
        },
    }
}
