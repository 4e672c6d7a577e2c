// Package tlsconfig builds the mutual-TLS configs used by the peer gateway and
// the admin API.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "os"
    "path/filepath"

    "github.com/amirimatin/go-glusterd/pkg/errs"
)

// Default file names inside Dir.
const (
    DefaultDir = "/etc/ssl"
    CertName   = "glusterfs.pem"
    KeyName    = "glusterfs.key"
    CAName     = "glusterfs.ca"
)

// Options defines mTLS inputs. Empty file fields fall back to the default
// names under Dir.
type Options struct {
    Enable             bool   `yaml:"enable"`
    Dir                string `yaml:"dir"`
    CAFile             string `yaml:"ca"`
    CertFile           string `yaml:"cert"`
    KeyFile            string `yaml:"key"`
    InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
    ServerName         string `yaml:"serverName"`
}

func (o Options) withDefaults() Options {
    dir := o.Dir
    if dir == "" { dir = DefaultDir }
    if o.CertFile == "" { o.CertFile = filepath.Join(dir, CertName) }
    if o.KeyFile == "" { o.KeyFile = filepath.Join(dir, KeyName) }
    if o.CAFile == "" { o.CAFile = filepath.Join(dir, CAName) }
    return o
}

func loadPool(path string) (*x509.CertPool, error) {
    pem, err := os.ReadFile(path)
    if err != nil { return nil, errs.Wrap(errs.InvalidArgument, err, "tls: read CA %s", path) }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(pem) { return nil, errs.New(errs.InvalidArgument, "tls: no certificates in %s", path) }
    return pool, nil
}

func loadPair(o Options) (tls.Certificate, error) {
    cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
    if err != nil { return tls.Certificate{}, errs.Wrap(errs.InvalidArgument, err, "tls: load %s", o.CertFile) }
    return cert, nil
}

// Server returns a tls.Config that requires client certificates signed by
// the CA, or nil when TLS is disabled.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    o = o.withDefaults()
    cert, err := loadPair(o)
    if err != nil { return nil, err }
    pool, err := loadPool(o.CAFile)
    if err != nil { return nil, err }
    return &tls.Config{
        Certificates: []tls.Certificate{cert},
        ClientCAs:    pool,
        ClientAuth:   tls.RequireAndVerifyClientCert,
        MinVersion:   tls.VersionTLS12,
    }, nil
}

// Client returns a tls.Config presenting the node certificate, or nil when
// TLS is disabled.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    o = o.withDefaults()
    cert, err := loadPair(o)
    if err != nil { return nil, err }
    cfg := &tls.Config{
        Certificates:       []tls.Certificate{cert},
        InsecureSkipVerify: o.InsecureSkipVerify, //nolint:gosec
        ServerName:         o.ServerName,
        MinVersion:         tls.VersionTLS12,
    }
    if !o.InsecureSkipVerify {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.RootCAs = pool
    }
    return cfg, nil
}
