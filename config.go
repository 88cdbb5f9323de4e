package pgasync

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/augustdb/pgasync/internal/svcfile"
)

// SSLMode selects how a new connection negotiates TLS with the server.
type SSLMode int

const (
	SSLDisable SSLMode = iota
	SSLAllow
	SSLPrefer
	SSLRequire
	SSLVerifyCA
	SSLVerifyFull
)

func (m SSLMode) String() string {
	switch m {
	case SSLDisable:
		return "disable"
	case SSLAllow:
		return "allow"
	case SSLPrefer:
		return "prefer"
	case SSLRequire:
		return "require"
	case SSLVerifyCA:
		return "verify-ca"
	case SSLVerifyFull:
		return "verify-full"
	default:
		return "unknown"
	}
}

func parseSSLMode(s string) (SSLMode, error) {
	switch s {
	case "disable":
		return SSLDisable, nil
	case "allow":
		return SSLAllow, nil
	case "prefer":
		return SSLPrefer, nil
	case "require":
		return SSLRequire, nil
	case "verify-ca":
		return SSLVerifyCA, nil
	case "verify-full":
		return SSLVerifyFull, nil
	default:
		return SSLDisable, fmt.Errorf("unrecognized sslmode %q", s)
	}
}

// TargetSessionAttrs constrains which configured host a Pool will settle
// on when more than one is given.
type TargetSessionAttrs int

const (
	TargetAny TargetSessionAttrs = iota
	TargetReadWrite
	TargetReadOnly
)

func parseTargetSessionAttrs(s string) (TargetSessionAttrs, error) {
	switch s {
	case "", "any":
		return TargetAny, nil
	case "read-write":
		return TargetReadWrite, nil
	case "read-only":
		return TargetReadOnly, nil
	default:
		return TargetAny, fmt.Errorf("unrecognized target_session_attrs %q", s)
	}
}

// LoadBalanceMode controls host dial order when multiple hosts are given.
type LoadBalanceMode int

const (
	LoadBalanceDisable LoadBalanceMode = iota
	LoadBalanceRandom
)

func parseLoadBalanceMode(s string) (LoadBalanceMode, error) {
	switch s {
	case "", "disable":
		return LoadBalanceDisable, nil
	case "random":
		return LoadBalanceRandom, nil
	default:
		return LoadBalanceDisable, fmt.Errorf("unrecognized load_balance_hosts %q", s)
	}
}

// RecyclingMethod governs what a Pool does to a Connection before
// re-admitting it to the idle deque on release.
type RecyclingMethod int

const (
	// RecycleFast re-admits the connection with no server round trip.
	RecycleFast RecyclingMethod = iota
	// RecycleVerified issues a lightweight round trip (SimpleQuery ";")
	// before re-admission, discarding the connection if it fails.
	RecycleVerified
	// RecycleClean additionally issues DISCARD ALL before re-admission.
	RecycleClean
)

func parseRecyclingMethod(s string) (RecyclingMethod, error) {
	switch s {
	case "", "fast":
		return RecycleFast, nil
	case "verified":
		return RecycleVerified, nil
	case "clean":
		return RecycleClean, nil
	default:
		return RecycleFast, fmt.Errorf("unrecognized conn_recycling_method %q", s)
	}
}

// KeepaliveConfig tunes TCP keepalive probing on the dialed socket.
type KeepaliveConfig struct {
	Enabled  bool
	Idle     time.Duration
	Interval time.Duration
	Retries  int
}

// ConnectConfig is the immutable, validated connection target for a Pool
// or a standalone Connection. Build one with NewBuilder (or ParseDSN) and
// Build(); ConnectConfig itself carries no setters.
type ConnectConfig struct {
	Hosts           []string
	Ports           []int
	User            string
	Password        string
	Database        string
	ApplicationName string
	Options         string

	SSLMode        SSLMode
	SSLRootCert    string
	TargetSession  TargetSessionAttrs
	LoadBalance    LoadBalanceMode
	ConnectTimeout time.Duration
	Keepalive      KeepaliveConfig
	TCPUserTimeout time.Duration
	SyncCommit     string
	Recycling      RecyclingMethod

	MaxPoolSize int
	MinPoolSize int

	// Debug records the DebugLogging setting. Off by default. Nothing in
	// this package reads it; no per-message wire tracing is emitted.
	Debug bool
}

// HostPorts returns the configured (host, port) pairs, pairing a singular
// host or port list against a longer one.
func (c *ConnectConfig) HostPorts() []string {
	n := len(c.Hosts)
	if len(c.Ports) > n {
		n = len(c.Ports)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		host := c.Hosts[0]
		if len(c.Hosts) > 1 {
			host = c.Hosts[i]
		}
		port := 5432
		if len(c.Ports) == 1 {
			port = c.Ports[0]
		} else if len(c.Ports) > 1 {
			port = c.Ports[i]
		}
		out[i] = fmt.Sprintf("%s:%d", host, port)
	}
	return out
}

// Redacted returns a copy of c with Password replaced by a fixed mask,
// safe to log (same intent as internal/config.Config.Redacted).
func (c *ConnectConfig) Redacted() *ConnectConfig {
	cp := *c
	if cp.Password != "" {
		cp.Password = "***"
	}
	return &cp
}

// Builder accumulates and validates ConnectConfig fields. Each setter
// either records the value or, on an invalid value, latches the first
// error so the caller can check it once in Build(), mirroring
// internal/config's explicit-field-check validation style.
type Builder struct {
	cfg ConnectConfig
	err error
}

// NewBuilder returns a Builder seeded with the spec's documented
// defaults: port 5432, SSL prefer, fast recycling, target any, a 10s
// connect timeout, and a pool sized [1, 10].
func NewBuilder() *Builder {
	return &Builder{cfg: ConnectConfig{
		Ports:          []int{5432},
		SSLMode:        SSLPrefer,
		TargetSession:  TargetAny,
		LoadBalance:    LoadBalanceDisable,
		ConnectTimeout: 10 * time.Second,
		Recycling:      RecycleFast,
		MaxPoolSize:    10,
		MinPoolSize:    1,
	}}
}

func (b *Builder) fail(msg string) *Builder {
	if b.err == nil {
		b.err = newConnectionPoolConfigurationError(msg)
	}
	return b
}

func (b *Builder) Host(hosts ...string) *Builder {
	if len(hosts) == 0 {
		return b.fail("at least one host is required")
	}
	b.cfg.Hosts = hosts
	return b
}

func (b *Builder) Port(ports ...int) *Builder {
	for _, p := range ports {
		if p < 1 || p > 65535 {
			return b.fail(fmt.Sprintf("port %d out of range", p))
		}
	}
	b.cfg.Ports = ports
	return b
}

func (b *Builder) User(user string) *Builder       { b.cfg.User = user; return b }
func (b *Builder) Password(pw string) *Builder      { b.cfg.Password = pw; return b }
func (b *Builder) Database(db string) *Builder      { b.cfg.Database = db; return b }
func (b *Builder) ApplicationName(n string) *Builder { b.cfg.ApplicationName = n; return b }
func (b *Builder) Options(o string) *Builder         { b.cfg.Options = o; return b }

func (b *Builder) SSL(mode SSLMode, rootCert string) *Builder {
	if (mode == SSLVerifyCA || mode == SSLVerifyFull) && rootCert == "" {
		return b.fail("sslrootcert is required for verify-ca/verify-full")
	}
	b.cfg.SSLMode = mode
	b.cfg.SSLRootCert = rootCert
	return b
}

func (b *Builder) TargetSessionAttrs(t TargetSessionAttrs) *Builder {
	b.cfg.TargetSession = t
	return b
}

func (b *Builder) LoadBalanceHosts(m LoadBalanceMode) *Builder {
	b.cfg.LoadBalance = m
	return b
}

func (b *Builder) ConnectTimeout(d time.Duration) *Builder {
	if d < time.Microsecond {
		return b.fail("connect_timeout must be >= 1us")
	}
	b.cfg.ConnectTimeout = d
	return b
}

func (b *Builder) Keepalive(k KeepaliveConfig) *Builder {
	if k.Enabled {
		if k.Idle < time.Microsecond {
			return b.fail("keepalives_idle must be >= 1us")
		}
		if k.Interval < time.Microsecond {
			return b.fail("keepalives_interval must be >= 1us")
		}
	}
	b.cfg.Keepalive = k
	return b
}

func (b *Builder) TCPUserTimeout(d time.Duration) *Builder {
	if d != 0 && d < time.Microsecond {
		return b.fail("tcp_user_timeout must be >= 1us")
	}
	b.cfg.TCPUserTimeout = d
	return b
}

func (b *Builder) SynchronousCommit(mode string) *Builder {
	b.cfg.SyncCommit = mode
	return b
}

func (b *Builder) RecyclingMethod(m RecyclingMethod) *Builder {
	b.cfg.Recycling = m
	return b
}

func (b *Builder) PoolSize(min, max int) *Builder {
	if max < 1 {
		return b.fail("max_pool_size must be >= 1")
	}
	if min < 0 || min > max {
		return b.fail("min_pool_size must be in [0, max_pool_size]")
	}
	b.cfg.MinPoolSize = min
	b.cfg.MaxPoolSize = max
	return b
}

func (b *Builder) DebugLogging(on bool) *Builder {
	b.cfg.Debug = on
	return b
}

// Build validates arity and returns the finished ConnectConfig, or the
// first error latched by a setter, or an arity mismatch error.
func (b *Builder) Build() (*ConnectConfig, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.cfg.Hosts) == 0 {
		return nil, newConnectionPoolConfigurationError("host is required")
	}
	if len(b.cfg.Ports) > 1 && len(b.cfg.Hosts) > 1 && len(b.cfg.Ports) != len(b.cfg.Hosts) {
		return nil, newConnectionPoolConfigurationError("host/port list arity must match or one must be singular")
	}
	cfg := b.cfg
	return &cfg, nil
}

// ParseDSN parses a postgres(ql)://... URI or libpq keyword/value string
// into a Builder. Call Build() to validate and finish.
func ParseDSN(dsn string) (*Builder, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return parseDSNURI(dsn)
	}
	return parseDSNKeywordValue(dsn)
}

func parseDSNURI(dsn string) (*Builder, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, newConnectionPoolConfigurationError(fmt.Sprintf("invalid DSN: %v", err))
	}
	b := NewBuilder()

	if u.User != nil {
		b.User(u.User.Username())
		if pw, ok := u.User.Password(); ok {
			b.Password(pw)
		}
	}

	hostSpecs := strings.Split(u.Host, ",")
	var hosts []string
	var ports []int
	for _, hs := range hostSpecs {
		if hs == "" {
			continue
		}
		host, portStr, err := splitHostPort(hs)
		if err != nil {
			return nil, newConnectionPoolConfigurationError(err.Error())
		}
		hosts = append(hosts, host)
		if portStr != "" {
			p, err := strconv.Atoi(portStr)
			if err != nil {
				return nil, newConnectionPoolConfigurationError(fmt.Sprintf("invalid port %q", portStr))
			}
			ports = append(ports, p)
		}
	}
	if len(hosts) > 0 {
		b.Host(hosts...)
	}
	if len(ports) > 0 {
		b.Port(ports...)
	}

	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		b.Database(db)
	}

	applyDSNQuery(b, u.Query())
	return b, nil
}

func splitHostPort(hs string) (host, port string, err error) {
	if i := strings.LastIndex(hs, ":"); i >= 0 && !strings.Contains(hs[i+1:], "]") {
		return hs[:i], hs[i+1:], nil
	}
	return hs, "", nil
}

func parseDSNKeywordValue(dsn string) (*Builder, error) {
	b := NewBuilder()
	q := url.Values{}

	fields, err := splitKeywordValueFields(dsn)
	if err != nil {
		return nil, newConnectionPoolConfigurationError(err.Error())
	}
	var hosts, ports []string
	for _, f := range fields {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := kv[0], kv[1]
		switch key {
		case "host":
			hosts = strings.Split(val, ",")
		case "port":
			ports = strings.Split(val, ",")
		case "user":
			b.User(val)
		case "password":
			b.Password(val)
		case "dbname":
			b.Database(val)
		default:
			q.Set(key, val)
		}
	}
	if len(hosts) > 0 {
		b.Host(hosts...)
	}
	if len(ports) > 0 {
		var ps []int
		for _, p := range ports {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, newConnectionPoolConfigurationError(fmt.Sprintf("invalid port %q", p))
			}
			ps = append(ps, n)
		}
		b.Port(ps...)
	}
	applyDSNQuery(b, q)
	return b, nil
}

// splitKeywordValueFields splits a libpq-style "key=value key2='v 2'"
// string on unquoted whitespace.
func splitKeywordValueFields(dsn string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(dsn); i++ {
		c := dsn[i]
		switch {
		case c == '\'' :
			inQuote = !inQuote
		case c == ' ' && !inQuote:
			if cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote in DSN")
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields, nil
}

func applyDSNQuery(b *Builder, q url.Values) {
	if v := q.Get("application_name"); v != "" {
		b.ApplicationName(v)
	}
	if v := q.Get("options"); v != "" {
		b.Options(v)
	}
	if v := q.Get("sslmode"); v != "" {
		if mode, err := parseSSLMode(v); err == nil {
			b.SSL(mode, q.Get("sslrootcert"))
		} else {
			b.fail(err.Error())
		}
	}
	if v := q.Get("connect_timeout"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			b.ConnectTimeout(time.Duration(secs) * time.Second)
		}
	}
	if v := q.Get("target_session_attrs"); v != "" {
		if t, err := parseTargetSessionAttrs(v); err == nil {
			b.TargetSessionAttrs(t)
		} else {
			b.fail(err.Error())
		}
	}
	if v := q.Get("load_balance_hosts"); v != "" {
		if m, err := parseLoadBalanceMode(v); err == nil {
			b.LoadBalanceHosts(m)
		} else {
			b.fail(err.Error())
		}
	}
	if v := q.Get("conn_recycling_method"); v != "" {
		if m, err := parseRecyclingMethod(v); err == nil {
			b.RecyclingMethod(m)
		} else {
			b.fail(err.Error())
		}
	}
	if v := q.Get("max_pool_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			min := b.cfg.MinPoolSize
			b.PoolSize(min, n)
		}
	}
	if v := q.Get("min_pool_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			b.PoolSize(n, b.cfg.MaxPoolSize)
		}
	}
	if v := q.Get("tcp_user_timeout"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			b.TCPUserTimeout(time.Duration(ms) * time.Millisecond)
		}
	}
	if v := q.Get("synchronous_commit"); v != "" {
		b.SynchronousCommit(v)
	}
	keepalive := KeepaliveConfig{Enabled: true, Idle: 30 * time.Second, Interval: 10 * time.Second, Retries: 3}
	touched := false
	if v := q.Get("keepalives"); v != "" {
		keepalive.Enabled = v != "0"
		touched = true
	}
	if v := q.Get("keepalives_idle"); v != "" {
		if s, err := strconv.Atoi(v); err == nil {
			keepalive.Idle = time.Duration(s) * time.Second
			touched = true
		}
	}
	if v := q.Get("keepalives_interval"); v != "" {
		if s, err := strconv.Atoi(v); err == nil {
			keepalive.Interval = time.Duration(s) * time.Second
			touched = true
		}
	}
	if v := q.Get("keepalives_retries"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			keepalive.Retries = n
			touched = true
		}
	}
	if touched {
		b.Keepalive(keepalive)
	}
}

// LoadProfile reads a named connection profile out of a YAML profiles
// file (defaults section plus per-profile overrides, in the shape
// internal/svcfile parses) and returns a Builder seeded from it, including
// the pool size when the profile sets max_pool_size. Callers still apply
// any runtime-only setting (debug logging, timeouts, ...) before calling
// Build().
func LoadProfile(path, name string) (*Builder, error) {
	f, err := svcfile.Load(path)
	if err != nil {
		return nil, newConnectionPoolConfigurationError(err.Error())
	}
	r, err := f.Resolve(name)
	if err != nil {
		return nil, newConnectionPoolConfigurationError(err.Error())
	}

	b := NewBuilder()
	if r.Host != "" {
		b.Host(r.Host)
	}
	if r.Port != 0 {
		b.Port(r.Port)
	}
	if r.User != "" {
		b.User(r.User)
	}
	if r.Password != "" {
		b.Password(r.Password)
	}
	if r.Database != "" {
		b.Database(r.Database)
	}
	if r.ApplicationName != "" {
		b.ApplicationName(r.ApplicationName)
	}
	if r.SSLMode != "" {
		mode, err := parseSSLMode(r.SSLMode)
		if err != nil {
			return nil, newConnectionPoolConfigurationError(err.Error())
		}
		b.SSL(mode, r.SSLRootCert)
	}
	if r.MaxPoolSize != 0 {
		min := r.MinPoolSize
		b.PoolSize(min, r.MaxPoolSize)
	}
	return b, nil
}
