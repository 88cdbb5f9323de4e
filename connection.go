package pgasync

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/augustdb/pgasync/internal/certwatch"
	"github.com/augustdb/pgasync/internal/codec"
	"github.com/augustdb/pgasync/internal/wire"
)

// ConnState mirrors the Protocol Engine's state machine at the level a
// Connection caller cares about.
type ConnState int

const (
	ConnIdle ConnState = iota
	ConnInTransaction
	ConnInFailedTransaction
	ConnBusy
	ConnClosed
)

// Connection is one authenticated session: a socket, a prepared-statement
// cache keyed by (SQL text, parameter OIDs), a per-connection type-info
// cache, and a transaction-nesting counter.
type Connection struct {
	mu sync.Mutex

	engine    *wire.Engine
	registry  *codec.Registry
	stmtCache *wire.StatementCache
	typeCache *codec.TypeInfoCache

	cfg  *ConnectConfig
	addr string // host:port this session dialed; the cancel side-channel dials it again
	pool *Pool  // nil for a standalone (non-pooled) Connection

	txDepth int
	closed  bool
}

// ExecOption tunes one call to Execute/Fetch/FetchRow/FetchVal.
type ExecOption func(*execOptions)

type execOptions struct {
	prepared  *bool
	decoders  map[string]ColumnDecoder
	maxRows   int32
}

// WithPrepared overrides the default (true) prepared-statement behavior
// for one call: false always re-Parses with an unnamed statement.
func WithPrepared(prepared bool) ExecOption {
	return func(o *execOptions) { o.prepared = &prepared }
}

// WithColumnDecoder registers a custom decoder for the named result
// column, bypassing the default codec decode for that column only.
func WithColumnDecoder(column string, fn ColumnDecoder) ExecOption {
	return func(o *execOptions) {
		if o.decoders == nil {
			o.decoders = map[string]ColumnDecoder{}
		}
		o.decoders[column] = fn
	}
}

func buildExecOptions(opts []ExecOption) execOptions {
	var o execOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Connect dials, negotiates TLS per cfg.SSLMode, performs the startup and
// authentication handshake, and returns a ready-to-query standalone
// Connection. Pool uses the same path internally for pooled connections.
func Connect(ctx context.Context, cfg *ConnectConfig) (*Connection, error) {
	return dialOneOf(ctx, cfg, nil)
}

// dialOneOf tries each configured host in order, skipping any that fails
// to dial/authenticate or doesn't satisfy target_session_attrs. rootCAs,
// when non-nil, overrides a fresh certwatch.Load of cfg.SSLRootCert —
// Pool passes its hot-reloaded bundle here so a rotated CA file doesn't
// require a disk read on every dial.
func dialOneOf(ctx context.Context, cfg *ConnectConfig, rootCAs *x509.CertPool) (*Connection, error) {
	addrs := cfg.HostPorts()
	if len(addrs) == 0 {
		return nil, newConnectionPoolConfigurationError("no host configured")
	}
	order := chooseHostOrder(len(addrs), cfg.LoadBalance)

	var lastErr error
	for _, i := range order {
		conn, err := dialAndAuth(ctx, cfg, addrs[i], rootCAs)
		if err != nil {
			lastErr = err
			continue
		}
		if ok, err := satisfiesTargetSessionAttrs(ctx, conn, cfg.TargetSession); err != nil {
			conn.engine.Close()
			lastErr = err
			continue
		} else if !ok {
			slog.Info("skipping host, target_session_attrs mismatch", "host", addrs[i])
			conn.engine.Close()
			continue
		}
		return conn, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no configured host satisfies target_session_attrs")
	}
	return nil, newConnectionError("connecting to PostgreSQL", lastErr)
}

func chooseHostOrder(n int, mode LoadBalanceMode) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if mode == LoadBalanceRandom && n > 1 {
		for i := n - 1; i > 0; i-- {
			j := pseudoRandIndex(i + 1)
			order[i], order[j] = order[j], order[i]
		}
	}
	return order
}

// pseudoRandIndex returns a value in [0, n) used only to vary dial order
// across repeated Acquire calls; it need not be cryptographically random.
var randCounter uint64

func pseudoRandIndex(n int) int {
	randCounter++
	return int((randCounter * 2654435761) % uint64(n))
}

func dialAndAuth(ctx context.Context, cfg *ConnectConfig, addr string, rootCAs *x509.CertPool) (*Connection, error) {
	dialer := newDialer(cfg)

	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	engine := wire.NewEngine(netConn)

	var tlsConfig *tls.Config
	if cfg.SSLMode != SSLDisable {
		verify := cfg.SSLMode == SSLVerifyCA || cfg.SSLMode == SSLVerifyFull
		tlsConfig = &tls.Config{
			ServerName:         hostOnly(addr),
			InsecureSkipVerify: !verify,
		}
		if verify {
			pool := rootCAs
			if pool == nil && cfg.SSLRootCert != "" {
				pool, err = certwatch.Load(cfg.SSLRootCert)
				if err != nil {
					engine.Close()
					return nil, fmt.Errorf("loading sslrootcert: %w", err)
				}
			}
			tlsConfig.RootCAs = pool
		}
	}

	params := wire.StartupParams{
		User:            cfg.User,
		Database:        cfg.Database,
		ApplicationName: cfg.ApplicationName,
		Options:         cfg.Options,
	}
	if err := engine.Startup(ctx, params, cfg.Password, tlsConfig); err != nil {
		engine.Close()
		return nil, fmt.Errorf("startup/auth against %s: %w", addr, err)
	}

	if cfg.SyncCommit != "" {
		if _, err := engine.SimpleQuery(ctx, "SET synchronous_commit = "+quoteIdent(cfg.SyncCommit)); err != nil {
			engine.Close()
			return nil, fmt.Errorf("applying synchronous_commit: %w", err)
		}
	}

	reg := codec.NewRegistry()
	return &Connection{
		engine:    engine,
		registry:  reg,
		stmtCache: wire.NewStatementCache(),
		typeCache: codec.NewTypeInfoCache(reg),
		cfg:       cfg,
		addr:      addr,
	}, nil
}

func newDialer(cfg *ConnectConfig) *net.Dialer {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	if cfg.Keepalive.Enabled {
		dialer.KeepAliveConfig = net.KeepAliveConfig{
			Enable:   true,
			Idle:     cfg.Keepalive.Idle,
			Interval: cfg.Keepalive.Interval,
			Count:    cfg.Keepalive.Retries,
		}
	}
	if cfg.TCPUserTimeout > 0 {
		dialer.Control = tcpUserTimeoutControl(cfg.TCPUserTimeout)
	}
	return dialer
}

// Cancel requests cancellation of whatever this Connection is currently
// executing. Per the protocol, cancellation travels on a dedicated
// side-channel: a fresh connection to the same server carrying the backend
// key data captured at startup. The Connection's own socket is never
// touched, so Cancel is safe to call from another goroutine while an
// Execute is in flight.
func (c *Connection) Cancel(ctx context.Context) error {
	key := wire.CancelKey{
		BackendPID: c.engine.BackendPID(),
		SecretKey:  c.engine.BackendSecretKey(),
	}
	if err := wire.Cancel(ctx, newDialer(c.cfg), "tcp", c.addr, key); err != nil {
		return newConnectionError("sending cancel request", err)
	}
	return nil
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func quoteIdent(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func satisfiesTargetSessionAttrs(ctx context.Context, c *Connection, target TargetSessionAttrs) (bool, error) {
	if target == TargetAny {
		return true, nil
	}
	res, err := c.engine.SimpleQuery(ctx, "SHOW transaction_read_only")
	if err != nil {
		return false, fmt.Errorf("checking transaction_read_only: %w", err)
	}
	readOnly := len(res) > 0 && len(res[0].Rows) > 0 && string(res[0].Rows[0][0]) == "on"
	switch target {
	case TargetReadWrite:
		return !readOnly, nil
	case TargetReadOnly:
		return readOnly, nil
	default:
		return true, nil
	}
}

// State reports the Connection's logical state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ConnClosed
	}
	switch c.engine.State() {
	case wire.StateInTransaction:
		return ConnInTransaction
	case wire.StateInFailedTransaction:
		return ConnInFailedTransaction
	case wire.StateBusy:
		return ConnBusy
	case wire.StateClosed:
		return ConnClosed
	default:
		return ConnIdle
	}
}

// Broken reports whether the underlying Engine has marked the socket
// unusable (fatal ErrorResponse or I/O error).
func (c *Connection) Broken() bool { return c.engine.Broken() }

// resolveCatalogType issues the pg_type/pg_attribute lookup a composite or
// enum OID needs the first time it is seen.
func (c *Connection) resolveCatalogType(oid codec.OID) (*codec.TypeInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := c.engine.SimpleQuery(ctx, fmt.Sprintf(
		"SELECT typname, typtype, typrelid FROM pg_type WHERE oid = %d", oid))
	if err != nil || len(res) == 0 || len(res[0].Rows) == 0 {
		return nil, fmt.Errorf("looking up pg_type for oid %d: %w", oid, err)
	}
	row := res[0].Rows[0]
	name := string(row[0])
	typtype := string(row[1])
	relOID := string(row[2])

	if typtype == "e" {
		return &codec.TypeInfo{OID: oid, Kind: codec.KindEnum, Name: name}, nil
	}

	attrRes, err := c.engine.SimpleQuery(ctx, fmt.Sprintf(
		"SELECT attname, atttypid FROM pg_attribute WHERE attrelid = %s AND attnum > 0 AND NOT attisdropped ORDER BY attnum", relOID))
	if err != nil {
		return nil, fmt.Errorf("looking up pg_attribute for oid %d: %w", oid, err)
	}
	fields := make([]codec.CompositeField, 0, len(attrRes[0].Rows))
	for _, r := range attrRes[0].Rows {
		fields = append(fields, codec.CompositeField{Name: string(r[0]), OID: parseOIDColumn(r[1])})
	}
	return &codec.TypeInfo{OID: oid, Kind: codec.KindComposite, Name: name, Fields: fields}, nil
}

func parseOIDColumn(b []byte) codec.OID {
	var n uint32
	for _, c := range b {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + uint32(c-'0')
	}
	return codec.OID(n)
}

var namedParamPattern = regexp.MustCompile(`\$\(([a-zA-Z_][a-zA-Z0-9_]*)\)p`)

// rewriteNamedParams rewrites every $(name)p placeholder in sql to a
// positional $1..$n, deduplicating repeated names to one positional slot,
// and returns the ordered parameter list to bind.
func rewriteNamedParams(sql string, named map[string]any) (string, []any, error) {
	order := map[string]int{}
	var values []any
	var missing string

	rewritten := namedParamPattern.ReplaceAllStringFunc(sql, func(match string) string {
		name := namedParamPattern.FindStringSubmatch(match)[1]
		if idx, ok := order[name]; ok {
			return fmt.Sprintf("$%d", idx)
		}
		v, ok := named[name]
		if !ok {
			missing = name
			return match
		}
		values = append(values, v)
		idx := len(values)
		order[name] = idx
		return fmt.Sprintf("$%d", idx)
	})
	if missing != "" {
		return "", nil, newValueEncodeError(fmt.Sprintf("missing named parameter %q", missing), nil)
	}
	return rewritten, values, nil
}

// prepareRequest resolves sql+args (positional values, ParamValues, or a
// single named-parameter map) into a ready-to-send extended query request.
func (c *Connection) prepareRequest(sql string, args []any, o execOptions) (wire.ExtendedQueryRequest, error) {
	if len(args) == 1 {
		if named, ok := args[0].(map[string]any); ok {
			rewritten, ordered, err := rewriteNamedParams(sql, named)
			if err != nil {
				return wire.ExtendedQueryRequest{}, err
			}
			sql = rewritten
			args = ordered
		}
	}

	oids := make([]uint32, len(args))
	values := make([][]byte, len(args))
	for i, a := range args {
		pv := resolveParam(a)
		oid, raw, err := pv.encode(c.registry)
		if err != nil {
			return wire.ExtendedQueryRequest{}, newValueEncodeError(fmt.Sprintf("encoding parameter %d", i+1), err)
		}
		oids[i] = uint32(oid)
		values[i] = raw
	}

	prepared := true
	if o.prepared != nil {
		prepared = *o.prepared
	}
	maxRows := o.maxRows

	return wire.ExtendedQueryRequest{
		SQL:         sql,
		ParamOIDs:   oids,
		ParamValues: values,
		Prepared:    prepared,
		MaxRows:     maxRows,
	}, nil
}

func (c *Connection) execute(ctx context.Context, sql string, args []any, opts ...ExecOption) (*QueryResult, error) {
	if !c.mu.TryLock() {
		return nil, newInterfaceError("another operation is already in flight on this connection")
	}
	defer c.mu.Unlock()
	if c.closed {
		return nil, newConnectionClosedError("connection is closed")
	}

	o := buildExecOptions(opts)
	req, err := c.prepareRequest(sql, args, o)
	if err != nil {
		return nil, err
	}

	res, err := c.engine.Execute(ctx, c.stmtCache, req)
	if err != nil {
		return nil, wrapExecuteError(err)
	}

	return materialize(c.registry, res, o.decoders, c.typeCache, c.resolveCatalogType)
}

// Execute runs one statement to completion. args may be positional bare
// values / ParamValue wrappers, or a single map[string]any used against
// $(name)p placeholders. Non-row statements return a QueryResult with an
// empty Rows slice and a populated RowsAffected().
func (c *Connection) Execute(ctx context.Context, sql string, args ...any) (*QueryResult, error) {
	return c.execute(ctx, sql, args)
}

// ExecuteOpts is Execute with ExecOption tuning (WithPrepared, WithColumnDecoder).
func (c *Connection) ExecuteOpts(ctx context.Context, sql string, args []any, opts ...ExecOption) (*QueryResult, error) {
	return c.execute(ctx, sql, args, opts...)
}

// Fetch is Execute asserting the statement returns rows.
func (c *Connection) Fetch(ctx context.Context, sql string, args ...any) (*QueryResult, error) {
	res, err := c.execute(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	if res.columns == nil {
		return nil, newInterfaceError("statement does not return rows")
	}
	return res, nil
}

// FetchRow runs sql and asserts exactly one row was produced.
func (c *Connection) FetchRow(ctx context.Context, sql string, args ...any) (*SingleQueryResult, error) {
	res, err := c.Fetch(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) != 1 {
		return nil, newInterfaceError(fmt.Sprintf("fetch_row: expected exactly one row, got %d", len(res.Rows)))
	}
	return &SingleQueryResult{Row: res.Rows[0], ColumnOIDs: res.ColumnOIDs}, nil
}

// FetchVal runs sql and asserts exactly one row and one column.
func (c *Connection) FetchVal(ctx context.Context, sql string, args ...any) (any, error) {
	row, err := c.FetchRow(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	if len(row.Row) != 1 {
		return nil, newInterfaceError(fmt.Sprintf("fetch_val: expected exactly one column, got %d", len(row.Row)))
	}
	for _, v := range row.Row {
		return v, nil
	}
	return nil, nil
}

// ExecuteMany wraps paramSets in an implicit transaction, running sql once
// per entry; any failure rolls the transaction back. An empty paramSets
// fails loudly with TransactionExecuteError rather than silently no-op'ing.
func (c *Connection) ExecuteMany(ctx context.Context, sql string, paramSets [][]any) error {
	if len(paramSets) == 0 {
		return newTransactionExecuteError("execute_many called with zero parameter sets", nil)
	}
	tx, err := c.Transaction(ctx, TxOptions{})
	if err != nil {
		return err
	}
	for _, params := range paramSets {
		if _, err := tx.Execute(ctx, sql, params...); err != nil {
			_ = tx.Rollback(ctx)
			return newTransactionExecuteError("execute_many batch member failed", err)
		}
	}
	return tx.Commit(ctx)
}

// ExecuteBatch runs sql (which may contain multiple semicolon-joined
// statements and no parameters) via the simple query protocol, returning
// only the last statement's status, for DDL scripts.
func (c *Connection) ExecuteBatch(ctx context.Context, sql string) (*QueryResult, error) {
	if !c.mu.TryLock() {
		return nil, newInterfaceError("another operation is already in flight on this connection")
	}
	defer c.mu.Unlock()
	if c.closed {
		return nil, newConnectionClosedError("connection is closed")
	}

	results, err := c.engine.SimpleQuery(ctx, sql)
	if err != nil {
		return nil, wrapExecuteError(err)
	}
	if len(results) == 0 {
		return &QueryResult{}, nil
	}
	last := results[len(results)-1]

	cols := make([]string, len(last.Fields))
	oids := make([]uint32, len(last.Fields))
	for i, f := range last.Fields {
		cols[i] = f.Name
		oids[i] = f.DataTypeOID
	}
	rows := make([]Row, len(last.Rows))
	for i, raw := range last.Rows {
		row := make(Row, len(cols))
		for j, b := range raw {
			if b == nil {
				row[cols[j]] = nil
				continue
			}
			v, err := c.registry.Decode(codec.OID(oids[j]), b, nil)
			if err != nil {
				return nil, newValueDecodeError("decoding batch column "+cols[j], err)
			}
			row[cols[j]] = v
		}
		rows[i] = row
	}
	return &QueryResult{Rows: rows, ColumnOIDs: oids, columns: cols, tag: last.Tag}, nil
}

// BinaryCopyToTable streams a binary COPY payload (one that already
// carries the 19-byte PGCOPY header) into table, returning the number of
// rows inserted.
func (c *Connection) BinaryCopyToTable(ctx context.Context, stream []byte, table string, columns []string) (int64, error) {
	if !c.mu.TryLock() {
		return 0, newInterfaceError("another operation is already in flight on this connection")
	}
	defer c.mu.Unlock()
	if c.closed {
		return 0, newConnectionClosedError("connection is closed")
	}

	tuples, err := splitBinaryCopyTuples(stream)
	if err != nil {
		return 0, newValueDecodeError("parsing binary COPY stream", err)
	}

	copySQL := "COPY " + quoteIdentifier(table)
	if len(columns) > 0 {
		quoted := make([]string, len(columns))
		for i, col := range columns {
			quoted[i] = quoteIdentifier(col)
		}
		copySQL += " (" + strings.Join(quoted, ", ") + ")"
	}
	copySQL += " FROM STDIN WITH (FORMAT binary)"

	res, err := c.engine.CopyInBinary(ctx, copySQL, tuples)
	if err != nil {
		return 0, wrapExecuteError(err)
	}
	n := res.Tag.RowsAffected()
	if c.pool != nil {
		c.pool.mu.Lock()
		m := c.pool.metrics
		c.pool.mu.Unlock()
		if m != nil {
			m.ObserveCopyRows(n)
		}
	}
	return n, nil
}

func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// wrapExecuteError classifies an Engine failure for the caller: a server
// ErrorResponse is an operation error (the connection survives), a busy
// engine is caller misuse, anything else is a connectivity error that
// broke the connection.
func wrapExecuteError(err error) error {
	var pgErr *wire.PgError
	switch {
	case errors.As(err, &pgErr):
		return newConnectionExecuteError("executing statement", err)
	case errors.Is(err, wire.ErrBusy):
		return newInterfaceError("another operation is already in flight on this connection")
	default:
		return newConnectionError("executing statement", err)
	}
}

// Close releases the Connection. Pool-owned connections are handed back
// for recycling (the caller must treat the handle as consumed, the same
// contract a scoped sql.DB handle follows); standalone connections have
// their socket closed directly.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	pool := c.pool
	if pool == nil {
		c.closed = true
	}
	c.mu.Unlock()

	if pool != nil {
		pool.release(c)
		return nil
	}
	return c.engine.Close()
}

// discard marks the connection unusable without returning it to any pool,
// used internally when recycling or health checks fail.
func (c *Connection) discard() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.engine.Close()
}
