package pgasync

import (
	"github.com/augustdb/pgasync/internal/codec"
	"github.com/augustdb/pgasync/internal/wire"
)

// Row is one decoded result row: column name -> decoded Go value.
type Row map[string]any

// ColumnDecoder overrides the default decode for one named column,
// receiving the raw server bytes and returning any host value.
type ColumnDecoder func(raw []byte) (any, error)

// QueryResult is the immutable materialization of one statement's output.
type QueryResult struct {
	Rows       []Row
	ColumnOIDs []uint32
	columns    []string
	tag        wire.CommandTag
}

// RowsAffected parses the row count PostgreSQL reported in CommandComplete
// (0 for statements, such as BEGIN, that carry none).
func (r *QueryResult) RowsAffected() int64 { return r.tag.RowsAffected() }

// Len returns the number of rows materialized.
func (r *QueryResult) Len() int { return len(r.Rows) }

// SingleQueryResult is the materialization of fetch_row: exactly one row.
type SingleQueryResult struct {
	Row        Row
	ColumnOIDs []uint32
}

// materialize decodes one extended-query result into a QueryResult,
// applying per-column decoder overrides by name when present.
func materialize(reg *codec.Registry, res *wire.ExtendedQueryResult, overrides map[string]ColumnDecoder, typeCache *codec.TypeInfoCache, resolve func(codec.OID) (*codec.TypeInfo, error)) (*QueryResult, error) {
	var cols []string
	oids := make([]uint32, len(res.Fields))
	if len(res.Fields) > 0 {
		cols = make([]string, len(res.Fields))
	}
	for i, f := range res.Fields {
		cols[i] = f.Name
		oids[i] = f.DataTypeOID
	}

	rows := make([]Row, len(res.Rows))
	for i, rawRow := range res.Rows {
		row := make(Row, len(cols))
		for j, raw := range rawRow {
			oid := codec.OID(oids[j])
			if typeCache != nil && resolve != nil {
				if err := typeCache.EnsureRegistered(oid, resolve); err != nil {
					return nil, newValueDecodeError("resolving composite/enum type", err)
				}
			}
			var override func([]byte) (any, error)
			if ov, ok := overrides[cols[j]]; ok {
				override = ov
			}
			if raw == nil {
				row[cols[j]] = nil
				continue
			}
			v, err := reg.Decode(oid, raw, override)
			if err != nil {
				return nil, newValueDecodeError("decoding column "+cols[j], err)
			}
			row[cols[j]] = v
		}
		rows[i] = row
	}

	return &QueryResult{Rows: rows, ColumnOIDs: oids, columns: cols, tag: res.Tag}, nil
}
