// Package sqldb implements database.Store on database/sql. Backends supply a
// Dialect describing the few places where SQL engines disagree.
package sqldb

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// VectorScanner scans an embedding column.
type VectorScanner interface {
	sql.Scanner
	Slice() []float32
}

// Dialect describes an SQL engine.
type Dialect struct {
	Name string

	// Schema holds DDL statements separated by ";", executed one by one.
	Schema string

	// TableExistsQuery counts tables named schema_version, taking no arguments.
	TableExistsQuery string

	// Numbered switches placeholders from ? to $1, $2, ...
	Numbered bool

	// Returning makes inserts use RETURNING id instead of LastInsertId.
	Returning bool

	// EncodeVector converts an embedding into a query argument.
	EncodeVector func(v []float32) any

	// NewVectorScanner returns a destination for an embedding column.
	NewVectorScanner func() VectorScanner
}

// rebind rewrites ? placeholders for dialects with numbered parameters.
func (d Dialect) rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// statements splits the schema into individual statements.
func (d Dialect) statements() []string {
	var out []string
	for _, stmt := range strings.Split(d.Schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// EncodeBlob stores an embedding as little-endian float32 bytes.
func EncodeBlob(v []float32) any {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// BlobVector scans embeddings stored by EncodeBlob.
type BlobVector struct {
	vec []float32
}

// NewBlobVector is a Dialect.NewVectorScanner for blob columns.
func NewBlobVector() VectorScanner { return &BlobVector{} }

// Scan implements sql.Scanner.
func (b *BlobVector) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		b.vec = nil
		return nil
	default:
		return fmt.Errorf("unsupported embedding column type %T", src)
	}
	if len(raw)%4 != 0 {
		return fmt.Errorf("embedding blob length %d is not a multiple of 4", len(raw))
	}
	b.vec = make([]float32, len(raw)/4)
	for i := range b.vec {
		b.vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return nil
}

// Slice returns the decoded embedding.
func (b *BlobVector) Slice() []float32 { return b.vec }
