package dataio

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/errdefs"
)

// Format is a storage format.
type Format string

const (
	CSV     Format = "csv"
	Parquet Format = "parquet"
	Arrow   Format = "arrow"
)

// Ext returns the file extension of f, including the dot.
func (f Format) Ext() string { return "." + string(f) }

// ParseFormat returns the format named by hint, or the format implied by the
// extension of p when hint is empty.
func ParseFormat(hint, p string) (Format, error) {
	name := strings.ToLower(strings.TrimSpace(hint))
	if name == "" {
		name = strings.TrimPrefix(path.Ext(strings.TrimSuffix(p, "/")), ".")
	}
	switch name {
	case "csv":
		return CSV, nil
	case "parquet", "pq":
		return Parquet, nil
	case "arrow", "ipc", "feather":
		return Arrow, nil
	}
	return "", errdefs.Configurationf("can't determine the format of %q (hint %q)", p, hint)
}

// encoder writes records of one schema into a buffer.
type encoder interface {
	Write(rec arrow.Record) error
	Close() error
}

func newEncoder(f Format, w io.Writer, schema *arrow.Schema, mem memory.Allocator) (encoder, error) {
	switch f {
	case CSV:
		if dataframe.HasNestedTypes(schema) {
			return nil, errdefs.TypeMismatchf("csv can't store nested schema %s", schema)
		}
		return &csvEncoder{w: csv.NewWriter(w, schema, csv.WithHeader(true), csv.WithNullWriter(""))}, nil
	case Parquet:
		props := parquet.NewWriterProperties(
			parquet.WithCompression(compress.Codecs.Zstd),
			parquet.WithAllocator(mem),
		)
		fw, err := pqarrow.NewFileWriter(schema, w, props, pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(mem)))
		if err != nil {
			return nil, err
		}
		return fw, nil
	case Arrow:
		return ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem), ipc.WithZstd()), nil
	}
	return nil, errdefs.Configurationf("unsupported format %q", f)
}

type csvEncoder struct{ w *csv.Writer }

func (e *csvEncoder) Write(rec arrow.Record) error { return e.w.Write(rec) }

func (e *csvEncoder) Close() error {
	e.w.Flush()
	return e.w.Error()
}

// decode reads all records of one object. schema is only used by CSV; when
// nil the CSV column types are inferred.
func decode(ctx context.Context, f Format, data []byte, schema *arrow.Schema, mem memory.Allocator) ([]arrow.Record, error) {
	switch f {
	case CSV:
		var r *csv.Reader
		if schema != nil {
			r = csv.NewReader(bytes.NewReader(data), schema,
				csv.WithHeader(true), csv.WithNullReader(true, ""), csv.WithAllocator(mem), csv.WithChunk(-1))
		} else {
			r = csv.NewInferringReader(bytes.NewReader(data),
				csv.WithHeader(true), csv.WithNullReader(true, ""), csv.WithAllocator(mem), csv.WithChunk(-1))
		}
		defer r.Release()
		return collect(r)

	case Parquet:
		tbl, err := pqarrow.ReadTable(ctx, bytes.NewReader(data), parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
		if err != nil {
			return nil, err
		}
		defer tbl.Release()
		rec, err := dataframe.TableRecord(tbl, mem)
		if err != nil {
			return nil, err
		}
		return []arrow.Record{rec}, nil

	case Arrow:
		r, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(mem))
		if err != nil {
			return nil, err
		}
		defer r.Release()
		return collect(r)
	}
	return nil, errdefs.Configurationf("unsupported format %q", f)
}

type recordIterator interface {
	Next() bool
	Record() arrow.Record
	Err() error
}

func collect(it recordIterator) ([]arrow.Record, error) {
	var out []arrow.Record
	for it.Next() {
		rec := it.Record()
		rec.Retain()
		out = append(out, rec)
	}
	if err := it.Err(); err != nil && err != io.EOF {
		for _, rec := range out {
			rec.Release()
		}
		return nil, err
	}
	return out, nil
}
