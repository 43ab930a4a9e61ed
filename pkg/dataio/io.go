// Package dataio loads and saves dataframes in CSV, Parquet and Arrow IPC
// format on object storage.
//
// A path names either a single object or a directory of part objects.
// Directories written with partition keys use key=value sub directories;
// those segments are restored as string columns on load.
package dataio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/ulid/v2"
	"github.com/thanos-io/objstore"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/errdefs"
	"github.com/dagframe/dagframe/pkg/execution"
)

// ErrPathExists is returned when saving with [execution.SaveError] to a path
// that already holds data. It is a configuration error.
var ErrPathExists = &errdefs.Error{Kind: errdefs.ErrConfiguration, Msg: "path already exists"}

// IO reads and writes dataframes on a bucket.
type IO struct {
	bucket objstore.Bucket
	logger log.Logger
	mem    memory.Allocator
}

// New returns an IO bound to bucket. A nil logger discards logs.
func New(bucket objstore.Bucket, logger log.Logger, mem memory.Allocator) *IO {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &IO{bucket: bucket, logger: logger, mem: mem}
}

// Bucket returns the underlying bucket.
func (d *IO) Bucket() objstore.Bucket { return d.bucket }

// Load reads all objects at paths and returns them as one record per object.
// All objects must share one schema after hive columns are added.
func (d *IO) Load(ctx context.Context, paths []string, opts execution.LoadOptions) (*arrow.Schema, []arrow.Record, error) {
	if len(paths) == 0 {
		return nil, nil, errdefs.Configurationf("no path to load")
	}

	typed, names, err := parseColumns(opts.Columns)
	if err != nil {
		return nil, nil, err
	}

	var (
		schema *arrow.Schema
		out    []arrow.Record
	)
	for _, p := range paths {
		format, err := ParseFormat(opts.Format, p)
		if err != nil {
			return nil, nil, err
		}
		objects, err := d.objects(ctx, p)
		if err != nil {
			return nil, nil, errdefs.Backend("load "+p, err)
		}
		if len(objects) == 0 {
			return nil, nil, errdefs.Backend("load", fmt.Errorf("%s: %w", p, errNotFound))
		}

		for _, obj := range objects {
			recs, err := d.loadObject(ctx, obj, format, typed, hiveValues(p, obj))
			if err != nil {
				return nil, nil, err
			}
			for _, rec := range recs {
				if schema == nil {
					schema = rec.Schema()
				} else if !schema.Equal(rec.Schema()) {
					return nil, nil, errdefs.TypeMismatchf("%s has schema %s, expected %s", obj, rec.Schema(), schema)
				}
				out = append(out, rec)
			}
		}
	}

	if schema == nil {
		if typed == nil {
			return nil, nil, errdefs.TypeMismatchf("can't determine the schema of %v", paths)
		}
		schema = typed
	}
	if len(names) > 0 {
		return selectColumns(schema, out, names)
	}
	return schema, out, nil
}

var errNotFound = errors.New("no objects found")

func (d *IO) loadObject(ctx context.Context, name string, format Format, typed *arrow.Schema, hive [][2]string) ([]arrow.Record, error) {
	rc, err := d.bucket.Get(ctx, name)
	if err != nil {
		return nil, errdefs.Backend("get "+name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errdefs.Backend("read "+name, err)
	}

	// Typed columns drive CSV parsing. Hive columns are not part of the
	// stored data.
	var csvSchema *arrow.Schema
	if format == CSV && typed != nil {
		csvSchema = withoutColumns(typed, hiveKeys(hive))
	}
	recs, err := decode(ctx, format, data, csvSchema, d.mem)
	if err != nil {
		return nil, errdefs.Backend("decode "+name, err)
	}

	if len(hive) > 0 {
		for i, rec := range recs {
			recs[i], err = addHiveColumns(rec, hive, d.mem)
			if err != nil {
				return nil, err
			}
		}
	}
	if typed != nil && format != CSV {
		for _, rec := range recs {
			if err := checkTypes(rec.Schema(), typed); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
		}
	}

	level.Debug(d.logger).Log("msg", "loaded object", "object", name, "format", format, "records", len(recs))
	return recs, nil
}

// objects lists the data objects at p: p itself if it is an object, or every
// object below it otherwise. Names starting with "_" or "." are skipped.
func (d *IO) objects(ctx context.Context, p string) ([]string, error) {
	p = strings.TrimSuffix(p, objstore.DirDelim)
	var out []string
	if err := d.walk(ctx, p+objstore.DirDelim, func(name string) {
		base := path.Base(name)
		if !strings.HasPrefix(base, "_") && !strings.HasPrefix(base, ".") {
			out = append(out, name)
		}
	}); err != nil {
		return nil, err
	}
	if len(out) > 0 {
		slices.Sort(out)
		return out, nil
	}

	ok, err := d.bucket.Exists(ctx, p)
	if err != nil || !ok {
		return nil, err
	}
	return []string{p}, nil
}

// walk calls f for every object below dir, recursing into sub directories.
func (d *IO) walk(ctx context.Context, dir string, f func(name string)) error {
	return d.bucket.Iter(ctx, dir, func(name string) error {
		if strings.HasSuffix(name, objstore.DirDelim) {
			return d.walk(ctx, name, f)
		}
		f(name)
		return nil
	})
}

// Save writes parts to p. See [execution.SaveOptions] for the layout.
func (d *IO) Save(ctx context.Context, schema *arrow.Schema, parts []arrow.Record, p string, opts execution.SaveOptions) error {
	p = strings.TrimSuffix(p, objstore.DirDelim)
	format, err := ParseFormat(opts.Format, p)
	if err != nil {
		return err
	}
	mode, err := execution.ParseSaveMode(string(opts.Mode))
	if err != nil {
		return err
	}

	existing, err := d.objects(ctx, p)
	if err != nil {
		return errdefs.Backend("list "+p, err)
	}
	if len(existing) > 0 {
		switch mode {
		case execution.SaveError:
			return fmt.Errorf("%w: %s", ErrPathExists, p)
		case execution.SaveOverwrite:
			if err := d.delete(ctx, p); err != nil {
				return err
			}
		case execution.SaveAppend:
			if opts.ForceSingle {
				return errdefs.Unsupportedf("can't append to single object %s", p)
			}
		}
	}

	if opts.ForceSingle {
		rec, err := dataframe.ConcatRecords(d.mem, schema, parts)
		if err != nil {
			return err
		}
		defer rec.Release()
		return d.writeObject(ctx, p, format, schema, []arrow.Record{rec})
	}

	// Part names are unique across appends.
	prefix := "part-"
	if mode == execution.SaveAppend {
		prefix += ulid.Make().String() + "-"
	}

	var nonEmpty []arrow.Record
	for _, part := range parts {
		if part.NumRows() > 0 {
			nonEmpty = append(nonEmpty, part)
		}
	}
	if len(nonEmpty) == 0 {
		// An empty dataframe still leaves an object carrying its schema.
		empty := dataframe.EmptyRecord(schema)
		defer empty.Release()
		nonEmpty = []arrow.Record{empty}
	}

	keys := opts.Partition.PartitionBy()
	written := 0
	for i, part := range nonEmpty {
		file := fmt.Sprintf("%s%05d%s", prefix, i, format.Ext())
		if len(keys) == 0 || part.NumRows() == 0 {
			if err := d.writeObject(ctx, path.Join(p, file), format, schema, []arrow.Record{part}); err != nil {
				return err
			}
			written++
			continue
		}

		groups, err := splitByKeys(part, keys, d.mem)
		if err != nil {
			return err
		}
		for _, g := range groups {
			err := d.writeObject(ctx, path.Join(p, g.dir, file), format, g.rec.Schema(), []arrow.Record{g.rec})
			g.rec.Release()
			if err != nil {
				return err
			}
			written++
		}
	}

	level.Info(d.logger).Log("msg", "saved dataframe", "path", p, "format", format, "mode", mode, "objects", written)
	return nil
}

// delete removes every object at p, hidden ones included.
func (d *IO) delete(ctx context.Context, p string) error {
	var all []string
	if err := d.walk(ctx, p+objstore.DirDelim, func(name string) { all = append(all, name) }); err != nil {
		return errdefs.Backend("list "+p, err)
	}
	if len(all) == 0 {
		all = []string{p}
	}
	for _, obj := range all {
		if err := d.bucket.Delete(ctx, obj); err != nil && !d.bucket.IsObjNotFoundErr(err) {
			return errdefs.Backend("delete "+obj, err)
		}
	}
	return nil
}

func (d *IO) writeObject(ctx context.Context, name string, format Format, schema *arrow.Schema, recs []arrow.Record) error {
	var buf bytes.Buffer
	enc, err := newEncoder(format, &buf, schema, d.mem)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := enc.Write(rec); err != nil {
			return errdefs.Backend("encode "+name, err)
		}
	}
	if err := enc.Close(); err != nil {
		return errdefs.Backend("encode "+name, err)
	}
	size := buf.Len()
	if err := d.bucket.Upload(ctx, name, &buf); err != nil {
		return errdefs.Backend("upload "+name, err)
	}
	level.Debug(d.logger).Log("msg", "wrote object", "object", name, "size", humanize.Bytes(uint64(size)))
	return nil
}
