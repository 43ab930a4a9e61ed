// Package cfg loads configuration from flag defaults, a YAML file and the
// command line.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Source is a generic configuration source. It is passed a pointer to the
// destination, which may already hold values of previous sources.
type Source func(dst any) error

// Registerer is implemented by configurations that bind their fields to
// flags.
type Registerer interface {
	RegisterFlags(fs *flag.FlagSet)
}

// Unmarshal applies sources to dst in order. Later sources win.
func Unmarshal(dst any, sources ...Source) error {
	if len(sources) == 0 {
		return errors.New("no configuration sources")
	}
	for _, source := range sources {
		if err := source(dst); err != nil {
			return fmt.Errorf("sourcing: %w", err)
		}
	}
	return nil
}

// Parse registers the flags of dst on fs and applies, lowest priority first,
// the flag defaults, the YAML file named by the configFlag flag and the flags
// explicitly set in args.
func Parse(dst Registerer, fs *flag.FlagSet, args []string, configFlag string) error {
	var set map[string]string
	return Unmarshal(dst,
		Defaults(fs),
		Flags(fs, args, &set),
		YAMLFlag(fs, configFlag),
		Reapply(fs, &set),
	)
}

// Defaults registers the flags of dst on fs, which sets every bound field to
// its default.
func Defaults(fs *flag.FlagSet) Source {
	return func(dst any) error {
		r, ok := dst.(Registerer)
		if !ok {
			return fmt.Errorf("%T does not register flags", dst)
		}
		r.RegisterFlags(fs)
		return nil
	}
}

// Flags parses args into the flags registered on fs and records the flags
// that were explicitly set in set.
func Flags(fs *flag.FlagSet, args []string, set *map[string]string) Source {
	return func(any) error {
		if err := fs.Parse(args); err != nil {
			return err
		}
		*set = make(map[string]string)
		fs.Visit(func(f *flag.Flag) {
			(*set)[f.Name] = f.Value.String()
		})
		return nil
	}
}

// YAMLFlag decodes the file named by the value of the flag name into dst.
// Nothing is read when the flag is empty.
func YAMLFlag(fs *flag.FlagSet, name string) Source {
	return func(dst any) error {
		f := fs.Lookup(name)
		if f == nil || f.Value.String() == "" {
			return nil
		}
		return YAML(f.Value.String())(dst)
	}
}

// YAML decodes the file at path into dst. Unknown fields are errors.
func YAML(path string) Source {
	return func(dst any) error {
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: %w", path, err)
		}
		return nil
	}
}

// Reapply sets the flags recorded in set again so that the command line
// wins over the YAML file.
func Reapply(fs *flag.FlagSet, set *map[string]string) Source {
	return func(any) error {
		for name, value := range *set {
			if err := fs.Set(name, value); err != nil {
				return err
			}
		}
		return nil
	}
}
