package execution

import (
	"fmt"
	"strconv"
	"strings"

	"dario.cat/mergo"

	"github.com/dagframe/dagframe/pkg/errdefs"
)

// Configuration keys recognised by the engines.
const (
	ConfUseBatchUDF         = "dagframe.engine.use_batch_udf"
	ConfDefaultPersistLevel = "dagframe.engine.default_persist_level"
	ConfDefaultPartitions   = "dagframe.engine.default_partitions"
	ConfMaxWorkers          = "dagframe.engine.max_workers"
	ConfRandomSeed          = "dagframe.engine.random_seed"
)

// DefaultConf returns the engine defaults.
func DefaultConf() Conf {
	return Conf{
		ConfUseBatchUDF:         false,
		ConfDefaultPersistLevel: string(MemoryAndDisk),
		ConfDefaultPartitions:   4,
		ConfMaxWorkers:          4,
		ConfRandomSeed:          0,
	}
}

// Conf is a flat configuration bag. Values may be typed or strings; the
// getters convert between the two.
type Conf map[string]any

// MergeConf layers confs from lowest to highest priority on top of each
// other. Later layers override earlier ones, including with zero values.
func MergeConf(layers ...Conf) (Conf, error) {
	out := Conf{}
	for _, layer := range layers {
		if len(layer) == 0 {
			continue
		}
		if err := mergo.Merge(&out, layer, mergo.WithOverride); err != nil {
			return nil, errdefs.Configurationf("merging configuration: %v", err)
		}
	}
	return out, nil
}

// Has reports whether key is set.
func (c Conf) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// Bool returns the boolean value of key.
func (c Conf) Bool(key string) (bool, error) {
	v, ok := c[key]
	if !ok {
		return false, missing(key)
	}
	switch v := v.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, invalid(key, v, "bool")
		}
		return b, nil
	}
	return false, invalid(key, v, "bool")
}

// Int returns the integer value of key.
func (c Conf) Int(key string) (int, error) {
	v, ok := c[key]
	if !ok {
		return 0, missing(key)
	}
	switch v := v.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case int32:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, invalid(key, v, "int")
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, invalid(key, v, "int")
		}
		return n, nil
	}
	return 0, invalid(key, v, "int")
}

// String returns the string value of key.
func (c Conf) String(key string) (string, error) {
	v, ok := c[key]
	if !ok {
		return "", missing(key)
	}
	switch v := v.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return fmt.Sprint(v), nil
}

// BoolOr returns the boolean value of key, or def if it is not set.
func (c Conf) BoolOr(key string, def bool) (bool, error) {
	if !c.Has(key) {
		return def, nil
	}
	return c.Bool(key)
}

// IntOr returns the integer value of key, or def if it is not set.
func (c Conf) IntOr(key string, def int) (int, error) {
	if !c.Has(key) {
		return def, nil
	}
	return c.Int(key)
}

func missing(key string) error {
	return errdefs.Configurationf("%s is not set", key)
}

func invalid(key string, v any, want string) error {
	return errdefs.Configurationf("%s=%v is not a valid %s", key, v, want)
}
