package cfg

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type Server struct {
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
}

type Data struct {
	ConfigFile string `yaml:"-"`
	Verbose    bool   `yaml:"verbose"`
	Server     Server `yaml:"server"`
}

func (d *Data) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&d.ConfigFile, "config.file", "", "")
	fs.BoolVar(&d.Verbose, "verbose", false, "")
	fs.IntVar(&d.Server.Port, "server.port", 80, "")
	fs.DurationVar(&d.Server.Timeout, "server.timeout", time.Minute, "")
}

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParse(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		var d Data
		require.NoError(t, Parse(&d, flag.NewFlagSet("test", flag.ContinueOnError), nil, "config.file"))
		require.Equal(t, Data{Server: Server{Port: 80, Timeout: time.Minute}}, d)
	})

	t.Run("flags win over the file", func(t *testing.T) {
		path := writeYAML(t, `
verbose: true
server:
  port: 2000
  timeout: 60h
`)
		var d Data
		err := Parse(&d, flag.NewFlagSet("test", flag.ContinueOnError), []string{"-config.file", path, "-server.port=21"}, "config.file")
		require.NoError(t, err)
		require.Equal(t, Data{
			ConfigFile: path,
			Verbose:    true,
			Server:     Server{Port: 21, Timeout: 60 * time.Hour},
		}, d)
	})

	t.Run("empty file", func(t *testing.T) {
		var d Data
		err := Parse(&d, flag.NewFlagSet("test", flag.ContinueOnError), []string{"-config.file", writeYAML(t, "")}, "config.file")
		require.NoError(t, err)
		require.Equal(t, 80, d.Server.Port)
	})

	t.Run("unknown field", func(t *testing.T) {
		var d Data
		err := Parse(&d, flag.NewFlagSet("test", flag.ContinueOnError), []string{"-config.file", writeYAML(t, "bogus: 1\n")}, "config.file")
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		var d Data
		err := Parse(&d, flag.NewFlagSet("test", flag.ContinueOnError), []string{"-config.file", filepath.Join(t.TempDir(), "nope.yaml")}, "config.file")
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestUnmarshal_NoSources(t *testing.T) {
	require.Error(t, Unmarshal(&Data{}))
}
