package main

import (
	"flag"

	dslog "github.com/grafana/dskit/log"

	"github.com/dagframe/dagframe/pkg/execution"
	"github.com/dagframe/dagframe/pkg/pipeline"
)

// Config is the configuration of a pipeline run. The pipeline steps live in
// the same YAML file as the settings.
type Config struct {
	ConfigFile  string       `yaml:"-"`
	LogLevel    dslog.Level  `yaml:"log_level"`
	LogFormat   dslog.Format `yaml:"log_format"`
	StorageDir  string       `yaml:"storage_dir"`
	MetricsFile string       `yaml:"metrics_file"`
	Concurrency int          `yaml:"concurrency"`

	// Engine is the runtime configuration of the engine session, for
	// example dagframe.engine.default_partitions.
	Engine map[string]string `yaml:"engine"`

	pipeline.Config `yaml:",inline"`
}

// RegisterFlags registers the flags of c on fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config.file", "", "Pipeline file to run.")
	c.LogLevel.RegisterFlags(fs)
	c.LogFormat.RegisterFlags(fs)
	fs.StringVar(&c.StorageDir, "storage.dir", ".", "Root directory of the paths loaded and saved by the pipeline.")
	fs.StringVar(&c.MetricsFile, "metrics.file", "", "Write the metrics of the run to this file in the Prometheus text format.")
	fs.IntVar(&c.Concurrency, "workflow.concurrency", 4, "Maximum number of steps running at once.")
}

func (c *Config) engineConf() execution.Conf {
	conf := make(execution.Conf, len(c.Engine))
	for k, v := range c.Engine {
		conf[k] = v
	}
	return conf
}
