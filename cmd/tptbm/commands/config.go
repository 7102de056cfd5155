package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/goccy/go-yaml"
	"github.com/spf13/viper"

	"tptbm/api/tptbmapi"
)

// readConfigFile decodes a benchmark spec from a YAML or TOML file. An
// optional selector picks a nested YAML document.
func readConfigFile(path, selector string, stdin io.Reader) (spec tptbmapi.BenchmarkSpec, err error) {
	if path == "" {
		return spec, nil
	}

	var in io.Reader
	if path == "-" {
		in = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return spec, errors.Wrap(err, "open config file")
		}
		defer f.Close()
		in = f
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if selector != "" {
			return spec, errors.New("config selectors are only supported for YAML files")
		}
		if _, err := toml.NewDecoder(in).Decode(&spec); err != nil {
			return spec, errors.Wrap(err, "decode toml config file")
		}
		return spec, nil
	}

	if selector != "" {
		var p *yaml.Path
		p, err = yaml.PathString(fmt.Sprintf("$.%s", selector))
		if err != nil {
			return spec, errors.Wrapf(err, "invalid config selector %q", selector)
		}
		err = p.Read(in, &spec)
	} else {
		err = yaml.NewDecoder(in).Decode(&spec)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return spec, errors.Wrap(err, "decode yaml config file")
	}
	return spec, nil
}

type specField struct {
	key string
	set func(v *viper.Viper, s *tptbmapi.BenchmarkSpec)
}

func intField(key string, field func(*tptbmapi.BenchmarkSpec) **int) specField {
	return specField{key, func(v *viper.Viper, s *tptbmapi.BenchmarkSpec) {
		*field(s) = tptbmapi.Ptr(v.GetInt(key))
	}}
}

func boolField(key string, field func(*tptbmapi.BenchmarkSpec) **bool) specField {
	return specField{key, func(v *viper.Viper, s *tptbmapi.BenchmarkSpec) {
		*field(s) = tptbmapi.Ptr(v.GetBool(key))
	}}
}

func stringField(key string, field func(*tptbmapi.BenchmarkSpec) **string) specField {
	return specField{key, func(v *viper.Viper, s *tptbmapi.BenchmarkSpec) {
		*field(s) = tptbmapi.Ptr(v.GetString(key))
	}}
}

// specFields maps flags (and their TPTBM_* variables) onto the BenchmarkSpec. Only
// keys set explicitly override the config file.
var specFields = []specField{
	stringField("driver", func(s *tptbmapi.BenchmarkSpec) **string { return &s.Target.Driver }),
	stringField("service", func(s *tptbmapi.BenchmarkSpec) **string { return &s.Target.Service }),
	stringField("user", func(s *tptbmapi.BenchmarkSpec) **string { return &s.Target.User }),
	stringField("password", func(s *tptbmapi.BenchmarkSpec) **string { return &s.Target.Password }),
	{"seed", func(v *viper.Viper, s *tptbmapi.BenchmarkSpec) { s.Seed = tptbmapi.Ptr(v.GetInt64("seed")) }},
	intField("proc", func(s *tptbmapi.BenchmarkSpec) **int { return &s.Processes }),
	intField("xact", func(s *tptbmapi.BenchmarkSpec) **int { return &s.Transactions }),
	intField("key", func(s *tptbmapi.BenchmarkSpec) **int { return &s.Keys }),
	intField("min", func(s *tptbmapi.BenchmarkSpec) **int { return &s.MinOps }),
	intField("max", func(s *tptbmapi.BenchmarkSpec) **int { return &s.MaxOps }),
	intField("read", func(s *tptbmapi.BenchmarkSpec) **int { return &s.Read }),
	intField("update", func(s *tptbmapi.BenchmarkSpec) **int { return &s.Update }),
	intField("insert", func(s *tptbmapi.BenchmarkSpec) **int { return &s.Insert }),
	intField("delete", func(s *tptbmapi.BenchmarkSpec) **int { return &s.Delete }),
	boolField("multiop", func(s *tptbmapi.BenchmarkSpec) **bool { return &s.MultiOp }),
	intField("thinkTime", func(s *tptbmapi.BenchmarkSpec) **int { return &s.ThinkTimeMillis }),
	boolField("build", func(s *tptbmapi.BenchmarkSpec) **bool { return &s.BuildOnly }),
	boolField("nobuild", func(s *tptbmapi.BenchmarkSpec) **bool { return &s.NoBuild }),
	boolField("range", func(s *tptbmapi.BenchmarkSpec) **bool { return &s.RangeIndex }),
	intField("poll-interval", func(s *tptbmapi.BenchmarkSpec) **int { return &s.PollIntervalMillis }),
	{"spawn", func(v *viper.Viper, s *tptbmapi.BenchmarkSpec) {
		s.Spawn = tptbmapi.Ptr(tptbmapi.SpawnMode(strings.ToLower(v.GetString("spawn"))))
	}},
}

// resolveSpec layers, from lowest to highest precedence, the config file,
// TPTBM_* environment variables and explicit flags. Defaults apply later to
// whatever is still unset.
func resolveSpec(v *viper.Viper, stdin io.Reader) (*tptbmapi.BenchmarkSpec, error) {
	spec, err := readConfigFile(v.GetString("config"), v.GetString("config-selector"), stdin)
	if err != nil {
		return nil, err
	}

	for _, f := range specFields {
		if v.IsSet(f.key) {
			f.set(v, &spec)
		}
	}
	return &spec, nil
}
