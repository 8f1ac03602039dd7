package config

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned for config files whose extension is not
// .json, .toml, .yaml or .yml.
var ErrUnknownFormat = errors.New("unknown config file format")

// Format is the encoding of a config file.
type Format int

const (
	FormatJSON Format = iota
	FormatTOML
	FormatYAML
)

// FormatOf picks the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return 0, errors.Wrapf(ErrUnknownFormat, "%s", path)
	}
}

// Reader is a struct for reading a config file.
type Reader struct {
	file   *os.File
	format Format
}

// NewReader opens the config file at path.
func NewReader(path string) (*Reader, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	return &Reader{file: file, format: format}, nil
}

// Close closes the config file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadConfig decodes the file over cfg. Keys missing from the file keep
// the values already in cfg.
func (r *Reader) ReadConfig(cfg *Config) error {
	b, err := io.ReadAll(r.file)
	if err != nil {
		return errors.Wrapf(err, "read %s", r.file.Name())
	}

	switch r.format {
	case FormatJSON:
		err = json.Unmarshal(b, cfg)
	case FormatTOML:
		err = toml.Unmarshal(b, cfg)
	case FormatYAML:
		err = yaml.Unmarshal(b, cfg)
	}
	return errors.Wrapf(err, "decode %s", r.file.Name())
}

// ReadFile is a shortcut for NewReader, ReadConfig and Close.
func ReadFile(path string, cfg *Config) (err error) {
	r, err := NewReader(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); err == nil {
			err = cerr
		}
	}()

	return r.ReadConfig(cfg)
}
