package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/chiron/internal/schema"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Viper folds map keys to lower case, so anything keyed by a user-chosen
// name (field names, product ids) is declared as a list.

// FieldSpec declares an additional field.
type FieldSpec struct {
	Name      string `mapstructure:"name" validate:"required"`
	Type      string `mapstructure:"type" validate:"required,oneof=string number boolean date"`
	Required  bool   `mapstructure:"required"`
	Unique    bool   `mapstructure:"unique"`
	BigInt    bool   `mapstructure:"bigint"`
	FieldName string `mapstructure:"fieldName"`
}

// Rename maps an abstract field to a physical column.
type Rename struct {
	Field  string `mapstructure:"field" validate:"required"`
	Column string `mapstructure:"column" validate:"required"`
}

type EntitySpec struct {
	ModelName        string      `mapstructure:"modelName"`
	Fields           []Rename    `mapstructure:"fields" validate:"dive"`
	AdditionalFields []FieldSpec `mapstructure:"additionalFields" validate:"dive"`
}

type AccessLevel struct {
	Product string `mapstructure:"product" validate:"required"`
	Level   string `mapstructure:"level" validate:"required"`
}

type StripeSpec struct {
	AccessLevels []AccessLevel `mapstructure:"accessLevels" validate:"dive"`
}

// File is the optional YAML configuration under the top-level "chiron" key.
type File struct {
	Casing             string     `mapstructure:"casing" validate:"omitempty,oneof=camel snake"`
	Customer           EntitySpec `mapstructure:"customer"`
	Subscription       EntitySpec `mapstructure:"subscription"`
	CustomerExternalID EntitySpec `mapstructure:"customerExternalId"`
	RateLimit          EntitySpec `mapstructure:"rateLimit"`
	Stripe             StripeSpec `mapstructure:"stripe"`
}

var validate = validator.New()

func (f File) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("invalid config file: %w", err)
	}
	return nil
}

// AccessLevels returns the Stripe product id to access level map.
func (f File) AccessLevels() map[string]string {
	out := make(map[string]string, len(f.Stripe.AccessLevels))
	for _, al := range f.Stripe.AccessLevels {
		out[al.Product] = al.Level
	}
	return out
}

// SchemaOptions converts the file into schema options. casing overrides the
// file when non-empty. The rate-limit table is only declared when withRateLimit is set.
func (f File) SchemaOptions(casing string, withRateLimit bool) schema.Options {
	if casing == "" {
		casing = f.Casing
	}
	opts := schema.Options{
		Casing:             schema.Casing(casing),
		Customer:           f.Customer.entityOptions(),
		Subscription:       f.Subscription.entityOptions(),
		CustomerExternalID: f.CustomerExternalID.entityOptions(),
	}
	if withRateLimit {
		opts.RateLimit = &schema.RateLimitOptions{
			ModelName: f.RateLimit.ModelName,
			Fields:    renames(f.RateLimit.Fields),
		}
	}
	return opts
}

func (e EntitySpec) entityOptions() schema.EntityOptions {
	opts := schema.EntityOptions{ModelName: e.ModelName, Fields: renames(e.Fields)}
	if len(e.AdditionalFields) > 0 {
		opts.AdditionalFields = make(map[string]schema.FieldAttribute, len(e.AdditionalFields))
		for _, f := range e.AdditionalFields {
			opts.AdditionalFields[f.Name] = schema.FieldAttribute{
				Type:      schema.FieldType(f.Type),
				Required:  f.Required,
				Unique:    f.Unique,
				BigInt:    f.BigInt,
				FieldName: f.FieldName,
			}
		}
	}
	return opts
}

func renames(in []Rename) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for _, r := range in {
		out[r.Field] = r.Column
	}
	return out
}

// FileHolder keeps the latest valid File. Only settings read at call time
// (Stripe access levels) follow reloads; the schema is built once.
type FileHolder struct {
	current atomic.Pointer[File]
}

// NewFileHolder wraps a static File, mostly for tests and embedding.
func NewFileHolder(f File) *FileHolder {
	h := &FileHolder{}
	h.current.Store(&f)
	return h
}

func (h *FileHolder) Get() File {
	return *h.current.Load()
}

// LoadFile reads cfg.ConfigPath, or chiron.yml from /etc/chiron or the working
// directory. A missing file yields an empty File. Changes are watched and
// applied when they validate.
func LoadFile(cfg Config, log *zap.Logger) (*FileHolder, error) {
	v := viper.New()
	if cfg.ConfigPath != "" {
		v.SetConfigFile(cfg.ConfigPath)
	} else {
		v.SetConfigName("chiron")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/chiron")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("CHIRON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		return NewFileHolder(File{}), nil
	}

	f, err := decodeFile(v)
	if err != nil {
		return nil, err
	}
	holder := NewFileHolder(f)

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeFile(v)
		if err != nil {
			log.Warn("config reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(&updated)
		log.Info("config reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func decodeFile(v *viper.Viper) (File, error) {
	var f File
	if err := v.UnmarshalKey("chiron", &f); err != nil {
		return File{}, fmt.Errorf("decode config file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}
