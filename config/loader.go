package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ceyewan/scoutquest/clog"
	"github.com/ceyewan/scoutquest/xerrors"
)

// ErrValidationFailed 配置校验失败
var ErrValidationFailed = xerrors.Coded("INVALID_CONFIG", "configuration validation failed")

// Loader 基于 viper 的配置加载器
type Loader struct {
	v        *viper.Viper
	opts     *options
	validate *validator.Validate

	mu      sync.Mutex
	current *AppConfig
}

// New 创建加载器，调用 Load 之前不会读取任何来源
func New(opts ...Option) *Loader {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Loader{
		v:        viper.New(),
		opts:     o,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Load 按优先级合并所有来源并校验
func (l *Loader) Load(ctx context.Context) (*AppConfig, error) {
	for key, val := range defaults {
		l.v.SetDefault(key, val)
	}

	l.v.SetEnvPrefix(l.opts.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	// .env 只补充进程中尚未设置的环境变量
	if err := l.loadDotEnv(); err != nil {
		l.opts.logger.Debug("no .env file loaded", clog.Error(err))
	}

	if err := l.bindFlags(); err != nil {
		return nil, err
	}

	if err := l.readConfigFile(); err != nil {
		return nil, err
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Current 返回最近一次成功加载的配置
func (l *Loader) Current() *AppConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// ConfigFileUsed 返回实际读取的配置文件路径，未读取时为空
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch 监听配置文件变化，重新加载成功后回调 fn；ctx 取消后不再回调。
// 未使用配置文件时直接返回。
func (l *Loader) Watch(ctx context.Context, fn func(*AppConfig)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			l.opts.logger.Warn("ignored invalid config change",
				clog.String("file", e.Name), clog.Error(err))
			return
		}
		l.mu.Lock()
		l.current = cfg
		l.mu.Unlock()

		l.opts.logger.Info("config reloaded", clog.String("file", e.Name), clog.String("op", e.Op.String()))
		fn(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, xerrors.Wrap(err, "decode config")
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)

	if err := l.validate.Struct(cfg); err != nil {
		return nil, xerrors.Wrap(ErrValidationFailed, err.Error())
	}
	if tlsVersionRank(cfg.TLS.MinVersion) > tlsVersionRank(cfg.TLS.MaxVersion) {
		return nil, xerrors.Wrapf(ErrValidationFailed,
			"tls.min_version %s is greater than tls.max_version %s", cfg.TLS.MinVersion, cfg.TLS.MaxVersion)
	}
	return cfg, nil
}

func (l *Loader) readConfigFile() error {
	file := l.opts.file
	if file == "" && l.opts.flags != nil {
		if f := l.opts.flags.Lookup("config"); f != nil {
			file = f.Value.String()
		}
	}

	if file != "" {
		l.v.SetConfigFile(file)
		if err := l.v.ReadInConfig(); err != nil {
			return xerrors.Wrapf(err, "read config file %s", file)
		}
		l.opts.logger.Info("config file loaded", clog.String("file", file))
		return nil
	}

	l.v.SetConfigName(l.opts.name)
	for _, p := range l.opts.paths {
		l.v.AddConfigPath(p)
	}
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if xerrors.As(err, &notFound) {
			l.opts.logger.Debug("no config file found, using defaults and environment")
			return nil
		}
		return xerrors.Wrap(err, "read config file")
	}
	l.opts.logger.Info("config file loaded", clog.String("file", l.v.ConfigFileUsed()))

	return l.mergeEnvironmentFile()
}

// mergeEnvironmentFile 合并 <name>.<env> 配置，env 取自 SCOUTQUEST_ENV
func (l *Loader) mergeEnvironmentFile() error {
	env := os.Getenv(l.opts.envPrefix + "_ENV")
	if env == "" {
		return nil
	}

	l.v.SetConfigName(l.opts.name + "." + env)
	defer l.v.SetConfigName(l.opts.name)

	if err := l.v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if xerrors.As(err, &notFound) {
			return nil
		}
		return xerrors.Wrapf(err, "merge %s config", env)
	}
	l.opts.logger.Info("environment config merged", clog.String("env", env))
	return nil
}

func (l *Loader) loadDotEnv() error {
	candidates := []string{".env"}
	for _, p := range l.opts.paths {
		candidates = append(candidates, filepath.Join(p, ".env"))
	}

	var lastErr error
	loaded := false
	for _, c := range candidates {
		if err := godotenv.Load(c); err != nil {
			lastErr = err
			continue
		}
		loaded = true
	}
	if !loaded {
		return lastErr
	}
	return nil
}

func (l *Loader) bindFlags() error {
	fs := l.opts.flags
	if fs == nil {
		return nil
	}
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && err == nil {
			err = l.v.BindPFlag(key, f)
		}
	})
	return xerrors.Wrap(err, "bind flags")
}

func tlsVersionRank(v string) int {
	switch v {
	case "1.0":
		return 0
	case "1.1":
		return 1
	case "1.2":
		return 2
	case "1.3":
		return 3
	}
	return -1
}
