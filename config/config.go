package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Models    ModelsConfig    `mapstructure:"models"`
	Retouch   RetouchConfig   `mapstructure:"retouch"`
	Log       LogConfig       `mapstructure:"log"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	Mode            string        `mapstructure:"mode" validate:"oneof=debug release test"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

type UploadConfig struct {
	MaxSize int64 `mapstructure:"max_size" validate:"gt=0"`
}

// ModelsConfig 检测模型文件路径
type ModelsConfig struct {
	FaceCascade       string `mapstructure:"face_cascade" validate:"required"`
	EyeCascade        string `mapstructure:"eye_cascade" validate:"required"`
	LandmarkModel     string `mapstructure:"landmark_model" validate:"required"`
	LandmarkInputSize int    `mapstructure:"landmark_input_size" validate:"gt=0"`
	PoolSize          int    `mapstructure:"pool_size" validate:"gt=0"`
}

type RetouchConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent" validate:"gt=0"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout" validate:"gt=0"`
	JPEGQuality   int           `mapstructure:"jpeg_quality" validate:"gte=1,lte=100"`
	Face          ProfileConfig `mapstructure:"face"`
	Global        ProfileConfig `mapstructure:"global"`
}

// ProfileConfig 增强参数，face 与 global 两种模式共用
type ProfileConfig struct {
	Diameter   int     `mapstructure:"diameter" validate:"gt=0"`
	SigmaColor float64 `mapstructure:"sigma_color" validate:"gt=0"`
	SigmaSpace float64 `mapstructure:"sigma_space" validate:"gt=0"`
	BlurKernel int     `mapstructure:"blur_kernel" validate:"gt=0,odd"`
	Saturation float64 `mapstructure:"saturation" validate:"gt=0"`
	Weight     float64 `mapstructure:"weight" validate:"gte=0,lte=1"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size" validate:"gte=0"`
	MaxAge     int    `mapstructure:"max_age" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps" validate:"gte=0"`
	Burst   int     `mapstructure:"burst" validate:"gte=0"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FACEFILTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置，FACEFILTER_CONFIG 可覆盖路径。
// 仅在配置文件不存在时使用默认配置，解析或校验失败返回错误
func New() (*Config, error) {
	path := os.Getenv("FACEFILTER_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置字段
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("odd", func(fl validator.FieldLevel) bool {
		return fl.Field().Int()%2 == 1
	}); err != nil {
		return err
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)

	v.SetDefault("models.face_cascade", d.Models.FaceCascade)
	v.SetDefault("models.eye_cascade", d.Models.EyeCascade)
	v.SetDefault("models.landmark_model", d.Models.LandmarkModel)
	v.SetDefault("models.landmark_input_size", d.Models.LandmarkInputSize)
	v.SetDefault("models.pool_size", d.Models.PoolSize)

	v.SetDefault("retouch.max_concurrent", d.Retouch.MaxConcurrent)
	v.SetDefault("retouch.queue_timeout", d.Retouch.QueueTimeout)
	v.SetDefault("retouch.jpeg_quality", d.Retouch.JPEGQuality)
	setProfileDefaults(v, "retouch.face", d.Retouch.Face)
	setProfileDefaults(v, "retouch.global", d.Retouch.Global)

	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size", d.Log.MaxSize)
	v.SetDefault("log.max_age", d.Log.MaxAge)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.compress", d.Log.Compress)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.rps", d.RateLimit.RPS)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
}

func setProfileDefaults(v *viper.Viper, prefix string, p ProfileConfig) {
	v.SetDefault(prefix+".diameter", p.Diameter)
	v.SetDefault(prefix+".sigma_color", p.SigmaColor)
	v.SetDefault(prefix+".sigma_space", p.SigmaSpace)
	v.SetDefault(prefix+".blur_kernel", p.BlurKernel)
	v.SetDefault(prefix+".saturation", p.Saturation)
	v.SetDefault(prefix+".weight", p.Weight)
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            ":8080",
			Mode:            "debug",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize: 10 * 1024 * 1024,
		},
		Models: ModelsConfig{
			FaceCascade:       "./models/haarcascade_frontalface_default.xml",
			EyeCascade:        "./models/haarcascade_eye.xml",
			LandmarkModel:     "./models/face_landmark_68.onnx",
			LandmarkInputSize: 112,
			PoolSize:          4,
		},
		Retouch: RetouchConfig{
			MaxConcurrent: 4,
			QueueTimeout:  30 * time.Second,
			JPEGQuality:   95,
			Face: ProfileConfig{
				Diameter:   9,
				SigmaColor: 75,
				SigmaSpace: 75,
				BlurKernel: 3,
				Saturation: 1.05,
				Weight:     1,
			},
			Global: ProfileConfig{
				Diameter:   15,
				SigmaColor: 100,
				SigmaSpace: 100,
				BlurKernel: 5,
				Saturation: 1.1,
				Weight:     0.5,
			},
		},
		Log: LogConfig{
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			RPS:     10,
			Burst:   20,
		},
	}
}
