package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	RAG      RAGConfig      `mapstructure:"rag"`
	Readme   ReadmeConfig   `mapstructure:"readme"`
	LLM      LLMConfig      `mapstructure:"llm"`
	OSS      OSSConfig      `mapstructure:"oss"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Upload   UploadConfig   `mapstructure:"upload"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type QueueConfig struct {
	AnalysisQueue string `mapstructure:"analysis_queue"`
	MaxWorkers    int    `mapstructure:"max_workers"`

	// 各类任务的重试策略
	PipelineMaxRetries  int `mapstructure:"pipeline_max_retries"`
	PipelineRetryDelay  int `mapstructure:"pipeline_retry_delay"` // 秒
	FileMaxRetries      int `mapstructure:"file_max_retries"`
	FileRetryDelay      int `mapstructure:"file_retry_delay"`     // 秒
	AdmissionRetryDelay int `mapstructure:"admission_retry_delay"` // 秒

	JobTimeoutMinutes   int `mapstructure:"job_timeout_minutes"`   // 单个作业硬超时
	AverageTaskMinutes  int `mapstructure:"average_task_minutes"`  // 队列等待预估
	RunningDiscountMins int `mapstructure:"running_discount_mins"` // 每个运行中任务抵扣
}

// RAGConfig 知识库（向量化）服务配置
type RAGConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	BatchSize int    `mapstructure:"batch_size"`
}

// ReadmeConfig 文档生成服务配置
type ReadmeConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	UploadMaxRetries  int    `mapstructure:"upload_max_retries"`
	CreateMaxRetries  int    `mapstructure:"create_max_retries"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds"`
	PollInterval      int    `mapstructure:"poll_interval"` // 秒
	PollMaxAttempts   int    `mapstructure:"poll_max_attempts"`
	Language          string `mapstructure:"language"`
	Model             string `mapstructure:"model"`
}

type LLMConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type UploadConfig struct {
	MaxSize     int64  `mapstructure:"max_size"`     // 最大文件大小（字节）
	TempDir     string `mapstructure:"temp_dir"`     // 临时目录
	RepoDir     string `mapstructure:"repo_dir"`     // 仓库解压目录
	ExpireHours int    `mapstructure:"expire_hours"` // 过期时间（小时）
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	// 检查 config.local.yaml 是否存在
	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Queue.AnalysisQueue == "" {
		c.Queue.AnalysisQueue = "analysis_jobs"
	}
	if c.Queue.MaxWorkers <= 0 {
		c.Queue.MaxWorkers = 10
	}
	if c.Queue.PipelineMaxRetries <= 0 {
		c.Queue.PipelineMaxRetries = 2
	}
	if c.Queue.PipelineRetryDelay <= 0 {
		c.Queue.PipelineRetryDelay = 120
	}
	if c.Queue.FileMaxRetries <= 0 {
		c.Queue.FileMaxRetries = 3
	}
	if c.Queue.FileRetryDelay <= 0 {
		c.Queue.FileRetryDelay = 60
	}
	if c.Queue.AdmissionRetryDelay <= 0 {
		c.Queue.AdmissionRetryDelay = 30
	}
	if c.Queue.JobTimeoutMinutes <= 0 {
		c.Queue.JobTimeoutMinutes = 120
	}
	if c.Queue.AverageTaskMinutes <= 0 {
		c.Queue.AverageTaskMinutes = 15
	}
	if c.Queue.RunningDiscountMins <= 0 {
		c.Queue.RunningDiscountMins = 5
	}
	if c.RAG.BatchSize <= 0 {
		c.RAG.BatchSize = 50
	}
	if c.Readme.UploadMaxRetries <= 0 {
		c.Readme.UploadMaxRetries = 10
	}
	if c.Readme.CreateMaxRetries <= 0 {
		c.Readme.CreateMaxRetries = 50
	}
	if c.Readme.RetryDelaySeconds <= 0 {
		c.Readme.RetryDelaySeconds = 5
	}
	if c.Readme.PollInterval <= 0 {
		c.Readme.PollInterval = 5
	}
	if c.Readme.PollMaxAttempts <= 0 {
		c.Readme.PollMaxAttempts = 60
	}
	if c.Readme.Language == "" {
		c.Readme.Language = "zh"
	}
	if c.Upload.RepoDir == "" {
		c.Upload.RepoDir = "data/repos"
	}
}
