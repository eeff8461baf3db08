// Package config 管理翻译器配置：YAML 文件、TRANSLATOR_ 前缀环境变量、
// 代码默认值三层叠加。
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config 保存翻译器的所有配置
type Config struct {
	ModelID   string `mapstructure:"model_id"`
	BaseURL   string `mapstructure:"base_url"`
	APIKeyEnv string `mapstructure:"api_key_env"` // 存放 API key 的环境变量名

	SourceLang string `mapstructure:"source_lang"`
	TargetLang string `mapstructure:"target_lang"`

	MaxChunkChars  int `mapstructure:"max_chunk_chars"`
	Concurrency    int `mapstructure:"concurrency"`
	RequestTimeout int `mapstructure:"request_timeout"` // 秒
	MaxRetries     int `mapstructure:"max_retries"`

	GlossaryMaxTerms        int    `mapstructure:"glossary_max_terms"` // 每块术语条数预算
	GlossaryMaxChars        int    `mapstructure:"glossary_max_chars"` // 每块术语字符预算
	GlossaryMode            string `mapstructure:"glossary_mode"`      // filtered | full
	OutlineMode             string `mapstructure:"outline_mode"`       // headings | full
	SkipInlineCodeThreshold int    `mapstructure:"skip_inline_code_threshold"`

	FetchTimeout     int `mapstructure:"fetch_timeout"` // 秒
	MinContentLength int `mapstructure:"min_content_length"`

	FormatOutput bool `mapstructure:"format_output"`
	Debug        bool `mapstructure:"debug"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		APIKeyEnv:               "MOONSHOT_API_KEY",
		SourceLang:              "en",
		TargetLang:              "zh-CN",
		MaxChunkChars:           8000,
		Concurrency:             3,
		RequestTimeout:          180,
		MaxRetries:              5,
		GlossaryMaxTerms:        30,
		GlossaryMaxChars:        2000,
		GlossaryMode:            "filtered",
		OutlineMode:             "headings",
		SkipInlineCodeThreshold: 30,
		FetchTimeout:            30,
		MinContentLength:        200,
		FormatOutput:            false,
		Debug:                   false,
	}
}

// Load 加载配置。configPath 为空时在当前目录与 $HOME 下搜索
// .markdown-translate.yaml；找不到配置文件不算错误，使用默认值。
func Load(configPath string) (*Config, error) {
	v := viper.New()

	defaults := Default()
	v.SetDefault("api_key_env", defaults.APIKeyEnv)
	v.SetDefault("source_lang", defaults.SourceLang)
	v.SetDefault("target_lang", defaults.TargetLang)
	v.SetDefault("max_chunk_chars", defaults.MaxChunkChars)
	v.SetDefault("concurrency", defaults.Concurrency)
	v.SetDefault("request_timeout", defaults.RequestTimeout)
	v.SetDefault("max_retries", defaults.MaxRetries)
	v.SetDefault("glossary_max_terms", defaults.GlossaryMaxTerms)
	v.SetDefault("glossary_max_chars", defaults.GlossaryMaxChars)
	v.SetDefault("glossary_mode", defaults.GlossaryMode)
	v.SetDefault("outline_mode", defaults.OutlineMode)
	v.SetDefault("skip_inline_code_threshold", defaults.SkipInlineCodeThreshold)
	v.SetDefault("fetch_timeout", defaults.FetchTimeout)
	v.SetDefault("min_content_length", defaults.MinContentLength)
	v.SetDefault("format_output", defaults.FormatOutput)
	v.SetDefault("debug", defaults.Debug)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(".markdown-translate")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("TRANSLATOR")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if configPath != "" {
			return nil, err
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if c.MaxChunkChars <= 0 {
		return fmt.Errorf("max_chunk_chars must be positive, got %d", c.MaxChunkChars)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %d", c.RequestTimeout)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive, got %d", c.MaxRetries)
	}
	if c.GlossaryMode != "filtered" && c.GlossaryMode != "full" {
		return fmt.Errorf("glossary_mode must be 'filtered' or 'full', got %q", c.GlossaryMode)
	}
	if c.OutlineMode != "headings" && c.OutlineMode != "full" {
		return fmt.Errorf("outline_mode must be 'headings' or 'full', got %q", c.OutlineMode)
	}
	if c.SourceLang == "" {
		return fmt.Errorf("source_lang is required")
	}
	if c.TargetLang == "" {
		return fmt.Errorf("target_lang is required")
	}
	return nil
}
