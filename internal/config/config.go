package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取主配置并按顶层 include 列表合并附加文件（如密钥文件）。
// 合并顺序是深度优先后序：被包含的文件先写入，主文件最后，
// 同键冲突以主文件为准。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	ld := newConfigLoader()
	if err := ld.walk(abs); err != nil {
		return nil, err
	}

	merged := viper.New()
	merged.SetConfigType("yaml")
	for _, f := range ld.files {
		if err := merged.MergeConfigMap(f.settings); err != nil {
			return nil, fmt.Errorf("merging config file failed (%s): %w", f.path, err)
		}
	}

	var cfg Config
	if err := merged.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}

	explicit := make(keySet)
	markSettingKeys("", merged.AllSettings(), explicit)
	cfg.applyDefaults(explicit)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type visitState int

const (
	visitOpen visitState = iota + 1
	visitDone
)

// configLoader 展开 include 树。每个文件只读一次，
// settings 既用来抽取 include 列表也用来合并。
type configLoader struct {
	visited map[string]visitState
	files   []configFile
}

type configFile struct {
	path     string
	settings map[string]any
}

func newConfigLoader() *configLoader {
	return &configLoader{visited: make(map[string]visitState)}
}

func (l *configLoader) walk(path string) error {
	path = filepath.Clean(path)
	switch l.visited[path] {
	case visitOpen:
		return fmt.Errorf("include cycle detected: %s", path)
	case visitDone:
		// 菱形包含只合并一次。
		return nil
	}
	l.visited[path] = visitOpen

	settings, err := readConfigFile(path)
	if err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	includes, err := includeEntries(settings)
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	dir := filepath.Dir(path)
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(dir, inc)
		}
		if err := l.walk(inc); err != nil {
			return err
		}
	}

	l.visited[path] = visitDone
	l.files = append(l.files, configFile{path: path, settings: settings})
	return nil
}

func readConfigFile(path string) (map[string]any, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v.AllSettings(), nil
}

// includeEntries 取顶层 include 列表，空项忽略。
func includeEntries(settings map[string]any) ([]string, error) {
	raw, ok := settings["include"]
	if !ok || raw == nil {
		return nil, nil
	}

	var items []any
	switch val := raw.(type) {
	case []any:
		items = val
	case []string:
		items = make([]any, 0, len(val))
		for _, s := range val {
			items = append(items, s)
		}
	default:
		return nil, fmt.Errorf("include must be a string array")
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if str = strings.TrimSpace(str); str != "" {
			out = append(out, str)
		}
	}
	return out, nil
}

// markSettingKeys 把文件里显式出现的配置键压平成小写点路径记入 dest，
// 数组整体记一个键。applyDefaults 据此跳过用户写过的键，
// 显式写的零值（registry.watch: false、backtest.seed: 0）才不会被默认值顶掉。
func markSettingKeys(prefix string, node any, dest keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, child := range val {
			if key := normalizeKey(k); key != "" {
				markSettingKeys(joinKey(prefix, key), child, dest)
			}
		}
	case map[any]any:
		for k, child := range val {
			str, ok := k.(string)
			if !ok {
				continue
			}
			if key := normalizeKey(str); key != "" {
				markSettingKeys(joinKey(prefix, key), child, dest)
			}
		}
	case []any:
		if prefix != "" {
			dest.mark(prefix)
		}
		for _, item := range val {
			markSettingKeys(prefix, item, dest)
		}
	default:
		if prefix != "" {
			dest.mark(prefix)
		}
	}
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
