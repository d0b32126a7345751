package strategy

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// 参数包只在写入口（配置注册、HTTP 接口）做 schema 校验，执行周期里不再重复。
// 未知键一律拒绝，让拼写错误尽早暴露。

// executionProps 是所有种类共用的执行面参数。
const executionProps = `
		"trade_amount": {"type": "number", "exclusiveMinimum": 0},
		"trade_amount_krw": {"type": "number", "exclusiveMinimum": 0},
		"profit_target": {"type": "number", "minimum": 0},
		"stop_loss": {"type": "number", "minimum": 0}`

func kindSchema(props string) string {
	joined := ""
	if props != "" {
		joined = props + ","
	}
	return `{
	"type": "object",
	"properties": {` + joined + executionProps + `
	},
	"additionalProperties": false
}`
}

var kindSchemaSources = map[string]string{
	KindMovingAverage: kindSchema(`
		"short_period": {"type": "integer", "minimum": 1},
		"long_period": {"type": "integer", "minimum": 2}`),
	KindRSI: kindSchema(`
		"period": {"type": "integer", "minimum": 1},
		"oversold": {"type": "number", "minimum": 0, "maximum": 100},
		"overbought": {"type": "number", "minimum": 0, "maximum": 100}`),
	KindBollinger: kindSchema(`
		"period": {"type": "integer", "minimum": 2},
		"std_dev": {"type": "number", "exclusiveMinimum": 0}`),
	KindMACD: kindSchema(`
		"fast_period": {"type": "integer", "minimum": 1},
		"slow_period": {"type": "integer", "minimum": 2},
		"signal_period": {"type": "integer", "minimum": 1}`),
	KindStochastic: kindSchema(`
		"k_period": {"type": "integer", "minimum": 1},
		"d_period": {"type": "integer", "minimum": 1},
		"oversold": {"type": "number", "minimum": 0, "maximum": 100},
		"overbought": {"type": "number", "minimum": 0, "maximum": 100}`),
	KindComposite: `{
	"type": "object",
	"properties": {
		"min_confirmations": {"type": "integer", "minimum": 1},
		"strategy_types": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"type": {
						"type": "string",
						"enum": ["moving_average", "rsi", "bollinger", "macd", "stochastic"]
					},
					"params": {"type": "object"}
				},
				"required": ["type"],
				"additionalProperties": false
			}
		},` + executionProps + `
	},
	"required": ["strategy_types"],
	"additionalProperties": false
}`,
}

var (
	schemaOnce     sync.Once
	schemaCompiled map[string]*jsonschema.Schema
	schemaCompile  error
)

func compiledSchemas() (map[string]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schemaCompiled = make(map[string]*jsonschema.Schema, len(kindSchemaSources))
		for kind, source := range kindSchemaSources {
			compiler := jsonschema.NewCompiler()
			name := kind + ".schema.json"
			if err := compiler.AddResource(name, strings.NewReader(source)); err != nil {
				schemaCompile = fmt.Errorf("加载 %s 参数 schema 失败: %w", kind, err)
				return
			}
			schema, err := compiler.Compile(name)
			if err != nil {
				schemaCompile = fmt.Errorf("编译 %s 参数 schema 失败: %w", kind, err)
				return
			}
			schemaCompiled[kind] = schema
		}
	})
	return schemaCompiled, schemaCompile
}

// ValidateParams 校验参数包是否符合该种类的 schema，组合策略会逐个校验子策略。
func ValidateParams(kind string, params Params) error {
	schemas, err := compiledSchemas()
	if err != nil {
		return err
	}
	schema, ok := schemas[kind]
	if !ok {
		return fmt.Errorf("未知的策略种类: %s", kind)
	}
	sanitized := sanitizeValue(map[string]any(params))
	if err := schema.Validate(sanitized); err != nil {
		return fmt.Errorf("%s 参数不合法: %w", kind, err)
	}

	if kind == KindComposite {
		entries, _ := sanitized.(map[string]any)["strategy_types"].([]any)
		for i, entry := range entries {
			item, _ := entry.(map[string]any)
			childKind, _ := item["type"].(string)
			childParams := Params{}
			if rawParams, ok := item["params"].(map[string]any); ok {
				childParams = Params(rawParams)
			}
			if err := ValidateParams(childKind, childParams); err != nil {
				return fmt.Errorf("strategy_types[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// sanitizeValue 把 Go 侧整数与数字字符串归一为 float64，
// 保证程序内构造的参数与 JSON 反序列化结果走同一套校验。
func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = sanitizeValue(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeValue(child)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return val
		}
		if num, err := strconv.ParseFloat(s, 64); err == nil {
			return num
		}
		return val
	default:
		return val
	}
}
