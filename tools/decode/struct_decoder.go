package decode

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Options 用于定制 Decode 行为。
type Options struct {
	// 宽松解码：例如 "123" -> int、1.0 -> int64 等。
	// 客户端帧默认关闭，避免把数字静默转成字符串。
	WeaklyTypedInput bool
}

// DefaultOptions 返回默认选项。
func DefaultOptions() Options {
	return Options{}
}

// DecodeMap 将 JSON 解出来的 map 动态解码到任意结构体 T。
// T 通常是事件负载，例如 ChatSendPayload。结构体字段读取使用 `json` tag。
// m 为 nil 时得到零值 T。
func DecodeMap[T any](m map[string]any, opts ...Options) (*T, error) {
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	var out T
	if m == nil {
		return &out, nil
	}

	decCfg := &mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			floatToIntHook(),
			jsonRawStringToMapHook(),
		),
	}

	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}

	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}

// ReadString 从 map 中读取 string 字段。
func ReadString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q not string (got %T)", key, v)
	}
	return s, nil
}

// -----------------------------
// Decode Hooks
// -----------------------------

// floatToIntHook：JSON 数字统一是 float64，只有整数值才转为 int / int32 / int64。
func floatToIntHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		f := data.(float64)
		switch to {
		case reflect.Int, reflect.Int32, reflect.Int64:
			if f != float64(int64(f)) {
				return nil, fmt.Errorf("number %v is not an integer", f)
			}
		default:
			return data, nil
		}
		switch to {
		case reflect.Int:
			return int(f), nil
		case reflect.Int32:
			return int32(f), nil
		default:
			return int64(f), nil
		}
	}
}

// jsonRawStringToMapHook：把 JSON 字符串自动转为 map[string]any（某些客户端把嵌套对象序列化成字符串）。
func jsonRawStringToMapHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.String || to != reflect.Map {
			return data, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(data.(string)), &m); err == nil {
			return m, nil
		}
		return data, nil
	}
}
