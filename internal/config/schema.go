package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// engineSchema 对 engine 子树做结构层校验（类型、必填键）。
// 语义层（单调性、互斥键）仍由 validate 负责；schema 只保证
// 后续 Unmarshal 不会把字符串悄悄弱转成数字后才暴雷。
const engineSchema = `{
  "type": "object",
  "properties": {
    "max_position": {"type": "number"},
    "ev": {
      "type": "object",
      "properties": {
        "payoff_ratio": {"type": "number"},
        "cost_bps": {"type": "number"}
      }
    },
    "thresholds": {
      "type": "object",
      "properties": {
        "by_regime": {
          "type": "object",
          "additionalProperties": {
            "type": "object",
            "properties": {
              "low": {"type": "number"},
              "mid": {"type": "number"},
              "high": {"type": "number"}
            },
            "required": ["low", "mid", "high"]
          }
        }
      }
    },
    "risk_map": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "min_confidence": {"type": "number"},
          "size": {"type": "number"}
        },
        "required": ["min_confidence", "size"]
      }
    },
    "fibonacci": {
      "type": "object",
      "properties": {
        "htf": {"$ref": "#/$defs/fib_tf"},
        "ltf": {"$ref": "#/$defs/fib_tf"}
      }
    }
  },
  "$defs": {
    "fib_tf": {
      "type": "object",
      "properties": {
        "timeframe": {"type": "string"},
        "swing_lookback": {"type": "integer"},
        "tolerance_atr": {"type": "number"},
        "missing_policy": {"type": "string", "enum": ["block", "pass"]},
        "allow_override": {"type": "boolean"}
      }
    }
  }
}`

var compiledEngineSchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("engine.schema.json", bytes.NewReader([]byte(engineSchema))); err != nil {
		panic(fmt.Sprintf("engine schema resource: %v", err))
	}
	schema, err := compiler.Compile("engine.schema.json")
	if err != nil {
		panic(fmt.Sprintf("engine schema compile: %v", err))
	}
	compiledEngineSchema = schema
}

// validateSchema 校验原始 settings 里的 engine 子树。
func validateSchema(settings map[string]any) error {
	raw, ok := settings["engine"]
	if !ok {
		return nil
	}
	// jsonschema 只接受 JSON 原生类型，先绕一次序列化。
	buf, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("engine section not serializable: %w", err)
	}
	var doc any
	if err := json.Unmarshal(buf, &doc); err != nil {
		return err
	}
	if err := compiledEngineSchema.Validate(doc); err != nil {
		return fmt.Errorf("engine config schema violation: %w", err)
	}
	return nil
}
