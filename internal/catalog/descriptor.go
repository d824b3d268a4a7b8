package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"

	xerrors "PayChat/internal/errors"
)

// CodeArgumentInvalid 表示模型提供的参数未通过校验。
const CodeArgumentInvalid xerrors.Code = "ARGUMENT_INVALID"

// FieldType 是参数的基础类型。
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
)

// Field 描述一个具名参数。
type Field struct {
	Name        string
	Type        FieldType
	Description string
	Required    bool
	Enum        []string
}

// Descriptor 描述一个可供模型调用的操作。
type Descriptor struct {
	Name        string
	Description string
	Fields      []Field
}

// Parameters 生成 JSON Schema 形式的参数描述。
func (d Descriptor) Parameters() map[string]any {
	properties := make(map[string]any, len(d.Fields))
	required := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		prop := map[string]any{"type": string(f.Type)}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		if len(f.Enum) > 0 {
			prop["enum"] = append([]string(nil), f.Enum...)
		}
		properties[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// ProblemKind 是参数问题的种类。
type ProblemKind string

const (
	MissingArgument ProblemKind = "missing"
	TypeMismatch    ProblemKind = "type_mismatch"
	NotInEnum       ProblemKind = "not_in_enum"
)

// Problem 描述单个字段的问题。
type Problem struct {
	Field string
	Kind  ProblemKind
	Want  FieldType
}

func (p Problem) String() string {
	switch p.Kind {
	case MissingArgument:
		return fmt.Sprintf("missing argument %q", p.Field)
	case TypeMismatch:
		return fmt.Sprintf("argument %q must be %s", p.Field, article(p.Want))
	case NotInEnum:
		return fmt.Sprintf("argument %q is not one of the allowed values", p.Field)
	default:
		return fmt.Sprintf("argument %q is invalid", p.Field)
	}
}

func article(t FieldType) string {
	if t == TypeInteger {
		return "an integer"
	}
	return "a " + string(t)
}

// ValidationError 汇总一次调用中所有有问题的字段。
type ValidationError struct {
	Operation string
	Problems  []Problem
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Operation, strings.Join(parts, "; "))
}

// Unwrap 使 xerrors.CodeOf 能识别为 ARGUMENT_INVALID。
func (e *ValidationError) Unwrap() error {
	return xerrors.New(CodeArgumentInvalid, e.Error())
}

// Arguments 是校验后的参数，字符串为 string，整数为 int64。
type Arguments map[string]any

// String 返回字符串参数。
func (a Arguments) String(name string) string {
	v, _ := a[name].(string)
	return v
}

// Int 返回整数参数。
func (a Arguments) Int(name string) int64 {
	v, _ := a[name].(int64)
	return v
}

// Validate 按描述符声明逐字段检查原始参数，报告全部问题而非第一个。
// 未声明的字段被忽略。
func (d Descriptor) Validate(raw map[string]any) (Arguments, error) {
	args := make(Arguments, len(d.Fields))
	var problems []Problem
	for _, f := range d.Fields {
		value, present := raw[f.Name]
		if !present || value == nil {
			if f.Required {
				problems = append(problems, Problem{Field: f.Name, Kind: MissingArgument})
			}
			continue
		}
		converted, ok := convert(f.Type, value)
		if !ok {
			problems = append(problems, Problem{Field: f.Name, Kind: TypeMismatch, Want: f.Type})
			continue
		}
		if len(f.Enum) > 0 {
			if s, isString := converted.(string); !isString || !slices.Contains(f.Enum, s) {
				problems = append(problems, Problem{Field: f.Name, Kind: NotInEnum})
				continue
			}
		}
		args[f.Name] = converted
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Operation: d.Name, Problems: problems}
	}
	return args, nil
}

func convert(t FieldType, value any) (any, bool) {
	switch t {
	case TypeString:
		s, ok := value.(string)
		return s, ok
	case TypeInteger:
		switch v := value.(type) {
		case int:
			return int64(v), true
		case int64:
			return v, true
		case float64:
			if v != math.Trunc(v) || math.IsInf(v, 0) || v > math.MaxInt64 || v < math.MinInt64 {
				return nil, false
			}
			return int64(v), true
		case json.Number:
			n, err := v.Int64()
			return n, err == nil
		default:
			return nil, false
		}
	default:
		return nil, false
	}
}
