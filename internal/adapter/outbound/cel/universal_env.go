package cel

import (
	"net"
	"path/filepath"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/cyfrworks/cyfr/internal/domain/policy"
)

// NewPolicyEnvironment creates the CEL environment a Host Policy's optional
// free-form expression is compiled and run against. Variables: reference,
// component_type, user_id, request_id, execution_id, request_time,
// tool_name, arguments, dest_domain, dest_method, storage_path. Custom
// functions: glob, dest_ip_in_cidr, arg, arg_contains.
func NewPolicyEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("reference", cel.StringType),
		cel.Variable("component_type", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("request_id", cel.StringType),
		cel.Variable("execution_id", cel.StringType),
		cel.Variable("request_time", cel.TimestampType),

		cel.Variable("tool_name", cel.StringType),
		cel.Variable("arguments", cel.MapType(cel.StringType, cel.DynType)),

		cel.Variable("dest_domain", cel.StringType),
		cel.Variable("dest_method", cel.StringType),

		cel.Variable("storage_path", cel.StringType),

		// glob: shell-glob pattern matching, used for tool/domain patterns
		// an expression wants to test beyond the policy's own allow-lists.
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, candidate ref.Val) ref.Val {
					p, _ := pattern.Value().(string)
					c, _ := candidate.Value().(string)
					matched, _ := filepath.Match(p, c)
					return types.Bool(matched)
				}),
			),
		),

		// dest_ip_in_cidr: membership test for an IP literal within a CIDR.
		cel.Function("dest_ip_in_cidr",
			cel.Overload("dest_ip_in_cidr_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(ipVal, cidrVal ref.Val) ref.Val {
					ip := net.ParseIP(ipVal.Value().(string))
					if ip == nil {
						return types.Bool(false)
					}
					_, network, err := net.ParseCIDR(cidrVal.Value().(string))
					if err != nil {
						return types.Bool(false)
					}
					return types.Bool(network.Contains(ip))
				}),
			),
		),

		// arg: extract a single named argument from the tool-call map.
		cel.Function("arg",
			cel.Overload("arg_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(func(mapVal, keyVal ref.Val) ref.Val {
					key := keyVal.Value().(string)
					if goMap, ok := mapVal.Value().(map[string]any); ok {
						if v, found := goMap[key]; found {
							return types.DefaultTypeAdapter.NativeToValue(v)
						}
					}
					return types.NullValue
				}),
			),
		),

		// arg_contains: substring test over every string-valued argument.
		cel.Function("arg_contains",
			cel.Overload("arg_contains_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(mapVal, substrVal ref.Val) ref.Val {
					substr := substrVal.Value().(string)
					goMap, ok := mapVal.Value().(map[string]any)
					if !ok {
						return types.Bool(false)
					}
					for _, v := range goMap {
						if s, ok := v.(string); ok && strings.Contains(s, substr) {
							return types.Bool(true)
						}
					}
					return types.Bool(false)
				}),
			),
		),
	)
}

// Activation builds the CEL activation map for a policy.EvaluationContext.
func Activation(evalCtx policy.EvaluationContext) map[string]any {
	args := evalCtx.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return map[string]any{
		"reference":      evalCtx.Reference,
		"component_type": evalCtx.ComponentType,
		"user_id":        evalCtx.UserID,
		"request_id":     evalCtx.RequestID,
		"execution_id":   evalCtx.ExecutionID,
		"request_time":   evalCtx.RequestTime,

		"tool_name": evalCtx.ToolName,
		"arguments": args,

		"dest_domain": evalCtx.DestDomain,
		"dest_method": evalCtx.DestMethod,

		"storage_path": evalCtx.StoragePath,
	}
}
