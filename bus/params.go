package bus

import "github.com/BaSui01/jobflow/types"

// Typed accessors for command parameters. Handlers declare their
// parameters explicitly through these instead of having the bus bind
// them by introspection.

// StringParam returns the named string parameter or the default.
func StringParam(cmd *types.Command, name, def string) string {
	if v, ok := cmd.Params[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// FloatParam returns the named float parameter or the default. Integer
// values decode as floats for convenience.
func FloatParam(cmd *types.Command, name string, def float64) float64 {
	if v, ok := cmd.Params[name]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case float32:
			return float64(n)
		case int:
			return float64(n)
		}
	}
	return def
}

// RequireStringParam returns the named string parameter or a
// MISSING_PARAM error when absent or mistyped.
func RequireStringParam(cmd *types.Command, name string) (string, error) {
	v, ok := cmd.Params[name]
	if !ok {
		return "", types.NewErrorf(types.ErrMissingParam,
			"command %s missing required parameter %q", cmd.ID, name)
	}
	s, ok := v.(string)
	if !ok {
		return "", types.NewErrorf(types.ErrMissingParam,
			"command %s parameter %q is not a string", cmd.ID, name)
	}
	return s, nil
}
