package util

import (
	"strings"

	"github.com/oliveagle/jsonpath"
)

// ResolveInputParams substitutes jsonpath references ("$.…") in a node's
// parameter map against the run's accumulated data. Non string values and
// literals pass through unchanged.
func ResolveInputParams(runData map[string]any, params map[string]any) map[string]any {
	output := make(map[string]any)
	resolveParams(runData, params, output)
	return output
}

func resolveParams(runData map[string]any, params map[string]any, output map[string]any) {
	for k, v := range params {
		switch value := v.(type) {
		case map[string]any:
			out := make(map[string]any)
			output[k] = out
			resolveParams(runData, value, out)
		case string:
			if strings.HasPrefix(value, "$") {
				resolved, err := jsonpath.JsonPathLookup(runData, value)
				if err != nil {
					output[k] = nil
					continue
				}
				output[k] = resolved
			} else {
				output[k] = value
			}
		default:
			output[k] = v
		}
	}
}
