package executor

import (
	"fmt"
	"strings"

	"github.com/rmax-ai/elementd/pkg/graph"
)

const defaultNotebook = "control_center_playground.ipynb"

// handlePrompt surfaces the configured (or upstream) text along with
// its variant so downstream nodes can consume it as a prompt.
func handlePrompt(_ graph.Node, props map[string]any, inputs map[string]any) (map[string]any, error) {
	text := firstNonEmpty(props["text"], inputs["text"], props["title"])
	variant, ok := props["variant"]
	if !ok {
		variant = "raw"
	}
	return map[string]any{
		"text":    stringify(text),
		"variant": variant,
	}, nil
}

// handleLLM formats a templated response from the node's model and
// temperature props and the resolved prompt input.
func handleLLM(_ graph.Node, props map[string]any, inputs map[string]any) (map[string]any, error) {
	prompt := firstNonEmpty(inputs["prompt"], inputs["text"], props["prompt"])
	model, ok := props["model"]
	if !ok {
		model = "gpt-4o-mini"
	}
	temperature, ok := props["temperature"]
	if !ok {
		temperature = 0.2
	}
	response := strings.TrimSpace(fmt.Sprintf("[%v | temp=%v] %v", model, temperature, stringify(prompt)))
	return map[string]any{
		"response":    response,
		"model":       model,
		"temperature": temperature,
	}, nil
}

// handleNotebook packages a target notebook name and merged parameters
// for the external notebook executor. The executor itself is an opaque
// collaborator; the node only reports that the job was handed off.
func handleNotebook(_ graph.Node, props map[string]any, inputs map[string]any) (map[string]any, error) {
	notebook, ok := props["notebook"]
	if !ok {
		notebook = defaultNotebook
	}
	parameters := map[string]any{}
	if p, ok := props["parameters"].(map[string]any); ok {
		for k, v := range p {
			parameters[k] = v
		}
	}
	parameters["inputs"] = inputs
	return map[string]any{
		"status":     "queued",
		"notebook":   notebook,
		"parameters": parameters,
	}, nil
}

// firstNonEmpty returns the first truthy value: nil, empty strings,
// false, numeric zero and empty collections all fall through to the
// next source in the chain.
func firstNonEmpty(values ...any) any {
	for _, v := range values {
		if truthy(v) {
			return v
		}
	}
	return ""
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
