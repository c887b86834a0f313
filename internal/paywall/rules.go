package paywall

import (
	"fmt"

	"github.com/alittlebitofmoney/server/internal/config"
	apierrors "github.com/alittlebitofmoney/server/internal/errors"
)

// Error is a client-facing gate rejection carrying its API error code.
type Error struct {
	Code    apierrors.ErrorCode
	Message string
	Details map[string]interface{}
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func gateErr(code apierrors.ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// resolveModelConfig looks up the model's pricing entry, falling back to
// _default.
func resolveModelConfig(ep *config.EndpointConfig, model string) (config.ModelConfig, bool) {
	if mc, ok := ep.Models[model]; ok {
		return mc, true
	}
	mc, ok := ep.Models["_default"]
	return mc, ok
}

func modelName(body map[string]interface{}) string {
	if raw, ok := body["model"]; ok && raw != nil {
		return fmt.Sprintf("%v", raw)
	}
	return "_default"
}

// PriceForRequest computes the sat price of a request from the endpoint
// config and the parsed body.
func PriceForRequest(ep *config.EndpointConfig, body map[string]interface{}) (int64, *Error) {
	switch ep.PriceType {
	case "flat":
		return ep.PriceSats, nil
	case "per_model":
		model := modelName(body)
		mc, ok := resolveModelConfig(ep, model)
		if !ok {
			return 0, gateErr(apierrors.ErrCodeModelNotSupported, "Model '%s' is not available", model)
		}
		return mc.PriceSats, nil
	default:
		return 0, gateErr(apierrors.ErrCodeServerError, "Could not price request: unsupported price type %q", ep.PriceType)
	}
}

// applyOutputTokenCap enforces the per-model output token ceiling. Whatever
// alias the client used (max_tokens, max_completion_tokens,
// max_output_tokens), the body comes out with a single max_output_tokens no
// larger than the cap.
func applyOutputTokenCap(ep *config.EndpointConfig, body map[string]interface{}) *Error {
	model := modelName(body)
	mc, ok := resolveModelConfig(ep, model)
	if !ok {
		return gateErr(apierrors.ErrCodeModelNotSupported, "Model '%s' is not available", model)
	}

	if mc.MaxOutputTokens > 0 {
		ceiling := mc.MaxOutputTokens
		requested := intField(body, "max_tokens")
		if requested == nil {
			requested = intField(body, "max_completion_tokens")
		}
		if requested == nil {
			requested = intField(body, "max_output_tokens")
		}
		if requested == nil || *requested > ceiling {
			body["max_output_tokens"] = ceiling
		} else {
			body["max_output_tokens"] = *requested
		}
	}
	delete(body, "max_completion_tokens")
	delete(body, "max_tokens")
	return nil
}

func intField(body map[string]interface{}, key string) *int {
	raw, ok := body[key]
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case float64:
		n := int(v)
		return &n
	case int:
		return &v
	case int64:
		n := int(v)
		return &n
	default:
		return nil
	}
}

// ApplyRequestRules rewrites the parsed body per endpoint: output token caps
// for chat/responses (chat keeps the max_tokens key for API compatibility)
// and n=1 for image and video generation.
func ApplyRequestRules(normalizedPath string, ep *config.EndpointConfig, body map[string]interface{}) *Error {
	switch normalizedPath {
	case "/v1/chat/completions":
		if err := applyOutputTokenCap(ep, body); err != nil {
			return err
		}
		if capped, ok := body["max_output_tokens"]; ok {
			delete(body, "max_output_tokens")
			body["max_tokens"] = capped
		}
	case "/v1/responses":
		if err := applyOutputTokenCap(ep, body); err != nil {
			return err
		}
	case "/v1/images/generations", "/v1/images/edits", "/v1/video/generations":
		body["n"] = 1
	}
	return nil
}

type fieldRule struct {
	name       string
	kinds      []string // "string", "list"
	kindsLabel string
}

// requiredFields lists the JSON fields that must be present and non-empty
// before any invoice is issued. Multipart endpoints (audio transcription,
// image edits) carry raw bytes and are not pre-validated.
var requiredFields = map[string][]fieldRule{
	"/v1/chat/completions":   {{name: "messages", kinds: []string{"list"}, kindsLabel: "list"}},
	"/v1/responses":          {{name: "input", kinds: []string{"string", "list"}, kindsLabel: "str or list"}},
	"/v1/images/generations": {{name: "prompt", kinds: []string{"string"}, kindsLabel: "str"}},
	"/v1/audio/speech": {
		{name: "input", kinds: []string{"string"}, kindsLabel: "str"},
		{name: "voice", kinds: []string{"string"}, kindsLabel: "str"},
	},
	"/v1/embeddings":        {{name: "input", kinds: []string{"string", "list"}, kindsLabel: "str or list"}},
	"/v1/moderations":       {{name: "input", kinds: []string{"string", "list"}, kindsLabel: "str or list"}},
	"/v1/video/generations": {{name: "prompt", kinds: []string{"string"}, kindsLabel: "str"}},
}

// JSONRequired reports whether the endpoint path only accepts JSON bodies.
func JSONRequired(normalizedPath string) bool {
	_, ok := requiredFields[normalizedPath]
	return ok
}

// ValidateRequiredFields checks presence, type, and non-emptiness of the
// endpoint's required fields.
func ValidateRequiredFields(normalizedPath string, body map[string]interface{}) *Error {
	for _, rule := range requiredFields[normalizedPath] {
		value, ok := body[rule.name]
		if !ok || value == nil {
			return gateErr(apierrors.ErrCodeMissingRequiredField, "Required field '%s' is missing", rule.name)
		}

		var matched string
		switch value.(type) {
		case string:
			matched = "string"
		case []interface{}:
			matched = "list"
		}
		allowed := false
		for _, k := range rule.kinds {
			if k == matched {
				allowed = true
				break
			}
		}
		if !allowed {
			return gateErr(apierrors.ErrCodeInvalidFieldType, "Field '%s' must be %s", rule.name, rule.kindsLabel)
		}

		switch v := value.(type) {
		case []interface{}:
			if len(v) == 0 {
				return gateErr(apierrors.ErrCodeInvalidFieldValue, "Field '%s' must not be empty", rule.name)
			}
		case string:
			if len(v) == 0 || isBlank(v) {
				return gateErr(apierrors.ErrCodeInvalidFieldValue, "Field '%s' must not be empty", rule.name)
			}
		}
	}
	return nil
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
