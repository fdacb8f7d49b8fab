package llm

import "strings"

// CacheLayer names a request location that can carry cache points.
type CacheLayer string

const (
	CacheLayerSystem  CacheLayer = "system"
	CacheLayerTool    CacheLayer = "tool"
	CacheLayerMessage CacheLayer = "message"
)

// CRIProfile is a regional routing prefix on a Bedrock model id.
type CRIProfile string

const (
	CRIGlobal CRIProfile = "global"
	CRIUS     CRIProfile = "us"
	CRIEU     CRIProfile = "eu"
	CRIAPAC   CRIProfile = "apac"
	CRIJP     CRIProfile = "jp"
	CRIAU     CRIProfile = "au"
)

// Capability describes what one model supports.
type Capability struct {
	ModelID                    string
	AnthropicModelID           string
	MaxOutputTokens            int
	ReasoningSupport           bool
	InterleavedThinkingSupport bool
	ToolChoiceSupport          []ToolChoiceKind
	CacheSupport               []CacheLayer
	SupportedCRIProfiles       []CRIProfile
}

// SupportsToolChoice reports whether the model accepts the given choice kind.
func (c Capability) SupportsToolChoice(kind ToolChoiceKind) bool {
	for _, k := range c.ToolChoiceSupport {
		if k == kind {
			return true
		}
	}
	return false
}

// SupportsCache reports whether the model caches at the given layer.
func (c Capability) SupportsCache(layer CacheLayer) bool {
	for _, l := range c.CacheSupport {
		if l == layer {
			return true
		}
	}
	return false
}

// SupportsCRIProfile reports whether the model is served by the given
// regional fleet.
func (c Capability) SupportsCRIProfile(profile CRIProfile) bool {
	for _, p := range c.SupportedCRIProfiles {
		if p == profile {
			return true
		}
	}
	return false
}

var allChoices = []ToolChoiceKind{ToolChoiceAuto, ToolChoiceAny, ToolChoiceTool}
var allLayers = []CacheLayer{CacheLayerSystem, CacheLayerTool, CacheLayerMessage}

// catalog maps short model names to their capability descriptors. Short
// names are what candidate-model lists and session overrides carry.
var catalog = map[string]Capability{
	"sonnet": {
		ModelID:                    "anthropic.claude-sonnet-4-20250514-v1:0",
		AnthropicModelID:           "claude-sonnet-4-20250514",
		MaxOutputTokens:            64000,
		ReasoningSupport:           true,
		InterleavedThinkingSupport: true,
		ToolChoiceSupport:          allChoices,
		CacheSupport:               allLayers,
		SupportedCRIProfiles:       []CRIProfile{CRIGlobal, CRIUS, CRIEU, CRIAPAC, CRIJP, CRIAU},
	},
	"sonnet-3.7": {
		ModelID:              "anthropic.claude-3-7-sonnet-20250219-v1:0",
		AnthropicModelID:     "claude-3-7-sonnet-20250219",
		MaxOutputTokens:      64000,
		ReasoningSupport:     true,
		ToolChoiceSupport:    allChoices,
		CacheSupport:         allLayers,
		SupportedCRIProfiles: []CRIProfile{CRIUS, CRIEU, CRIAPAC},
	},
	"opus": {
		ModelID:                    "anthropic.claude-opus-4-20250514-v1:0",
		AnthropicModelID:           "claude-opus-4-20250514",
		MaxOutputTokens:            32000,
		ReasoningSupport:           true,
		InterleavedThinkingSupport: true,
		ToolChoiceSupport:          allChoices,
		CacheSupport:               allLayers,
		SupportedCRIProfiles:       []CRIProfile{CRIUS, CRIEU},
	},
	"haiku": {
		ModelID:              "anthropic.claude-3-5-haiku-20241022-v1:0",
		AnthropicModelID:     "claude-3-5-haiku-20241022",
		MaxOutputTokens:      8192,
		ToolChoiceSupport:    allChoices,
		CacheSupport:         []CacheLayer{CacheLayerSystem, CacheLayerTool},
		SupportedCRIProfiles: []CRIProfile{CRIUS, CRIEU, CRIAPAC, CRIJP, CRIAU},
	},
}

// DefaultModels are the candidates used when neither the session nor the
// preferences override the model.
var DefaultModels = []string{"sonnet"}

// TitleModel is the cheap model used for one-shot session title generation.
const TitleModel = "haiku"

// Resolve looks up a capability descriptor by short name or full model id.
func Resolve(name string) (Capability, bool) {
	if cap, ok := catalog[name]; ok {
		return cap, true
	}
	for _, cap := range catalog {
		if cap.ModelID == name || cap.AnthropicModelID == name {
			return cap, true
		}
	}
	return Capability{}, false
}

// ApplyCRIProfile prepends the regional prefix when the model supports the
// profile; otherwise the bare model id is returned.
func ApplyCRIProfile(cap Capability, profile CRIProfile) string {
	if profile != "" && cap.SupportsCRIProfile(profile) {
		return string(profile) + "." + cap.ModelID
	}
	return cap.ModelID
}

// ParseCRIProfile validates a profile override string.
func ParseCRIProfile(s string) (CRIProfile, bool) {
	switch CRIProfile(strings.ToLower(s)) {
	case CRIGlobal, CRIUS, CRIEU, CRIAPAC, CRIJP, CRIAU:
		return CRIProfile(strings.ToLower(s)), true
	}
	return "", false
}
