package acp

import "encoding/json"

// ConfigOption is one selectable ACP config entry, flattened out of
// either a top-level {value,name,description} list or a grouped
// {options: [...]} entry.
type ConfigOption struct {
	Code        string `json:"code"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// Metadata is the canonical snapshot of agent capabilities the session
// manager projects outward, folding ACP's three overlapping capability
// surfaces into one shape.
type Metadata struct {
	Models                   []ConfigOption `json:"models,omitempty"`
	CurrentModelCode         string         `json:"currentModelCode,omitempty"`
	OperatingModes           []ConfigOption `json:"operatingModes,omitempty"`
	CurrentOperatingModeCode string         `json:"currentOperatingModeCode,omitempty"`
	ThoughtLevels            []ConfigOption `json:"thoughtLevels,omitempty"`
	CurrentThoughtLevelCode  string         `json:"currentThoughtLevelCode,omitempty"`
}

// rawConfigOption mirrors one configOptions array entry or group, before
// flattening.
type rawConfigOption struct {
	Type         string            `json:"type"`
	Category     string            `json:"category"`
	CurrentValue string            `json:"currentValue,omitempty"`
	Options      []rawConfigChoice `json:"options,omitempty"`
}

type rawConfigChoice struct {
	Value       string            `json:"value,omitempty"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Options     []rawConfigChoice `json:"options,omitempty"`
}

// ConfigSnapshot is the heterogeneous input Merge folds into Metadata:
// a newSession result, a config_options_update event payload, or a bare
// legacy modes/models snapshot.
type ConfigSnapshot struct {
	ConfigOptions json.RawMessage
	Modes         *ModesSnapshot
	Models        *ModelsSnapshot
	CurrentModeID string
}

// Merge folds snapshot into metadata following six ordered
// rules, returning the updated Metadata. metadata may be the zero value
// for a first call.
func Merge(metadata Metadata, snapshot ConfigSnapshot) Metadata {
	out := metadata

	options := extractConfigOptionsFromPayload(snapshot.ConfigOptions)
	haveMode, haveModel, haveThought := false, false, false

	for _, opt := range options {
		if opt.Type != "select" {
			continue
		}
		switch opt.Category {
		case "mode":
			out.OperatingModes = opt.flatten()
			out.CurrentOperatingModeCode = opt.CurrentValue
			haveMode = true
		case "model":
			out.Models = opt.flatten()
			out.CurrentModelCode = opt.CurrentValue
			haveModel = true
		case "thought_level":
			out.ThoughtLevels = opt.flatten()
			out.CurrentThoughtLevelCode = opt.CurrentValue
			haveThought = true
		}
	}

	if !haveMode {
		if snapshot.Modes != nil {
			out.OperatingModes = legacyModesToOptions(snapshot.Modes.AvailableModes)
			out.CurrentOperatingModeCode = snapshot.Modes.CurrentModeID
		} else {
			out.OperatingModes = nil
			out.CurrentOperatingModeCode = ""
		}
	}
	if !haveModel {
		if snapshot.Models != nil {
			out.Models = legacyModelsToOptions(snapshot.Models.AvailableModels)
			out.CurrentModelCode = snapshot.Models.CurrentModelID
		} else {
			out.Models = nil
			out.CurrentModelCode = ""
		}
	}
	if !haveThought {
		out.ThoughtLevels = nil
		out.CurrentThoughtLevelCode = ""
	}

	if snapshot.CurrentModeID != "" {
		out.CurrentOperatingModeCode = snapshot.CurrentModeID
	}

	return out
}

func (o rawConfigOption) flatten() []ConfigOption {
	var result []ConfigOption
	for _, choice := range o.Options {
		if len(choice.Options) > 0 {
			for _, nested := range choice.Options {
				result = append(result, ConfigOption{Code: nested.Value, Value: nested.Name, Description: nested.Description})
			}
			continue
		}
		result = append(result, ConfigOption{Code: choice.Value, Value: choice.Name, Description: choice.Description})
	}
	return result
}

func legacyModesToOptions(modes []LegacyMode) []ConfigOption {
	result := make([]ConfigOption, 0, len(modes))
	for _, m := range modes {
		result = append(result, ConfigOption{Code: m.ID, Value: m.Name, Description: m.Description})
	}
	return result
}

func legacyModelsToOptions(models []LegacyModel) []ConfigOption {
	result := make([]ConfigOption, 0, len(models))
	for _, m := range models {
		result = append(result, ConfigOption{Code: m.ModelID, Value: m.Name, Description: m.Description})
	}
	return result
}

// extractConfigOptionsFromPayload accepts either a bare array or an
// {configOptions: [...]} wrapper, returning nil on any other shape.
func extractConfigOptionsFromPayload(raw json.RawMessage) []rawConfigOption {
	if len(raw) == 0 {
		return nil
	}
	var arr []rawConfigOption
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr
	}
	var wrapper struct {
		ConfigOptions []rawConfigOption `json:"configOptions"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil {
		return wrapper.ConfigOptions
	}
	return nil
}

// ExtractModeState validates and returns a legacy modes snapshot, or nil
// if the payload is absent or missing its required fields.
func ExtractModeState(raw json.RawMessage) *ModesSnapshot {
	if len(raw) == 0 {
		return nil
	}
	var m ModesSnapshot
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	if len(m.AvailableModes) == 0 && m.CurrentModeID == "" {
		return nil
	}
	return &m
}

// ExtractModelState validates and returns a legacy models snapshot, or
// nil if the payload is absent or missing its required fields.
func ExtractModelState(raw json.RawMessage) *ModelsSnapshot {
	if len(raw) == 0 {
		return nil
	}
	var m ModelsSnapshot
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	if len(m.AvailableModels) == 0 && m.CurrentModelID == "" {
		return nil
	}
	return &m
}
