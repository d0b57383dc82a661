package acp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMerge_ConfigOptionsTakesPriorityOverLegacy(t *testing.T) {
	configOptions, _ := json.Marshal([]rawConfigOption{
		{
			Type:         "select",
			Category:     "mode",
			CurrentValue: "plan",
			Options: []rawConfigChoice{
				{Value: "plan", Name: "Plan"},
				{Value: "build", Name: "Build"},
			},
		},
	})

	out := Merge(Metadata{}, ConfigSnapshot{
		ConfigOptions: configOptions,
		Modes: &ModesSnapshot{
			CurrentModeID: "legacy-mode",
			AvailableModes: []LegacyMode{{ID: "legacy-mode", Name: "Legacy"}},
		},
	})

	require.Equal(t, "plan", out.CurrentOperatingModeCode)
	require.Len(t, out.OperatingModes, 2)
	require.Equal(t, "plan", out.OperatingModes[0].Code)
}

func TestMerge_FallsBackToLegacyModesWhenConfigOptionsAbsent(t *testing.T) {
	out := Merge(Metadata{}, ConfigSnapshot{
		Modes: &ModesSnapshot{
			CurrentModeID:  "default",
			AvailableModes: []LegacyMode{{ID: "default", Name: "Default"}},
		},
	})

	require.Equal(t, "default", out.CurrentOperatingModeCode)
	require.Len(t, out.OperatingModes, 1)
}

func TestMerge_FallsBackToLegacyModels(t *testing.T) {
	out := Merge(Metadata{}, ConfigSnapshot{
		Models: &ModelsSnapshot{
			CurrentModelID:  "sonnet",
			AvailableModels: []LegacyModel{{ModelID: "sonnet", Name: "Sonnet"}},
		},
	})

	require.Equal(t, "sonnet", out.CurrentModelCode)
	require.Len(t, out.Models, 1)
}

func TestMerge_GroupedConfigOptionsFlatten(t *testing.T) {
	configOptions, _ := json.Marshal([]rawConfigOption{
		{
			Type:     "select",
			Category: "thought_level",
			Options: []rawConfigChoice{
				{
					Name: "group",
					Options: []rawConfigChoice{
						{Value: "low", Name: "Low"},
						{Value: "high", Name: "High"},
					},
				},
			},
		},
	})

	out := Merge(Metadata{}, ConfigSnapshot{ConfigOptions: configOptions})
	require.Len(t, out.ThoughtLevels, 2)
	require.Equal(t, "low", out.ThoughtLevels[0].Code)
	require.Equal(t, "high", out.ThoughtLevels[1].Code)
}

func TestMerge_BareCurrentModeIDOverridesLast(t *testing.T) {
	configOptions, _ := json.Marshal([]rawConfigOption{
		{Type: "select", Category: "mode", CurrentValue: "plan", Options: []rawConfigChoice{{Value: "plan", Name: "Plan"}}},
	})

	out := Merge(Metadata{}, ConfigSnapshot{
		ConfigOptions: configOptions,
		CurrentModeID: "override-mode",
	})

	require.Equal(t, "override-mode", out.CurrentOperatingModeCode)
}

func TestMerge_CategoryAbsentFromBothSourcesIsDeleted(t *testing.T) {
	existing := Metadata{
		OperatingModes:           []ConfigOption{{Code: "plan", Value: "Plan"}},
		CurrentOperatingModeCode: "plan",
	}

	out := Merge(existing, ConfigSnapshot{})

	require.Empty(t, out.OperatingModes)
	require.Empty(t, out.CurrentOperatingModeCode)
}

func TestExtractConfigOptionsFromPayload_AcceptsBareArrayOrWrapper(t *testing.T) {
	bareArray, _ := json.Marshal([]rawConfigOption{{Type: "select", Category: "mode"}})
	require.Len(t, extractConfigOptionsFromPayload(bareArray), 1)

	wrapped, _ := json.Marshal(map[string]any{
		"configOptions": []rawConfigOption{{Type: "select", Category: "model"}},
	})
	require.Len(t, extractConfigOptionsFromPayload(wrapped), 1)

	require.Nil(t, extractConfigOptionsFromPayload(nil))
}

func TestExtractModeState_RequiresAFieldToBePresent(t *testing.T) {
	require.Nil(t, ExtractModeState(json.RawMessage(`{}`)))

	valid, _ := json.Marshal(ModesSnapshot{CurrentModeID: "x"})
	require.NotNil(t, ExtractModeState(valid))
}
