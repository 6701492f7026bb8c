package provision

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-playground/validator/v10"
)

// PackManifest is a third-party pack's declaration of its identity and
// the flows it exposes. Historical manifests vary in wire shape (JSON or
// CBOR, aliased id/version field names, indirected pack ids) — see
// LoadManifest for the normalization this type is decoded through.
type PackManifest struct {
	ID      string     `json:"id" validate:"required"`
	Version string     `json:"version" validate:"required"`
	Meta    PackMeta   `json:"meta"`
	Flows   []PackFlow `json:"flows"`
}

// PackMeta carries the pack's entry-flow declarations and capabilities.
type PackMeta struct {
	EntryFlows            EntryFlows `json:"entry_flows"`
	RequiresPublicBaseURL bool       `json:"requires_public_base_url"`
	Capabilities          []string   `json:"capabilities"`
}

// EntryFlows is a tagged union of three historical shapes a pack manifest
// may use to declare its entry points: absent, a name->flow-id map, or a
// list of flow descriptors. Go has no native untagged-enum support, so
// UnmarshalJSON tries each shape in turn.
type EntryFlows struct {
	Map  map[string]string
	List []EntryFlowDescriptor
}

func (e *EntryFlows) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) || len(trimmed) == 0 {
		*e = EntryFlows{}
		return nil
	}
	if trimmed[0] == '[' {
		var list []EntryFlowDescriptor
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*e = EntryFlows{List: list}
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*e = EntryFlows{Map: m}
	return nil
}

func (e EntryFlows) MarshalJSON() ([]byte, error) {
	if e.List != nil {
		return json.Marshal(e.List)
	}
	if e.Map != nil {
		return json.Marshal(e.Map)
	}
	return json.Marshal(map[string]string{})
}

// lookup returns the flow id declared for entryName, if any.
func (e EntryFlows) lookup(entryName string) (string, bool) {
	if e.Map != nil {
		v, ok := e.Map[entryName]
		return v, ok
	}
	for _, flow := range e.List {
		entry := flow.Entry
		if entry == "" {
			entry = flow.Name
		}
		if entry == entryName {
			if flow.ID != "" {
				return flow.ID, true
			}
			if flow.FlowID != "" {
				return flow.FlowID, true
			}
			if flow.Name != "" {
				return flow.Name, true
			}
		}
	}
	return "", false
}

// EntryFlowDescriptor is one entry in the list-shaped form of EntryFlows.
type EntryFlowDescriptor struct {
	Entry  string `json:"entry,omitempty"`
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	FlowID string `json:"flow_id,omitempty"`
}

// PackFlow is one flow declared directly on the manifest's top-level
// flows list (as opposed to meta.entry_flows).
type PackFlow struct {
	Entry string `json:"entry,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
}

// ProvisionDescriptor is what DiscoverProvisioning extracts from a
// manifest: the entry flows a provisioning run needs, in a shape that no
// longer depends on which of the historical wire forms produced it.
type ProvisionDescriptor struct {
	PackID                string   `json:"pack_id"`
	PackVersion           string   `json:"pack_version"`
	SetupEntryFlow        string   `json:"setup_entry_flow"`
	RequirementsFlow      string   `json:"requirements_flow,omitempty"`
	SubscriptionsFlow     string   `json:"subscriptions_flow,omitempty"`
	RequiresPublicBaseURL bool     `json:"requires_public_base_url"`
	Outputs               []string `json:"outputs"`
}

// DiscoverProvisioning extracts a ProvisionDescriptor from manifest. It
// returns a ProvisionError of kind KindNoProvisioningEntry if the manifest
// declares no "setup" entry flow — a pack without one has nothing for
// the engine to run.
func DiscoverProvisioning(manifest *PackManifest) (*ProvisionDescriptor, error) {
	setup, ok := entryFlowID(manifest, "setup")
	if !ok {
		return nil, NewNoProvisioningEntryError(manifest.ID)
	}
	requirements, _ := entryFlowID(manifest, "requirements")
	subscriptions, _ := entryFlowID(manifest, "subscriptions")

	return &ProvisionDescriptor{
		PackID:                manifest.ID,
		PackVersion:           manifest.Version,
		SetupEntryFlow:        setup,
		RequirementsFlow:      requirements,
		SubscriptionsFlow:     subscriptions,
		RequiresPublicBaseURL: manifest.Meta.RequiresPublicBaseURL,
		Outputs:               manifest.Meta.Capabilities,
	}, nil
}

func entryFlowID(manifest *PackManifest, entryName string) (string, bool) {
	if id, ok := manifest.Meta.EntryFlows.lookup(entryName); ok {
		return id, true
	}
	for _, flow := range manifest.Flows {
		entry := flow.Entry
		if entry == "" {
			entry = flow.Name
		}
		if entry == entryName {
			if flow.ID != "" {
				return flow.ID, true
			}
			if flow.Name != "" {
				return flow.Name, true
			}
		}
	}
	return "", false
}

var manifestValidator = validator.New()

// ValidateManifest runs struct-tag validation over manifest (required
// id/version), the same validator.New()/Struct() pattern used elsewhere
// in this codebase for config and descriptor validation.
func ValidateManifest(manifest *PackManifest) error {
	if err := manifestValidator.Struct(manifest); err != nil {
		return NewDecodeError("manifest failed validation", err)
	}
	return nil
}

// manifestCandidates are the filenames LoadManifest searches for inside a
// pack directory, in priority order.
var manifestCandidates = []string{"pack.json", "manifest.json", "manifest.cbor"}

// LoadManifest loads and normalizes a pack manifest from path. If path is
// a directory, it is searched for one of manifestCandidates. CBOR
// manifests are decoded generically first and run through
// normalizeManifestValue to collapse historical id/version aliases
// before being re-marshaled into PackManifest; JSON manifests are
// expected to already be in canonical shape (JSON-producing packs are
// newer and always emit "id"/"version" directly).
func LoadManifest(path string) (*PackManifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, NewIOError("failed to stat manifest path", err)
	}
	if !info.IsDir() {
		return loadManifestFile(path)
	}
	for _, candidate := range manifestCandidates {
		full := filepath.Join(path, candidate)
		if _, err := os.Stat(full); err == nil {
			return loadManifestFile(full)
		}
	}
	return nil, NewManifestNotFoundError(path)
}

func loadManifestFile(path string) (*PackManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewIOError("failed to read manifest", err)
	}
	if filepath.Ext(path) == ".cbor" {
		return loadManifestFromCBOR(data)
	}

	var manifest PackManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, NewDecodeError("failed to parse manifest JSON", err)
	}
	if err := ValidateManifest(&manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}

func loadManifestFromCBOR(data []byte) (*PackManifest, error) {
	// First try decoding straight into PackManifest: already-canonical
	// CBOR manifests (id/version present, no aliasing) round-trip this
	// way without the generic normalization pass below.
	var direct PackManifest
	if err := cbor.Unmarshal(data, &direct); err == nil && direct.ID != "" && direct.Version != "" {
		if err := ValidateManifest(&direct); err == nil {
			return &direct, nil
		}
	}

	var generic interface{}
	if err := cbor.Unmarshal(data, &generic); err != nil {
		return nil, NewDecodeError("failed to parse manifest CBOR", err)
	}
	normalized := normalizeManifestValue(generic)
	if normalized == nil {
		return nil, NewDecodeError("unsupported CBOR manifest shape", nil)
	}

	jsonBytes, err := json.Marshal(normalized)
	if err != nil {
		return nil, NewDecodeError("failed to re-encode normalized manifest", err)
	}
	var manifest PackManifest
	if err := json.Unmarshal(jsonBytes, &manifest); err != nil {
		return nil, NewDecodeError("failed to parse normalized manifest", err)
	}
	if err := ValidateManifest(&manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// normalizeManifestValue descends into a pack/manifest/pack_manifest
// wrapper object if present, then normalizes the inner object's field
// aliases. CBOR decodes map keys as interface{}, so values are
// normalized via map[interface{}]interface{} or map[string]interface{}
// depending on the decoder; cbor.Unmarshal into interface{} here
// produces map[interface{}]interface{} for maps, which this function
// converts to map[string]interface{} as it descends.
func normalizeManifestValue(value interface{}) map[string]interface{} {
	obj := toStringMap(value)
	if obj == nil {
		return nil
	}
	for _, wrapperKey := range []string{"pack", "manifest", "pack_manifest"} {
		if nested, ok := obj[wrapperKey]; ok {
			if nestedObj := toStringMap(nested); nestedObj != nil {
				return normalizeManifestObject(nestedObj)
			}
		}
	}
	return normalizeManifestObject(obj)
}

func toStringMap(value interface{}) map[string]interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return v
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = val
		}
		return out
	default:
		return nil
	}
}

// normalizeManifestObject collapses id/pack_id/packId and
// version/pack_version/packVersion aliases, preferring an explicit "id"
// or "version" field when present. A numeric pack_id is resolved through
// symbols.pack_ids[n]; an unresolvable numeric id drops the field
// entirely rather than guessing.
func normalizeManifestObject(obj map[string]interface{}) map[string]interface{} {
	if _, hasID := obj["id"]; hasID {
		delete(obj, "pack_id")
		delete(obj, "packId")
	} else if value := resolvePackID(obj); value != nil {
		obj["id"] = value
		delete(obj, "pack_id")
		delete(obj, "packId")
	} else {
		delete(obj, "pack_id")
		delete(obj, "packId")
	}

	if _, hasVersion := obj["version"]; hasVersion {
		delete(obj, "pack_version")
		delete(obj, "packVersion")
	} else {
		if v, ok := obj["pack_version"]; ok {
			obj["version"] = v
		} else if v, ok := obj["packVersion"]; ok {
			obj["version"] = v
		}
		delete(obj, "pack_version")
		delete(obj, "packVersion")
	}

	return obj
}

func resolvePackID(obj map[string]interface{}) interface{} {
	raw, ok := obj["pack_id"]
	if !ok {
		raw, ok = obj["packId"]
		if !ok {
			return nil
		}
	}

	switch idx := raw.(type) {
	case string:
		return idx
	case int64, uint64, int, float64:
		i, ok := toInt(idx)
		if !ok {
			return nil
		}
		symbolsRaw, ok := obj["symbols"]
		if !ok {
			return nil
		}
		symbols := toStringMap(symbolsRaw)
		if symbols == nil {
			return nil
		}
		packIDsRaw, ok := symbols["pack_ids"]
		if !ok {
			return nil
		}
		packIDs, ok := packIDsRaw.([]interface{})
		if !ok || i < 0 || i >= len(packIDs) {
			return nil
		}
		s, ok := packIDs[i].(string)
		if !ok {
			return nil
		}
		return s
	default:
		return nil
	}
}

func toInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
