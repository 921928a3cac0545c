package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/PopoGonry/iot-data-bridge/errors"
	"github.com/PopoGonry/iot-data-bridge/message"
)

// MappingKey is the composite lookup key for mapping rules.
type MappingKey struct {
	EquipmentTag string
	MessageID    string
}

// String returns the key in tag/message form for log output.
func (k MappingKey) String() string {
	return k.EquipmentTag + "/" + k.MessageID
}

// MappingRule maps one (equipment tag, message id) pair to a canonical
// object name and its declared value type.
type MappingRule struct {
	EquipmentTag string
	MessageID    string
	Object       string
	Type         message.ValueType
}

// Key returns the rule's composite key.
func (r MappingRule) Key() MappingKey {
	return MappingKey{EquipmentTag: r.EquipmentTag, MessageID: r.MessageID}
}

// MappingRecord is the wire/file form of one mapping table entry.
type MappingRecord struct {
	EquipTag  string `yaml:"equip_tag"  json:"equip_tag"`
	MessageID string `yaml:"message_id" json:"message_id"`
	Object    string `yaml:"object"     json:"object"`
	ValueType string `yaml:"value_type" json:"value_type"`
}

// mappingFile is the on-disk YAML layout of the mapping catalog.
type mappingFile struct {
	Mappings []MappingRecord `yaml:"mappings"`
}

// MappingCatalog is the immutable (equipment tag, message id) -> rule table.
type MappingCatalog struct {
	rules map[MappingKey]MappingRule
}

// NewMappingCatalog validates records and builds the catalog.
// Duplicate keys are rejected rather than last-one-wins: a human editing
// the table should hear about the conflict at startup.
func NewMappingCatalog(records []MappingRecord) (*MappingCatalog, error) {
	rules := make(map[MappingKey]MappingRule, len(records))

	for i, rec := range records {
		tag := strings.TrimSpace(rec.EquipTag)
		msgID := strings.TrimSpace(rec.MessageID)
		object := strings.TrimSpace(rec.Object)

		if tag == "" || msgID == "" || object == "" {
			return nil, errors.WrapFatal(
				fmt.Errorf("record %d: equip_tag, message_id and object are required: %w",
					i, errors.ErrInvalidConfig),
				"MappingCatalog", "New", "record validation")
		}

		vt, err := message.ParseValueType(rec.ValueType)
		if err != nil {
			return nil, errors.WrapFatal(
				fmt.Errorf("record %d (%s/%s): %w", i, tag, msgID, err),
				"MappingCatalog", "New", "value type validation")
		}

		key := MappingKey{EquipmentTag: tag, MessageID: msgID}
		if _, exists := rules[key]; exists {
			return nil, errors.WrapFatal(
				fmt.Errorf("record %d: %w for %s", i, errors.ErrDuplicateRule, key),
				"MappingCatalog", "New", "duplicate key validation")
		}

		rules[key] = MappingRule{
			EquipmentTag: tag,
			MessageID:    msgID,
			Object:       object,
			Type:         vt,
		}
	}

	return &MappingCatalog{rules: rules}, nil
}

// LoadMappingCatalog reads and validates a YAML mapping table.
func LoadMappingCatalog(path string) (*MappingCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "MappingCatalog", "Load", "read catalog file")
	}

	var file mappingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"MappingCatalog", "Load", "parse catalog file")
	}

	return NewMappingCatalog(file.Mappings)
}

// Lookup returns the rule for a (tag, message id) pair, if one exists.
func (c *MappingCatalog) Lookup(equipTag, messageID string) (MappingRule, bool) {
	rule, ok := c.rules[MappingKey{EquipmentTag: equipTag, MessageID: messageID}]
	return rule, ok
}

// Len returns the number of rules in the catalog.
func (c *MappingCatalog) Len() int {
	return len(c.rules)
}
