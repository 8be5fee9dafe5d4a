package core

import (
	"encoding/json"
	"fmt"
)

type itemEnvelope struct {
	Type ItemType        `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalItem encodes a single item with its type discriminator.
func MarshalItem(it Item) ([]byte, error) {
	data, err := json.Marshal(it)
	if err != nil {
		return nil, fmt.Errorf("marshal %s item: %w", it.ItemType(), err)
	}
	return json.Marshal(itemEnvelope{Type: it.ItemType(), Data: data})
}

// UnmarshalItem decodes an item previously encoded by MarshalItem.
func UnmarshalItem(b []byte) (Item, error) {
	var env itemEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode item envelope: %w", err)
	}

	var (
		it  Item
		err error
	)

	switch env.Type {
	case ItemTypeUserMessage:
		it, err = decodeAs[UserMessage](env.Data)
	case ItemTypeAssistantMessage:
		it, err = decodeAs[AssistantMessage](env.Data)
	case ItemTypeCapabilityInvocation:
		it, err = decodeAs[CapabilityInvocation](env.Data)
	case ItemTypeCapabilityResult:
		it, err = decodeAs[CapabilityResult](env.Data)
	case ItemTypeDelegation:
		it, err = decodeAs[DelegationEvent](env.Data)
	case ItemTypeReasoning:
		it, err = decodeAs[ReasoningTrace](env.Data)
	default:
		return nil, fmt.Errorf("unknown item type %q", env.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("decode %s item: %w", env.Type, err)
	}

	return it, nil
}

// MarshalItems encodes an item list as a JSON array of envelopes.
func MarshalItems(items []Item) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		b, err := MarshalItem(it)
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
	}
	return json.Marshal(raw)
}

// UnmarshalItems decodes a list produced by MarshalItems.
func UnmarshalItems(b []byte) ([]Item, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode item list: %w", err)
	}

	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		it, err := UnmarshalItem(r)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}

	return items, nil
}

func decodeAs[T Item](data json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
