package entities

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
)

// Entity is an opaque record returned by the remote API. Only "urn" and
// "owner_guid" are interpreted.
type Entity map[string]any

func (e Entity) URN() string {
	return stringField(e, "urn")
}

func (e Entity) OwnerGUID() string {
	return stringField(e, "owner_guid")
}

// withURN returns e with urn set when the record does not carry one.
func (e Entity) withURN(urn string) Entity {
	if e.URN() != "" || urn == "" {
		return e
	}
	out := maps.Clone(e)
	out["urn"] = urn
	return out
}

// FeedItemRef is one position in a feed page.
type FeedItemRef struct {
	URN       string `json:"urn"`
	Entity    Entity `json:"entity,omitempty"`
	OwnerGUID string `json:"owner_guid,omitempty"`
}

// UnmarshalJSON accepts owner_guid as either a string or a number.
func (r *FeedItemRef) UnmarshalJSON(data []byte) error {
	var raw struct {
		URN       string `json:"urn"`
		Entity    Entity `json:"entity"`
		OwnerGUID any    `json:"owner_guid"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	r.URN = raw.URN
	r.Entity = raw.Entity
	r.OwnerGUID = formatID(raw.OwnerGUID)
	if r.URN == "" && r.Entity != nil {
		r.URN = r.Entity.URN()
	}
	return nil
}

func stringField(e Entity, key string) string {
	if e == nil {
		return ""
	}
	return formatID(e[key])
}

func formatID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case json.Number:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}
