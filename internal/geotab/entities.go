// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package geotab

import (
	"bytes"
	"encoding/json"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

// flexInt accepts a JSON number or a numeric string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), "\"")
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

type idRef struct {
	ID string `json:"id"`
}

type wireKey struct {
	DriverKeyType string  `json:"driverKeyType,omitempty"`
	ID            string  `json:"id,omitempty"`
	KeyID         flexInt `json:"keyId,omitempty"`
	SerialNumber  string  `json:"serialNumber"`
}

type wireParameter struct {
	Description string `json:"description"`
	Bytes       string `json:"bytes"`
	Offset      int    `json:"offset"`
	IsEnabled   bool   `json:"isEnabled"`
}

type wireDevice struct {
	ID               string          `json:"id"`
	SerialNumber     string          `json:"serialNumber"`
	Name             string          `json:"name"`
	TimeZoneID       string          `json:"timeZoneId"`
	ActiveTo         string          `json:"activeTo"`
	CustomParameters []wireParameter `json:"customParameters"`
}

type wireUser struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	TimeZoneID     string    `json:"timezoneId"`
	SecurityGroups []idRef   `json:"securityGroups"`
	Keys           []wireKey `json:"keys"`
}

type wireGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type wireMessageContent struct {
	ContentType   string   `json:"contentType"`
	DriverKey     *wireKey `json:"driverKey,omitempty"`
	ClearAuthList bool     `json:"clearAuthList"`
	AddToAuthList bool     `json:"addToAuthList"`
}

type wireTextMessage struct {
	ID                   string             `json:"id,omitempty"`
	Device               idRef              `json:"device"`
	IsDirectionToVehicle bool               `json:"isDirectionToVehicle"`
	Sent                 string             `json:"sent,omitempty"`
	Delivered            string             `json:"delivered,omitempty"`
	MessageContent       wireMessageContent `json:"messageContent"`
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// decodeRaw decodes an entity into a generic map, keeping numbers exact.
func decodeRaw(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func keyFromWire(w wireKey) model.Key {
	return model.Key{
		DriverKeyType: w.DriverKeyType,
		ID:            w.ID,
		KeyID:         int64(w.KeyID),
		SerialNumber:  w.SerialNumber,
	}
}

func keyToWire(k model.Key) *wireKey {
	return &wireKey{
		DriverKeyType: k.DriverKeyType,
		ID:            k.ID,
		KeyID:         flexInt(k.KeyID),
		SerialNumber:  k.SerialNumber,
	}
}

func decodeDevice(b []byte) (model.Device, error) {
	var w wireDevice
	if err := json.Unmarshal(b, &w); err != nil {
		return model.Device{}, err
	}
	raw, err := decodeRaw(b)
	if err != nil {
		return model.Device{}, err
	}
	d := model.Device{
		ID:           w.ID,
		SerialNumber: w.SerialNumber,
		Name:         w.Name,
		TimeZoneID:   w.TimeZoneID,
		ActiveTo:     parseTime(w.ActiveTo),
		Raw:          raw,
	}
	for _, p := range w.CustomParameters {
		d.CustomParameters = append(d.CustomParameters, model.CustomParameter(p))
	}
	return d, nil
}

func decodeUser(b []byte) (model.User, error) {
	var w wireUser
	if err := json.Unmarshal(b, &w); err != nil {
		return model.User{}, err
	}
	raw, err := decodeRaw(b)
	if err != nil {
		return model.User{}, err
	}
	u := model.User{ID: w.ID, Name: w.Name, TimeZoneID: w.TimeZoneID, Raw: raw}
	for _, g := range w.SecurityGroups {
		u.SecurityGroups = append(u.SecurityGroups, g.ID)
	}
	for _, k := range w.Keys {
		u.Keys = append(u.Keys, keyFromWire(k))
	}
	return u, nil
}

func decodeTextMessage(b []byte) (model.TextMessage, bool, error) {
	var w wireTextMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return model.TextMessage{}, false, err
	}
	if w.MessageContent.ContentType != model.AuthListContentType {
		return model.TextMessage{}, false, nil
	}
	m := model.TextMessage{
		ID:       w.ID,
		DeviceID: w.Device.ID,
		Sent:     parseTime(w.Sent),
		Command: model.AuthListCommand{
			DeviceID: w.Device.ID,
			Clear:    w.MessageContent.ClearAuthList,
			Add:      w.MessageContent.AddToAuthList,
		},
	}
	if w.MessageContent.DriverKey != nil {
		k := keyFromWire(*w.MessageContent.DriverKey)
		m.Command.Key = &k
	}
	if t := parseTime(w.Delivered); !t.IsZero() {
		m.Delivered = &t
	}
	return m, true, nil
}

// deviceEntity returns the Set payload for d: its raw entity with the
// modelled fields applied on top. Existing parameter maps are kept as
// received so unmodelled parameter fields survive.
func deviceEntity(d model.Device) map[string]any {
	entity := maps.Clone(d.Raw)
	if entity == nil {
		entity = map[string]any{}
	}
	entity["id"] = d.ID
	if d.TimeZoneID != "" {
		entity["timeZoneId"] = d.TimeZoneID
	}

	existing := map[string]map[string]any{}
	if list, ok := entity["customParameters"].([]any); ok {
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				if desc, ok := m["description"].(string); ok {
					existing[desc] = m
				}
			}
		}
	}
	params := make([]any, 0, len(d.CustomParameters))
	for _, p := range d.CustomParameters {
		m := maps.Clone(existing[p.Description])
		if m == nil {
			m = map[string]any{}
		}
		m["description"] = p.Description
		m["bytes"] = p.Bytes
		m["offset"] = p.Offset
		m["isEnabled"] = p.IsEnabled
		params = append(params, m)
	}
	if len(params) > 0 || entity["customParameters"] != nil {
		entity["customParameters"] = params
	}
	return entity
}

func userEntity(u model.User) map[string]any {
	entity := maps.Clone(u.Raw)
	if entity == nil {
		entity = map[string]any{}
	}
	entity["id"] = u.ID
	if u.TimeZoneID != "" {
		entity["timezoneId"] = u.TimeZoneID
	}
	if u.SecurityGroups != nil {
		groups := make([]any, 0, len(u.SecurityGroups))
		for _, id := range u.SecurityGroups {
			groups = append(groups, map[string]any{"id": id})
		}
		entity["securityGroups"] = groups
	}
	return entity
}

func commandEntity(c model.AuthListCommand) wireTextMessage {
	msg := wireTextMessage{
		Device:               idRef{ID: c.DeviceID},
		IsDirectionToVehicle: true,
		MessageContent: wireMessageContent{
			ContentType:   model.AuthListContentType,
			ClearAuthList: c.Clear,
			AddToAuthList: c.Add,
		},
	}
	if c.Key != nil && !c.Clear {
		msg.MessageContent.DriverKey = keyToWire(*c.Key)
	}
	return msg
}
