package strapi

import (
	"encoding/json"
	"fmt"
)

// Media is an asset of the upload plugin. Its wire form is the whole flat
// object the plugin returns, which is also what relation fields accept.
type Media struct {
	ID               int64          `json:"id"`
	Name             string         `json:"name"`
	AlternativeText  *string        `json:"alternativeText"`
	Caption          *string        `json:"caption"`
	Width            *int64         `json:"width"`
	Height           *int64         `json:"height"`
	Formats          map[string]any `json:"formats"`
	Hash             string         `json:"hash"`
	Ext              string         `json:"ext"`
	Mime             string         `json:"mime"`
	Size             float64        `json:"size"`
	Url              string         `json:"url"`
	PreviewUrl       *string        `json:"previewUrl"`
	Provider         string         `json:"provider"`
	ProviderMetadata any            `json:"provider_metadata"`
	CreatedAt        string         `json:"createdAt"`
	UpdatedAt        string         `json:"updatedAt"`
}

func (m *Media) Wire() any {
	out := map[string]any{
		"id":                m.ID,
		"name":              m.Name,
		"alternativeText":   m.AlternativeText,
		"caption":           m.Caption,
		"width":             m.Width,
		"height":            m.Height,
		"formats":           m.Formats,
		"hash":              m.Hash,
		"ext":               m.Ext,
		"mime":              m.Mime,
		"size":              m.Size,
		"url":               m.Url,
		"previewUrl":        m.PreviewUrl,
		"provider":          m.Provider,
		"provider_metadata": m.ProviderMetadata,
		"createdAt":         m.CreatedAt,
		"updatedAt":         m.UpdatedAt,
	}
	return out
}

// FilterParam matches media by content hash, ids differ between
// environments while hashes do not.
func (m *Media) FilterParam(field string) (string, string) {
	return fmt.Sprintf("filters[%s][hash][$eq]", field), m.Hash
}

// MediaFromWire accepts a flat upload object or a {data: {id, attributes}}
// relation payload. A list (a multiple media field read as single) yields its
// first asset.
func MediaFromWire(raw any) (*Media, error) {
	if list, isList := raw.([]any); isList {
		if len(list) == 0 {
			return nil, nil
		}
		raw = list[0]
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("media: expected an object, got %T", raw)
	}
	if data, wrapped := obj["data"]; wrapped {
		if data == nil {
			return nil, nil
		}
		if list, isList := data.([]any); isList {
			return MediaFromWire(list)
		}
		inner, ok := data.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("media: data is %T, not an object", data)
		}
		obj = inner
	}
	if attrs, nested := obj["attributes"].(map[string]any); nested {
		flat := make(map[string]any, len(attrs)+1)
		for k, v := range attrs {
			flat[k] = v
		}
		flat["id"] = obj["id"]
		obj = flat
	}

	buff, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var m Media
	err = json.Unmarshal(buff, &m)
	if err != nil {
		return nil, fmt.Errorf("media: %w", err)
	}
	if m.ID == 0 {
		return nil, fmt.Errorf("media: object without id")
	}
	return &m, nil
}

type mediaCodec struct{}

// MediaCodec coerces single media fields.
var MediaCodec Codec = mediaCodec{}

func (mediaCodec) Name() string {
	return "media"
}

func (mediaCodec) Coerce(raw any) (Custom, error) {
	if raw == nil {
		return nil, nil
	}
	m, err := MediaFromWire(raw)
	if err != nil || m == nil {
		return nil, err
	}
	return m, nil
}

// MediaList is a multiple media field.
type MediaList []*Media

func (l MediaList) Wire() any {
	out := make([]any, len(l))
	for i, m := range l {
		out[i] = m.Wire()
	}
	return out
}

type mediaListCodec struct{}

var MediaListCodec Codec = mediaListCodec{}

func (mediaListCodec) Name() string {
	return "media_list"
}

func (mediaListCodec) Coerce(raw any) (Custom, error) {
	items := raw
	if obj, ok := raw.(map[string]any); ok {
		items = obj["data"]
	}
	if items == nil {
		return nil, nil
	}
	list, ok := items.([]any)
	if !ok {
		return nil, fmt.Errorf("media list: expected a list, got %T", items)
	}
	out := make(MediaList, 0, len(list))
	for i, item := range list {
		m, err := MediaFromWire(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// MediaValue wraps an uploaded asset, a nil asset is null.
func MediaValue(m *Media) Value {
	if m == nil {
		return NullValue()
	}
	return CustomValue(m)
}

func MediaOf(v Value) *Media {
	c, _ := v.Custom()
	m, _ := c.(*Media)
	return m
}
