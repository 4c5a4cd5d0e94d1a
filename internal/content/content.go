// Package content defines the typed message payload. The stored form is a
// tagged union keyed by "type"; each variant carries its own fields rather
// than an open-ended field bag.
package content

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the payload variant.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
	KindSticker  Kind = "sticker"
	KindTemplate Kind = "template"
)

// Text is a free-form text payload.
type Text struct {
	Body string `json:"body"`
}

// Media covers image, video, audio, document and sticker payloads. Either
// the provider media ID or a link is set.
type Media struct {
	MediaID  string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Template references a pre-approved template, usable outside the service
// window.
type Template struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

// Content is the tagged union. Exactly one variant field matches Kind.
type Content struct {
	Kind     Kind
	Text     *Text
	Media    *Media
	Template *Template
}

// NewText builds a text payload.
func NewText(body string) Content {
	return Content{Kind: KindText, Text: &Text{Body: body}}
}

// NewTemplate builds a template payload.
func NewTemplate(name, language string) Content {
	return Content{Kind: KindTemplate, Template: &Template{Name: name, Language: language}}
}

func mediaKind(k Kind) bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindDocument, KindSticker:
		return true
	}
	return false
}

// Empty reports whether the payload carries nothing sendable.
func (c Content) Empty() bool {
	switch {
	case c.Kind == KindText:
		return c.Text == nil || c.Text.Body == ""
	case c.Kind == KindTemplate:
		return c.Template == nil || c.Template.Name == ""
	case mediaKind(c.Kind):
		return c.Media == nil || (c.Media.MediaID == "" && c.Media.Link == "")
	}
	return true
}

// Preview returns a short line for the conversation list.
func (c Content) Preview() string {
	switch {
	case c.Kind == KindText && c.Text != nil:
		return c.Text.Body
	case c.Kind == KindTemplate && c.Template != nil:
		return "[template] " + c.Template.Name
	case mediaKind(c.Kind):
		if c.Media != nil && c.Media.Caption != "" {
			return c.Media.Caption
		}
		return "[" + string(c.Kind) + "]"
	}
	return ""
}

// SearchableText returns the text searched by the in-conversation index:
// the body for text messages, the caption for media, empty otherwise.
func (c Content) SearchableText() string {
	switch {
	case c.Kind == KindText && c.Text != nil:
		return c.Text.Body
	case mediaKind(c.Kind) && c.Media != nil:
		return c.Media.Caption
	}
	return ""
}

type envelope struct {
	Type     Kind            `json:"type"`
	Text     json.RawMessage `json:"text,omitempty"`
	Image    json.RawMessage `json:"image,omitempty"`
	Video    json.RawMessage `json:"video,omitempty"`
	Audio    json.RawMessage `json:"audio,omitempty"`
	Document json.RawMessage `json:"document,omitempty"`
	Sticker  json.RawMessage `json:"sticker,omitempty"`
	Template json.RawMessage `json:"template,omitempty"`
}

// MarshalJSON encodes the union as {"type": ..., "<type>": {...}}.
func (c Content) MarshalJSON() ([]byte, error) {
	env := envelope{Type: c.Kind}
	var payload any
	switch {
	case c.Kind == KindText:
		payload = c.Text
	case c.Kind == KindTemplate:
		payload = c.Template
	case mediaKind(c.Kind):
		payload = c.Media
	default:
		return nil, fmt.Errorf("content: unknown kind %q", c.Kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	switch c.Kind {
	case KindText:
		env.Text = raw
	case KindImage:
		env.Image = raw
	case KindVideo:
		env.Video = raw
	case KindAudio:
		env.Audio = raw
	case KindDocument:
		env.Document = raw
	case KindSticker:
		env.Sticker = raw
	case KindTemplate:
		env.Template = raw
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes the tagged form.
func (c *Content) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	c.Kind = env.Type
	variant := func(raw json.RawMessage, dst any) error {
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, dst)
	}
	switch {
	case env.Type == KindText:
		c.Text = &Text{}
		return variant(env.Text, c.Text)
	case env.Type == KindTemplate:
		c.Template = &Template{}
		return variant(env.Template, c.Template)
	case mediaKind(env.Type):
		c.Media = &Media{}
		var raw json.RawMessage
		switch env.Type {
		case KindImage:
			raw = env.Image
		case KindVideo:
			raw = env.Video
		case KindAudio:
			raw = env.Audio
		case KindDocument:
			raw = env.Document
		case KindSticker:
			raw = env.Sticker
		}
		return variant(raw, c.Media)
	}
	return fmt.Errorf("content: unknown kind %q", env.Type)
}
