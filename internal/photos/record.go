package photos

import (
	"encoding/base64"
	"encoding/json"
)

// Record is one database record: typed fields under a change tag.
type Record struct {
	RecordName      string           `json:"recordName"`
	RecordType      string           `json:"recordType"`
	RecordChangeTag string           `json:"recordChangeTag"`
	Fields          map[string]Field `json:"fields"`
}

// Field is a typed record field. Value shape depends on Type.
type Field struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// StringField returns a field's value as a string.
func (r Record) StringField(name string) (string, bool) {
	f, ok := r.Fields[name]
	if !ok {
		return "", false
	}

	var s string
	if err := json.Unmarshal(f.Value, &s); err != nil {
		return "", false
	}

	return s, true
}

// Int64Field returns a field's value as an int64.
func (r Record) Int64Field(name string) (int64, bool) {
	f, ok := r.Fields[name]
	if !ok {
		return 0, false
	}

	var n int64
	if err := json.Unmarshal(f.Value, &n); err != nil {
		return 0, false
	}

	return n, true
}

// BoolField returns a field's value as a bool, accepting the numeric
// encoding some records use.
func (r Record) BoolField(name string) (bool, bool) {
	f, ok := r.Fields[name]
	if !ok {
		return false, false
	}

	var b bool
	if err := json.Unmarshal(f.Value, &b); err == nil {
		return b, true
	}

	var n int64
	if err := json.Unmarshal(f.Value, &n); err == nil {
		return n != 0, true
	}

	return false, false
}

// EncodedTextField decodes a filenameEnc-style field: STRING values are
// literal, ENCRYPTED_BYTES values are base64-wrapped UTF-8.
func (r Record) EncodedTextField(name string) (string, bool) {
	f, ok := r.Fields[name]
	if !ok {
		return "", false
	}

	var s string
	if err := json.Unmarshal(f.Value, &s); err != nil {
		return "", false
	}

	if f.Type == "ENCRYPTED_BYTES" || f.Type == "" {
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", false
		}

		return string(decoded), true
	}

	return s, true
}

// resource is the value shape of *Res fields.
type resource struct {
	Size        int64  `json:"size"`
	DownloadURL string `json:"downloadURL"`
}

// ResourceField returns a field's value as a downloadable resource.
func (r Record) ResourceField(name string) (resource, bool) {
	f, ok := r.Fields[name]
	if !ok {
		return resource{}, false
	}

	var res resource
	if err := json.Unmarshal(f.Value, &res); err != nil {
		return resource{}, false
	}

	return res, true
}

// ReferenceField returns the recordName a reference field points at.
func (r Record) ReferenceField(name string) (string, bool) {
	f, ok := r.Fields[name]
	if !ok {
		return "", false
	}

	var ref struct {
		RecordName string `json:"recordName"`
	}
	if err := json.Unmarshal(f.Value, &ref); err != nil {
		return "", false
	}

	return ref.RecordName, true
}
