package entitymanager

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/MarcoPoloResearchLab/chorus/backend/internal/models"
)

type metadataFormat int

const (
	// metadataNone ignores the payload.
	metadataNone metadataFormat = iota
	// metadataContentAddressed expects {"cid": ..., "data": {...}}.
	metadataContentAddressed
	// metadataInline expects a bare JSON object.
	metadataInline
)

var (
	errEmptyMetadata     = errors.New("metadata is empty")
	errMetadataNotObject = errors.New("metadata is not a JSON object")
	errMissingCID        = errors.New("metadata cid is missing")
)

type metadataFields map[string]json.RawMessage

type contentAddressedMetadata struct {
	CID  string          `json:"cid"`
	Data json.RawMessage `json:"data"`
}

// parseMetadata decodes raw according to format and returns its fields and,
// for content-addressed payloads, the CID in canonical string form.
func parseMetadata(raw string, format metadataFormat) (metadataFields, string, error) {
	trimmed := strings.TrimSpace(raw)
	switch format {
	case metadataNone:
		return metadataFields{}, "", nil
	case metadataInline:
		if trimmed == "" {
			return nil, "", errEmptyMetadata
		}
		fields, err := decodeObject([]byte(trimmed))
		if err != nil {
			return nil, "", err
		}
		return fields, "", nil
	case metadataContentAddressed:
		if trimmed == "" {
			return nil, "", errEmptyMetadata
		}
		var envelope contentAddressedMetadata
		if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
			return nil, "", err
		}
		metadataCID, err := wellFormedCID(envelope.CID)
		if err != nil {
			return nil, "", err
		}
		fields, err := decodeObject(envelope.Data)
		if err != nil {
			return nil, "", err
		}
		return fields, metadataCID, nil
	default:
		return nil, "", fmt.Errorf("unknown metadata format %d", format)
	}
}

// wellFormedCID checks that value decodes as a CID and returns its
// canonical form. The CID is not recomputed from the data payload.
func wellFormedCID(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errMissingCID
	}
	parsed, err := cid.Decode(value)
	if err != nil {
		return "", fmt.Errorf("metadata cid is malformed: %w", err)
	}
	return parsed.String(), nil
}

func decodeObject(raw []byte) (metadataFields, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, errMetadataNotObject
	}
	var fields metadataFields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = metadataFields{}
	}
	return fields, nil
}

// parseOptionalFlag reads a boolean from an inline JSON payload. A missing
// payload, malformed JSON, a missing key or a non-boolean value all yield
// fallback.
func parseOptionalFlag(raw string, key string, fallback bool) bool {
	fields, err := decodeObject([]byte(strings.TrimSpace(raw)))
	if err != nil {
		return fallback
	}
	value, ok := fields[key]
	if !ok {
		return fallback
	}
	var flag bool
	if err := json.Unmarshal(value, &flag); err != nil {
		return fallback
	}
	return flag
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func (m metadataFields) has(key string) bool {
	_, ok := m[key]
	return ok
}

// str returns a string field. JSON null reads as "".
func (m metadataFields) str(key string) (string, bool, error) {
	raw, ok := m[key]
	if !ok {
		return "", false, nil
	}
	if isNull(raw) {
		return "", true, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", true, fmt.Errorf("field %s must be a string", key)
	}
	return value, true, nil
}

// integer returns an integer field; nil means JSON null.
func (m metadataFields) integer(key string) (*int64, bool, error) {
	raw, ok := m[key]
	if !ok {
		return nil, false, nil
	}
	if isNull(raw) {
		return nil, true, nil
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil {
		return nil, true, fmt.Errorf("field %s must be an integer", key)
	}
	value, err := number.Int64()
	if err != nil {
		floatValue, floatErr := number.Float64()
		if floatErr != nil || floatValue != math.Trunc(floatValue) || math.Abs(floatValue) >= math.MaxInt64 {
			return nil, true, fmt.Errorf("field %s must be an integer", key)
		}
		value = int64(floatValue)
	}
	return &value, true, nil
}

// boolean returns a boolean field. JSON null reads as false.
func (m metadataFields) boolean(key string) (bool, bool, error) {
	raw, ok := m[key]
	if !ok {
		return false, false, nil
	}
	if isNull(raw) {
		return false, true, nil
	}
	var value bool
	if err := json.Unmarshal(raw, &value); err != nil {
		return false, true, fmt.Errorf("field %s must be a boolean", key)
	}
	return value, true, nil
}

// object returns the raw JSON of a field; ok is false when missing.
func (m metadataFields) object(key string) (json.RawMessage, bool) {
	raw, ok := m[key]
	return raw, ok
}

// fieldReader accumulates the first decoding error so mutators can read
// several fields and check once.
type fieldReader struct {
	fields metadataFields
	err    error
}

func (r *fieldReader) str(key string, target *string) {
	value, ok, err := r.fields.str(key)
	if r.record(err) && ok {
		*target = value
	}
}

func (r *fieldReader) integer(key string, target *int64) {
	value, ok, err := r.fields.integer(key)
	if r.record(err) && ok {
		if value == nil {
			*target = 0
			return
		}
		*target = *value
	}
}

func (r *fieldReader) optionalInteger(key string, target **int64) {
	value, ok, err := r.fields.integer(key)
	if r.record(err) && ok {
		*target = value
	}
}

func (r *fieldReader) boolean(key string, target *bool) {
	value, ok, err := r.fields.boolean(key)
	if r.record(err) && ok {
		*target = value
	}
}

func (r *fieldReader) record(err error) bool {
	if err != nil {
		if r.err == nil {
			r.err = err
		}
		return false
	}
	return true
}

// document stores a JSON-valued field verbatim. JSON null clears it.
func (r *fieldReader) document(key string, target *models.JSONText) {
	raw, ok := r.fields.object(key)
	if !ok {
		return
	}
	if isNull(raw) {
		*target = ""
		return
	}
	*target = models.JSONText(bytes.TrimSpace(raw))
}

var releaseDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"Mon Jan 02 2006 15:04:05 GMT-0700",
}

// timestamp parses a date string field. JSON null clears it.
func (r *fieldReader) timestamp(key string, target **time.Time) {
	value, ok, err := r.fields.str(key)
	if !r.record(err) || !ok {
		return
	}
	value = strings.TrimSpace(value)
	if value == "" {
		*target = nil
		return
	}
	if cut := strings.Index(value, " ("); cut > 0 {
		value = value[:cut]
	}
	for _, layout := range releaseDateLayouts {
		if parsed, parseErr := time.Parse(layout, value); parseErr == nil {
			utc := parsed.UTC()
			*target = &utc
			return
		}
	}
	r.record(fmt.Errorf("field %s is not a recognized date", key))
}
