package jobs

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/convertcredits/backend/internal/models"
)

// ErrInvalidPayload can be used with errors.Is to detect payload validation failures.
var ErrInvalidPayload = errors.New("invalid payload")

const sourceSchema = `{
	"type": "object",
	"required": ["url", "filename"],
	"properties": {
		"url": {"type": "string", "pattern": "^https?://", "maxLength": 2048},
		"filename": {"type": "string", "minLength": 1, "maxLength": 255},
		"size_bytes": {"type": "integer", "minimum": 0}
	},
	"additionalProperties": false
}`

// familySchemas holds the options accepted per job family; %s is the source file schema.
var familySchemas = map[models.JobFamily]string{
	models.FamilyDocument: `{
		"type": "object",
		"required": ["source"],
		"properties": {
			"source": %s,
			"page_range": {"type": "string", "pattern": "^[0-9]+(-[0-9]+)?(,[0-9]+(-[0-9]+)?)*$"},
			"encoding": {"type": "string", "maxLength": 32}
		},
		"additionalProperties": false
	}`,
	models.FamilyImage: `{
		"type": "object",
		"required": ["source"],
		"properties": {
			"source": %s,
			"width": {"type": "integer", "minimum": 1, "maximum": 10000},
			"height": {"type": "integer", "minimum": 1, "maximum": 10000},
			"quality": {"type": "integer", "minimum": 1, "maximum": 100}
		},
		"additionalProperties": false
	}`,
	models.FamilyMedia: `{
		"type": "object",
		"required": ["source"],
		"properties": {
			"source": %s,
			"bitrate": {"type": "string", "pattern": "^[0-9]+k$"},
			"start_seconds": {"type": "number", "minimum": 0},
			"duration_seconds": {"type": "number", "exclusiveMinimum": 0}
		},
		"additionalProperties": false
	}`,
	models.FamilyProject: `{
		"type": "object",
		"required": ["source"],
		"properties": {
			"source": %s,
			"schema_version": {"type": "string", "maxLength": 16}
		},
		"additionalProperties": false
	}`,
}

// PayloadValidator checks raw job options against the schema of the job
// family and decodes them into the typed variant.
type PayloadValidator struct {
	schemas map[models.JobFamily]*jsonschema.Schema
}

func NewPayloadValidator() (*PayloadValidator, error) {
	v := &PayloadValidator{schemas: make(map[models.JobFamily]*jsonschema.Schema, len(familySchemas))}
	for family, tmpl := range familySchemas {
		id := "https://convertcredits.dev/schemas/" + string(family) + ".json"
		s, err := jsonschema.CompileString(id, fmt.Sprintf(tmpl, sourceSchema))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", family, err)
		}
		v.schemas[family] = s
	}
	return v, nil
}

// Decode validates raw and returns the tagged payload for family.
func (v *PayloadValidator) Decode(family models.JobFamily, raw json.RawMessage) (models.JobPayload, error) {
	schema, ok := v.schemas[family]
	if !ok {
		return models.JobPayload{}, fmt.Errorf("%w: unknown family %q", ErrInvalidPayload, family)
	}
	if len(raw) == 0 {
		return models.JobPayload{}, fmt.Errorf("%w: payload is required", ErrInvalidPayload)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.JobPayload{}, fmt.Errorf("%w: invalid JSON: %v", ErrInvalidPayload, err)
	}
	if err := schema.Validate(doc); err != nil {
		return models.JobPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	p := models.JobPayload{Family: family}
	var target any
	switch family {
	case models.FamilyDocument:
		p.Document = &models.DocumentOptions{}
		target = p.Document
	case models.FamilyImage:
		p.Image = &models.ImageOptions{}
		target = p.Image
	case models.FamilyMedia:
		p.Media = &models.MediaOptions{}
		target = p.Media
	case models.FamilyProject:
		p.Project = &models.ProjectOptions{}
		target = p.Project
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return models.JobPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}
