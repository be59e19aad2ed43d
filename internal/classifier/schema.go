// Package classifier builds the schema-constrained classification request
// and turns the model's reply into a Result limited to the known keys.
package classifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const SchemaName = "clasificacion_tigie"

// Result keys. Nothing outside this set is requested or kept.
const (
	KeyNombreCorto       = "nombre_corto"
	KeyDescripcion       = "descripcion"
	KeyFraccion          = "fraccion"
	KeyJustificacion     = "justificacion"
	KeyArbol             = "arbol"
	KeyAlternativas      = "alternativas"
	KeyDudasCliente      = "dudas_cliente"
	KeyRegulacion        = "regulacion"
	KeyNotasClasificador = "notas_clasificador"
)

// Keys lists the schema properties in request order.
var Keys = []string{
	KeyNombreCorto,
	KeyDescripcion,
	KeyFraccion,
	KeyJustificacion,
	KeyArbol,
	KeyAlternativas,
	KeyDudasCliente,
	KeyRegulacion,
	KeyNotasClasificador,
}

func known(key string) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}

func propertySchema(key string) map[string]any {
	switch key {
	case KeyArbol:
		return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	case KeyAlternativas:
		return map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"fraccion", "motivo"},
				"properties": map[string]any{
					"fraccion": map[string]any{"type": "string"},
					"motivo":   map[string]any{"type": "string"},
				},
			},
		}
	default:
		return map[string]any{"type": "string"}
	}
}

// Schema returns the strict output schema: every key required and no
// additional properties at any level.
func Schema() map[string]any {
	props := make(map[string]any, len(Keys))
	for _, k := range Keys {
		props[k] = propertySchema(k)
	}
	required := make([]string, len(Keys))
	copy(required, Keys)
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             required,
		"properties":           props,
	}
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
	propOnce    sync.Once
	props       map[string]*jsonschema.Schema
)

func compile(name string, schema map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	s, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return s, nil
}

// Validate checks data against the full strict schema.
func Validate(data []byte) error {
	compileOnce.Do(func() {
		compiled, compileErr = compile("schema.json", Schema())
	})
	if compileErr != nil {
		return compileErr
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := compiled.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

func validProperty(key string, v any) bool {
	propOnce.Do(func() {
		props = make(map[string]*jsonschema.Schema, len(Keys))
		for _, k := range Keys {
			if s, err := compile(k+".json", propertySchema(k)); err == nil {
				props[k] = s
			}
		}
	})
	s, ok := props[key]
	return ok && s.Validate(v) == nil
}

// Result is a parsed classification. Only known keys with a value of the
// expected shape are present.
type Result map[string]any

// Parse decodes a model reply. A reply that is not a JSON object yields an
// empty Result; unknown or mistyped keys are dropped. dropped lists the keys
// that were removed.
func Parse(content string) (r Result, dropped []string) {
	r = Result{}
	var raw map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return r, nil
	}
	for k, v := range raw {
		if known(k) && validProperty(k, v) {
			r[k] = v
			continue
		}
		dropped = append(dropped, k)
	}
	return r, dropped
}

// Has reports whether key is present.
func (r Result) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Text renders a key as a single field value. Lists are joined with
// "\n- "; alternatives become one "- <fraccion>: <motivo>" line each.
func (r Result) Text(key string) (string, bool) {
	v, ok := r[key]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case []any:
		if key == KeyAlternativas {
			lines := make([]string, 0, len(t))
			for _, a := range t {
				m, _ := a.(map[string]any)
				f, _ := m["fraccion"].(string)
				why, _ := m["motivo"].(string)
				lines = append(lines, "- "+f+": "+why)
			}
			return strings.Join(lines, "\n"), true
		}
		parts := make([]string, 0, len(t))
		for _, s := range t {
			if str, ok := s.(string); ok {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, "\n- "), true
	}
	return "", false
}

// JSON encodes the result for storage.
func (r Result) JSON() []byte {
	b, err := json.Marshal(map[string]any(r))
	if err != nil {
		return []byte("{}")
	}
	return b
}
