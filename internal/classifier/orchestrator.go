package classifier

import (
	"context"
	"fmt"
	"strings"

	"tariffsync/internal/logger"
)

const (
	systemPrompt = "Eres un clasificador aduanal experto en TIGIE. Responde SOLO en JSON válido."
	instruction  = "Analiza el material adjunto (imágenes y/o texto de PDF) y devuelve SOLO JSON válido con: " +
		"nombre_corto, descripcion, fraccion, justificacion, arbol (array de strings), " +
		"alternativas (array de {fraccion,motivo}), dudas_cliente, regulacion, notas_clasificador."
)

// Part is one user content block: text or an image reference.
type Part struct {
	Text     string
	ImageURL string
}

type Request struct {
	System     string
	Parts      []Part
	SchemaName string
	Schema     map[string]any
}

type Completion struct {
	Content string
	Model   string
}

// Model is a schema-constrained completion backend.
type Model interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

type Orchestrator struct {
	Model Model
}

// Classification is the outcome of one Classify call. Skipped is set when
// there was nothing to send and the model was not called.
type Classification struct {
	Skipped      bool
	Result       Result
	Raw          string
	ModelVersion string
}

// BuildRequest lays out one instruction block, one block per non-blank
// text and one image reference per URL.
func BuildRequest(texts, images []string) Request {
	parts := []Part{{Text: instruction}}
	n := 0
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		n++
		parts = append(parts, Part{Text: fmt.Sprintf("PDF_%d (texto extraído):\n%s", n, t)})
	}
	for _, u := range images {
		if u != "" {
			parts = append(parts, Part{ImageURL: u})
		}
	}
	return Request{System: systemPrompt, Parts: parts, SchemaName: SchemaName, Schema: Schema()}
}

// Classify calls the model once. A transport failure is returned; a reply
// that cannot be parsed yields an empty Result.
func (o *Orchestrator) Classify(ctx context.Context, texts, images []string) (*Classification, error) {
	req := BuildRequest(texts, images)
	if len(req.Parts) == 1 {
		return &Classification{Skipped: true, Result: Result{}}, nil
	}
	comp, err := o.Model.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	res, dropped := Parse(comp.Content)
	log := logger.WithFields(logger.Fields{"model_version": comp.Model, "keys": len(res)})
	if err := Validate([]byte(comp.Content)); err != nil {
		log = log.WithField("validation", err.Error())
	}
	if len(dropped) > 0 {
		log = log.WithField("dropped", dropped)
	}
	log.Info("classifier.parsed")
	return &Classification{Result: res, Raw: comp.Content, ModelVersion: comp.Model}, nil
}
