// Package writeback maps a classification onto the resolved item fields
// and writes it back in one batched update.
package writeback

import (
	"context"
	"fmt"
	"strings"

	"tariffsync/internal/classifier"
	"tariffsync/internal/fields"
	"tariffsync/internal/logger"
	"tariffsync/internal/podio"
)

// Target is the part of the Podio client used for writeback.
type Target interface {
	SetValues(ctx context.Context, itemID int64, values podio.Values) error
	PostComment(ctx context.Context, itemID int64, text string) error
}

type Writer struct {
	Target Target
	// Comment posts a short summary on the item after the update.
	Comment bool
	Rules   []fields.Rule // defaults to fields.Rules
}

// Report describes what Write did.
type Report struct {
	Written    []fields.Role
	Unresolved []fields.Role
	CommentErr error
}

func (w *Writer) rules() []fields.Rule {
	if w.Rules == nil {
		return fields.Rules
	}
	return w.Rules
}

// BuildValues returns one value per rule whose key renders non-blank in res
// and whose role resolved to a field. Roles without a field are listed in
// unresolved; absent or blank keys are ignored so existing values stay.
func BuildValues(res classifier.Result, m fields.Map, rules []fields.Rule) (podio.Values, []fields.Role, []fields.Role) {
	values := podio.Values{}
	var written, unresolved []fields.Role
	for _, rule := range rules {
		text, ok := res.Text(rule.Key)
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		id, ok := m.Lookup(rule.Role)
		if !ok {
			unresolved = append(unresolved, rule.Role)
			continue
		}
		values[id] = []podio.Value{{Value: text}}
		written = append(written, rule.Role)
	}
	return values, written, unresolved
}

// Write sends the values in a single SetValues call. A failed comment is
// reported in Report.CommentErr and never returned.
func (w *Writer) Write(ctx context.Context, itemID int64, res classifier.Result, m fields.Map) (*Report, error) {
	values, written, unresolved := BuildValues(res, m, w.rules())
	rep := &Report{Written: written, Unresolved: unresolved}
	log := logger.WithFields(logger.Fields{"item_id": itemID, "fields": len(values), "unresolved": len(unresolved)})

	if len(values) > 0 {
		if err := w.Target.SetValues(ctx, itemID, values); err != nil {
			return rep, fmt.Errorf("writeback item %d: %w", itemID, err)
		}
		log.Info("writeback.ok")
	} else {
		log.Info("writeback.nothing to write")
	}

	if w.Comment && len(res) > 0 {
		if err := w.Target.PostComment(ctx, itemID, Summary(res)); err != nil {
			rep.CommentErr = err
			log.WithError(err).Warn("writeback.comment failed")
		}
	}
	return rep, nil
}

// Summary renders a short human-readable note for the item's comment feed.
func Summary(res classifier.Result) string {
	var b strings.Builder
	b.WriteString("Clasificación automática")
	if f, ok := res.Text(classifier.KeyFraccion); ok && f != "" {
		b.WriteString(": fracción ")
		b.WriteString(f)
	}
	if n, ok := res.Text(classifier.KeyNombreCorto); ok && n != "" {
		b.WriteString(" (" + n + ")")
	}
	if j, ok := res.Text(classifier.KeyJustificacion); ok && j != "" {
		b.WriteString("\n")
		b.WriteString(j)
	}
	return b.String()
}
