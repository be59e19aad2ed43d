// Package fields locates the writable item fields that receive
// classification output.
package fields

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// TypeText is the only field type the resolver will ever select.
const TypeText = "text"

// Field is one entry of an app schema.
type Field struct {
	ID         int64
	Type       string
	ExternalID string
	Label      string
}

type Role string

const (
	RoleFraccion      Role = "fraccion"
	RoleNombreCorto   Role = "nombre-corto"
	RoleDescripcion   Role = "descripcion"
	RoleJustificacion Role = "justificacion"
	RoleArbol         Role = "arbol"
	RoleAlternativas  Role = "alternativas"
	RoleDudasCliente  Role = "dudas-cliente"
	RoleRegulacion    Role = "regulacion"
	RoleNotas         Role = "notas"
)

// Rule maps a role to the result key it receives and the names that may
// identify its field, in priority order.
type Rule struct {
	Role       Role
	Key        string
	Candidates []string
	Type       string
}

// Rules is the safelist. Every role requires a text field; category and
// app-reference fields are never written.
var Rules = []Rule{
	{RoleFraccion, "fraccion", []string{"fraccion-2", "fraccion arancelaria", "fraccion-arancelaria", "fraccion"}, TypeText},
	{RoleNombreCorto, "nombre_corto", []string{"nombre-corto", "nombre corto"}, TypeText},
	{RoleDescripcion, "descripcion", []string{"descripcion-del-producto", "descripcion del producto", "descripcion-tecnica", "descripcion"}, TypeText},
	{RoleJustificacion, "justificacion", []string{"justificacion"}, TypeText},
	{RoleArbol, "arbol", []string{"arbol", "arbol arancelario"}, TypeText},
	{RoleAlternativas, "alternativas", []string{"alternativas"}, TypeText},
	{RoleDudasCliente, "dudas_cliente", []string{"dudas-cliente", "dudas cliente", "dudas del cliente"}, TypeText},
	{RoleRegulacion, "regulacion", []string{"regulacion", "regulaciones"}, TypeText},
	{RoleNotas, "notas_clasificador", []string{"notas-del-clasificador", "notas clasificador", "notas", "comentarios"}, TypeText},
}

// Map holds the resolved field id per role. Unresolved roles are absent.
type Map map[Role]int64

func (m Map) Lookup(r Role) (int64, bool) {
	id, ok := m[r]
	return id, ok
}

// Normalize lowercases, strips diacritics and trims.
func Normalize(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.TrimSpace(strings.ToLower(out))
}

// Resolve applies rules to schema. For each candidate the external ids are
// tried before labels; only fields of the rule's type qualify, and a field
// claimed by an earlier rule is not reused.
func Resolve(schema []Field, rules []Rule) Map {
	type entry struct {
		f   Field
		ext string
		lbl string
	}
	idx := make([]entry, 0, len(schema))
	for _, f := range schema {
		idx = append(idx, entry{f: f, ext: Normalize(f.ExternalID), lbl: Normalize(f.Label)})
	}

	out := Map{}
	taken := map[int64]bool{}
	pick := func(want, typ string, byExt bool) (int64, bool) {
		for _, e := range idx {
			name := e.lbl
			if byExt {
				name = e.ext
			}
			if name == "" || name != want {
				continue
			}
			if e.f.Type != typ || taken[e.f.ID] {
				continue
			}
			return e.f.ID, true
		}
		return 0, false
	}

	for _, rule := range rules {
		if rule.Type != TypeText {
			continue
		}
		for _, c := range rule.Candidates {
			want := Normalize(c)
			id, ok := pick(want, rule.Type, true)
			if !ok {
				id, ok = pick(want, rule.Type, false)
			}
			if ok {
				out[rule.Role] = id
				taken[id] = true
				break
			}
		}
	}
	return out
}
