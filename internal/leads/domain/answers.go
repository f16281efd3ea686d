package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Answers is the opaque intake payload. Its shape is controlled by external
// forms, so only a few fields are ever read from it.
type Answers map[string]any

var (
	nameKeys         = [][]string{{"nome"}, {"name"}, {"nome_completo"}, {"dadosPersonais", "nome"}}
	phoneKeys        = [][]string{{"whatsapp"}, {"telefone"}, {"celular"}, {"phone"}, {"dadosPersonais", "whatsapp"}, {"dadosPersonais", "telefone"}}
	businessTypeKeys = [][]string{{"tipo_negocio"}, {"tipoNegocio"}, {"business_type"}}
)

// ExtractName returns the first non-empty name field.
func (a Answers) ExtractName() string { return a.first(nameKeys) }

// ExtractPhone returns the first non-empty phone field.
func (a Answers) ExtractPhone() string { return a.first(phoneKeys) }

// ExtractBusinessType returns the first non-empty business type field.
func (a Answers) ExtractBusinessType() string { return a.first(businessTypeKeys) }

func (a Answers) first(paths [][]string) string {
	for _, path := range paths {
		if v := a.lookup(path); v != "" {
			return v
		}
	}
	return ""
}

func (a Answers) lookup(path []string) string {
	var cur any = map[string]any(a)
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	return scalarString(cur)
}

func scalarString(v any) string {
	switch typed := v.(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case json.Number:
		return typed.String()
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	default:
		return ""
	}
}
