package podio

import "fmt"

type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	Ref          *struct {
		Type string `json:"type"`
		ID   int64  `json:"id"`
	} `json:"ref,omitempty"`
}

type File struct {
	FileID   int64  `json:"file_id"`
	Name     string `json:"name"`
	Mimetype string `json:"mimetype"`
	Size     int64  `json:"size"`
	Link     string `json:"link"`
}

type Item struct {
	ItemID    int64  `json:"item_id"`
	Title     string `json:"title"`
	FileCount int    `json:"file_count"`
	App       struct {
		AppID int64 `json:"app_id"`
	} `json:"app"`
	Files []File `json:"files"`
}

type AppField struct {
	FieldID    int64  `json:"field_id"`
	Type       string `json:"type"`
	ExternalID string `json:"external_id"`
	Label      string `json:"label"`
	Config     struct {
		Label string `json:"label"`
	} `json:"config"`
}

// DisplayLabel prefers the top-level label and falls back to config.label.
func (f AppField) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Config.Label
}

type App struct {
	AppID  int64      `json:"app_id"`
	Fields []AppField `json:"fields"`
}

// Value is one entry of a field's value list in a writeback.
type Value struct {
	Value string `json:"value"`
}

// Values maps field id to its new values.
type Values map[int64][]Value

// APIError is returned for non-2xx responses.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300]
	}
	return fmt.Sprintf("podio %s %s -> %d %s", e.Method, e.Path, e.Status, body)
}
