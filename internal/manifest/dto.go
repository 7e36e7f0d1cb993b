// Package manifest decodes the catalog JSON shared by the remote API, the CDN
// mirror and local datasets.
package manifest

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// document is the wire shape: {"games": [...], "metadata": {...}}.
type document struct {
	Games    []gameDTO   `json:"games"`
	Metadata metadataDTO `json:"metadata"`
}

type metadataDTO struct {
	LastUpdated flexString `json:"last_updated"`
	ListVersion flexString `json:"list_version"`
	GameCount   flexInt    `json:"games_count"`
}

type gameDTO struct {
	Game          flexString  `json:"game"`
	Description   flexString  `json:"desc"`
	ImageID       flexString  `json:"imgID"`
	GameID        flexString  `json:"gameID"`
	DownloadLinks linkMap     `json:"download_links"`
	Weight        flexInt     `json:"weight"`
	Category      flexStrings `json:"category"`
	Version       flexString  `json:"version"`
	Size          flexString  `json:"size"`
	Online        flexBool    `json:"online"`
	DLC           flexBool    `json:"dlc"`
}

var null = []byte("null")

// flexString accepts a string, a number, a bool or null.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, null) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}
	*f = flexString(strconv.FormatBool(b))
	return nil
}

// flexInt accepts a number, a numeric string or null.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
	if err != nil {
		// Ranking is cosmetic; an unreadable weight sorts as zero.
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

// flexBool accepts true/false, "true"/"false", 0/1 or null.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(string(s))) {
	case "true", "1", "yes":
		*f = true
	default:
		*f = false
	}
	return nil
}

// flexStrings accepts an array of strings, a single string or null.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, null) {
		*f = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var items []flexString
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			if s := strings.TrimSpace(string(it)); s != "" {
				out = append(out, s)
			}
		}
		*f = out
		return nil
	}
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	if v := strings.TrimSpace(string(s)); v != "" {
		*f = []string{v}
	} else {
		*f = nil
	}
	return nil
}

// linkMap accepts {"provider": "url"} or {"provider": ["url", ...]}.
type linkMap map[string][]string

func (l *linkMap) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, null) || len(data) == 0 || data[0] != '{' {
		*l = nil
		return nil
	}
	var raw map[string]flexStrings
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(linkMap, len(raw))
	for provider, urls := range raw {
		if len(urls) == 0 {
			continue
		}
		out[provider] = []string(urls)
	}
	*l = out
	return nil
}
