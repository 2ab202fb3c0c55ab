package ice

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	pkgerrors "rtcdoctor/pkg/errors"
)

// Entry is one server list entry before URI parsing.
type Entry struct {
	URLs       []string
	Username   string
	Credential string
}

// Decoder turns a fetched server list into entries. Two formats are
// accepted: the RTCConfiguration JSON shape
//
//	{"iceServers":[{"urls":["turn:..."],"username":"u","credential":"c"}]}
//
// and a newline separated list of URIs, optionally base64 encoded.
type Decoder struct{}

// NewDecoder creates a new server list decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

type jsonList struct {
	ICEServers []jsonServer `json:"iceServers"`
}

type jsonServer struct {
	URLs       json.RawMessage `json:"urls"`
	URL        string          `json:"url"`
	Username   string          `json:"username"`
	Credential string          `json:"credential"`
}

// Decode decodes list content
func (d *Decoder) Decode(content []byte) ([]Entry, error) {
	content = bytes.TrimSpace(content)
	if len(content) == 0 {
		return nil, pkgerrors.ErrServerListEmpty
	}

	if content[0] == '{' {
		return d.decodeJSON(content)
	}

	decoded, err := d.decodeBase64(string(content))
	if err != nil {
		decoded = string(content)
	}

	var entries []Entry
	for _, line := range strings.Split(decoded, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if d.isICEURI(line) {
			entries = append(entries, Entry{URLs: []string{line}})
		}
	}
	if len(entries) == 0 {
		return nil, pkgerrors.ErrServerListEmpty
	}
	return entries, nil
}

func (d *Decoder) decodeJSON(content []byte) ([]Entry, error) {
	var list jsonList
	if err := json.Unmarshal(content, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrServerDecodeFailed, err)
	}

	entries := make([]Entry, 0, len(list.ICEServers))
	for _, srv := range list.ICEServers {
		// urls may be a single string or an array of strings.
		var urls []string
		if len(srv.URLs) > 0 {
			var one string
			if err := json.Unmarshal(srv.URLs, &one); err == nil {
				urls = []string{one}
			} else if err := json.Unmarshal(srv.URLs, &urls); err != nil {
				return nil, fmt.Errorf("%w: urls: %v", pkgerrors.ErrServerDecodeFailed, err)
			}
		} else if srv.URL != "" {
			urls = []string{srv.URL}
		}
		if len(urls) == 0 {
			continue
		}
		entries = append(entries, Entry{URLs: urls, Username: srv.Username, Credential: srv.Credential})
	}
	if len(entries) == 0 {
		return nil, pkgerrors.ErrServerListEmpty
	}
	return entries, nil
}

func (d *Decoder) decodeBase64(content string) (string, error) {
	decoders := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range decoders {
		if decoded, err := enc.DecodeString(content); err == nil {
			return string(decoded), nil
		}
	}
	return "", fmt.Errorf("failed to decode base64")
}

func (d *Decoder) isICEURI(uri string) bool {
	lower := strings.ToLower(uri)
	for _, scheme := range []string{"stun:", "stuns:", "turn:", "turns:"} {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}
