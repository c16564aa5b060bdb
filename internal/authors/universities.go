// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package authors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/pdiddy/proceedings-engine/internal/loader"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

// University is one entry of the university-domains list.
type University struct {
	Name    string   `json:"name"`
	Country string   `json:"country"`
	Domains []string `json:"domains"`
}

// Query is the geocoder query for the university ("name, country").
func (u University) Query() string {
	return joinNonEmpty(", ", u.Name, u.Country)
}

// Universities maps email domains to universities.
type Universities struct {
	byDomain map[string]University
}

// emailDomainPattern finds "@handle.tld" in free text.
var emailDomainPattern = regexp.MustCompile(`@[a-zA-Z0-9\-\x{2013}]+\.[a-zA-Z0-9\-\x{2013}.]+`)

// LoadUniversities reads the university-domains JSON at cfg.UnidomainsPath,
// downloading it from cfg.UnidomainsURL first when the file is missing.
func LoadUniversities(ctx context.Context, client *http.Client, cfg types.SourceConfig) (*Universities, error) {
	url := cfg.UnidomainsURL
	if url == "" {
		url = loader.DefaultUnidomainsURL
	}
	if err := loader.EnsureLocal(ctx, client, url, cfg.UnidomainsPath, cfg.UserAgent); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(cfg.UnidomainsPath)
	if err != nil {
		return nil, fmt.Errorf("reading university domains: %w", err)
	}
	return ParseUniversities(data)
}

// ParseUniversities decodes a university-domains list. When two entries
// claim a domain the first wins.
func ParseUniversities(data []byte) (*Universities, error) {
	var list []University
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decoding university domains: %w", err)
	}
	u := &Universities{byDomain: make(map[string]University, len(list))}
	for _, uni := range list {
		for _, d := range uni.Domains {
			d = strings.ToLower(strings.TrimSpace(d))
			if _, dup := u.byDomain[d]; !dup && d != "" {
				u.byDomain[d] = uni
			}
		}
	}
	return u, nil
}

// Lookup finds the university for an email address or bare domain. Leading
// subdomains are stripped one at a time ("media.mit.edu" -> "mit.edu")
// while the handle has more than one dot.
func (u *Universities) Lookup(email string) (University, bool) {
	if u == nil {
		return University{}, false
	}
	handle := email
	if i := strings.LastIndex(handle, "@"); i >= 0 {
		handle = handle[i+1:]
	}
	handle = strings.Trim(strings.ToLower(strings.TrimSpace(handle)), ".")
	for handle != "" {
		if uni, ok := u.byDomain[handle]; ok {
			return uni, true
		}
		if strings.Count(handle, ".") <= 1 {
			break
		}
		_, handle, _ = strings.Cut(handle, ".")
	}
	return University{}, false
}

// TextUniversities returns the universities whose domains appear in email
// addresses within the scraped author blocks, in block order.
func (u *Universities) TextUniversities(blocks []string) []University {
	var found []University
	for _, b := range blocks {
		for _, m := range emailDomainPattern.FindAllString(b, -1) {
			if uni, ok := u.Lookup(m); ok {
				found = append(found, uni)
			}
		}
	}
	return found
}
