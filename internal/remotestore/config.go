// Package remotestore implements component I: the remote storage
// orchestrator — config grammar, weighted rendezvous shard selection,
// backend lifecycle, per-shard-backend failure isolation, and policies.
//
// Grounded on rclone's overlay-backend pattern (_teacher_ref/hasher/hasher.go's
// Options-struct-plus-NewFs construction idiom, generalized here from
// "wrap one remote" to "orchestrate N weighted remotes").
package remotestore

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Shard is one weighted URL target within an Entry, after the `*`
// placeholder in a `shards=` option has been expanded into concrete URLs
// (spec.md §4.7 "shards = name[(weight)],...").
type Shard struct {
	Name   string
	Weight float64
	URL    string
}

// Entry is one whitespace-separated element of the remote_storage config
// grammar: a URL plus its options.
type Entry struct {
	RawURL         string
	Helper         string
	DataTimeout    string
	RequestTimeout string
	IdleTimeout    string
	ReadOnly       bool
	Shards         []Shard
	Attrs          map[string]string // "@attr=value" entries, e.g. bearer-token

	rawShards string
}

// ParseConfig parses the whole `remote_storage := (entry (WS entry)*)?`
// grammar (spec.md §4.7).
func ParseConfig(s string) ([]Entry, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, nil
	}

	var entries []Entry
	var cur *Entry
	for _, tok := range fields {
		if looksLikeURL(tok) {
			if cur != nil {
				entries = append(entries, *cur)
			}
			cur = &Entry{RawURL: tok, Attrs: map[string]string{}}
			continue
		}
		if cur == nil {
			return nil, errors.Errorf("remote_storage option %q has no preceding url", tok)
		}
		if err := applyOption(cur, tok); err != nil {
			return nil, err
		}
	}
	if cur != nil {
		entries = append(entries, *cur)
	}

	for i := range entries {
		shards, err := expandShards(entries[i])
		if err != nil {
			return nil, err
		}
		entries[i].Shards = shards
	}
	return entries, nil
}

func looksLikeURL(tok string) bool {
	return strings.Contains(tok, "://")
}

func applyOption(e *Entry, tok string) error {
	if strings.HasPrefix(tok, "@") {
		kv := strings.SplitN(tok[1:], "=", 2)
		if len(kv) != 2 {
			return errors.Errorf("malformed attribute option %q", tok)
		}
		e.Attrs[kv[0]] = kv[1]
		return nil
	}
	kv := strings.SplitN(tok, "=", 2)
	if len(kv) != 2 {
		return errors.Errorf("malformed option %q", tok)
	}
	key, value := kv[0], kv[1]
	switch key {
	case "helper":
		e.Helper = value
	case "data-timeout":
		e.DataTimeout = value
	case "request-timeout":
		e.RequestTimeout = value
	case "idle-timeout":
		e.IdleTimeout = value
	case "read-only":
		e.ReadOnly = value == "" || value == "true"
	case "shards":
		e.rawShards = value
	default:
		// backward_compat: unknown keys are accepted and ignored rather
		// than rejected, matching spec.md's grammar naming them explicitly.
	}
	return nil
}

func expandShards(e Entry) ([]Shard, error) {
	if e.rawShards == "" {
		return []Shard{{Name: "", Weight: 1, URL: e.RawURL}}, nil
	}
	if strings.Count(e.RawURL, "*") != 1 {
		return nil, errors.Errorf("url %q must contain exactly one '*' when shards= is set", e.RawURL)
	}
	var shards []Shard
	for _, part := range strings.Split(e.rawShards, ",") {
		name, weight, err := parseShardSpec(part)
		if err != nil {
			return nil, err
		}
		shards = append(shards, Shard{
			Name:   name,
			Weight: weight,
			URL:    strings.Replace(e.RawURL, "*", name, 1),
		})
	}
	return shards, nil
}

func parseShardSpec(spec string) (name string, weight float64, err error) {
	spec = strings.TrimSpace(spec)
	open := strings.IndexByte(spec, '(')
	if open < 0 {
		return spec, 1, nil
	}
	if !strings.HasSuffix(spec, ")") {
		return "", 0, errors.Errorf("malformed shard weight in %q", spec)
	}
	name = spec[:open]
	w, err := strconv.ParseFloat(spec[open+1:len(spec)-1], 64)
	if err != nil {
		return "", 0, errors.Wrapf(err, "parse shard weight in %q", spec)
	}
	return name, w, nil
}

// RedactedToken replaces both URL user-info and any `bearer-token`
// attribute value when logging config (spec.md §4.7 "Redaction").
const RedactedToken = "<redacted>"

// Redact renders e for logging with user-info and bearer-token scrubbed.
func (e Entry) Redact() string {
	u, err := url.Parse(e.RawURL)
	display := e.RawURL
	if err == nil && u.User != nil {
		u.User = url.UserPassword(RedactedToken, "")
		display = u.String()
	}
	var b strings.Builder
	b.WriteString(display)
	for k, v := range e.Attrs {
		if k == "bearer-token" {
			v = RedactedToken
		}
		b.WriteString(" @")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(v)
	}
	return b.String()
}
