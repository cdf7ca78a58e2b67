package config

import (
	"encoding/json"
	"fmt"

	"github.com/goccy/go-yaml"
)

// Sanitizer identifies the instrumentation mode of the host build. It is an
// enum so the CLI can expose it through a validated flag.
type Sanitizer int

const (
	SanitizerNone Sanitizer = iota
	SanitizerAddress
	SanitizerMemory
	SanitizerThread
	SanitizerUndefined
)

// SanitizerIDs maps sanitizer values to their textual representations, used
// by both the CLI flag and the YAML codec.
var SanitizerIDs = map[Sanitizer][]string{
	SanitizerNone:      {"none", ""},
	SanitizerAddress:   {"address", "asan"},
	SanitizerMemory:    {"memory", "msan"},
	SanitizerThread:    {"thread", "tsan"},
	SanitizerUndefined: {"undefined", "ubsan"},
}

func (s Sanitizer) String() string {
	if names, ok := SanitizerIDs[s]; ok {
		return names[0]
	}
	return "none"
}

func ParseSanitizer(s string) (Sanitizer, error) {
	for id, names := range SanitizerIDs {
		for _, name := range names {
			if name == s {
				return id, nil
			}
		}
	}
	return SanitizerNone, fmt.Errorf("unknown sanitizer %q", s)
}

func (s Sanitizer) MarshalYAML() (any, error) {
	return s.String(), nil
}

func (s Sanitizer) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Sanitizer) UnmarshalYAML(bs []byte) error {
	var str string
	if err := yaml.Unmarshal(bs, &str); err != nil {
		return err
	}
	v, err := ParseSanitizer(str)
	*s = v
	return err
}

func (s *Sanitizer) UnmarshalJSON(bs []byte) error {
	var str string
	if err := json.Unmarshal(bs, &str); err != nil {
		return err
	}
	v, err := ParseSanitizer(str)
	*s = v
	return err
}

// Linkage selects between the static and shared variants of an integrated
// package.
type Linkage int

const (
	LinkageDefault Linkage = iota
	LinkageStatic
	LinkageShared
)

var LinkageIDs = map[Linkage][]string{
	LinkageDefault: {"default", ""},
	LinkageStatic:  {"static"},
	LinkageShared:  {"shared"},
}

func (l Linkage) String() string {
	if names, ok := LinkageIDs[l]; ok {
		return names[0]
	}
	return "default"
}

func ParseLinkage(s string) (Linkage, error) {
	for id, names := range LinkageIDs {
		for _, name := range names {
			if name == s {
				return id, nil
			}
		}
	}
	return LinkageDefault, fmt.Errorf("unknown linkage %q", s)
}

// Resolve applies the toolchain-wide preference when the package does not
// pick a linkage of its own. Static is the overall default.
func (l Linkage) Resolve(toolchain Linkage) Linkage {
	if l != LinkageDefault {
		return l
	}
	if toolchain != LinkageDefault {
		return toolchain
	}
	return LinkageStatic
}

func (l Linkage) MarshalYAML() (any, error) {
	return l.String(), nil
}

func (l Linkage) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Linkage) UnmarshalYAML(bs []byte) error {
	var str string
	if err := yaml.Unmarshal(bs, &str); err != nil {
		return err
	}
	v, err := ParseLinkage(str)
	*l = v
	return err
}

func (l *Linkage) UnmarshalJSON(bs []byte) error {
	var str string
	if err := json.Unmarshal(bs, &str); err != nil {
		return err
	}
	v, err := ParseLinkage(str)
	*l = v
	return err
}
