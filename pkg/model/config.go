package model

import (
	"strconv"
	"strings"
)

// AgentConfig identifies the language-model connection an agent is built for.
// Two configs are equal iff all fields are equal, case-sensitively.
type AgentConfig struct {
	Credential string `yaml:"credential"`
	Endpoint   string `yaml:"endpoint"`
	Model      string `yaml:"model"`
}

// Key returns the cache key of the config. Fields are length-prefixed so that
// no two distinct configs share a key.
func (c AgentConfig) Key() string {
	var b strings.Builder
	for _, f := range []string{c.Credential, c.Endpoint, c.Model} {
		b.WriteString(strconv.Itoa(len(f)))
		b.WriteByte(':')
		b.WriteString(f)
	}
	return b.String()
}

// String masks the credential.
func (c AgentConfig) String() string {
	cred := "(none)"
	if c.Credential != "" {
		cred = "****"
	}
	return "endpoint=" + c.Endpoint + " model=" + c.Model + " credential=" + cred
}
