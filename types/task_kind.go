package types

import (
	"fmt"
	"strings"
)

// TaskKind identifies the computation a task belongs to. It doubles as the
// broker topic and is always of the form "<domain>:<action>".
type TaskKind string

const (
	KindFibonacciCalculate TaskKind = "fibonacci:calculate"
)

func (k TaskKind) String() string {
	return string(k)
}

func (k TaskKind) Domain() string {
	domain, _, _ := strings.Cut(string(k), ":")
	return domain
}

func (k TaskKind) Action() string {
	_, action, _ := strings.Cut(string(k), ":")
	return action
}

// ParseTaskKind checks the shape of a topic string. Whether a handler exists for
// the kind is decided by the handler registry.
func ParseTaskKind(topic string) (TaskKind, error) {
	domain, action, ok := strings.Cut(topic, ":")
	if !ok || domain == "" || action == "" || strings.Contains(action, ":") {
		return "", fmt.Errorf("invalid topic %q: expected <domain>:<action>", topic)
	}
	return TaskKind(topic), nil
}
