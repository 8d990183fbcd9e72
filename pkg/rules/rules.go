// Package rules holds the immutable per-kind workflow rule tables: declared
// states, legal transitions, terminal states, and role requirements per
// transition. Tables are built once at startup; a malformed table is a
// configuration error, never a runtime validation error.
package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/labflow/labflow/pkg/models"
)

var (
	// ErrConfiguration indicates the rule table itself is invalid or was
	// asked about a kind it does not know. Callers should fail fast.
	ErrConfiguration = errors.New("workflow rules configuration error")

	// ErrInvalidTransition indicates the target status is not reachable
	// from the current status.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrTerminalState indicates the current status accepts no further
	// transitions.
	ErrTerminalState = errors.New("terminal state")
)

// TransitionRuleError carries the attempted transition pair alongside the
// rule violation.
type TransitionRuleError struct {
	Kind models.Kind
	From string
	To   string
	Err  error
}

func (e *TransitionRuleError) Error() string {
	if errors.Is(e.Err, ErrTerminalState) {
		return fmt.Sprintf("%s status %q is terminal, no transitions allowed", e.Kind, e.From)
	}

	return fmt.Sprintf("%s transition %q -> %q is not allowed", e.Kind, e.From, e.To)
}

func (e *TransitionRuleError) Unwrap() error {
	return e.Err
}

type transitionKey struct {
	from string
	to   string
}

type kindTable struct {
	states map[string]struct{}
	next   map[string][]string
	roles  map[transitionKey][]models.Role
}

// Table is the process-wide immutable rule lookup table.
type Table struct {
	kinds map[models.Kind]*kindTable
}

// KindSpec describes one kind's workflow in configuration form.
type KindSpec struct {
	States      []string            `json:"states"`
	Transitions map[string][]string `json:"transitions"`
	// Roles maps "FROM->TO" to the role labels allowed to perform that
	// transition. A missing entry means any actor with access to the
	// entity's laboratory may perform it.
	Roles map[string][]string `json:"roles,omitempty"`
}

// Spec is the full rule configuration, keyed by kind.
type Spec map[string]KindSpec

// NewTable builds and validates a rule table from spec. Every transition
// endpoint must be a declared state and every role restriction must name a
// declared transition.
func NewTable(spec Spec) (*Table, error) {
	if len(spec) == 0 {
		return nil, fmt.Errorf("%w: empty rule specification", ErrConfiguration)
	}

	table := &Table{kinds: make(map[models.Kind]*kindTable, len(spec))}

	for rawKind, kindSpec := range spec {
		kind := models.Kind(rawKind)
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: unknown kind %q", ErrConfiguration, rawKind)
		}

		kt := &kindTable{
			states: make(map[string]struct{}, len(kindSpec.States)),
			next:   make(map[string][]string, len(kindSpec.Transitions)),
			roles:  make(map[transitionKey][]models.Role, len(kindSpec.Roles)),
		}

		for _, state := range kindSpec.States {
			if state == "" {
				return nil, fmt.Errorf("%w: kind %q declares an empty state", ErrConfiguration, rawKind)
			}

			kt.states[state] = struct{}{}
		}

		for from, targets := range kindSpec.Transitions {
			if _, ok := kt.states[from]; !ok {
				return nil, fmt.Errorf("%w: kind %q transition source %q is not a declared state", ErrConfiguration, rawKind, from)
			}

			next := make([]string, 0, len(targets))

			for _, to := range targets {
				if _, ok := kt.states[to]; !ok {
					return nil, fmt.Errorf("%w: kind %q transition target %q is not a declared state", ErrConfiguration, rawKind, to)
				}

				next = append(next, to)
			}

			sort.Strings(next)
			kt.next[from] = next
		}

		for pair, roleLabels := range kindSpec.Roles {
			from, to, err := parseTransitionPair(pair)
			if err != nil {
				return nil, fmt.Errorf("%w: kind %q: %v", ErrConfiguration, rawKind, err)
			}

			if !contains(kt.next[from], to) {
				return nil, fmt.Errorf("%w: kind %q role restriction on undeclared transition %q -> %q", ErrConfiguration, rawKind, from, to)
			}

			kt.roles[transitionKey{from: from, to: to}] = models.NormalizeRoles(roleLabels)
		}

		table.kinds[kind] = kt
	}

	return table, nil
}

func parseTransitionPair(pair string) (string, string, error) {
	from, to, found := strings.Cut(pair, "->")
	if !found || strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return "", "", fmt.Errorf("malformed transition pair %q, expected \"FROM->TO\"", pair)
	}

	return strings.TrimSpace(from), strings.TrimSpace(to), nil
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}

	return false
}

func (t *Table) kindTable(kind models.Kind) (*kindTable, error) {
	kt, ok := t.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no rule table for kind %q", ErrConfiguration, kind)
	}

	return kt, nil
}

// States returns the declared state set for kind, sorted.
func (t *Table) States(kind models.Kind) ([]string, error) {
	kt, err := t.kindTable(kind)
	if err != nil {
		return nil, err
	}

	states := make([]string, 0, len(kt.states))
	for state := range kt.states {
		states = append(states, state)
	}

	sort.Strings(states)

	return states, nil
}

// AllowedNextStates returns the legal targets from state. An empty slice
// means state is terminal. An unknown state is a configuration error: entity
// statuses are drawn from the declared state set.
func (t *Table) AllowedNextStates(kind models.Kind, state string) ([]string, error) {
	kt, err := t.kindTable(kind)
	if err != nil {
		return nil, err
	}

	if _, ok := kt.states[state]; !ok {
		return nil, fmt.Errorf("%w: kind %q has no state %q", ErrConfiguration, kind, state)
	}

	next := kt.next[state]
	out := make([]string, len(next))
	copy(out, next)

	return out, nil
}

// IsTerminal reports whether state has no outgoing transitions.
func (t *Table) IsTerminal(kind models.Kind, state string) (bool, error) {
	next, err := t.AllowedNextStates(kind, state)
	if err != nil {
		return false, err
	}

	return len(next) == 0, nil
}

// ValidateTransition checks that from -> to is a legal transition for kind.
// A terminal from yields ErrTerminalState, an unreachable to yields
// ErrInvalidTransition, both wrapped in a TransitionRuleError carrying the
// attempted pair.
func (t *Table) ValidateTransition(kind models.Kind, from, to string) error {
	next, err := t.AllowedNextStates(kind, from)
	if err != nil {
		return err
	}

	if len(next) == 0 {
		return &TransitionRuleError{Kind: kind, From: from, To: to, Err: ErrTerminalState}
	}

	if !contains(next, to) {
		return &TransitionRuleError{Kind: kind, From: from, To: to, Err: ErrInvalidTransition}
	}

	return nil
}

// RequiredRoles returns the roles allowed to perform from -> to. An empty
// result means the transition carries no role restriction.
func (t *Table) RequiredRoles(kind models.Kind, from, to string) ([]models.Role, error) {
	kt, err := t.kindTable(kind)
	if err != nil {
		return nil, err
	}

	roles := kt.roles[transitionKey{from: from, to: to}]
	out := make([]models.Role, len(roles))
	copy(out, roles)

	return out, nil
}
