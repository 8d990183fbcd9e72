package rules

import (
	"testing"

	"github.com/labflow/labflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTable(t *testing.T) *Table {
	t.Helper()

	table, err := DefaultTable()
	require.NoError(t, err)

	return table
}

func TestDefaultTable_Builds(t *testing.T) {
	table := defaultTable(t)

	states, err := table.States(models.KindSample)
	require.NoError(t, err)
	assert.Contains(t, states, "REGISTERED")
	assert.Contains(t, states, "ARCHIVED")
}

func TestAllowedNextStates(t *testing.T) {
	table := defaultTable(t)

	next, err := table.AllowedNextStates(models.KindSample, "QC_PENDING")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"QC_PASSED", "QC_FAILED"}, next)

	next, err = table.AllowedNextStates(models.KindSample, "ARCHIVED")
	require.NoError(t, err)
	assert.Empty(t, next)
}

func TestAllowedNextStates_UnknownKindIsConfigurationError(t *testing.T) {
	table := defaultTable(t)

	_, err := table.AllowedNextStates(models.Kind("plasmid"), "REGISTERED")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestAllowedNextStates_UnknownStateIsConfigurationError(t *testing.T) {
	table := defaultTable(t)

	_, err := table.AllowedNextStates(models.KindSample, "TELEPORTED")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestValidateTransition(t *testing.T) {
	table := defaultTable(t)

	assert.NoError(t, table.ValidateTransition(models.KindSample, "REGISTERED", "QC_PENDING"))

	err := table.ValidateTransition(models.KindSample, "REGISTERED", "ANALYZED")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	var ruleErr *TransitionRuleError
	require.ErrorAs(t, err, &ruleErr)
	assert.Equal(t, "REGISTERED", ruleErr.From)
	assert.Equal(t, "ANALYZED", ruleErr.To)
}

func TestValidateTransition_TerminalStates(t *testing.T) {
	table := defaultTable(t)

	for _, state := range []string{"ARCHIVED", "DISPOSED"} {
		err := table.ValidateTransition(models.KindSample, state, "QC_PENDING")
		assert.ErrorIs(t, err, ErrTerminalState, "state %s", state)
	}

	for _, state := range []string{"ABORTED", "CANCELLED", "ARCHIVED"} {
		err := table.ValidateTransition(models.KindExperiment, state, "ACTIVE")
		assert.ErrorIs(t, err, ErrTerminalState, "state %s", state)
	}
}

func TestRequiredRoles(t *testing.T) {
	table := defaultTable(t)

	roles, err := table.RequiredRoles(models.KindSample, "QC_PENDING", "QC_PASSED")
	require.NoError(t, err)
	assert.Equal(t, []models.Role{models.RoleQA}, roles)

	// Unrestricted transition.
	roles, err = table.RequiredRoles(models.KindSample, "REGISTERED", "QC_PENDING")
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestNewTable_RejectsUndeclaredStates(t *testing.T) {
	_, err := NewTable(Spec{
		"sample": {
			States:      []string{"A"},
			Transitions: map[string][]string{"A": {"B"}},
		},
	})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNewTable_RejectsRoleOnUndeclaredTransition(t *testing.T) {
	_, err := NewTable(Spec{
		"sample": {
			States:      []string{"A", "B"},
			Transitions: map[string][]string{"A": {"B"}},
			Roles:       map[string][]string{"B->A": {"QA"}},
		},
	})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNewTable_RejectsUnknownKind(t *testing.T) {
	_, err := NewTable(Spec{
		"reagent": {
			States:      []string{"A"},
			Transitions: map[string][]string{},
		},
	})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestLoad_ValidOverride(t *testing.T) {
	table, err := Load([]byte(`{
		"sample": {
			"states": ["NEW", "DONE"],
			"transitions": {"NEW": ["DONE"]},
			"roles": {"NEW->DONE": ["qa"]}
		}
	}`))
	require.NoError(t, err)

	roles, err := table.RequiredRoles(models.KindSample, "NEW", "DONE")
	require.NoError(t, err)
	assert.Equal(t, []models.Role{models.RoleQA}, roles)
}

func TestLoad_SchemaViolation(t *testing.T) {
	_, err := Load([]byte(`{"sample": {"transitions": {}}}`))
	assert.ErrorIs(t, err, ErrConfiguration)
}
