package eligibility

import (
	"testing"

	"github.com/stretchr/testify/require"

	"formsense/internal/form"
)

func TestEligiblePrograms_DependentUndergraduate(t *testing.T) {
	a, err := NewAdvisor()
	require.NoError(t, err)

	values := form.Values{
		form.FieldDependencyStatus: form.String("dependent"),
		form.FieldEducationLevel:   form.String("undergraduate"),
	}
	programs, err := a.EligiblePrograms(values)
	require.NoError(t, err)
	require.Contains(t, programs, "pell_grant")
	require.NotContains(t, programs, "graduate_research_fellowship")
}

func TestEligiblePrograms_WorkHours(t *testing.T) {
	a, err := NewAdvisor()
	require.NoError(t, err)

	programs, err := a.EligiblePrograms(form.Values{form.FieldPlannedWorkHours: form.Number(15)})
	require.NoError(t, err)
	require.Contains(t, programs, "federal_work_study")

	programs, err = a.EligiblePrograms(form.Values{form.FieldPlannedWorkHours: form.Number(0)})
	require.NoError(t, err)
	require.NotContains(t, programs, "federal_work_study")
}

func TestEligiblePrograms_GraduateLevels(t *testing.T) {
	a, err := NewAdvisor()
	require.NoError(t, err)

	for _, level := range []string{"graduate", "doctoral", "Graduate"} {
		programs, err := a.EligiblePrograms(form.Values{form.FieldEducationLevel: form.String(level)})
		require.NoError(t, err)
		require.Contains(t, programs, "graduate_research_fellowship", "level %s", level)
	}
}

func TestEligiblePrograms_StateNeedGrantAgeGate(t *testing.T) {
	a, err := NewAdvisor()
	require.NoError(t, err)

	young := form.Values{
		form.FieldResidencyStatus: form.String("in_state"),
		form.FieldAge:             form.Number(19),
	}
	programs, err := a.EligiblePrograms(young)
	require.NoError(t, err)
	require.Contains(t, programs, "state_need_grant")

	older := form.Values{
		form.FieldResidencyStatus: form.String("in_state"),
		form.FieldAge:             form.Number(24),
	}
	programs, err = a.EligiblePrograms(older)
	require.NoError(t, err)
	require.NotContains(t, programs, "state_need_grant")
}

func TestEligiblePrograms_International(t *testing.T) {
	a, err := NewAdvisor()
	require.NoError(t, err)

	programs, err := a.EligiblePrograms(form.Values{form.FieldResidencyStatus: form.String("international")})
	require.NoError(t, err)
	require.Equal(t, []string{"international_merit_scholarship"}, programs)
}

func TestEligiblePrograms_EmptySnapshot(t *testing.T) {
	a, err := NewAdvisor()
	require.NoError(t, err)

	programs, err := a.EligiblePrograms(form.Values{})
	require.NoError(t, err)
	require.Empty(t, programs)
}

func TestEligiblePrograms_SnapshotsAreIndependent(t *testing.T) {
	a, err := NewAdvisor()
	require.NoError(t, err)

	_, err = a.EligiblePrograms(form.Values{form.FieldResidencyStatus: form.String("international")})
	require.NoError(t, err)

	// The previous snapshot's facts must not leak into this one.
	programs, err := a.EligiblePrograms(form.Values{form.FieldAge: form.Number(30)})
	require.NoError(t, err)
	require.Empty(t, programs)
}
