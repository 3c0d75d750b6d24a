package loan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jiangshenghai57/loanvalkernel/valerr"
)

func validLoan() Loan {
	return Loan{
		ID:               "L1",
		UnpaidBalance:    250000,
		NoteRate:         0.065,
		OriginalTermMos:  360,
		RemainingTermMos: 350,
		AgeMos:           10,
		CreditScore:      720,
		LTV:              0.80,
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validLoan().Validate())
}

func TestValidate_NoScoreSentinelAllowed(t *testing.T) {
	l := validLoan()
	l.CreditScore = NoScoreSentinel
	require.NoError(t, l.Validate())
}

func TestValidate_RejectsBadFields(t *testing.T) {
	cases := map[string]func(Loan) Loan{
		"empty id": func(l Loan) Loan { l.ID = ""; return l },
		"zero balance": func(l Loan) Loan { l.UnpaidBalance = 0; return l },
		"negative balance": func(l Loan) Loan { l.UnpaidBalance = -1; return l },
		"rate too high": func(l Loan) Loan { l.NoteRate = 0.31; return l },
		"remaining exceeds original": func(l Loan) Loan { l.RemainingTermMos = l.OriginalTermMos + 1; return l },
		"remaining term zero": func(l Loan) Loan { l.RemainingTermMos = 0; return l },
		"negative age": func(l Loan) Loan { l.AgeMos = -1; return l },
		"score out of range": func(l Loan) Loan { l.CreditScore = 200; return l },
		"ltv zero": func(l Loan) Loan { l.LTV = 0; return l },
		"ltv too high": func(l Loan) Loan { l.LTV = 2.1; return l },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			err := mutate(validLoan()).Validate()
			require.Error(t, err)
			require.True(t, valerr.Is(err, valerr.InvalidInput))
		})
	}
}

func TestOrDefaults(t *testing.T) {
	l := validLoan()
	require.Equal(t, DefaultDTI, l.DTIOrDefault())
	require.False(t, l.ITINOrDefault())
	require.Equal(t, "", l.PropertyStateOrDefault())

	dti := 42.5
	l.DTI = &dti
	require.Equal(t, 42.5, l.DTIOrDefault())

	itin := true
	l.ITIN = &itin
	require.True(t, l.ITINOrDefault())

	state := "CA"
	l.PropertyState = &state
	require.Equal(t, "CA", l.PropertyStateOrDefault())
}

func TestHasScore(t *testing.T) {
	l := validLoan()
	require.True(t, l.HasScore())
	l.CreditScore = NoScoreSentinel
	require.False(t, l.HasScore())
}
