package normalize_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bchewy/canyoubeatgroq/internal/normalize"
)

func TestAnswer(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
	}{
		"empty":                {in: "", want: ""},
		"whitespace only":      {in: "  \t\n ", want: ""},
		"plain":                {in: "circle", want: "CIRCLE"},
		"surrounding spaces":   {in: "  21 ", want: "21"},
		"trailing period":      {in: "55.", want: "55"},
		"trailing punctuation": {in: "banana!?!", want: "BANANA"},
		"internal runs":        {in: "nine   divided \t by  three", want: "NINE DIVIDED BY THREE"},
		"already canonical":    {in: "9/3", want: "9/3"},
		"mixed":                {in: "  The Answer Is:  42!! ", want: "THE ANSWER IS: 42"},
	}

	for name, tc := range cases {
		assert.Equal(t, tc.want, normalize.Answer(tc.in), "case %q", name)
	}
}

func TestAnswer_Idempotent(t *testing.T) {
	inputs := []string{
		"", " ", "abc", "  A  b  C.!?", "ужас!", "😀+😎.", "line\nbreaks\tmix  ",
	}

	for _, in := range inputs {
		once := normalize.Answer(in)
		assert.Equal(t, once, normalize.Answer(once), "input %q", in)
	}
}
