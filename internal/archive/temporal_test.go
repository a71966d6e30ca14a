package archive

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/models"
)

func TestResolveInterval(t *testing.T) {
	t1 := "2020-01-01T00:00:00.000Z"
	t2 := "2020-06-01T00:00:00.000Z"
	t3 := "2020-12-01T00:00:00.000Z"

	cases := []struct {
		name  string
		facts []Fact
		want  Interval
	}{
		{
			name: "no facts means present throughout",
			want: Interval{},
		},
		{
			name:  "simple join and leave",
			facts: []Fact{{FactStart, t1}, {FactEnd, t2}},
			want:  Interval{Start: t1, End: t2},
		},
		{
			name:  "facts out of order",
			facts: []Fact{{FactEnd, t2}, {FactStart, t1}},
			want:  Interval{Start: t1, End: t2},
		},
		{
			name:  "leading leave means join predates history",
			facts: []Fact{{FactEnd, t1}, {FactStart, t2}, {FactEnd, t3}},
			want:  Interval{Start: "", End: t3},
		},
		{
			name:  "trailing join means never left",
			facts: []Fact{{FactStart, t1}, {FactEnd, t2}, {FactStart, t3}},
			want:  Interval{Start: t1, End: ""},
		},
		{
			name:  "snapshot placeholder alone resolves to unknown start",
			facts: []Fact{{FactStart, models.TimeZeroes}},
			want:  Interval{},
		},
		{
			name:  "genuine join overrides snapshot placeholder",
			facts: []Fact{{FactStart, models.TimeZeroes}, {FactStart, t2}},
			want:  Interval{Start: t2},
		},
		{
			name:  "placeholder with later leave keeps the leave",
			facts: []Fact{{FactStart, models.TimeZeroes}, {FactEnd, t2}},
			want:  Interval{Start: "", End: t2},
		},
		{
			name:  "rejoin after leave keeps earliest join and ignores middle leave",
			facts: []Fact{{FactStart, t1}, {FactEnd, t2}, {FactStart, t3}, {FactEnd, "2021-01-01T00:00:00.000Z"}},
			want:  Interval{Start: t1, End: "2021-01-01T00:00:00.000Z"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ResolveInterval(tc.facts))
		})
	}
}
