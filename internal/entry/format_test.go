package entry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "team sync",
			text: "* Team sync @s 2025-03-03 09:00 @e 1h @r w &i 1 &c 4",
			want: "* Team sync @s 2025-03-03 09:00 z UTC @e 1h @r w &i 1 &c 4",
		},
		{
			name: "naive date list",
			text: "* Offsite @s 2025-03-03 z none @+ 2025-03-04",
			want: "* Offsite @s 2025-03-03 00:00 z none @+ 2025-03-04 00:00",
		},
		{
			name: "keys in canonical order",
			text: "~ Pay bills @p 2 @t money @s 2025-03-01 @- 2025-06-01 @+ 2025-04-01",
			want: "~ Pay bills @s 2025-03-01 @+ 2025-04-01 @- 2025-06-01 @p 2 @t money",
		},
		{
			name: "named zone",
			text: "* Call @s 2025-03-03 09:00 z America/New_York @r w &w MO,-1FR &u 2025-03-31 09:00",
			want: "* Call @s 2025-03-03 09:00 z America/New_York @r w &u 2025-03-31 09:00 &w MO,-1FR",
		},
		{
			name: "jobs",
			text: "^ Move @j pack &r 1 &s 2d @j load &r 2: 1 &f 2025-03-02 10:00 z UTC @j tip",
			want: "^ Move @j pack &r 1 &s 2d @j load &r 2: 1 &f 2025-03-02 10:00 z UTC @j tip",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(mustParse(t, tt.text)))
		})
	}
}

func TestFormatRoundTrip(t *testing.T) {
	entries := []string{
		"* Team sync @s 2025-03-03 09:00 @e 1h @r w &i 1 &c 4",
		"* Offsite @s 2025-03-03 z none",
		"* Standup @s 2025-03-03 09:00 z America/New_York @e 15m @r w &w MO,WE &u 2025-06-30 09:00 " +
			"@- 2025-03-05 09:00 @+ 2025-03-08 10:00 @t work @t calls @a 15m: d @l Room 4 @d weekly call",
		"~ Pay bills @s 2025-03-01 @+ 2025-04-01, 2025-05-01 @- 2025-06-01 @p 2 @c home @i finance/bills",
		"~ Haircut @s 2025-03-03 10:00 z none @o ~4w @b 2d",
		"~ Water @s 2025-03-03 @+ 2025-03-04 @- 2025-03-03",
		"^ Move @s 2025-04-01 @j pack &r 1 &s 2d &e 3h @j load &r 2: 1 &s 1d @j drive &r 3: 2 " +
			"@j tip &f 2025-03-02 10:00 z UTC @f 2025-03-10 12:30:15 z UTC",
		"% Idea @u alice@example.com @g https://example.com @e 1h30m",
		"* Easter brunch @s 2025-04-20 11:00 z UTC @r y &E 0",
		"* Month end @s 2025-01-31 @r m &d -1 &i 2 &m 1,3,5",
		"+ Run 10k @s 2025-06-01 @a 1w,1d: e",
		"? Plan trip @s 2025-05-01 @r d &c 3 @j book &r 1 @j pack &r 2: 1",
	}
	for _, text := range entries {
		t.Run(text, func(t *testing.T) {
			first := mustParse(t, text)
			canonical := Format(first)
			second := mustParse(t, canonical)
			assert.Equal(t, first, second, "canonical form %q", canonical)
			assert.Equal(t, canonical, Format(second))
		})
	}
}

func TestFormatFinishedItemWithoutSchedule(t *testing.T) {
	it := mustParse(t, "~ Call @s 2025-03-03")
	it.RuleSet = nil
	require.Nil(t, it.RuleSet)
	assert.Equal(t, "~ Call", Format(it))
}
