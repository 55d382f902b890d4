package automata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hhmm parses a clock time in the flux window format.
func hhmm(s string) time.Time {
	t, _ := time.Parse(Kitchen24, s)
	return t
}

func mockTime(s string) {
	t := hhmm(s)
	now = func() time.Time { return t }
}

func TestFluxParse(t *testing.T) {
	p, err := fluxParse([]interface{}{"19:00->23:00", "level=90->10", "temp=3000->2200"})
	require.NoError(t, err)
	assert.Equal(t, 19, p.tStart.Hour())
	assert.Equal(t, 0, p.tStart.Minute())
	assert.Equal(t, 23, p.tEnd.Hour())
	assert.Equal(t, 0, p.tEnd.Minute())
	assert.Equal(t, 3000, p.kStart)
	assert.Equal(t, 2200, p.kEnd)
	assert.Equal(t, 90, p.lStart)
	assert.Equal(t, 10, p.lEnd)
}

func TestFluxParseErrors(t *testing.T) {
	_, err := fluxParse([]interface{}{"bogus"})
	assert.Error(t, err)
	_, err = fluxParse([]interface{}{42})
	assert.Error(t, err)
	_, err = fluxParse([]interface{}{"fade=1->2"})
	assert.Error(t, err)
	_, err = fluxParse([]interface{}{"level=hot->cold"})
	assert.Error(t, err)
}

func TestInterpolate(t *testing.T) {
	tests := []struct {
		at   string
		want int
	}{
		{"18:00", 3000}, // clamped before the window
		{"19:00", 3000},
		{"20:00", 2734},
		{"20:30", 2600},
		{"22:00", 2200},
		{"23:00", 2200}, // clamped after the window
	}
	for _, tt := range tests {
		mockTime(tt.at)
		assert.Equal(t, tt.want, tinterpolate(hhmm("19:00"), hhmm("22:00"), 3000, 2200), "at %s", tt.at)
	}
}

func TestFluxCommand(t *testing.T) {
	p := fluxParams{
		tStart: hhmm("19:00"),
		tEnd:   hhmm("22:00"),
		kStart: 3000,
		kEnd:   2200,
		lStart: 90,
		lEnd:   10,
	}
	mockTime("20:30")
	ev := fluxCommand(p, "light.kitchen")
	assert.Equal(t, "command/light.kitchen", ev.Topic)
	assert.Equal(t, "flux", ev.Command())
	assert.Equal(t, 2600, ev.Fields["temp"])
	assert.Equal(t, 50, ev.Fields["level"])
}
