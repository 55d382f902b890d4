package automata

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tanodd/hearth/pubsub"
)

var now = func() time.Time { return time.Now() }

const Kitchen24 = "15:04"

// flux gradually shifts lighting between two endpoints over a time window,
// colour temperature in kelvin and brightness level in percent.
type fluxParams struct {
	tStart time.Time
	tEnd   time.Time
	kStart int
	kEnd   int
	lStart int
	lEnd   int
}

func rangePair(s string) (string, string, error) {
	ps := strings.SplitN(s, "->", 2)
	if len(ps) != 2 {
		return "", "", fmt.Errorf("expected from->to, got %q", s)
	}
	return ps[0], ps[1], nil
}

func intPair(s string) (int, int, error) {
	from, to, err := rangePair(s)
	if err != nil {
		return 0, 0, err
	}
	a, err := strconv.Atoi(from)
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.Atoi(to)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// fluxParse understands arguments of the form:
// "19:00->23:00" "level=90->10" "temp=3000->2200"
func fluxParse(args []interface{}) (fluxParams, error) {
	var p fluxParams
	for _, arg := range args {
		s, ok := arg.(string)
		if !ok {
			return p, fmt.Errorf("expected string argument, got %v", arg)
		}
		key := ""
		if i := strings.Index(s, "="); i != -1 {
			key, s = s[:i], s[i+1:]
		}
		var err error
		switch key {
		case "":
			var from, to string
			if from, to, err = rangePair(s); err != nil {
				return p, err
			}
			if p.tStart, err = time.Parse(Kitchen24, from); err != nil {
				return p, err
			}
			if p.tEnd, err = time.Parse(Kitchen24, to); err != nil {
				return p, err
			}
		case "temp":
			if p.kStart, p.kEnd, err = intPair(s); err != nil {
				return p, err
			}
		case "level":
			if p.lStart, p.lEnd, err = intPair(s); err != nil {
				return p, err
			}
		default:
			return p, fmt.Errorf("unknown parameter %q", key)
		}
	}
	return p, nil
}

// Interpolate an int between a start and end time
func tinterpolate(tStart time.Time, tEnd time.Time, vStart int, vEnd int) int {
	n := now()
	tRef := time.Date(0, 1, 1, n.Hour(), n.Minute(), n.Second(), 0, time.UTC)
	f := tRef.Sub(tStart).Seconds() / tEnd.Sub(tStart).Seconds()
	if f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}
	return int(float64(vEnd-vStart)*f) + vStart
}

func fluxCommand(p fluxParams, device string) *pubsub.Event {
	ev := pubsub.NewCommand(device, "flux")
	ev.SetField("temp", tinterpolate(p.tStart, p.tEnd, p.kStart, p.kEnd))
	ev.SetField("level", tinterpolate(p.tStart, p.tEnd, p.lStart, p.lEnd))
	return ev
}
