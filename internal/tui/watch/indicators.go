package watch

import (
	"strings"
	"time"
)

const activityDots = 5

// Activity lights up when an event arrives and fades over the following
// ten seconds.
type Activity struct {
	dots      int
	lastEvent time.Time
}

func (a *Activity) OnEvent(now time.Time) {
	a.dots = activityDots
	a.lastEvent = now
}

// Decay dims one dot for every two seconds without events.
func (a *Activity) Decay(now time.Time) {
	if a.dots == 0 {
		return
	}
	remaining := activityDots - int(now.Sub(a.lastEvent)/(2*time.Second))
	if remaining < 0 {
		remaining = 0
	}
	if remaining < a.dots {
		a.dots = remaining
	}
}

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range activityDots {
		if i < a.dots {
			b.WriteString(theme.ActivityOn.Render("●"))
		} else {
			b.WriteString(theme.ActivityOff.Render("○"))
		}
	}
	return b.String()
}

func (a Activity) LastEvent() time.Time {
	return a.lastEvent
}
