package coordinator

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/strxno/ha-laddel/internal/laddel"
)

// ChargingState is the binary charging signal derived from the session
// resource, plus the identity of the active session.
type ChargingState struct {
	IsCharging      bool
	ActiveSessionID string
}

// tracker derives ChargingState once per cycle. Session start and end
// transitions are logged; only the IsCharging flip is reported to the caller
// since that is what drives the poll interval.
type tracker struct {
	state ChargingState
}

func (t *tracker) Update(session *laddel.Session) bool {
	var next ChargingState
	if session != nil {
		next.IsCharging = strings.EqualFold(session.Type, "ACTIVE") &&
			strings.EqualFold(session.OperatingMode, "CHARGING")
		next.ActiveSessionID = session.SessionID
	}

	if next.ActiveSessionID != t.state.ActiveSessionID {
		if next.ActiveSessionID != "" {
			log.Infof("charging session started: %s", next.ActiveSessionID)
		} else {
			log.Infof("charging session ended: %s", t.state.ActiveSessionID)
		}
	}

	changed := next.IsCharging != t.state.IsCharging
	t.state = next
	return changed
}
