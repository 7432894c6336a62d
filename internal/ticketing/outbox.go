package ticketing

import (
	"time"

	"github.com/stephdeve/SmartQueue/internal/events"
	"github.com/stephdeve/SmartQueue/internal/notify"
)

// outbox collects the side effects of one transaction. It is released only
// after the transaction commits.
type outbox struct {
	now    time.Time
	events []events.Event
	jobs   []notify.Job
}

func newOutbox(now time.Time) *outbox {
	return &outbox{now: now}
}

func (o *outbox) emit(event events.Event) {
	o.events = append(o.events, event)
}

func (o *outbox) dispatch(job notify.Job) {
	o.jobs = append(o.jobs, job)
}
