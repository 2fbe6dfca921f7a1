package notify

import "webhook-notifier/models"

// Phase is where a delivery job stands in its confirmation lifecycle.
// The scheduler owns the PendingConfirmation to Finalizing transition.
type Phase int

const (
	// PendingConfirmation jobs still need Confirmations more blocks.
	PendingConfirmation Phase = iota
	// Immediate jobs are delivered as routed.
	Immediate
	// Finalizing jobs are replays of a deferred job, checked against the
	// canonical chain before delivery.
	Finalizing
)

func PhaseOf(job models.DeliveryJob) Phase {
	switch {
	case job.Confirmations > 0:
		return PendingConfirmation
	case job.OriginalConfirmations > 0:
		return Finalizing
	default:
		return Immediate
	}
}

func (p Phase) String() string {
	switch p {
	case PendingConfirmation:
		return "pending_confirmation"
	case Immediate:
		return "immediate"
	case Finalizing:
		return "finalizing"
	}
	return "unknown"
}

// Outcome is the terminal result of handling one job.
type Outcome int

const (
	// Dropped: the webhook is gone, inactive or the job is unusable.
	Dropped Outcome = iota
	// Pending: handed to the scheduler to wait for confirmations.
	Pending
	Delivered
	// Suppressed: the finality check no longer matches the rules.
	Suppressed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Dropped:
		return "dropped"
	case Pending:
		return "pending"
	case Delivered:
		return "delivered"
	case Suppressed:
		return "suppressed"
	case Failed:
		return "failed"
	}
	return "unknown"
}
