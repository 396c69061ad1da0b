package events

const (
	TopicBookingPaidInFull  = "booking.paid_in_full"
	TopicBookingCancelled   = "booking.cancelled"
	TopicBookingRescheduled = "booking.rescheduled"
	TopicOrderCreated       = "order.created"
	TopicOrderPaid          = "order.paid"
)

// DefaultTopics lists every topic the bus accepts.
func DefaultTopics() []string {
	return []string{
		TopicBookingPaidInFull,
		TopicBookingCancelled,
		TopicBookingRescheduled,
		TopicOrderCreated,
		TopicOrderPaid,
	}
}

// Known reports whether topic is one of DefaultTopics.
func Known(topic string) bool {
	for _, t := range DefaultTopics() {
		if t == topic {
			return true
		}
	}
	return false
}
