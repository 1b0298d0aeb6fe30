package events

// Topic constants for domain events emitted during checkout and payment.
const (
	TopicCheckoutPlaced   = "checkout.placed"
	TopicPaymentSucceeded = "payment.succeeded"
	TopicPaymentCanceled  = "payment.canceled"
	TopicPaymentExpired   = "payment.expired"
	TopicVoucherDetached  = "voucher.detached"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicCheckoutPlaced,
		TopicPaymentSucceeded,
		TopicPaymentCanceled,
		TopicPaymentExpired,
		TopicVoucherDetached,
	}
}
