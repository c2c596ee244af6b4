package events

// Domain event names. Handlers subscribe to these at boot; renaming one
// orphans the consumer rows already recorded under it.
const (
	EventInviteCreated                 = "InviteCreated"
	EventAdvertisementDepositCreated   = "AdvertisementDepositCreated"
	EventAdvertisementDepositConfirmed = "AdvertisementDepositConfirmed"
	EventAdvertisementClosed           = "AdvertisementClosed"
	EventBuyCreated                    = "BuyCreated"
	EventBuyPaid                       = "BuyPaid"
	EventBuyPaymentConfirmed           = "BuyPaymentConfirmed"
	EventBuyInDispute                  = "BuyInDispute"
	EventPaymentRequestCreated         = "PaymentRequestCreated"
	EventPaymentRequestFailed          = "PaymentRequestFailed"
)

// Aggregate type names used for replay addressing.
const (
	AggregateAdvertisement = "advertisement"
	AggregateDeposit       = "advertisement_deposit"
	AggregateBuy           = "buy"
	AggregateInvite        = "invite"
	AggregatePayment       = "payment_request"
)
