package payment

import "net/http"

// Kind classifies the result of processing one webhook delivery.
type Kind int

const (
	KindIgnored Kind = iota
	KindRejected
	KindSettled
	KindAlreadySettled
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindIgnored:
		return "ignored"
	case KindRejected:
		return "rejected"
	case KindSettled:
		return "settled"
	case KindAlreadySettled:
		return "already_settled"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stage names the state a delivery terminated in.
type Stage string

const (
	StageSettled             Stage = "Settled"
	StageRejectedSignature   Stage = "RejectedSignature"
	StageIgnoredEventType    Stage = "IgnoredEventType"
	StageRejectedMetadata    Stage = "RejectedMetadata"
	StageNotYetConfirmed     Stage = "NotYetConfirmed"
	StageDuplicateEvent      Stage = "DuplicateEvent"
	StageAlreadySettled      Stage = "AlreadySettled"
	StageOrderNotFound       Stage = "OrderNotFound"
	StageTransitionFailed    Stage = "TransitionFailed"
	StagePaymentRecordFailed Stage = "PaymentRecordFailed"
	StageConfigurationFailed Stage = "ConfigurationFailed"
	StageProcessorFailed     Stage = "ProcessorFailed"
	StageInternal            Stage = "InternalError"
)

// Outcome is the terminal result of Settle. Err is set for Rejected and
// Failed outcomes only.
type Outcome struct {
	Kind      Kind
	Stage     Stage
	OrderCode string
	EventID   string
	InvoiceID string
	Reason    string
	Err       error
}

// Acknowledged reports whether the delivery should be answered with 2xx.
// Non-2xx responses make BTCPay redeliver.
func (o Outcome) Acknowledged() bool {
	switch o.Kind {
	case KindSettled, KindAlreadySettled, KindIgnored:
		return true
	default:
		return false
	}
}

// HTTPStatus maps the outcome to the webhook response status.
func (o Outcome) HTTPStatus() int {
	if o.Acknowledged() {
		return http.StatusNoContent
	}
	switch o.Stage {
	case StageRejectedSignature:
		return http.StatusUnauthorized
	case StageRejectedMetadata:
		return http.StatusBadRequest
	case StageOrderNotFound:
		return http.StatusNotFound
	case StageTransitionFailed, StagePaymentRecordFailed:
		return http.StatusConflict
	case StageProcessorFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode is the API error code reported for unacknowledged outcomes.
func (o Outcome) ErrorCode() string {
	switch o.Stage {
	case StageRejectedSignature:
		return "INVALID_SIGNATURE"
	case StageRejectedMetadata:
		return "MALFORMED_WEBHOOK"
	case StageOrderNotFound:
		return "ORDER_NOT_FOUND"
	case StageTransitionFailed:
		return "ORDER_STATE_TRANSITION_ERROR"
	case StagePaymentRecordFailed:
		return "PAYMENT_RECORD_FAILED"
	case StageConfigurationFailed:
		return "PAYMENT_NOT_CONFIGURED"
	case StageProcessorFailed:
		return "PROCESSOR_ERROR"
	default:
		return "INTERNAL"
	}
}

func ignored(stage Stage, reason string) Outcome {
	return Outcome{Kind: KindIgnored, Stage: stage, Reason: reason}
}

func rejected(stage Stage, err error) Outcome {
	return Outcome{Kind: KindRejected, Stage: stage, Reason: err.Error(), Err: err}
}

func failed(stage Stage, err error) Outcome {
	return Outcome{Kind: KindFailed, Stage: stage, Reason: err.Error(), Err: err}
}
