package push

import (
	"encoding/json"
	"net/http"
)

// Outcome is the verdict on one delivery attempt.
type Outcome int

const (
	// OutcomeDelivered means the gateway accepted the push.
	OutcomeDelivered Outcome = iota
	// OutcomeSoftFailure is any non-success response that does not prove the
	// token is dead: logged, never retried, never pruned.
	OutcomeSoftFailure
	// OutcomePermanentFailure means the gateway confirmed the device token is
	// invalid; every subscription of that token gets pruned.
	OutcomePermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeSoftFailure:
		return "soft-failure"
	case OutcomePermanentFailure:
		return "permanent-failure"
	}
	return "unknown"
}

// RawResponse is what a gateway sent back, before classification.
type RawResponse struct {
	StatusCode int
	ApnsID     string
	Body       []byte
}

// apnsDeadTokenReasons are the response reasons that prove a device token
// will never work again.
var apnsDeadTokenReasons = map[string]bool{
	"Unregistered":           true,
	"BadDeviceToken":         true,
	"DeviceTokenNotForTopic": true,
}

// ClassifyApns maps an APNs response to an outcome. Pure function of the
// response content.
func ClassifyApns(r RawResponse) Outcome {
	if r.StatusCode == http.StatusOK {
		return OutcomeDelivered
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(r.Body, &body); err != nil {
		return OutcomeSoftFailure
	}
	if apnsDeadTokenReasons[body.Reason] {
		return OutcomePermanentFailure
	}
	return OutcomeSoftFailure
}

// ClassifyFcm maps an FCM v1 response to an outcome. A 404 error code or an
// UNREGISTERED error detail kills the token; a "name" field means the
// message was accepted; anything else, including an unparseable body, is a
// soft failure.
func ClassifyFcm(r RawResponse) Outcome {
	var body struct {
		Name  string `json:"name"`
		Error *struct {
			Code    int `json:"code"`
			Details []struct {
				ErrorCode string `json:"errorCode"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(r.Body, &body); err != nil {
		return OutcomeSoftFailure
	}
	if body.Error != nil {
		if body.Error.Code == http.StatusNotFound {
			return OutcomePermanentFailure
		}
		for _, detail := range body.Error.Details {
			if detail.ErrorCode == "UNREGISTERED" {
				return OutcomePermanentFailure
			}
		}
		return OutcomeSoftFailure
	}
	if body.Name != "" {
		return OutcomeDelivered
	}
	return OutcomeSoftFailure
}
