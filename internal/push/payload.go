package push

import (
	"fmt"
	"strconv"

	"github.com/btcpush/relay/internal/models"
)

// ApnsAlert is the visible part of an APNs push.
type ApnsAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type ApnsAps struct {
	Badge int       `json:"badge,omitempty"`
	Alert ApnsAlert `json:"alert"`
	Sound string    `json:"sound"`
}

type ApnsPayload struct {
	Aps  ApnsAps                `json:"aps"`
	Data map[string]interface{} `json:"data"`
}

type FcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// FcmMessage is the body of the FCM v1 "message" envelope. Data values must
// be strings per the v1 API.
type FcmMessage struct {
	Token        string            `json:"token,omitempty"`
	Notification FcmNotification   `json:"notification"`
	Data         map[string]string `json:"data"`
}

type FcmPayload struct {
	Message FcmMessage `json:"message"`
}

// BuiltPayload carries both wire representations of one notification; the
// dispatcher picks the one matching the destination OS.
type BuiltPayload struct {
	Apns        ApnsPayload
	Fcm         FcmPayload
	CollapseKey string
}

// Shorten abbreviates a long address, txid or payment hash for display:
// first five characters, four dots, last four. Anything shorter than ten
// characters is returned unchanged.
func Shorten(s string) string {
	if len(s) < 10 {
		return s
	}
	return s[0:5] + "...." + s[len(s)-4:]
}

// Build maps a decoded notification to its APNs and FCM wire payloads. Pure,
// no I/O; the title and body text per kind is part of the client protocol
// and must not be reworded.
func Build(n models.Notification) BuiltPayload {
	var (
		apnsTitle, apnsBody string
		fcmTitle, fcmBody   string
		data                map[string]interface{}
	)

	switch v := n.(type) {
	case *models.LightningInvoicePaid:
		memo := v.Memo
		if memo == "" {
			memo = "your invoice"
		}
		apnsTitle = fmt.Sprintf("+%d sats", v.Sat)
		apnsBody = "Paid: " + memo
		fcmTitle, fcmBody = apnsTitle, apnsBody
		data = map[string]interface{}{"type": int(v.Kind()), "sat": v.Sat, "hash": v.Hash}
		if v.Memo != "" {
			data["memo"] = v.Memo
		}

	case *models.OnchainAddressPaid:
		apnsTitle = fmt.Sprintf("+%d sats", v.Sat)
		apnsBody = "Received on " + Shorten(v.Address)
		fcmTitle, fcmBody = apnsTitle, apnsBody
		data = map[string]interface{}{"type": int(v.Kind()), "sat": v.Sat, "address": v.Address, "txid": v.Txid}

	case *models.OnchainAddressUnconfirmed:
		apnsTitle = "New Transaction - Pending"
		apnsBody = "Received transaction on " + Shorten(v.Address)
		fcmTitle = "New unconfirmed transaction"
		fcmBody = "You received new transfer on " + Shorten(v.Address)
		data = map[string]interface{}{"type": int(v.Kind()), "sat": v.Sat, "address": v.Address, "txid": v.Txid}

	case *models.TxidConfirmed:
		apnsTitle = "Transaction - Confirmed"
		apnsBody = "Your transaction " + Shorten(v.Txid) + " has been confirmed"
		fcmTitle, fcmBody = apnsTitle, apnsBody
		data = map[string]interface{}{"type": int(v.Kind()), "txid": v.Txid}

	case *models.Message:
		apnsTitle = "Message"
		apnsBody = v.Text
		fcmTitle, fcmBody = apnsTitle, apnsBody
		data = map[string]interface{}{"type": int(v.Kind()), "text": v.Text}
	}

	meta := n.Meta()
	collapse := n.CollapseKey()

	fcmData := make(map[string]string, len(data)+2)
	for key, value := range data {
		fcmData[key] = stringify(value)
	}
	if meta.Badge != 0 {
		fcmData["badge"] = strconv.Itoa(meta.Badge)
	}
	if collapse != "" {
		fcmData["tag"] = collapse
	}

	return BuiltPayload{
		Apns: ApnsPayload{
			Aps: ApnsAps{
				Badge: meta.Badge,
				Alert: ApnsAlert{Title: apnsTitle, Body: apnsBody},
				Sound: "default",
			},
			Data: data,
		},
		Fcm: FcmPayload{
			Message: FcmMessage{
				Notification: FcmNotification{Title: fcmTitle, Body: fcmBody},
				Data:         fcmData,
			},
		},
		CollapseKey: collapse,
	}
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
