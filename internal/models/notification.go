package models

import (
	"encoding/json"
	"fmt"
)

// Kind is the integer discriminator carried in the "type" field of every
// queued notification.
type Kind int

const (
	KindLightningInvoicePaid      Kind = 1
	KindOnchainAddressPaid        Kind = 2
	KindOnchainAddressUnconfirmed Kind = 3
	KindTxidConfirmed             Kind = 4
	KindMessage                   Kind = 5
)

// Level is the notification category a device can opt in or out of.
type Level string

const (
	LevelTransactions Level = "transactions"
	LevelNews         Level = "news"
	LevelPrice        Level = "price"
	LevelTips         Level = "tips"
)

// Base holds the fields shared by every notification kind.
type Base struct {
	Type  Kind   `json:"type"`
	Token string `json:"token"`
	OS    string `json:"os"`
	Badge int    `json:"badge,omitempty"`
	Level Level  `json:"level,omitempty"`
}

func (b *Base) Meta() Base { return *b }

// Notification is one decoded unit of push work. Concrete kinds carry the
// fields their type implies (amount, identifier, display text).
type Notification interface {
	Kind() Kind
	Meta() Base
	// CollapseKey is the natural identifier used to collapse repeated pushes:
	// the payment hash for Lightning, the txid for on-chain kinds, empty for
	// plain messages.
	CollapseKey() string
}

type LightningInvoicePaid struct {
	Base
	Sat  int64  `json:"sat"`
	Hash string `json:"hash"`
	Memo string `json:"memo,omitempty"`
}

func (n *LightningInvoicePaid) Kind() Kind          { return KindLightningInvoicePaid }
func (n *LightningInvoicePaid) CollapseKey() string { return n.Hash }

type OnchainAddressPaid struct {
	Base
	Sat     int64  `json:"sat"`
	Address string `json:"address"`
	Txid    string `json:"txid"`
}

func (n *OnchainAddressPaid) Kind() Kind          { return KindOnchainAddressPaid }
func (n *OnchainAddressPaid) CollapseKey() string { return n.Txid }

type OnchainAddressUnconfirmed struct {
	Base
	Sat     int64  `json:"sat"`
	Address string `json:"address"`
	Txid    string `json:"txid"`
}

func (n *OnchainAddressUnconfirmed) Kind() Kind          { return KindOnchainAddressUnconfirmed }
func (n *OnchainAddressUnconfirmed) CollapseKey() string { return n.Txid }

type TxidConfirmed struct {
	Base
	Txid string `json:"txid"`
}

func (n *TxidConfirmed) Kind() Kind          { return KindTxidConfirmed }
func (n *TxidConfirmed) CollapseKey() string { return n.Txid }

type Message struct {
	Base
	Text string `json:"text"`
}

func (n *Message) Kind() Kind          { return KindMessage }
func (n *Message) CollapseKey() string { return "" }

// DecodeNotification parses a queued job's data into its concrete kind. A
// payload that is not valid JSON, carries an unknown type, or is missing the
// identifier its type implies is a poison job and cannot become valid by
// retrying.
func DecodeNotification(data []byte) (Notification, error) {
	var probe struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}

	var n Notification
	switch probe.Type {
	case KindLightningInvoicePaid:
		n = &LightningInvoicePaid{}
	case KindOnchainAddressPaid:
		n = &OnchainAddressPaid{}
	case KindOnchainAddressUnconfirmed:
		n = &OnchainAddressUnconfirmed{}
	case KindTxidConfirmed:
		n = &TxidConfirmed{}
	case KindMessage:
		n = &Message{}
	default:
		return nil, fmt.Errorf("decode notification: unknown type %d", probe.Type)
	}

	if err := json.Unmarshal(data, n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	if err := validateNotification(n); err != nil {
		return nil, err
	}
	return n, nil
}

func validateNotification(n Notification) error {
	// Reject unknown platforms here so a bad-os job never reaches the
	// token-configuration store.
	switch os := n.Meta().OS; os {
	case "ios", "android", "":
	default:
		return fmt.Errorf("unsupported os %q", os)
	}

	switch v := n.(type) {
	case *LightningInvoicePaid:
		if v.Hash == "" {
			return fmt.Errorf("lightning invoice notification without hash")
		}
	case *OnchainAddressPaid:
		if v.Address == "" || v.Txid == "" {
			return fmt.Errorf("onchain paid notification without address or txid")
		}
	case *OnchainAddressUnconfirmed:
		if v.Address == "" || v.Txid == "" {
			return fmt.Errorf("unconfirmed tx notification without address or txid")
		}
	case *TxidConfirmed:
		if v.Txid == "" {
			return fmt.Errorf("txid confirmed notification without txid")
		}
	case *Message:
		if v.Text == "" {
			return fmt.Errorf("message notification without text")
		}
	}
	return nil
}
