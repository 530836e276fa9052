package models

import "time"

// Job is one queued unit of push work. Data stays an opaque JSON blob until
// the sender claims the job and decodes it.
type Job struct {
	ID      int64
	Data    []byte
	Created time.Time
}

// TokenConfiguration is the per-(token, os) opt-in record. Rows are created
// lazily with every flag defaulting to true.
type TokenConfiguration struct {
	ID                int64
	Token             string
	OS                string
	LevelAll          bool
	LevelTransactions bool
	LevelNews         bool
	LevelPrice        bool
	LevelTips         bool
	Lang              string
	AppVersion        string
	Created           time.Time
	LastOnline        time.Time
}

// Allows reports whether a notification of the given level may be delivered
// to this device. An unknown or empty level is gated only by the master
// switch.
func (c TokenConfiguration) Allows(level Level) bool {
	if !c.LevelAll {
		return false
	}
	switch level {
	case LevelTransactions:
		return c.LevelTransactions
	case LevelNews:
		return c.LevelNews
	case LevelPrice:
		return c.LevelPrice
	case LevelTips:
		return c.LevelTips
	}
	return true
}

// Subscription is one row of the token-to-{address,hash,txid} relations.
type Subscription struct {
	Token   string
	OS      string
	Value   string
	Created time.Time
}

// PushLog is the append-only record of one delivery attempt.
type PushLog struct {
	ID       int64
	Token    string
	OS       string
	Payload  string
	Response string
	Success  bool
	Created  time.Time
}
