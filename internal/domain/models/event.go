package models

import (
	"time"

	"github.com/methics/musap-ios-sub000/pkg/constants"
)

// KeyEvent records one key lifecycle change.
type KeyEvent struct {
	ID        string                 `json:"id"`
	Type      constants.KeyEventType `json:"type"`
	KeyAlias  string                 `json:"keyalias"`
	KeyID     string                 `json:"keyid,omitempty"`
	SscdID    string                 `json:"sscdid,omitempty"`
	SscdType  string                 `json:"sscdtype,omitempty"`
	KeyURI    string                 `json:"keyuri,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
