package store

import "time"

// Run contains the fields of a finished verification run saved to DB.
type Run struct {
	ExchangeID     uint64    `json:"exchangeId" bson:"exchangeId"`
	Account        string    `json:"account" bson:"account"`
	Claimed        float64   `json:"claimedAmount" bson:"claimed"`
	Actual         float64   `json:"actualAmount" bson:"actual"`
	Verified       bool      `json:"verified" bson:"verified"`
	DiscrepancyPct float64   `json:"discrepancyPct" bson:"discrepancyPct"`
	State          string    `json:"state" bson:"state"`
	CommitTx       string    `json:"commitTxId,omitempty" bson:"commitTx,omitempty"`
	AlertTx        string    `json:"alertTxId,omitempty" bson:"alertTx,omitempty"`
	Error          string    `json:"error,omitempty" bson:"error,omitempty"`
	Started        time.Time `json:"started" bson:"started"`
	Finished       time.Time `json:"finished" bson:"finished"`
}
