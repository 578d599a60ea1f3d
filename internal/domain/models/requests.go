package models

// Requests for the read-only snapshot HTTP endpoints. Defined in domain for
// consistency and reuse.

type SnapshotRequest struct {
	Instrument string `query:"instrument" json:"instrument" validate:"required"`
	TF         string `query:"tf" json:"tf" default:"1h" validate:"oneof=5m 15m 1h 4h 1d"`
}

type TransitionsRequest struct {
	Instrument string `query:"instrument" json:"instrument" validate:"required"`
	TF         string `query:"tf" json:"tf" default:"1h" validate:"oneof=5m 15m 1h 4h 1d"`
	Limit      int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=5000"`

	// optional bar-time window, RFC3339 or unix seconds
	From string `query:"from" json:"from"`
	To   string `query:"to" json:"to"`
}
