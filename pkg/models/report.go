package models

import "time"

// IterationReport summarises one loop iteration over one pool.
type IterationReport struct {
	// Loop names the driving loop: "classification", "markup" or "check".
	Loop      string    `json:"loop"`
	PoolID    string    `json:"pool_id"`
	Iteration int       `json:"iteration"`
	At        time.Time `json:"at"`

	Fetched    int `json:"fetched"`
	Filtered   int `json:"filtered"`
	Accepted   int `json:"accepted"`
	Rejected   int `json:"rejected"`
	Restricted int `json:"restricted"`
	Bonuses    int `json:"bonuses"`
	// Raised is the number of tasks whose overlap was increased.
	Raised     int `json:"raised"`
	DataErrors int `json:"data_errors"`
	// Finalized is the number of markup tasks that need no further attempts.
	Finalized int  `json:"finalized,omitempty"`
	Closed    bool `json:"closed"`
}
